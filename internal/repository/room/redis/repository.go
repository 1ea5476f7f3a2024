package redis

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	logger         *slog.Logger
}

// NewRepo returns a room store on rc. Every key is refreshed to expire
// expireDuration after the last write to its room.
func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		logger:         logger,
	}
}

const roomsKey = "rooms"

func (r repo) getRoomKey(code string) string {
	return "room:" + code
}

func (r repo) getMembersKey(code string) string {
	return "room:" + code + ":members"
}

func (r repo) getMemberKey(code, connectionId string) string {
	return "room:" + code + ":member:" + connectionId
}

func (r repo) getConnectionKey(connectionId string) string {
	return "connection:" + connectionId
}
