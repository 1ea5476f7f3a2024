package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echoed/server/internal/repository/room"
	"github.com/echoed/server/internal/scheduler"
	"github.com/echoed/server/pkg/randstr"
	"github.com/jonboulle/clockwork"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrValidation          = errors.New("validation failed")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrMembersLimitReached = errors.New("members limit reached")
	ErrRoomCodeExhausted   = errors.New("room code space exhausted")
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type iRoomRepo interface {
	CreateRoom(context.Context, room.Room) error
	GetRoom(context.Context, string) (room.Room, error)
	UpdateRoom(context.Context, room.Room) error
	DeleteRoom(context.Context, string) error
	GetRoomByConnection(context.Context, string) (room.Room, error)
	ListRooms(context.Context) ([]room.Room, error)
}

type iSender interface {
	Send(ctx context.Context, connectionId string, v any) error
}

type iGenerator interface {
	GenerateRandomString(length int) string
}

type iScheduler interface {
	Start(ctx context.Context, key string, interval time.Duration, fn scheduler.TaskFunc) bool
	Stop(key string) bool
	IsActive(key string) bool
	Close()
}

type Config struct {
	MembersLimit    int
	SyncInterval    time.Duration
	CodeLength      int
	MaxCodeAttempts int
}

func DefaultConfig() Config {
	return Config{
		MembersLimit:    50,
		SyncInterval:    5 * time.Second,
		CodeLength:      6,
		MaxCodeAttempts: 16,
	}
}

// service owns every room and its sync task. All operations and ticks run
// under mu, one at a time.
type service struct {
	mu        sync.Mutex
	roomRepo  iRoomRepo
	sender    iSender
	generator iGenerator
	scheduler iScheduler
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config
}

func New(roomRepo iRoomRepo, sender iSender, clock clockwork.Clock, logger *slog.Logger, cfg Config) *service {
	return &service{
		roomRepo:  roomRepo,
		sender:    sender,
		generator: randstr.New([]byte(codeAlphabet)),
		scheduler: scheduler.New(clock, logger),
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

func (s *service) now() int64 {
	return s.clock.Now().UnixMilli()
}

// Shutdown closes every room, notifying its members, and stops all sync
// tasks.
func (s *service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rooms, err := s.roomRepo.ListRooms(ctx)
	if err == nil {
		for _, rm := range rooms {
			s.closeRoom(ctx, rm)
		}
	}
	s.mu.Unlock()

	s.scheduler.Close()

	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	return nil
}
