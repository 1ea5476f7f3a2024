package controller

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/validator"
	"github.com/echoed/server/pkg/wsrouter"
	"github.com/gorilla/websocket"
)

type iRoomService interface {
	CreateRoom(context.Context, *room.CreateRoomParams) (room.RoomResponse, error)
	JoinRoom(context.Context, *room.JoinRoomParams) (room.RoomResponse, error)
	LeaveRoom(context.Context, string) error
	DisconnectMember(context.Context, string) error
	UpdatePlayerState(context.Context, *room.UpdatePlayerStateParams) error
	GetRoomState(context.Context, string) (room.RoomState, error)
}

type iConnRepo interface {
	Add(ctx context.Context, connectionId string, conn *websocket.Conn) error
	Remove(ctx context.Context, connectionId string) error
	Send(ctx context.Context, connectionId string, v any) error
}

type Config struct {
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

type controller struct {
	roomService iRoomService
	connRepo    iConnRepo
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsmux       *wsrouter.WSRouter
	logger      *slog.Logger
	cfg         Config
}

func NewController(roomService iRoomService, connRepo iConnRepo, logger *slog.Logger, cfg Config) *controller {
	c := &controller{
		roomService: roomService,
		connRepo:    connRepo,
		validate:    validator.NewValidator(),
		logger:      logger,
		cfg:         cfg,
	}

	c.upgrader = websocket.Upgrader{
		CheckOrigin: c.checkOrigin,
	}
	c.wsmux = c.getWSRouter()

	return c
}

func (c *controller) checkOrigin(r *http.Request) bool {
	if len(c.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(c.cfg.AllowedOrigins, origin)
}
