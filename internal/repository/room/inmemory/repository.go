package inmemory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/echoed/server/internal/repository/room"
)

type repo struct {
	rooms       map[string]room.Room
	connections map[string]string
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:       make(map[string]room.Room),
		connections: make(map[string]string),
		logger:      logger,
	}
}

func (r *repo) CreateRoom(ctx context.Context, params room.Room) error {
	funcName := "room.inmemory.CreateRoom"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, funcName, "code", params.Code)
	if _, exists := r.rooms[params.Code]; exists {
		return room.ErrRoomAlreadyExists
	}

	r.rooms[params.Code] = params.Clone()
	r.indexMembers(params)

	return nil
}

func (r *repo) GetRoom(ctx context.Context, code string) (room.Room, error) {
	funcName := "room.inmemory.GetRoom"
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.DebugContext(ctx, funcName, "code", code)
	stored, exists := r.rooms[code]
	if !exists {
		return room.Room{}, room.ErrRoomNotFound
	}

	return stored.Clone(), nil
}

func (r *repo) UpdateRoom(ctx context.Context, params room.Room) error {
	funcName := "room.inmemory.UpdateRoom"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, funcName, "code", params.Code)
	prev, exists := r.rooms[params.Code]
	if !exists {
		return room.ErrRoomNotFound
	}

	r.unindexMembers(prev)
	r.rooms[params.Code] = params.Clone()
	r.indexMembers(params)

	return nil
}

func (r *repo) DeleteRoom(ctx context.Context, code string) error {
	funcName := "room.inmemory.DeleteRoom"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, funcName, "code", code)
	if prev, exists := r.rooms[code]; exists {
		r.unindexMembers(prev)
		delete(r.rooms, code)
	}

	return nil
}

func (r *repo) GetRoomByConnection(ctx context.Context, connectionId string) (room.Room, error) {
	funcName := "room.inmemory.GetRoomByConnection"
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.logger.DebugContext(ctx, funcName, "connection_id", connectionId)
	code, ok := r.connections[connectionId]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}

	return r.rooms[code].Clone(), nil
}

func (r *repo) ListRooms(ctx context.Context) ([]room.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]room.Room, 0, len(r.rooms))
	for _, stored := range r.rooms {
		rooms = append(rooms, stored.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })

	return rooms, nil
}

func (r *repo) indexMembers(rm room.Room) {
	for _, m := range rm.Members {
		r.connections[m.ConnectionId] = rm.Code
	}
}

func (r *repo) unindexMembers(rm room.Room) {
	for _, m := range rm.Members {
		if r.connections[m.ConnectionId] == rm.Code {
			delete(r.connections, m.ConnectionId)
		}
	}
}
