package room

import "context"

// Store keeps live rooms. Implementations must not let callers alias stored
// state: rooms passed in and returned are copies.
type Store interface {
	// CreateRoom fails with ErrRoomAlreadyExists if the code is live.
	CreateRoom(context.Context, Room) error
	GetRoom(ctx context.Context, code string) (Room, error)
	// UpdateRoom overwrites a live room, members included.
	UpdateRoom(context.Context, Room) error
	// DeleteRoom succeeds for an already deleted room.
	DeleteRoom(ctx context.Context, code string) error
	GetRoomByConnection(ctx context.Context, connectionId string) (Room, error)
	ListRooms(context.Context) ([]Room, error)
}
