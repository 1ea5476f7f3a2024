package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/echoed/server/internal/repository/room"
	"github.com/echoed/server/pkg/ctxlogger"
)

type CreateRoomParams struct {
	ConnectionId string
	UserId       string
	DisplayName  string
}

type RoomResponse struct {
	Code    string
	Members []Member
}

// CreateRoom registers the caller as host of a room with a fresh code. A
// caller already in a room leaves it first.
func (s *service) CreateRoom(ctx context.Context, params *CreateRoomParams) (RoomResponse, error) {
	if err := params.Validate(); err != nil {
		return RoomResponse{}, validationError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.leave(ctx, params.ConnectionId); err != nil {
		return RoomResponse{}, fmt.Errorf("failed to leave current room: %w", err)
	}

	now := s.now()
	rm := room.Room{
		Members: []room.Member{{
			ConnectionId: params.ConnectionId,
			UserId:       params.UserId,
			DisplayName:  params.DisplayName,
			IsHost:       true,
		}},
		LastSyncTimestamp: now,
		CreatedAt:         now,
	}

	for attempt := 0; ; attempt++ {
		if attempt == s.cfg.MaxCodeAttempts {
			s.logger.ErrorContext(ctx, "failed to generate room code", "attempts", attempt)
			return RoomResponse{}, ErrRoomCodeExhausted
		}

		rm.Code = s.generator.GenerateRandomString(s.cfg.CodeLength)
		err := s.roomRepo.CreateRoom(ctx, rm)
		if err == nil {
			break
		}
		if !errors.Is(err, room.ErrRoomAlreadyExists) {
			return RoomResponse{}, fmt.Errorf("failed to create room: %w", err)
		}
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_code", rm.Code))
	s.logger.InfoContext(ctx, "room created", "user_id", params.UserId)

	return RoomResponse{
		Code:    rm.Code,
		Members: toMembers(rm.Members),
	}, nil
}

type JoinRoomParams struct {
	ConnectionId string
	Code         string
	UserId       string
	DisplayName  string
}

// JoinRoom adds the caller to the room as a regular member, broadcasts the
// new roster and hands the joiner the current playback. Joining the room the
// caller is already in returns the roster unchanged.
func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (RoomResponse, error) {
	params.Code = normalizeCode(params.Code)
	if err := params.Validate(); err != nil {
		return RoomResponse{}, validationError(err)
	}

	if !isRoomCode(params.Code) {
		return RoomResponse{}, ErrRoomNotFound
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_code", params.Code))

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.roomRepo.GetRoomByConnection(ctx, params.ConnectionId)
	inRoom := err == nil
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		return RoomResponse{}, fmt.Errorf("failed to get current room: %w", err)
	}

	if inRoom && current.Code == params.Code {
		s.logger.DebugContext(ctx, "already in room")
		return RoomResponse{
			Code:    current.Code,
			Members: toMembers(current.Members),
		}, nil
	}

	rm, err := s.roomRepo.GetRoom(ctx, params.Code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return RoomResponse{}, ErrRoomNotFound
		}
		return RoomResponse{}, fmt.Errorf("failed to get room: %w", err)
	}

	if s.cfg.MembersLimit > 0 && len(rm.Members) >= s.cfg.MembersLimit {
		return RoomResponse{}, ErrMembersLimitReached
	}

	if inRoom {
		if err := s.leaveRoom(ctx, current, params.ConnectionId); err != nil {
			return RoomResponse{}, fmt.Errorf("failed to leave current room: %w", err)
		}
	}

	rm.Members = append(rm.Members, room.Member{
		ConnectionId: params.ConnectionId,
		UserId:       params.UserId,
		DisplayName:  params.DisplayName,
		IsHost:       false,
	})
	if err := s.roomRepo.UpdateRoom(ctx, rm); err != nil {
		return RoomResponse{}, fmt.Errorf("failed to update room: %w", err)
	}

	s.logger.InfoContext(ctx, "member joined", "user_id", params.UserId, "members", len(rm.Members))

	s.sendMembers(ctx, rm)
	if rm.CurrentTrack != nil {
		s.sendSync(ctx, params.ConnectionId, playbackAt(rm, s.now()))
	}

	return RoomResponse{
		Code:    rm.Code,
		Members: toMembers(rm.Members),
	}, nil
}

// LeaveRoom removes the caller from its room. It is a no-op for a
// connection in no room.
func (s *service) LeaveRoom(ctx context.Context, connectionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leave(ctx, connectionId)
}

// DisconnectMember runs the leave logic for a closed connection.
func (s *service) DisconnectMember(ctx context.Context, connectionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "member disconnected", "connection_id", connectionId)
	return s.leave(ctx, connectionId)
}

func (s *service) leave(ctx context.Context, connectionId string) error {
	rm, err := s.roomRepo.GetRoomByConnection(ctx, connectionId)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get room by connection: %w", err)
	}

	return s.leaveRoom(ctx, rm, connectionId)
}

// leaveRoom closes rm when the host leaves or nobody is left, otherwise it
// broadcasts the shrunk roster.
func (s *service) leaveRoom(ctx context.Context, rm room.Room, connectionId string) error {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_code", rm.Code))

	member, ok := rm.RemoveMember(connectionId)
	if !ok {
		return nil
	}

	s.logger.InfoContext(ctx, "member left", "user_id", member.UserId, "is_host", member.IsHost)

	if member.IsHost || len(rm.Members) == 0 {
		return s.closeRoom(ctx, rm)
	}

	if err := s.roomRepo.UpdateRoom(ctx, rm); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	s.sendMembers(ctx, rm)
	return nil
}

// closeRoom stops the room's sync task, tells everyone still in rm and
// deletes it.
func (s *service) closeRoom(ctx context.Context, rm room.Room) error {
	s.StopSync(ctx, rm.Code)
	s.sendClosed(ctx, rm)

	if err := s.roomRepo.DeleteRoom(ctx, rm.Code); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	s.logger.InfoContext(ctx, "room closed", "room_code", rm.Code)
	return nil
}

// GetRoomState returns the room with its position extrapolated to now.
func (s *service) GetRoomState(ctx context.Context, code string) (RoomState, error) {
	code = normalizeCode(code)
	if !isRoomCode(code) {
		return RoomState{}, ErrRoomNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rm, err := s.roomRepo.GetRoom(ctx, code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return RoomState{}, ErrRoomNotFound
		}
		return RoomState{}, fmt.Errorf("failed to get room: %w", err)
	}

	return RoomState{
		Code:     rm.Code,
		Members:  toMembers(rm.Members),
		Playback: playbackAt(rm, s.now()),
	}, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
