package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/echoed/server/internal/repository/room"
	"github.com/echoed/server/pkg/ctxlogger"
)

type UpdatePlayerStateParams struct {
	ConnectionId string
	Track        *Track
	PositionMs   int64
	IsPlaying    bool
}

// UpdatePlayerState applies a host's player state and broadcasts it to the
// room. State from a non-host or from a connection in no room is dropped.
func (s *service) UpdatePlayerState(ctx context.Context, params *UpdatePlayerStateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, err := s.roomRepo.GetRoomByConnection(ctx, params.ConnectionId)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			s.logger.DebugContext(ctx, "ignoring player state", "connection_id", params.ConnectionId, "error", ErrRoomNotFound)
			return nil
		}
		return fmt.Errorf("failed to get room by connection: %w", err)
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_code", rm.Code))

	member, _ := rm.GetMember(params.ConnectionId)
	if !member.IsHost {
		s.logger.DebugContext(ctx, "ignoring player state", "user_id", member.UserId, "error", ErrPermissionDenied)
		return nil
	}

	now := s.now()
	rm.CurrentTrack = nil
	if params.Track != nil {
		track := params.Track.Clone()
		rm.CurrentTrack = &track
	}
	rm.PositionMs = max(params.PositionMs, 0)
	// without a track there is nothing to play
	rm.IsPlaying = params.IsPlaying && rm.CurrentTrack != nil
	rm.LastSyncTimestamp = now

	if err := s.roomRepo.UpdateRoom(ctx, rm); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	s.broadcastSync(ctx, rm, playbackAt(rm, now))

	if rm.IsPlaying {
		s.StartSync(ctx, rm.Code)
	} else {
		s.StopSync(ctx, rm.Code)
	}

	return nil
}

// StartSync starts the periodic snapshot broadcast for code. It reports
// whether a new task was started.
func (s *service) StartSync(ctx context.Context, code string) bool {
	return s.scheduler.Start(ctx, code, s.cfg.SyncInterval, s.syncTick(code))
}

// StopSync stops the periodic broadcast for code. It reports whether one was
// running.
func (s *service) StopSync(ctx context.Context, code string) bool {
	stopped := s.scheduler.Stop(code)
	if stopped {
		s.logger.DebugContext(ctx, "sync stopped", "room_code", code)
	}

	return stopped
}

func (s *service) IsSyncing(code string) bool {
	return s.scheduler.IsActive(code)
}

func (s *service) syncTick(code string) func(ctx context.Context) {
	return func(ctx context.Context) {
		s.mu.Lock()
		defer s.mu.Unlock()

		// stopped while waiting for the lock
		if ctx.Err() != nil {
			return
		}

		rm, err := s.roomRepo.GetRoom(ctx, code)
		if err != nil {
			if errors.Is(err, room.ErrRoomNotFound) {
				s.StopSync(ctx, code)
				return
			}
			s.logger.ErrorContext(ctx, "failed to get room", "room_code", code, "error", err)
			return
		}

		if !rm.IsPlaying || rm.CurrentTrack == nil {
			return
		}

		now := s.now()
		rm.PositionMs = extrapolate(rm, now)
		rm.LastSyncTimestamp = now

		if err := s.roomRepo.UpdateRoom(ctx, rm); err != nil {
			s.logger.ErrorContext(ctx, "failed to update room", "room_code", code, "error", err)
			return
		}

		s.broadcastSync(ctx, rm, playbackAt(rm, now))
	}
}
