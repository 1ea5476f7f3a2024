package room

import (
	"context"

	"github.com/echoed/server/internal/repository/room"
	"github.com/echoed/server/pkg/protocol"
)

// send never fails the caller: a lost message is logged and the connection's
// own disconnect handling cleans up.
func (s *service) send(ctx context.Context, connectionId string, msg protocol.Output) {
	if err := s.sender.Send(ctx, connectionId, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to send message",
			"connection_id", connectionId,
			"type", msg.Type,
			"error", err,
		)
	}
}

func (s *service) broadcast(ctx context.Context, members []room.Member, msg protocol.Output) {
	for _, m := range members {
		s.send(ctx, m.ConnectionId, msg)
	}
}

func (s *service) sendMembers(ctx context.Context, rm room.Room) {
	s.broadcast(ctx, rm.Members, protocol.Output{
		Type: protocol.TypeRoomMembers,
		Payload: protocol.MembersPayload{
			Members: toProtocolMembers(rm.Members),
		},
	})
}

func (s *service) sendClosed(ctx context.Context, rm room.Room) {
	s.broadcast(ctx, rm.Members, protocol.Output{
		Type: protocol.TypeRoomClosed,
	})
}

func syncOutput(p Playback) protocol.Output {
	return protocol.Output{
		Type: protocol.TypePlayerSync,
		Payload: protocol.SyncPayload{
			Track:      toProtocolTrack(p.Track),
			PositionMs: p.PositionMs,
			IsPlaying:  p.IsPlaying,
			Timestamp:  p.Timestamp,
		},
	}
}

func (s *service) sendSync(ctx context.Context, connectionId string, p Playback) {
	s.send(ctx, connectionId, syncOutput(p))
}

func (s *service) broadcastSync(ctx context.Context, rm room.Room, p Playback) {
	s.broadcast(ctx, rm.Members, syncOutput(p))
}
