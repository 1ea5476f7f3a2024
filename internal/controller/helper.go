package controller

import (
	"context"
	"errors"

	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/protocol"
	"github.com/echoed/server/pkg/wsrouter"
	"github.com/google/uuid"
)

func (c controller) generateTimeBasedId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// reply answers the message in ctx, echoing its type and request id.
func (c controller) reply(ctx context.Context, payload any) {
	c.send(ctx, protocol.Output{
		Type:      wsrouter.GetMessageTypeFromCtx(ctx),
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
		Payload:   payload,
	})
}

func (c controller) send(ctx context.Context, out protocol.Output) {
	if err := c.connRepo.Send(ctx, c.getConnectionIdFromCtx(ctx), out); err != nil {
		c.logger.InfoContext(ctx, "failed to send reply", "type", out.Type, "error", err)
	}
}

var clientErrors = []error{
	room.ErrRoomNotFound,
	room.ErrValidation,
	room.ErrMembersLimitReached,
	room.ErrRoomCodeExhausted,
}

// clientErrorMessage returns the text shown to a client for err. Errors the
// client cannot act on are reported generically.
func clientErrorMessage(err error) string {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return err.Error()
		}
	}

	return "internal server error"
}

func toProtocolMembers(members []room.Member) []protocol.Member {
	result := make([]protocol.Member, 0, len(members))
	for _, m := range members {
		result = append(result, protocol.Member{
			SpotifyId:   m.UserId,
			DisplayName: m.DisplayName,
			IsHost:      m.IsHost,
		})
	}

	return result
}

func toProtocolTrack(t *room.Track) *protocol.Track {
	if t == nil {
		return nil
	}

	return &protocol.Track{
		Uri:        t.Uri,
		Name:       t.Name,
		Artists:    t.Artists,
		AlbumArt:   t.AlbumArt,
		DurationMs: t.DurationMs,
	}
}

func fromProtocolTrack(t *protocol.Track) *room.Track {
	if t == nil {
		return nil
	}

	return &room.Track{
		Uri:        t.Uri,
		Name:       t.Name,
		Artists:    t.Artists,
		AlbumArt:   t.AlbumArt,
		DurationMs: t.DurationMs,
	}
}
