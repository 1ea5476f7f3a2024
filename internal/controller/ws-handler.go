package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/ctxlogger"
	"github.com/echoed/server/pkg/protocol"
	"github.com/echoed/server/pkg/wsrouter"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type EmptyInput struct{}

func (c controller) handleWS(w http.ResponseWriter, r *http.Request) {
	connectionId := uuid.NewString()
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("connection_id", connectionId))
	ctx = context.WithValue(ctx, connectionIdCtxKey, connectionId)

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to upgrade to websocket", "error", err)
		return
	}

	if err := c.connRepo.Add(ctx, connectionId, conn); err != nil {
		c.logger.ErrorContext(ctx, "failed to add connection", "error", err)
		conn.Close()
		return
	}
	defer c.disconnect(ctx, connectionId)

	c.logger.InfoContext(ctx, "websocket connected")

	if err := c.wsmux.ServeConn(ctx, conn); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.logger.InfoContext(ctx, "websocket closed unexpectedly", "error", err)
			return
		}
		c.logger.DebugContext(ctx, "websocket closed", "error", err)
	}
}

func (c controller) disconnect(ctx context.Context, connectionId string) {
	ctx = context.WithoutCancel(ctx)

	if err := c.roomService.DisconnectMember(ctx, connectionId); err != nil {
		c.logger.ErrorContext(ctx, "failed to disconnect member", "error", err)
	}

	if err := c.connRepo.Remove(ctx, connectionId); err != nil {
		c.logger.DebugContext(ctx, "failed to remove connection", "error", err)
	}
}

// handleWSError reports routing failures to the client. Handler errors are
// only logged since fire-and-forget messages never get error replies.
func (c controller) handleWSError(ctx context.Context, _ *websocket.Conn, err error) {
	if errors.Is(err, wsrouter.ErrInvalidMessage) || errors.Is(err, wsrouter.ErrUnknownMessageType) {
		c.logger.InfoContext(ctx, "invalid websocket message", "error", err)
		c.send(ctx, protocol.Output{
			Type:      protocol.TypeError,
			RequestId: wsrouter.GetRequestIdFromCtx(ctx),
			Payload:   protocol.ErrorPayload{Error: err.Error()},
		})
		return
	}

	c.logger.ErrorContext(ctx, "failed to handle websocket message", "error", err)
}

func (c controller) replyRoom(ctx context.Context, resp room.RoomResponse, err error) error {
	if err != nil {
		c.logger.InfoContext(ctx, "room request failed", "error", err)
		c.reply(ctx, protocol.RoomResponse{Error: clientErrorMessage(err)})
		return nil
	}

	c.reply(ctx, protocol.RoomResponse{
		Code:    resp.Code,
		Members: toProtocolMembers(resp.Members),
	})
	return nil
}

func (c controller) handleCreateRoom(ctx context.Context, _ *websocket.Conn, input protocol.CreateRoomPayload) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		c.reply(ctx, protocol.RoomResponse{Error: validationErrors.Error()})
		return nil
	}

	resp, err := c.roomService.CreateRoom(ctx, &room.CreateRoomParams{
		ConnectionId: c.getConnectionIdFromCtx(ctx),
		UserId:       input.SpotifyId,
		DisplayName:  input.DisplayName,
	})

	return c.replyRoom(ctx, resp, err)
}

func (c controller) handleJoinRoom(ctx context.Context, _ *websocket.Conn, input protocol.JoinRoomPayload) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		c.reply(ctx, protocol.RoomResponse{Error: validationErrors.Error()})
		return nil
	}

	resp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		ConnectionId: c.getConnectionIdFromCtx(ctx),
		Code:         input.Code,
		UserId:       input.SpotifyId,
		DisplayName:  input.DisplayName,
	})

	return c.replyRoom(ctx, resp, err)
}

func (c controller) handleLeaveRoom(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	if err := c.roomService.LeaveRoom(ctx, c.getConnectionIdFromCtx(ctx)); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	return nil
}

func (c controller) handleStateChange(ctx context.Context, _ *websocket.Conn, input protocol.StateChangePayload) error {
	if err := c.roomService.UpdatePlayerState(ctx, &room.UpdatePlayerStateParams{
		ConnectionId: c.getConnectionIdFromCtx(ctx),
		Track:        fromProtocolTrack(input.Track),
		PositionMs:   input.PositionMs,
		IsPlaying:    input.IsPlaying,
	}); err != nil {
		return fmt.Errorf("failed to update player state: %w", err)
	}

	return nil
}

func (c controller) handlePing(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	c.send(ctx, protocol.Output{
		Type:      protocol.TypePong,
		RequestId: wsrouter.GetRequestIdFromCtx(ctx),
	})

	return nil
}
