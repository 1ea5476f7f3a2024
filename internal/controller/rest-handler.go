package controller

import (
	"errors"
	"net/http"

	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/protocol"
	"github.com/echoed/server/pkg/rest"
	"github.com/go-chi/chi/v5"
)

type roomStateResponse struct {
	Code       string            `json:"code"`
	Members    []protocol.Member `json:"members"`
	Track      *protocol.Track   `json:"track"`
	PositionMs int64             `json:"positionMs"`
	IsPlaying  bool              `json:"isPlaying"`
	Timestamp  int64             `json:"timestamp"`
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	state, err := c.roomService.GetRoomState(r.Context(), code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": err.Error()})
			return
		}

		c.logger.ErrorContext(r.Context(), "failed to get room state", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal server error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, roomStateResponse{
		Code:       state.Code,
		Members:    toProtocolMembers(state.Members),
		Track:      toProtocolTrack(state.Playback.Track),
		PositionMs: state.Playback.PositionMs,
		IsPlaying:  state.Playback.IsPlaying,
		Timestamp:  state.Playback.Timestamp,
	})
}
