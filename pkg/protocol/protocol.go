// Package protocol holds the websocket message types exchanged between the
// echoed server and its clients. Field names are part of the wire contract.
package protocol

import "encoding/json"

const (
	TypeRoomCreate        = "room:create"
	TypeRoomJoin          = "room:join"
	TypeRoomLeave         = "room:leave"
	TypeRoomMembers       = "room:members"
	TypeRoomClosed        = "room:closed"
	TypePlayerStateChange = "player:state-change"
	TypePlayerSync        = "player:sync"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeError             = "error"
)

// Input is a client to server frame.
type Input struct {
	Type      string          `json:"type"`
	RequestId string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Output is a server to client frame. RequestId is set only on replies.
type Output struct {
	Type      string `json:"type"`
	RequestId string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type Track struct {
	Uri        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	AlbumArt   string   `json:"albumArt"`
	DurationMs int64    `json:"durationMs"`
}

type Member struct {
	SpotifyId   string `json:"spotifyId"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
}

type CreateRoomPayload struct {
	SpotifyId   string `json:"spotifyId" validate:"required"`
	DisplayName string `json:"displayName" validate:"required"`
}

type JoinRoomPayload struct {
	Code        string `json:"code" validate:"required"`
	SpotifyId   string `json:"spotifyId" validate:"required"`
	DisplayName string `json:"displayName" validate:"required"`
}

// RoomResponse is the reply to room:create and room:join. Error is set
// instead of Code and Members when the request failed.
type RoomResponse struct {
	Code    string   `json:"code,omitempty"`
	Members []Member `json:"members,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type MembersPayload struct {
	Members []Member `json:"members"`
}

type StateChangePayload struct {
	Track      *Track `json:"track"`
	PositionMs int64  `json:"positionMs"`
	IsPlaying  bool   `json:"isPlaying"`
}

// SyncPayload is a playback snapshot. Timestamp is the server's epoch millis
// at the moment PositionMs was valid.
type SyncPayload struct {
	Track      *Track `json:"track"`
	PositionMs int64  `json:"positionMs"`
	IsPlaying  bool   `json:"isPlaying"`
	Timestamp  int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
