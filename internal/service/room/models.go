package room

import "github.com/echoed/server/internal/repository/room"

type Track = room.Track

type Member struct {
	UserId      string
	DisplayName string
	IsHost      bool
}

// Playback is a snapshot of a room's player. PositionMs is valid at
// Timestamp.
type Playback struct {
	Track      *Track
	PositionMs int64
	IsPlaying  bool
	Timestamp  int64
}

type RoomState struct {
	Code     string
	Members  []Member
	Playback Playback
}
