package room

import (
	"github.com/echoed/server/internal/repository/room"
	"github.com/echoed/server/pkg/protocol"
)

// extrapolate returns the position of rm at now. Only a playing room moves.
func extrapolate(rm room.Room, now int64) int64 {
	if !rm.IsPlaying || rm.CurrentTrack == nil {
		return rm.PositionMs
	}

	return rm.PositionMs + max(now-rm.LastSyncTimestamp, 0)
}

func playbackAt(rm room.Room, now int64) Playback {
	p := Playback{
		PositionMs: extrapolate(rm, now),
		IsPlaying:  rm.IsPlaying,
		Timestamp:  now,
	}
	if rm.CurrentTrack != nil {
		track := rm.CurrentTrack.Clone()
		p.Track = &track
	}

	return p
}

func toMembers(members []room.Member) []Member {
	result := make([]Member, 0, len(members))
	for _, m := range members {
		result = append(result, Member{
			UserId:      m.UserId,
			DisplayName: m.DisplayName,
			IsHost:      m.IsHost,
		})
	}

	return result
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

func toProtocolTrack(t *Track) *protocol.Track {
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
