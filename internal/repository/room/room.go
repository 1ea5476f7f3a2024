package room

import "slices"

type Track struct {
	Uri        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	AlbumArt   string   `json:"album_art"`
	DurationMs int64    `json:"duration_ms"`
}

type Member struct {
	ConnectionId string `json:"connection_id"`
	UserId       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	IsHost       bool   `json:"is_host"`
}

type QueueItem struct {
	Id      string `json:"id"`
	Track   Track  `json:"track"`
	AddedBy string `json:"added_by"`
}

// Room is the authoritative state of one listening session. PositionMs is
// the playback offset at LastSyncTimestamp; readers extrapolate while
// IsPlaying.
type Room struct {
	Code              string
	Members           []Member
	CurrentTrack      *Track
	PositionMs        int64
	IsPlaying         bool
	LastSyncTimestamp int64
	Queue             []QueueItem
	CreatedAt         int64
}

func (r Room) GetMember(connectionId string) (Member, bool) {
	for _, m := range r.Members {
		if m.ConnectionId == connectionId {
			return m, true
		}
	}

	return Member{}, false
}

func (r Room) HasMember(connectionId string) bool {
	_, ok := r.GetMember(connectionId)
	return ok
}

// RemoveMember drops the member with connectionId, keeping join order of the
// rest. It returns the removed member.
func (r *Room) RemoveMember(connectionId string) (Member, bool) {
	for i, m := range r.Members {
		if m.ConnectionId == connectionId {
			r.Members = slices.Delete(r.Members, i, i+1)
			return m, true
		}
	}

	return Member{}, false
}

func (r Room) ConnectionIds() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.ConnectionId)
	}

	return ids
}

// Clone returns a deep copy sharing no slices or pointers with r.
func (r Room) Clone() Room {
	c := r
	c.Members = slices.Clone(r.Members)
	if r.CurrentTrack != nil {
		track := r.CurrentTrack.Clone()
		c.CurrentTrack = &track
	}
	if r.Queue != nil {
		c.Queue = make([]QueueItem, len(r.Queue))
		for i, item := range r.Queue {
			c.Queue[i] = QueueItem{Id: item.Id, Track: item.Track.Clone(), AddedBy: item.AddedBy}
		}
	}

	return c
}

func (t Track) Clone() Track {
	t.Artists = slices.Clone(t.Artists)
	return t
}
