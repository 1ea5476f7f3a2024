// Package roomtest holds behaviour tests shared by every room store backend.
package roomtest

import (
	"context"
	"testing"

	"github.com/echoed/server/internal/repository/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(code, hostConn string) room.Room {
	return room.Room{
		Code: code,
		Members: []room.Member{{
			ConnectionId: hostConn,
			UserId:       "u1",
			DisplayName:  "Ann",
			IsHost:       true,
		}},
		LastSyncTimestamp: 1_700_000_000_000,
		CreatedAt:         1_700_000_000_000,
	}
}

// Run exercises store against the room store contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) room.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))

		got, err := s.GetRoom(ctx, "AB12C3")
		require.NoError(t, err)
		assert.Equal(t, "AB12C3", got.Code)
		require.Len(t, got.Members, 1)
		assert.Equal(t, room.Member{ConnectionId: "c1", UserId: "u1", DisplayName: "Ann", IsHost: true}, got.Members[0])
		assert.Nil(t, got.CurrentTrack)
		assert.Equal(t, int64(1_700_000_000_000), got.LastSyncTimestamp)
		assert.Equal(t, int64(1_700_000_000_000), got.CreatedAt)
	})

	t.Run("create fails for live code", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))
		assert.ErrorIs(t, s.CreateRoom(ctx, newRoom("AB12C3", "c9")), room.ErrRoomAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRoom(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, room.ErrRoomNotFound)
	})

	t.Run("update keeps member order and playback state", func(t *testing.T) {
		s := newStore(t)
		rm := newRoom("AB12C3", "c1")
		require.NoError(t, s.CreateRoom(ctx, rm))

		rm.Members = append(rm.Members,
			room.Member{ConnectionId: "c2", UserId: "u2", DisplayName: "Bea"},
			room.Member{ConnectionId: "c3", UserId: "u3", DisplayName: "Cy"},
		)
		rm.CurrentTrack = &room.Track{
			Uri:        "spotify:track:1",
			Name:       "Song",
			Artists:    []string{"A", "B"},
			AlbumArt:   "https://img/1.jpg",
			DurationMs: 180_000,
		}
		rm.PositionMs = 42_000
		rm.IsPlaying = true
		rm.LastSyncTimestamp = 1_700_000_005_000
		rm.Queue = []room.QueueItem{{Id: "q1", Track: room.Track{Uri: "spotify:track:2"}, AddedBy: "u2"}}
		require.NoError(t, s.UpdateRoom(ctx, rm))

		got, err := s.GetRoom(ctx, "AB12C3")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, got.ConnectionIds())
		require.NotNil(t, got.CurrentTrack)
		assert.Equal(t, *rm.CurrentTrack, *got.CurrentTrack)
		assert.Equal(t, int64(42_000), got.PositionMs)
		assert.True(t, got.IsPlaying)
		assert.Equal(t, int64(1_700_000_005_000), got.LastSyncTimestamp)
		require.Len(t, got.Queue, 1)
		assert.Equal(t, "q1", got.Queue[0].Id)

		rm.RemoveMember("c2")
		rm.CurrentTrack = nil
		require.NoError(t, s.UpdateRoom(ctx, rm))

		got, err = s.GetRoom(ctx, "AB12C3")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c3"}, got.ConnectionIds())
		assert.Nil(t, got.CurrentTrack)

		_, err = s.GetRoomByConnection(ctx, "c2")
		assert.ErrorIs(t, err, room.ErrRoomNotFound)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.UpdateRoom(ctx, newRoom("AB12C3", "c1")), room.ErrRoomNotFound)
	})

	t.Run("returned rooms are copies", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))

		got, err := s.GetRoom(ctx, "AB12C3")
		require.NoError(t, err)
		got.Members[0].DisplayName = "changed"

		again, err := s.GetRoom(ctx, "AB12C3")
		require.NoError(t, err)
		assert.Equal(t, "Ann", again.Members[0].DisplayName)
	})

	t.Run("find by connection", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))
		require.NoError(t, s.CreateRoom(ctx, newRoom("XY98Z7", "c2")))

		got, err := s.GetRoomByConnection(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, "XY98Z7", got.Code)

		_, err = s.GetRoomByConnection(ctx, "unknown")
		assert.ErrorIs(t, err, room.ErrRoomNotFound)
	})

	t.Run("delete is idempotent and frees code", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))

		require.NoError(t, s.DeleteRoom(ctx, "AB12C3"))
		require.NoError(t, s.DeleteRoom(ctx, "AB12C3"))

		_, err := s.GetRoom(ctx, "AB12C3")
		assert.ErrorIs(t, err, room.ErrRoomNotFound)
		_, err = s.GetRoomByConnection(ctx, "c1")
		assert.ErrorIs(t, err, room.ErrRoomNotFound)

		assert.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c5")))
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateRoom(ctx, newRoom("XY98Z7", "c2")))
		require.NoError(t, s.CreateRoom(ctx, newRoom("AB12C3", "c1")))

		rooms, err := s.ListRooms(ctx)
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "AB12C3", rooms[0].Code)
		assert.Equal(t, "XY98Z7", rooms[1].Code)
	})
}
