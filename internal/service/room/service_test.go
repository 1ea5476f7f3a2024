package room

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echoed/server/internal/repository/room/inmemory"
	"github.com/echoed/server/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	connectionId string
	msg          protocol.Output
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingSender) Send(_ context.Context, connectionId string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, sentMessage{connectionId: connectionId, msg: v.(protocol.Output)})
	return nil
}

// take returns and forgets the messages sent to connectionId.
func (r *recordingSender) take(connectionId string) []protocol.Output {
	r.mu.Lock()
	defer r.mu.Unlock()

	var taken []protocol.Output
	rest := r.sent[:0]
	for _, s := range r.sent {
		if s.connectionId == connectionId {
			taken = append(taken, s.msg)
		} else {
			rest = append(rest, s)
		}
	}
	r.sent = rest

	return taken
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sent)
}

type fixedGenerator struct {
	codes []string
	calls int
}

func (g *fixedGenerator) GenerateRandomString(int) string {
	code := g.codes[min(g.calls, len(g.codes)-1)]
	g.calls++
	return code
}

var startTime = time.UnixMilli(1_700_000_000_000)

var trackOne = &Track{
	Uri:        "spotify:track:1",
	Name:       "One",
	Artists:    []string{"A", "B"},
	AlbumArt:   "https://img/1",
	DurationMs: 200_000,
}

type testEnv struct {
	service *service
	sender  *recordingSender
	clock   *clockwork.FakeClock
	gen     *fixedGenerator
}

func newTestEnv(t *testing.T, cfg Config, codes ...string) testEnv {
	t.Helper()

	if len(codes) == 0 {
		codes = []string{"AB12C3"}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := testEnv{
		sender: &recordingSender{},
		clock:  clockwork.NewFakeClockAt(startTime),
		gen:    &fixedGenerator{codes: codes},
	}
	env.service = New(inmemory.NewRepo(logger), env.sender, env.clock, logger, cfg)
	env.service.generator = env.gen
	t.Cleanup(func() { env.service.Shutdown(context.Background()) })

	return env
}

func (e testEnv) create(t *testing.T, connectionId, userId string) RoomResponse {
	t.Helper()

	resp, err := e.service.CreateRoom(context.Background(), &CreateRoomParams{
		ConnectionId: connectionId,
		UserId:       userId,
		DisplayName:  userId + " name",
	})
	require.NoError(t, err)

	return resp
}

func (e testEnv) join(t *testing.T, connectionId, code, userId string) RoomResponse {
	t.Helper()

	resp, err := e.service.JoinRoom(context.Background(), &JoinRoomParams{
		ConnectionId: connectionId,
		Code:         code,
		UserId:       userId,
		DisplayName:  userId + " name",
	})
	require.NoError(t, err)

	return resp
}

func (e testEnv) play(t *testing.T, connectionId string, track *Track, positionMs int64, isPlaying bool) {
	t.Helper()

	require.NoError(t, e.service.UpdatePlayerState(context.Background(), &UpdatePlayerStateParams{
		ConnectionId: connectionId,
		Track:        track,
		PositionMs:   positionMs,
		IsPlaying:    isPlaying,
	}))
}

func syncPayload(t *testing.T, msg protocol.Output) protocol.SyncPayload {
	t.Helper()

	require.Equal(t, protocol.TypePlayerSync, msg.Type)
	payload, ok := msg.Payload.(protocol.SyncPayload)
	require.True(t, ok)

	return payload
}

func membersPayload(t *testing.T, msg protocol.Output) protocol.MembersPayload {
	t.Helper()

	require.Equal(t, protocol.TypeRoomMembers, msg.Type)
	payload, ok := msg.Payload.(protocol.MembersPayload)
	require.True(t, ok)

	return payload
}

func countHosts(members []Member) int {
	n := 0
	for _, m := range members {
		if m.IsHost {
			n++
		}
	}

	return n
}

func TestScenario(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	created := env.create(t, "c1", "u1")
	assert.Equal(t, "AB12C3", created.Code)
	assert.Equal(t, []Member{{UserId: "u1", DisplayName: "u1 name", IsHost: true}}, created.Members)

	joined := env.join(t, "c2", "AB12C3", "u2")
	assert.Len(t, joined.Members, 2)
	for _, id := range []string{"c1", "c2"} {
		msgs := env.sender.take(id)
		require.Len(t, msgs, 1, id)
		assert.Len(t, membersPayload(t, msgs[0]).Members, 2)
	}

	env.play(t, "c1", trackOne, 0, true)
	for _, id := range []string{"c1", "c2"} {
		msgs := env.sender.take(id)
		require.Len(t, msgs, 1, id)
		p := syncPayload(t, msgs[0])
		assert.Equal(t, int64(0), p.PositionMs)
		assert.True(t, p.IsPlaying)
		assert.Equal(t, startTime.UnixMilli(), p.Timestamp)
		assert.Equal(t, trackOne.Uri, p.Track.Uri)
	}
	assert.True(t, env.service.IsSyncing("AB12C3"))

	require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
	env.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return env.sender.count() == 2 }, time.Second, 5*time.Millisecond)
	for _, id := range []string{"c1", "c2"} {
		msgs := env.sender.take(id)
		require.Len(t, msgs, 1, id)
		p := syncPayload(t, msgs[0])
		assert.Equal(t, int64(5000), p.PositionMs)
		assert.Equal(t, startTime.Add(5*time.Second).UnixMilli(), p.Timestamp)
	}

	env.play(t, "c1", trackOne, 5200, false)
	assert.False(t, env.service.IsSyncing("AB12C3"))
	for _, id := range []string{"c1", "c2"} {
		msgs := env.sender.take(id)
		require.Len(t, msgs, 1, id)
		assert.False(t, syncPayload(t, msgs[0]).IsPlaying)
	}

	env.clock.Advance(15 * time.Second)
	assert.Never(t, func() bool { return env.sender.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, env.service.LeaveRoom(ctx, "c1"))
	msgs := env.sender.take("c2")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeRoomClosed, msgs[0].Type)
	assert.Empty(t, env.sender.take("c1"))

	_, err := env.service.GetRoomState(ctx, "AB12C3")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = env.service.JoinRoom(ctx, &JoinRoomParams{ConnectionId: "c2", Code: "AB12C3", UserId: "u2", DisplayName: "Bea"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), "AB12C3", "AB12C3", "ZZ99ZZ")

	assert.Equal(t, "AB12C3", env.create(t, "c1", "u1").Code)
	assert.Equal(t, "ZZ99ZZ", env.create(t, "c2", "u2").Code)
	assert.Equal(t, 3, env.gen.calls)
}

func TestCreateRoomCodeExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCodeAttempts = 3
	env := newTestEnv(t, cfg, "AB12C3")

	env.create(t, "c1", "u1")

	_, err := env.service.CreateRoom(context.Background(), &CreateRoomParams{ConnectionId: "c2", UserId: "u2", DisplayName: "Bea"})
	assert.ErrorIs(t, err, ErrRoomCodeExhausted)
	assert.Equal(t, 4, env.gen.calls)
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	for name, params := range map[string]CreateRoomParams{
		"no user id":      {ConnectionId: "c1", DisplayName: "Ann"},
		"no display name": {ConnectionId: "c1", UserId: "u1"},
		"no connection":   {UserId: "u1", DisplayName: "Ann"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.service.CreateRoom(context.Background(), &params)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLongIdentityAccepted(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	longName := strings.Repeat("n", 65)
	longId := strings.Repeat("u", 200)

	resp, err := env.service.CreateRoom(ctx, &CreateRoomParams{ConnectionId: "c1", UserId: longId, DisplayName: longName})
	require.NoError(t, err)
	assert.Equal(t, longName, resp.Members[0].DisplayName)

	resp, err = env.service.JoinRoom(ctx, &JoinRoomParams{ConnectionId: "c2", Code: resp.Code, UserId: longId, DisplayName: longName})
	require.NoError(t, err)
	assert.Len(t, resp.Members, 2)
}

func TestCreateRoomLeavesCurrentRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), "AB12C3", "ZZ99ZZ")
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.join(t, "c2", "AB12C3", "u2")
	env.sender.take("c1")
	env.sender.take("c2")

	env.create(t, "c1", "u1")

	msgs := env.sender.take("c2")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeRoomClosed, msgs[0].Type)

	_, err := env.service.GetRoomState(ctx, "AB12C3")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	state, err := env.service.GetRoomState(ctx, "ZZ99ZZ")
	require.NoError(t, err)
	assert.Len(t, state.Members, 1)
}

func TestJoinRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")

	t.Run("code is normalized", func(t *testing.T) {
		resp := env.join(t, "c2", "  ab12c3 ", "u2")
		assert.Equal(t, "AB12C3", resp.Code)
		assert.Equal(t, 1, countHosts(resp.Members))
		assert.False(t, resp.Members[1].IsHost)
	})

	t.Run("rejoin is a no-op", func(t *testing.T) {
		env.sender.take("c1")
		env.sender.take("c2")

		resp := env.join(t, "c2", "AB12C3", "u2")
		assert.Len(t, resp.Members, 2)
		assert.Equal(t, 0, env.sender.count())
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := env.service.JoinRoom(ctx, &JoinRoomParams{ConnectionId: "c3", Code: "QQQQQQ", UserId: "u3", DisplayName: "Cy"})
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("malformed code", func(t *testing.T) {
		for _, code := range []string{"NOPE", "AB-1", "AB12C34"} {
			_, err := env.service.JoinRoom(ctx, &JoinRoomParams{ConnectionId: "c3", Code: code, UserId: "u3", DisplayName: "Cy"})
			assert.ErrorIs(t, err, ErrRoomNotFound, code)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := env.service.JoinRoom(ctx, &JoinRoomParams{ConnectionId: "c3", Code: "  ", UserId: "u3", DisplayName: "Cy"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestJoinRoomMembersLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MembersLimit = 2
	env := newTestEnv(t, cfg)

	env.create(t, "c1", "u1")
	env.join(t, "c2", "AB12C3", "u2")

	_, err := env.service.JoinRoom(context.Background(), &JoinRoomParams{ConnectionId: "c3", Code: "AB12C3", UserId: "u3", DisplayName: "Cy"})
	assert.ErrorIs(t, err, ErrMembersLimitReached)
}

func TestJoinRoomLeavesCurrentRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), "AB12C3", "ZZ99ZZ")

	env.create(t, "c1", "u1")
	env.join(t, "c3", "AB12C3", "u3")
	env.create(t, "c2", "u2")
	env.sender.take("c1")

	resp := env.join(t, "c3", "ZZ99ZZ", "u3")
	assert.Len(t, resp.Members, 2)

	msgs := env.sender.take("c1")
	require.Len(t, msgs, 1)
	assert.Len(t, membersPayload(t, msgs[0]).Members, 1)

	state, err := env.service.GetRoomState(context.Background(), "AB12C3")
	require.NoError(t, err)
	assert.Len(t, state.Members, 1)
}

func TestJoinSendsSnapshotToJoiner(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	env.create(t, "c1", "u1")
	env.play(t, "c1", trackOne, 1000, true)
	env.sender.take("c1")

	env.clock.Advance(3 * time.Second)
	env.join(t, "c2", "AB12C3", "u2")

	msgs := env.sender.take("c2")
	require.Len(t, msgs, 2)
	assert.Len(t, membersPayload(t, msgs[0]).Members, 2)
	p := syncPayload(t, msgs[1])
	assert.Equal(t, int64(4000), p.PositionMs)
	assert.Equal(t, startTime.Add(3*time.Second).UnixMilli(), p.Timestamp)

	// the host only gets the roster
	msgs = env.sender.take("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeRoomMembers, msgs[0].Type)
}

func TestNonHostStateChangeIgnored(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.join(t, "c2", "AB12C3", "u2")
	env.play(t, "c1", trackOne, 1000, false)
	env.sender.take("c1")
	env.sender.take("c2")

	before, err := env.service.GetRoomState(ctx, "AB12C3")
	require.NoError(t, err)

	env.play(t, "c2", &Track{Uri: "spotify:track:2"}, 9000, true)
	env.play(t, "nobody", trackOne, 0, true)

	after, err := env.service.GetRoomState(ctx, "AB12C3")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, env.sender.count())
	assert.False(t, env.service.IsSyncing("AB12C3"))
}

func TestUpdatePlayerStateNormalizes(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	env.create(t, "c1", "u1")

	env.play(t, "c1", trackOne, -300, false)
	p := syncPayload(t, env.sender.take("c1")[0])
	assert.Equal(t, int64(0), p.PositionMs)

	env.play(t, "c1", nil, 1200, true)
	p = syncPayload(t, env.sender.take("c1")[0])
	assert.Nil(t, p.Track)
	assert.False(t, p.IsPlaying)
	assert.False(t, env.service.IsSyncing("AB12C3"))
}

func TestStartSyncIsIdempotent(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	assert.False(t, env.service.StopSync(ctx, "AB12C3"))

	env.create(t, "c1", "u1")
	env.play(t, "c1", trackOne, 0, true)
	env.play(t, "c1", trackOne, 100, true)
	assert.False(t, env.service.StartSync(ctx, "AB12C3"))
	env.sender.take("c1")

	require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
	env.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return env.sender.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return env.sender.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, int64(5100), syncPayload(t, env.sender.take("c1")[0]).PositionMs)
}

func TestSyncTickStopsForMissingRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	require.True(t, env.service.StartSync(ctx, "GONE00"))
	require.NoError(t, env.clock.BlockUntilContext(ctx, 1))
	env.clock.Advance(5 * time.Second)

	assert.Eventually(t, func() bool { return !env.service.IsSyncing("GONE00") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.sender.count())
}

func TestLeaveRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.join(t, "c2", "AB12C3", "u2")
	env.join(t, "c3", "AB12C3", "u3")
	env.sender.take("c1")
	env.sender.take("c2")
	env.sender.take("c3")

	require.NoError(t, env.service.LeaveRoom(ctx, "c2"))
	for _, id := range []string{"c1", "c3"} {
		msgs := env.sender.take(id)
		require.Len(t, msgs, 1)
		members := membersPayload(t, msgs[0]).Members
		assert.Len(t, members, 2)
		assert.True(t, members[0].IsHost)
	}
	assert.Empty(t, env.sender.take("c2"))

	// leave followed by disconnect
	require.NoError(t, env.service.DisconnectMember(ctx, "c2"))
	require.NoError(t, env.service.LeaveRoom(ctx, "unknown"))
	assert.Equal(t, 0, env.sender.count())

	state, err := env.service.GetRoomState(ctx, "AB12C3")
	require.NoError(t, err)
	assert.Equal(t, 1, countHosts(state.Members))
}

func TestHostDisconnectClosesRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.join(t, "c2", "AB12C3", "u2")
	env.play(t, "c1", trackOne, 0, true)
	env.sender.take("c1")
	env.sender.take("c2")

	require.NoError(t, env.service.DisconnectMember(ctx, "c1"))
	assert.False(t, env.service.IsSyncing("AB12C3"))

	msgs := env.sender.take("c2")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeRoomClosed, msgs[0].Type)

	// the remaining member is no longer in any room
	require.NoError(t, env.service.LeaveRoom(ctx, "c2"))
	assert.Equal(t, 0, env.sender.count())
}

func TestLastMemberLeavingDeletesRoom(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")
	require.NoError(t, env.service.LeaveRoom(ctx, "c1"))

	_, err := env.service.GetRoomState(ctx, "AB12C3")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// the code is free again
	assert.Equal(t, "AB12C3", env.create(t, "c1", "u1").Code)
}

func TestGetRoomStateExtrapolates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.play(t, "c1", trackOne, 2000, true)
	env.clock.Advance(1500 * time.Millisecond)

	state, err := env.service.GetRoomState(ctx, "ab12c3")
	require.NoError(t, err)
	assert.Equal(t, int64(3500), state.Playback.PositionMs)
	assert.True(t, state.Playback.IsPlaying)
	assert.Equal(t, trackOne.Uri, state.Playback.Track.Uri)

	env.play(t, "c1", trackOne, 3500, false)
	env.clock.Advance(time.Minute)

	state, err = env.service.GetRoomState(ctx, "AB12C3")
	require.NoError(t, err)
	assert.Equal(t, int64(3500), state.Playback.PositionMs)
}

func TestShutdownClosesRooms(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), "AB12C3", "ZZ99ZZ")
	ctx := context.Background()

	env.create(t, "c1", "u1")
	env.create(t, "c2", "u2")
	env.play(t, "c1", trackOne, 0, true)
	env.sender.take("c1")

	require.NoError(t, env.service.Shutdown(ctx))

	assert.Equal(t, protocol.TypeRoomClosed, env.sender.take("c1")[0].Type)
	assert.Equal(t, protocol.TypeRoomClosed, env.sender.take("c2")[0].Type)
	assert.False(t, env.service.IsSyncing("AB12C3"))
}
