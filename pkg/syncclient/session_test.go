package syncclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echoed/server/internal/controller"
	connInmemory "github.com/echoed/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/echoed/server/internal/repository/room/inmemory"
	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) string {
	t.Helper()

	connRepo := connInmemory.NewRepo(connInmemory.DefaultConfig(), discard)
	roomService := room.New(roomInmemory.NewRepo(discard), connRepo, clockwork.NewRealClock(), discard, room.DefaultConfig())
	srv := httptest.NewServer(controller.NewController(roomService, connRepo, discard, controller.Config{}).GetMux())
	t.Cleanup(func() {
		srv.Close()
		roomService.Shutdown(context.Background())
		connRepo.CloseAll()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
}

func dial(t *testing.T, url string) *Session {
	t.Helper()

	cfg := DefaultConfig(url)
	cfg.PollInterval = 10 * time.Millisecond

	s, err := Dial(context.Background(), cfg, clockwork.NewRealClock(), discard)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

type roster struct {
	mu      sync.Mutex
	members []protocol.Member
}

func (r *roster) set(members []protocol.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = members
}

func (r *roster) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.members)
}

func TestSessionMirrorsHost(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	host := dial(t, url)
	guest := dial(t, url)

	hostRoster, guestRoster := &roster{}, &roster{}
	host.OnMembers(hostRoster.set)
	guest.OnMembers(guestRoster.set)
	closed := make(chan struct{})
	guest.OnClosed(func() { close(closed) })

	created, err := host.CreateRoom(ctx, "u1", "Ann")
	require.NoError(t, err)
	require.Len(t, created.Members, 1)
	assert.True(t, host.IsHost())
	assert.Equal(t, created.Code, host.Code())

	joined, err := guest.JoinRoom(ctx, strings.ToLower(created.Code), "u2", "Bea")
	require.NoError(t, err)
	assert.Len(t, joined.Members, 2)
	assert.False(t, guest.IsHost())
	assert.Eventually(t, func() bool { return hostRoster.len() == 2 && guestRoster.len() == 2 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, guest.Host(ctx, NewSimulatedPlayer(clockwork.NewRealClock())), ErrNotHost)
	assert.ErrorIs(t, guest.EmitPlayerState(ctx, protocol.StateChangePayload{}), ErrNotHost)

	hostPlayer := NewSimulatedPlayer(clockwork.NewRealClock())
	guestPlayer := NewSimulatedPlayer(clockwork.NewRealClock())
	guest.Mirror(guestPlayer)
	require.NoError(t, host.Host(ctx, hostPlayer))

	require.NoError(t, hostPlayer.Load(ctx, *trackOne, 30_000))
	assert.Eventually(t, func() bool {
		state, _ := guestPlayer.State(ctx)
		return state.Track != nil && state.Track.Uri == trackOne.Uri && state.IsPlaying
	}, 2*time.Second, 10*time.Millisecond)

	state, err := guestPlayer.State(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 30_000, state.PositionMs, 1_000)

	require.NoError(t, hostPlayer.Pause(ctx))
	assert.Eventually(t, func() bool {
		state, _ := guestPlayer.State(ctx)
		return !state.IsPlaying
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Ping(ctx))

	require.NoError(t, host.Close())
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("guest was not told the room closed")
	}
	assert.Empty(t, guest.Code())

	_, err = guest.JoinRoom(ctx, created.Code, "u2", "Bea")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestSessionRequestErrors(t *testing.T) {
	url := newTestServer(t)
	ctx := context.Background()

	s := dial(t, url)

	_, err := s.JoinRoom(ctx, "ZZZZZZ", "u1", "Ann")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "room not found")

	_, err = s.CreateRoom(ctx, "", "Ann")
	assert.ErrorIs(t, err, ErrRequestFailed)

	require.NoError(t, s.Close())
	_, err = s.CreateRoom(ctx, "u1", "Ann")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOnSyncReplaces(t *testing.T) {
	s := &Session{clock: clockwork.NewFakeClock(), logger: discard}

	var first, second int
	s.OnSync(func(context.Context, Snapshot) { first++ })
	s.OnSync(func(context.Context, Snapshot) { second++ })

	s.dispatch(context.Background(), protocol.Input{
		Type:    protocol.TypePlayerSync,
		Payload: []byte(`{"track":null,"positionMs":0,"isPlaying":false,"timestamp":0}`),
	})
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	// hosts ignore snapshots
	s.enterRoom("AB12C3", true)
	s.dispatch(context.Background(), protocol.Input{
		Type:    protocol.TypePlayerSync,
		Payload: []byte(`{"track":null,"positionMs":0,"isPlaying":false,"timestamp":0}`),
	})
	assert.Equal(t, 1, second)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "room not found", errorMessage([]byte(`{"error":"room not found"}`)))
	assert.Equal(t, "unknown server error", errorMessage([]byte(`"oops"`)))
	assert.Equal(t, "unknown server error", errorMessage(nil))
}
