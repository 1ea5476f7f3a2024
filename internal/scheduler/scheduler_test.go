package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() (*Scheduler, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New(clock, slog.New(slog.NewTextHandler(io.Discard, nil))), clock
}

func waitTick(t *testing.T, ticks <-chan struct{}) {
	t.Helper()
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
	}
}

func assertNoTick(t *testing.T, ticks <-chan struct{}) {
	t.Helper()
	select {
	case <-ticks:
		t.Fatal("unexpected tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, clock := newTestScheduler()
	defer s.Close()
	ctx := context.Background()

	ticks := make(chan struct{}, 8)
	fn := func(context.Context) { ticks <- struct{}{} }

	assert.True(t, s.Start(ctx, "AB12C3", 5*time.Second, fn))
	assert.False(t, s.Start(ctx, "AB12C3", 5*time.Second, fn))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.IsActive("AB12C3"))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)
	waitTick(t, ticks)
	assertNoTick(t, ticks)

	clock.Advance(5 * time.Second)
	waitTick(t, ticks)
}

func TestStopIsIdempotent(t *testing.T) {
	s, clock := newTestScheduler()
	defer s.Close()
	ctx := context.Background()

	assert.False(t, s.Stop("missing"))

	ticks := make(chan struct{}, 8)
	s.Start(ctx, "AB12C3", time.Second, func(context.Context) { ticks <- struct{}{} })
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	assert.True(t, s.Stop("AB12C3"))
	assert.False(t, s.Stop("AB12C3"))
	assert.False(t, s.IsActive("AB12C3"))

	require.NoError(t, clock.BlockUntilContext(ctx, 0))
	clock.Advance(time.Second)
	assertNoTick(t, ticks)
}

func TestTaskCanStopItself(t *testing.T) {
	s, clock := newTestScheduler()
	defer s.Close()
	ctx := context.Background()

	done := make(chan struct{})
	s.Start(ctx, "self", time.Second, func(context.Context) {
		s.Stop("self")
		close(done)
	})
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, 0, s.Len())
}

func TestCancelledParentDoesNotEndTask(t *testing.T) {
	s, clock := newTestScheduler()
	defer s.Close()

	parent, cancel := context.WithCancel(context.Background())
	ticks := make(chan struct{}, 8)
	s.Start(parent, "AB12C3", time.Second, func(context.Context) { ticks <- struct{}{} })
	cancel()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	waitTick(t, ticks)
	assert.True(t, s.IsActive("AB12C3"))
}

func TestClose(t *testing.T) {
	s, clock := newTestScheduler()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		s.Start(ctx, key, time.Second, func(context.Context) {})
	}
	require.NoError(t, clock.BlockUntilContext(ctx, 3))

	s.Close()
	assert.Equal(t, 0, s.Len())
}
