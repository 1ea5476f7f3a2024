package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echoed/server/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultPollInterval        = time.Second
	DefaultSeekThreshold int64 = 2000
)

type EmitFunc func(ctx context.Context, state protocol.StateChangePayload) error

// HostPoller reads the host's player on an interval and emits a state change
// when the track or play flag changes or the position jumps.
type HostPoller struct {
	player        Player
	emit          EmitFunc
	clock         clockwork.Clock
	interval      time.Duration
	seekThreshold int64
	logger        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// last emitted track and play flag, last observed position; guarded by
	// pollMu
	pollMu       sync.Mutex
	uri          string
	isPlaying    bool
	positionMs   int64
	observedAt   time.Time
	communicated bool
	stopSent     bool
}

func NewHostPoller(player Player, emit EmitFunc, clock clockwork.Clock, interval time.Duration, seekThreshold int64, logger *slog.Logger) *HostPoller {
	return &HostPoller{
		player:        player,
		emit:          emit,
		clock:         clock,
		interval:      interval,
		seekThreshold: seekThreshold,
		logger:        logger,
	}
}

// Start polls every interval until Stop. Cancelling ctx does not stop
// polling. It reports whether polling was started.
func (p *HostPoller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return false
	}

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	return true
}

func (p *HostPoller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := p.Poll(ctx); err != nil {
				p.logger.WarnContext(ctx, "failed to poll player", "error", err)
			}
		}
	}
}

// Stop ends polling and waits for a running poll to finish. It reports
// whether polling was active.
func (p *HostPoller) Stop() bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return false
	}

	cancel()
	<-done
	return true
}

func (p *HostPoller) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cancel != nil
}

// Poll reads the player once and emits if needed.
func (p *HostPoller) Poll(ctx context.Context) error {
	state, err := p.player.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player state: %w", err)
	}

	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	now := p.clock.Now()

	if state.Track == nil {
		if !p.communicated || p.stopSent {
			return nil
		}

		if err := p.emit(ctx, protocol.StateChangePayload{}); err != nil {
			return err
		}
		p.stopSent = true
		p.uri, p.isPlaying, p.positionMs, p.observedAt = "", false, 0, now
		return nil
	}

	changed := state.Track.Uri != p.uri || state.IsPlaying != p.isPlaying
	if !changed {
		expected := p.positionMs
		if p.isPlaying {
			expected += now.Sub(p.observedAt).Milliseconds()
		}
		jump := state.PositionMs - expected
		changed = jump > p.seekThreshold || -jump > p.seekThreshold
	}

	// the position is always tracked; track and play flag only once sent
	p.positionMs, p.observedAt = state.PositionMs, now
	if !changed {
		return nil
	}

	if err := p.emit(ctx, protocol.StateChangePayload{
		Track:      state.Track,
		PositionMs: state.PositionMs,
		IsPlaying:  state.IsPlaying,
	}); err != nil {
		return err
	}

	p.uri, p.isPlaying = state.Track.Uri, state.IsPlaying
	p.communicated = true
	p.stopSent = false
	return nil
}
