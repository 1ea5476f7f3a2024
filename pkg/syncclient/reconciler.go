package syncclient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/echoed/server/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

const DefaultDriftThreshold int64 = 500

// Snapshot is a server snapshot compensated for the time it spent in flight.
// PositionMs is where playback should be on receipt.
type Snapshot struct {
	Track      *protocol.Track
	PositionMs int64
	IsPlaying  bool
	LatencyMs  int64
}

// Adjust compensates p for latency, assuming the client and server clocks
// agree. now is the receive time in epoch millis.
func Adjust(p protocol.SyncPayload, now int64) Snapshot {
	latency := now - p.Timestamp
	expected := p.PositionMs
	if p.IsPlaying {
		expected += latency
	}

	return Snapshot{
		Track:      p.Track,
		PositionMs: expected,
		IsPlaying:  p.IsPlaying,
		LatencyMs:  latency,
	}
}

// Reconciler drives a non-host player towards received snapshots.
type Reconciler struct {
	player         Player
	driftThreshold int64
	logger         *slog.Logger
}

func NewReconciler(player Player, driftThreshold int64, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		player:         player,
		driftThreshold: driftThreshold,
		logger:         logger,
	}
}

// ApplySync adjusts p with the time read from clock and applies it.
func (r *Reconciler) ApplySync(ctx context.Context, clock clockwork.Clock, p protocol.SyncPayload) error {
	return r.Apply(ctx, Adjust(p, clock.Now().UnixMilli()))
}

// Apply issues the fewest player commands that bring the local player to s.
// A different track is loaded at the expected position and nothing else is
// checked, except that it is paused right away when s is paused rather than
// left playing. A position within the drift threshold is left alone.
func (r *Reconciler) Apply(ctx context.Context, s Snapshot) error {
	local, err := r.player.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player state: %w", err)
	}

	if s.Track == nil {
		if local.Track != nil && local.IsPlaying {
			r.logger.DebugContext(ctx, "pausing, host has no track")
			return r.player.Pause(ctx)
		}
		return nil
	}

	if local.Track == nil || local.Track.Uri != s.Track.Uri {
		r.logger.DebugContext(ctx, "loading track", "uri", s.Track.Uri, "position_ms", s.PositionMs)
		if err := r.player.Load(ctx, *s.Track, s.PositionMs); err != nil {
			return fmt.Errorf("failed to load track: %w", err)
		}
		if !s.IsPlaying {
			return r.player.Pause(ctx)
		}
		return nil
	}

	if local.IsPlaying != s.IsPlaying {
		if s.IsPlaying {
			err = r.player.Resume(ctx)
		} else {
			err = r.player.Pause(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to change play state: %w", err)
		}
	}

	if drift := local.PositionMs - s.PositionMs; drift > r.driftThreshold || -drift > r.driftThreshold {
		r.logger.DebugContext(ctx, "seeking", "drift_ms", drift, "position_ms", s.PositionMs)
		if err := r.player.Seek(ctx, s.PositionMs); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}

	return nil
}
