package syncclient

import (
	"context"

	"github.com/echoed/server/pkg/protocol"
)

// PlayerState is what a local player reports. Track is nil when nothing is
// loaded.
type PlayerState struct {
	Track      *protocol.Track
	PositionMs int64
	IsPlaying  bool
}

// Player is the local playback device driven by the reconciler and read by
// the host poller.
type Player interface {
	State(ctx context.Context) (PlayerState, error)
	// Load starts playing track at positionMs.
	Load(ctx context.Context, track protocol.Track, positionMs int64) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMs int64) error
}
