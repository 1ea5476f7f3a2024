package syncclient

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/echoed/server/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

var ErrNoTrack = errors.New("no track loaded")

// SimulatedPlayer is an in-process Player whose position advances with
// clock while playing. It stops at the end of the track.
type SimulatedPlayer struct {
	clock clockwork.Clock

	mu         sync.Mutex
	track      *protocol.Track
	positionMs int64
	isPlaying  bool
	updatedAt  time.Time
	commands   []string
}

func NewSimulatedPlayer(clock clockwork.Clock) *SimulatedPlayer {
	return &SimulatedPlayer{clock: clock}
}

// settle folds the time played since updatedAt into positionMs.
func (p *SimulatedPlayer) settle() {
	now := p.clock.Now()
	if p.isPlaying && p.track != nil {
		p.positionMs += now.Sub(p.updatedAt).Milliseconds()
		if p.track.DurationMs > 0 && p.positionMs >= p.track.DurationMs {
			p.positionMs = p.track.DurationMs
			p.isPlaying = false
		}
	}
	p.updatedAt = now
}

func (p *SimulatedPlayer) State(context.Context) (PlayerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settle()

	state := PlayerState{
		PositionMs: p.positionMs,
		IsPlaying:  p.isPlaying,
	}
	if p.track != nil {
		track := *p.track
		track.Artists = slices.Clone(p.track.Artists)
		state.Track = &track
	}

	return state, nil
}

func (p *SimulatedPlayer) Load(_ context.Context, track protocol.Track, positionMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	track.Artists = slices.Clone(track.Artists)
	p.track = &track
	p.positionMs = max(positionMs, 0)
	p.isPlaying = true
	p.updatedAt = p.clock.Now()
	p.commands = append(p.commands, "load")

	return nil
}

func (p *SimulatedPlayer) Resume(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil {
		return ErrNoTrack
	}

	p.settle()
	p.isPlaying = true
	p.commands = append(p.commands, "resume")

	return nil
}

func (p *SimulatedPlayer) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.settle()
	p.isPlaying = false
	p.commands = append(p.commands, "pause")

	return nil
}

func (p *SimulatedPlayer) Seek(_ context.Context, positionMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil {
		return ErrNoTrack
	}

	p.settle()
	p.positionMs = max(positionMs, 0)
	p.commands = append(p.commands, "seek")

	return nil
}

// Unload removes the track, as a user closing the player would.
func (p *SimulatedPlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track = nil
	p.positionMs = 0
	p.isPlaying = false
	p.commands = append(p.commands, "unload")
}

// Commands returns the names of the commands received so far.
func (p *SimulatedPlayer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.commands)
}
