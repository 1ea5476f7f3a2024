package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"github.com/echoed/server/pkg/protocol"
	"github.com/echoed/server/pkg/syncclient"
)

type options struct {
	url           string
	code          string
	userId        string
	displayName   string
	hostMode      bool
	trackUri      string
	pollInterval  time.Duration
	driftMs       int64
	seekThreshold int64
}

func parseOptions() (*options, error) {
	o := &options{}
	pflag.StringVar(&o.url, "url", "ws://localhost:3000/api/v1/ws", "Server websocket url")
	pflag.StringVar(&o.code, "code", "", "Room code to join")
	pflag.StringVar(&o.userId, "user", "", "Spotify user id")
	pflag.StringVar(&o.displayName, "name", "", "Display name")
	pflag.BoolVar(&o.hostMode, "host-mode", false, "Create a room and play a simulated track")
	pflag.StringVar(&o.trackUri, "track-uri", "spotify:track:4uLU6hMCjMI75M1A2tKUQC", "Track played in host mode")
	pflag.DurationVar(&o.pollInterval, "poll-interval", syncclient.DefaultPollInterval, "Host player poll interval")
	pflag.Int64Var(&o.driftMs, "drift", syncclient.DefaultDriftThreshold, "Drift in ms tolerated before seeking")
	pflag.Int64Var(&o.seekThreshold, "seek-threshold", syncclient.DefaultSeekThreshold, "Host position jump in ms reported as a seek")
	pflag.Parse()

	if o.userId == "" || o.displayName == "" {
		return nil, errors.New("--user and --name are required")
	}
	if !o.hostMode && o.code == "" {
		return nil, errors.New("--code is required unless --host-mode is set")
	}

	return o, nil
}

func run(ctx context.Context, o *options, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()

	cfg := syncclient.DefaultConfig(o.url)
	cfg.PollInterval = o.pollInterval
	cfg.DriftThreshold = o.driftMs
	cfg.SeekThreshold = o.seekThreshold

	session, err := syncclient.Dial(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	session.OnMembers(func(members []protocol.Member) {
		logger.Info("members changed", "members", members)
	})
	session.OnClosed(func() {
		logger.Info("room closed")
	})

	player := syncclient.NewSimulatedPlayer(clock)

	if o.hostMode {
		resp, err := session.CreateRoom(ctx, o.userId, o.displayName)
		if err != nil {
			return err
		}
		logger.Info("room created", "code", resp.Code)

		if err := session.Host(ctx, player); err != nil {
			return err
		}
		track := protocol.Track{
			Uri:        o.trackUri,
			Name:       "Demo",
			Artists:    []string{"echoed"},
			DurationMs: int64(3 * time.Minute / time.Millisecond),
		}
		if err := player.Load(ctx, track, 0); err != nil {
			return fmt.Errorf("failed to load demo track: %w", err)
		}
	} else {
		session.Mirror(player)
		resp, err := session.JoinRoom(ctx, o.code, o.userId, o.displayName)
		if err != nil {
			return err
		}
		logger.Info("room joined", "code", resp.Code, "members", resp.Members)
	}

	status := clock.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return session.LeaveRoom(context.WithoutCancel(ctx))
		case <-session.Done():
			return syncclient.ErrClosed
		case <-status.Chan():
			state, _ := player.State(ctx)
			logger.Info("player", "track", state.Track, "position_ms", state.PositionMs, "is_playing", state.IsPlaying)
		}
	}
}

func main() {
	o, err := parseOptions()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger); err != nil {
		log.Fatal(err)
	}
}
