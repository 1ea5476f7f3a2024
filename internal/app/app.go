package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/echoed/server/internal/controller"
	connInmemory "github.com/echoed/server/internal/repository/connection/inmemory"
	roomRepository "github.com/echoed/server/internal/repository/room"
	roomInmemory "github.com/echoed/server/internal/repository/room/inmemory"
	roomRedis "github.com/echoed/server/internal/repository/room/redis"
	"github.com/echoed/server/internal/service/room"
	"github.com/echoed/server/pkg/ctxlogger"
	"github.com/echoed/server/pkg/redisclient"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	StoreInmemory = "inmemory"
	StoreRedis    = "redis"
)

type AppConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	LogLevel       string        `json:"log_level"`
	MembersLimit   int           `json:"members_limit"`
	SyncInterval   time.Duration `json:"sync_interval"`
	Store          string        `json:"store"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RoomExp        time.Duration `json:"room_exp"`
	RedisHost      string        `json:"redis_host"`
	RedisPort      int           `json:"redis_port"`
	RedisPassword  string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.MembersLimit < 1 {
		return fmt.Errorf("members limit must be greater than 0")
	}
	if cfg.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be greater than 0")
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	switch cfg.Store {
	case StoreInmemory:
	case StoreRedis:
		if cfg.RedisHost == "" {
			return fmt.Errorf("redis host must be set for the redis store")
		}
		if cfg.RoomExp <= 0 {
			return fmt.Errorf("room expiration must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	return nil
}

func parseLogLevel(level string) (slog.Level, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return logLevel, nil
}

// NewLogger returns a JSON logger on w that includes attributes stored in the
// context with ctxlogger.AppendCtx.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(h), nil
}

type roomService interface {
	Shutdown(context.Context) error
}

type connRepo interface {
	CloseAll()
}

type app struct {
	handler     http.Handler
	roomService roomService
	connRepo    connRepo
	rc          *redis.Client
	logger      *slog.Logger
}

func newApp(ctx context.Context, cfg *AppConfig, clock clockwork.Clock, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var roomRepo roomRepository.Store

	switch cfg.Store {
	case StoreRedis:
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.rc = rc
		roomRepo = roomRedis.NewRepo(rc, cfg.RoomExp, logger)
	default:
		roomRepo = roomInmemory.NewRepo(logger)
	}

	connectionRepo := connInmemory.NewRepo(connInmemory.DefaultConfig(), logger)

	serviceCfg := room.DefaultConfig()
	serviceCfg.MembersLimit = cfg.MembersLimit
	serviceCfg.SyncInterval = cfg.SyncInterval
	roomService := room.New(roomRepo, connectionRepo, clock, logger, serviceCfg)

	a.handler = controller.NewController(roomService, connectionRepo, logger, controller.Config{
		AllowedOrigins: cfg.AllowedOrigins,
	}).GetMux()
	a.roomService = roomService
	a.connRepo = connectionRepo

	return a, nil
}

// close tells every room it is closed, drains the connections and releases
// the store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.roomService.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown room service: %w", err))
	}

	a.connRepo.CloseAll()

	if a.rc != nil {
		if err := a.rc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	return errors.Join(errs...)
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.close(context.Background())
			return fmt.Errorf("failed to serve: %w", err)
		}
	case <-sigCtx.Done():
	}

	logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by server.Shutdown
	closeErr := a.close(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return closeErr
}
