package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echoed/server/internal/repository/connection"
	"github.com/gorilla/websocket"
)

type Config struct {
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendBufferSize: 64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
	}
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
}

type repo struct {
	conns  map[string]*conn
	mu     sync.RWMutex
	wg     sync.WaitGroup
	cfg    Config
	logger *slog.Logger
}

func NewRepo(cfg Config, logger *slog.Logger) *repo {
	return &repo{
		conns:  make(map[string]*conn),
		cfg:    cfg,
		logger: logger,
	}
}

// Add registers ws under connectionId and starts its write pump. The read
// deadline is extended on every pong, so the caller's read loop fails once
// the peer stops answering pings.
func (r *repo) Add(ctx context.Context, connectionId string, ws *websocket.Conn) error {
	funcName := "connection.inmemory.Add"
	r.logger.DebugContext(ctx, funcName, "connection_id", connectionId)

	if connectionId == "" || ws == nil {
		return connection.ErrInvalidConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connectionId]; exists {
		r.logger.InfoContext(ctx, funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	c := &conn{
		id:   connectionId,
		ws:   ws,
		send: make(chan []byte, r.cfg.SendBufferSize),
	}

	ws.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
	})

	r.conns[connectionId] = c
	r.wg.Add(1)
	go r.writePump(context.WithoutCancel(ctx), c)

	return nil
}

// Remove unregisters the connection. Messages already queued are flushed
// before the websocket is closed.
func (r *repo) Remove(ctx context.Context, connectionId string) error {
	funcName := "connection.inmemory.Remove"
	r.logger.DebugContext(ctx, funcName, "connection_id", connectionId)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[connectionId]
	if !exists {
		r.logger.InfoContext(ctx, funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.conns, connectionId)
	close(c.send)

	return nil
}

// Send queues v as a JSON text frame. It never blocks: a full buffer drops
// the message and returns ErrSendBufferFull.
func (r *repo) Send(ctx context.Context, connectionId string, v any) error {
	funcName := "connection.inmemory.Send"

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.conns[connectionId]
	if !exists {
		r.logger.DebugContext(ctx, funcName, "connection_id", connectionId, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	select {
	case c.send <- data:
		return nil
	default:
		r.logger.WarnContext(ctx, "dropping message", "connection_id", connectionId, "error", connection.ErrSendBufferFull)
		return connection.ErrSendBufferFull
	}
}

func (r *repo) Has(connectionId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.conns[connectionId]
	return exists
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// CloseAll removes every connection and waits for the write pumps to exit.
func (r *repo) CloseAll() {
	r.mu.Lock()
	for id, c := range r.conns {
		delete(r.conns, id)
		close(c.send)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *repo) writePump(ctx context.Context, c *conn) {
	ticker := time.NewTicker(r.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		r.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(r.cfg.WriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.logger.InfoContext(ctx, "failed to write message", "connection_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(r.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.logger.InfoContext(ctx, "failed to write ping", "connection_id", c.id, "error", err)
				return
			}
		}
	}
}
