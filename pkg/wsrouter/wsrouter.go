package wsrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidMessage     = errors.New("invalid message")
)

type message struct {
	Type      string          `json:"type"`
	RequestId string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

// ErrorHandlerFunc receives every error produced while routing a message:
// malformed frames, unknown types, and errors returned by handlers.
type ErrorHandlerFunc func(ctx context.Context, conn *websocket.Conn, err error)

type route func(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) error

type WSRouter struct {
	routes       map[string]route
	middlewares  []Middleware
	errorHandler ErrorHandlerFunc
}

func New() *WSRouter {
	return &WSRouter{
		routes:       make(map[string]route),
		errorHandler: func(context.Context, *websocket.Conn, error) {},
	}
}

// Use appends middlewares. They wrap handlers registered after the call.
func (r *WSRouter) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

func (r *WSRouter) SetErrorHandler(h ErrorHandlerFunc) {
	r.errorHandler = h
}

// Handle registers handler for messageType. The payload is decoded into T
// before the middleware chain runs; an absent or null payload leaves T zero.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	var chain HandlerFunc[any] = func(ctx context.Context, conn *websocket.Conn, payload any) error {
		return handler(ctx, conn, payload.(T))
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		chain = r.middlewares[i](chain)
	}

	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) error {
		var payload T
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
			}
		}

		return chain(ctx, conn, payload)
	}
}

// ServeConn reads messages until the connection fails and dispatches them.
// Malformed messages are reported to the error handler and do not end the
// loop. The returned error is the read error that ended it.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.errorHandler(ctx, conn, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
			continue
		}

		msgCtx := context.WithValue(ctx, messageTypeKey, msg.Type)
		msgCtx = context.WithValue(msgCtx, requestIdKey, msg.RequestId)

		handler, exists := r.routes[msg.Type]
		if !exists {
			r.errorHandler(msgCtx, conn, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type))
			continue
		}

		if err := handler(msgCtx, conn, msg.Payload); err != nil {
			r.errorHandler(msgCtx, conn, err)
		}
	}
}
