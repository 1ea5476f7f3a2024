// Package syncclient connects to an echoed server and keeps a local player
// in step with a room: the host's player is polled and its changes sent, a
// member's player follows the snapshots the server broadcasts.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echoed/server/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNotHost       = errors.New("not the room host")
	ErrRequestFailed = errors.New("request failed")
)

type Config struct {
	URL            string
	DriftThreshold int64
	PollInterval   time.Duration
	SeekThreshold  int64
	WriteWait      time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		DriftThreshold: DefaultDriftThreshold,
		PollInterval:   DefaultPollInterval,
		SeekThreshold:  DefaultSeekThreshold,
		WriteWait:      10 * time.Second,
	}
}

type (
	MembersFunc func(members []protocol.Member)
	ClosedFunc  func()
	SyncFunc    func(ctx context.Context, s Snapshot)
)

// Session is one websocket connection to the server. Callbacks run on the
// read goroutine and must not block.
type Session struct {
	id     string
	conn   *websocket.Conn
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    Config

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan protocol.Input
	code      string
	isHost    bool
	poller    *HostPoller
	onMembers MembersFunc
	onClosed  ClosedFunc
	onSync    SyncFunc

	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, cfg Config, clock clockwork.Clock, logger *slog.Logger) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		conn:    conn,
		clock:   clock,
		logger:  logger.With("session_id", id),
		cfg:     cfg,
		pending: make(map[string]chan protocol.Input),
		done:    make(chan struct{}),
	}
	go s.readLoop(context.WithoutCancel(ctx))

	return s, nil
}

func (s *Session) Id() string {
	return s.id
}

// Done is closed once the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.code
}

func (s *Session) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isHost
}

func (s *Session) OnMembers(fn MembersFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onMembers = fn
}

func (s *Session) OnClosed(fn ClosedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onClosed = fn
}

// OnSync sets the single snapshot callback, replacing any previous one. It
// only fires while the session is not host.
func (s *Session) OnSync(fn SyncFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onSync = fn
}

// Mirror makes player follow the room's snapshots.
func (s *Session) Mirror(player Player) {
	r := NewReconciler(player, s.cfg.DriftThreshold, s.logger)
	s.OnSync(func(ctx context.Context, snap Snapshot) {
		if err := r.Apply(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "failed to apply snapshot", "error", err)
		}
	})
}

// Host starts polling player and sending its changes. The session must be
// host of a room.
func (s *Session) Host(ctx context.Context, player Player) error {
	s.mu.Lock()
	if !s.isHost {
		s.mu.Unlock()
		return ErrNotHost
	}
	if s.poller == nil {
		s.poller = NewHostPoller(player, s.EmitPlayerState, s.clock, s.cfg.PollInterval, s.cfg.SeekThreshold, s.logger)
	}
	poller := s.poller
	s.mu.Unlock()

	poller.Start(ctx)
	return nil
}

func (s *Session) CreateRoom(ctx context.Context, spotifyId, displayName string) (protocol.RoomResponse, error) {
	resp, err := s.roomRequest(ctx, protocol.TypeRoomCreate, protocol.CreateRoomPayload{
		SpotifyId:   spotifyId,
		DisplayName: displayName,
	})
	if err != nil {
		return protocol.RoomResponse{}, err
	}

	s.enterRoom(resp.Code, true)
	return resp, nil
}

func (s *Session) JoinRoom(ctx context.Context, code, spotifyId, displayName string) (protocol.RoomResponse, error) {
	resp, err := s.roomRequest(ctx, protocol.TypeRoomJoin, protocol.JoinRoomPayload{
		Code:        code,
		SpotifyId:   spotifyId,
		DisplayName: displayName,
	})
	if err != nil {
		return protocol.RoomResponse{}, err
	}

	s.enterRoom(resp.Code, false)
	return resp, nil
}

func (s *Session) LeaveRoom(ctx context.Context) error {
	s.exitRoom()
	return s.write(protocol.Output{Type: protocol.TypeRoomLeave})
}

// EmitPlayerState sends the host's player state.
func (s *Session) EmitPlayerState(ctx context.Context, state protocol.StateChangePayload) error {
	if !s.IsHost() {
		return ErrNotHost
	}

	return s.write(protocol.Output{
		Type:    protocol.TypePlayerStateChange,
		Payload: state,
	})
}

// Ping round-trips an application ping.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.request(ctx, protocol.TypePing, nil)
	return err
}

// Close stops host polling and closes the connection.
func (s *Session) Close() error {
	s.exitRoom()

	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.cfg.WriteWait))
	s.writeMu.Unlock()
	if err != nil {
		s.shutdown()
		return s.conn.Close()
	}

	select {
	case <-s.done:
	case <-time.After(s.cfg.WriteWait):
		s.shutdown()
	}

	return s.conn.Close()
}

func (s *Session) enterRoom(code string, isHost bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.code = code
	s.isHost = isHost
}

// exitRoom forgets the room and stops the poller.
func (s *Session) exitRoom() {
	s.mu.Lock()
	poller := s.poller
	s.poller = nil
	s.code = ""
	s.isHost = false
	s.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
}

func (s *Session) roomRequest(ctx context.Context, messageType string, payload any) (protocol.RoomResponse, error) {
	reply, err := s.request(ctx, messageType, payload)
	if err != nil {
		return protocol.RoomResponse{}, err
	}

	var resp protocol.RoomResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return protocol.RoomResponse{}, fmt.Errorf("failed to decode %s reply: %w", messageType, err)
	}
	if resp.Error != "" {
		return protocol.RoomResponse{}, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
	}

	return resp, nil
}

func (s *Session) request(ctx context.Context, messageType string, payload any) (protocol.Input, error) {
	requestId := uuid.NewString()
	reply := make(chan protocol.Input, 1)

	s.mu.Lock()
	s.pending[requestId] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, requestId)
		s.mu.Unlock()
	}()

	if err := s.write(protocol.Output{Type: messageType, RequestId: requestId, Payload: payload}); err != nil {
		return protocol.Input{}, err
	}

	select {
	case msg := <-reply:
		if msg.Type == protocol.TypeError {
			return protocol.Input{}, fmt.Errorf("%w: %s", ErrRequestFailed, errorMessage(msg.Payload))
		}
		return msg, nil
	case <-s.done:
		return protocol.Input{}, ErrClosed
	case <-ctx.Done():
		return protocol.Input{}, ctx.Err()
	}
}

func (s *Session) write(out protocol.Output) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := s.conn.WriteJSON(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out.Type, err)
	}

	return nil
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.shutdown()
	defer s.exitRoom()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.InfoContext(ctx, "connection lost", "error", err)
			}
			return
		}

		var msg protocol.Input
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WarnContext(ctx, "invalid message from server", "error", err)
			continue
		}

		s.dispatch(ctx, msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg protocol.Input) {
	if msg.RequestId != "" {
		s.mu.Lock()
		reply, ok := s.pending[msg.RequestId]
		s.mu.Unlock()
		if ok {
			select {
			case reply <- msg:
			default:
			}
			return
		}
	}

	switch msg.Type {
	case protocol.TypeRoomMembers:
		var p protocol.MembersPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.logger.WarnContext(ctx, "invalid members payload", "error", err)
			return
		}
		s.mu.Lock()
		fn := s.onMembers
		s.mu.Unlock()
		if fn != nil {
			fn(p.Members)
		}
	case protocol.TypeRoomClosed:
		s.exitRoom()
		s.mu.Lock()
		fn := s.onClosed
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	case protocol.TypePlayerSync:
		var p protocol.SyncPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.logger.WarnContext(ctx, "invalid sync payload", "error", err)
			return
		}
		s.mu.Lock()
		fn, isHost := s.onSync, s.isHost
		s.mu.Unlock()
		if fn != nil && !isHost {
			fn(ctx, Adjust(p, s.clock.Now().UnixMilli()))
		}
	case protocol.TypeError:
		s.logger.WarnContext(ctx, "server reported an error", "error", errorMessage(msg.Payload))
	default:
		s.logger.DebugContext(ctx, "ignoring message", "type", msg.Type)
	}
}

// errorMessage extracts the text of an error frame.
func errorMessage(payload json.RawMessage) string {
	var e protocol.ErrorPayload
	if err := json.Unmarshal(payload, &e); err != nil || e.Error == "" {
		return "unknown server error"
	}

	return e.Error
}
