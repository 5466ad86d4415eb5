package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/events"
)

// Status describes the connection lifecycle state. Registered is
// distinct from Connected: room and game operations are only meaningful
// after the server has acknowledged the identity handshake.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusRegistered
	// StatusFailed is terminal: automatic reconnection was exhausted
	// and only an explicit Reconnect call will try again.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusRegistered:
		return "registered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the read-only view of the connection exposed to consumers.
type State struct {
	Status            Status
	SessionID         string
	ReconnectAttempts int
	LastError         string
}

// Config holds configuration for a client connection.
type Config struct {
	URL        string
	DeviceID   string
	ClientType string // "host", "player" or "display"

	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	// MaxMissedPongs bounds consecutive unanswered heartbeats before the
	// transport is declared dead and dropped for reconnection.
	MaxMissedPongs int
	MaxReconnects  int
	ReconnectWait  time.Duration

	Clock clockwork.Clock
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig(url, deviceID string) Config {
	return Config{
		URL:               url,
		DeviceID:          deviceID,
		ClientType:        "player",
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMissedPongs:    2,
		MaxReconnects:     5,
		ReconnectWait:     2 * time.Second,
		Clock:             clockwork.NewRealClock(),
	}
}

// Handler receives inbound events. Handlers for one connection are
// invoked sequentially from a single reader goroutine, preserving
// server emission order.
type Handler func(ev *events.Event)

// StatusHandler receives connection state transitions.
type StatusHandler func(st State)

var (
	ErrNotConnected = errors.New("socket: not connected")
	ErrClosed       = errors.New("socket: connection closed")
)

// Conn owns one persistent websocket connection. It performs the
// identity handshake after every transport connect, keeps a recurring
// heartbeat alive, and reconnects automatically up to a bound.
type Conn struct {
	cfg   Config
	clock clockwork.Clock

	mu           sync.RWMutex
	ws           *websocket.Conn
	state        State
	closed       bool
	sessionDone  chan struct{}
	reconnecting bool
	missedPongs  int

	writeMu sync.Mutex

	subMu      sync.RWMutex
	nextSub    int
	subs       map[events.Name]map[int]Handler
	statusSubs map[int]StatusHandler
}

// New creates a connection manager. It does not dial; call Connect.
func New(cfg Config) *Conn {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Conn{
		cfg:        cfg,
		clock:      cfg.Clock,
		state:      State{Status: StatusDisconnected},
		subs:       make(map[events.Name]map[int]Handler),
		statusSubs: make(map[int]StatusHandler),
	}
}

// State returns a snapshot of the connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Registered reports whether the identity handshake has been
// acknowledged on the current transport connection.
func (c *Conn) Registered() bool {
	return c.State().Status == StatusRegistered
}

// Connect dials the server and sends the identity handshake.
// Registration completes asynchronously when the server acknowledges;
// observe it through OnStatus.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// Reconnect tears down any current transport connection and dials
// again with a fresh attempt budget.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ws := c.ws
	c.ws = nil
	c.state.ReconnectAttempts = 0
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	return c.dial(ctx)
}

// Close shuts the connection down permanently. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}
	c.setStatus(StatusDisconnected, "")
	return nil
}

// dial performs one transport connect plus handshake send.
func (c *Conn) dial(ctx context.Context) error {
	c.setStatus(StatusConnecting, "")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setError(err)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.sessionDone = done
	c.missedPongs = 0
	c.mu.Unlock()

	c.setStatus(StatusConnected, "")

	go c.readLoop(ws, done)
	go c.heartbeatLoop(done)

	// Identity handshake; registration arrives as ws:connected.
	if err := c.Emit("", events.WSConnect, events.HelloPayload{
		DeviceID:   c.cfg.DeviceID,
		ClientType: c.cfg.ClientType,
	}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	log.Debug().Str("url", c.cfg.URL).Str("device_id", c.cfg.DeviceID).Msg("socket connected, handshake sent")
	return nil
}

// Emit sends a room-scoped event to the server. roomID may be empty for
// connection-level events.
func (c *Conn) Emit(roomID string, name events.Name, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", name, err)
		}
		data = b
	}
	ev := events.Event{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Name:      name,
		Timestamp: c.clock.Now(),
		Data:      data,
	}
	return c.writeEvent(&ev)
}

func (c *Conn) writeEvent(ev *events.Event) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return ErrNotConnected
	}

	// gorilla allows at most one concurrent writer.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteJSON(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Name, err)
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("unexpected socket close")
			}
			c.handleSessionEnd(ws, err)
			return
		}

		var ev events.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Warn().Err(err).Msg("discarding malformed event")
			continue
		}

		switch ev.Name {
		case events.WSConnected:
			var p events.ConnectedPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				log.Warn().Err(err).Msg("malformed registration ack")
				continue
			}
			c.mu.Lock()
			c.state.SessionID = p.SessionID
			c.state.ReconnectAttempts = 0
			c.mu.Unlock()
			c.setStatus(StatusRegistered, "")
		case events.WSPong:
			// Liveness acknowledged; the miss counter starts over.
			c.mu.Lock()
			c.missedPongs = 0
			c.mu.Unlock()
		}

		c.dispatch(&ev)
	}
}

func (c *Conn) heartbeatLoop(done chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			missed := c.missedPongs
			ws := c.ws
			c.mu.Unlock()

			if c.cfg.MaxMissedPongs > 0 && missed >= c.cfg.MaxMissedPongs {
				// The server stopped answering; drop the transport so
				// the read loop drives reconnection.
				log.Warn().Int("missed", missed).Msg("heartbeats unanswered, dropping transport")
				if ws != nil {
					ws.Close()
				}
				return
			}

			c.mu.Lock()
			c.missedPongs++
			c.mu.Unlock()
			if err := c.Emit("", events.WSHeartbeat, nil); err != nil {
				log.Warn().Err(err).Msg("heartbeat send failed")
				return
			}
		}
	}
}

// handleSessionEnd runs when the read loop exits. Unless the close was
// requested or the transport was already replaced it starts the bounded
// reconnect loop.
func (c *Conn) handleSessionEnd(ws *websocket.Conn, cause error) {
	ws.Close()

	c.mu.Lock()
	if c.ws != ws {
		// Close or Reconnect already detached this transport.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	closed := c.closed
	alreadyReconnecting := c.reconnecting
	if !closed {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if closed {
		return
	}
	c.setStatus(StatusDisconnected, ErrorMessage(cause))
	if alreadyReconnecting {
		return
	}
	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		c.clock.Sleep(c.cfg.ReconnectWait)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state.ReconnectAttempts = attempt
		c.mu.Unlock()

		log.Info().Int("attempt", attempt).Int("max", c.cfg.MaxReconnects).Msg("reconnecting")
		if err := c.dial(context.Background()); err != nil {
			lastErr = err
			continue
		}
		return
	}

	log.Error().Err(lastErr).Int("attempts", c.cfg.MaxReconnects).Msg("reconnect attempts exhausted")
	c.setStatus(StatusFailed, ErrorMessage(lastErr))
}

func (c *Conn) setStatus(st Status, errMsg string) {
	c.mu.Lock()
	c.state.Status = st
	if st != StatusRegistered && st != StatusConnected {
		c.state.SessionID = ""
	}
	if errMsg != "" {
		c.state.LastError = errMsg
	}
	snapshot := c.state
	c.mu.Unlock()

	c.dispatchStatus(snapshot)
}

func (c *Conn) setError(err error) {
	c.mu.Lock()
	c.state.LastError = ErrorMessage(err)
	c.state.Status = StatusDisconnected
	snapshot := c.state
	c.mu.Unlock()
	c.dispatchStatus(snapshot)
}

// On subscribes to an event by name. The returned disposer removes the
// subscription and is safe to call more than once.
func (c *Conn) On(name events.Name, h Handler) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSub++
	id := c.nextSub
	if c.subs[name] == nil {
		c.subs[name] = make(map[int]Handler)
	}
	c.subs[name][id] = h

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs[name], id)
	}
}

// OnRoom subscribes to an event by name, filtered to one room.
func (c *Conn) OnRoom(roomID string, name events.Name, h Handler) func() {
	return c.On(name, func(ev *events.Event) {
		if ev.RoomID != roomID {
			return
		}
		h(ev)
	})
}

// OnStatus subscribes to connection state transitions.
func (c *Conn) OnStatus(h StatusHandler) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.statusSubs[id] = h

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.statusSubs, id)
	}
}

func (c *Conn) dispatch(ev *events.Event) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[ev.Name]))
	for _, h := range c.subs[ev.Name] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Conn) dispatchStatus(st State) {
	c.subMu.RLock()
	handlers := make([]StatusHandler, 0, len(c.statusSubs))
	for _, h := range c.statusSubs {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(st)
	}
}
