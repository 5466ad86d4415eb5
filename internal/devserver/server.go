// Package devserver is a development and test harness standing in for
// the production quiz server: it accepts the engine's websocket
// protocol (handshake, heartbeat, room membership, room broadcast) and
// serves the REST collaborators backed by an in-memory game table.
package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Config holds connection tuning for the harness.
type Config struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	QuestionDuration time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      120 * time.Second,
		MaxMessageSize:   8 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		QuestionDuration: 30 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Server holds the connection pools and the in-memory game table.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*client]bool

	gamesMu sync.Mutex
	games   map[string]*game
}

// New creates a harness server.
func New(config Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		rooms: make(map[string]map[*client]bool),
		games: make(map[string]*game),
	}
}

// Handler returns the full HTTP surface: /ws plus the REST endpoints,
// wrapped with permissive CORS for local frontends.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.registerREST(mux)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
	}).Handler(mux)
}

// handleWS upgrades the connection and starts its pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		joined: make(map[string]bool),
	}

	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.id).Msg("websocket connection established")
}

// joinRoom adds a client to a room pool.
func (s *Server) joinRoom(c *client, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[*client]bool)
	}
	s.rooms[roomID][c] = true
	c.joined[roomID] = true

	log.Debug().
		Str("connection_id", c.id).
		Str("room_id", roomID).
		Int("total_connections", len(s.rooms[roomID])).
		Msg("client joined room")
}

// leaveRoom removes a client from a room pool.
func (s *Server) leaveRoom(c *client, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveRoomLocked(c, roomID)
}

func (s *Server) leaveRoomLocked(c *client, roomID string) {
	delete(c.joined, roomID)
	if pool, exists := s.rooms[roomID]; exists {
		delete(pool, c)
		if len(pool) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

// dropClient removes a client from every room pool.
func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID := range c.joined {
		s.leaveRoomLocked(c, roomID)
	}
	log.Info().Str("connection_id", c.id).Msg("connection unregistered")
}

// broadcast sends raw event bytes to every client in the room.
func (s *Server) broadcast(roomID string, data []byte) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.rooms[roomID]))
	for c := range s.rooms[roomID] {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow or dead consumer; drop it.
			log.Warn().Str("connection_id", c.id).Msg("send buffer full, closing connection")
			s.dropClient(c)
			c.conn.Close()
		}
	}
}
