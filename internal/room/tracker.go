package room

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/socket"
)

// Socket is the slice of the connection the tracker needs.
type Socket interface {
	Emit(roomID string, name events.Name, payload any) error
	Registered() bool
	OnRoom(roomID string, name events.Name, h socket.Handler) func()
	OnStatus(h socket.StatusHandler) func()
}

var (
	ErrNotRegistered = errors.New("room: connection not registered")
	ErrEmptyRoomID   = errors.New("room: empty room id")
)

// Tracker owns the set of joined rooms and de-duplicates join/leave
// traffic. Page-level consumers re-run their setup on unrelated
// changes; only true membership transitions reach the wire.
type Tracker struct {
	conn     Socket
	deviceID string

	mu     sync.Mutex
	joined map[string]bool
	unsubs []func()
}

func NewTracker(conn Socket, deviceID string) *Tracker {
	t := &Tracker{
		conn:     conn,
		deviceID: deviceID,
		joined:   make(map[string]bool),
	}
	// Membership does not survive a transport drop. Resetting here
	// makes the next registration perform a genuine rejoin.
	t.unsubs = append(t.unsubs, conn.OnStatus(func(st socket.State) {
		if st.Status == socket.StatusRegistered || st.Status == socket.StatusConnected {
			return
		}
		t.reset()
	}))
	return t
}

// WatchKicks leaves roomID when the server kicks playerID out of the
// game. Call it once the player id is known.
func (t *Tracker) WatchKicks(roomID, playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubs = append(t.unsubs, t.conn.OnRoom(roomID, events.GamePlayerKicked, func(ev *events.Event) {
		var p events.PlayerKickedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.PlayerID != playerID {
			return
		}
		log.Info().Str("room_id", roomID).Str("player_id", playerID).Msg("kicked from game, leaving room")
		if err := t.Leave(roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("leave after kick failed")
		}
	}))
}

// Join emits room:join unless the room is already joined. Requires the
// connection to be registered, not merely transport-connected.
func (t *Tracker) Join(roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if !t.conn.Registered() {
		return ErrNotRegistered
	}

	t.mu.Lock()
	if t.joined[roomID] {
		t.mu.Unlock()
		return nil
	}
	t.joined[roomID] = true
	t.mu.Unlock()

	if err := t.conn.Emit(roomID, events.RoomJoin, events.RoomPayload{
		RoomID:   roomID,
		DeviceID: t.deviceID,
	}); err != nil {
		t.mu.Lock()
		delete(t.joined, roomID)
		t.mu.Unlock()
		return err
	}

	log.Debug().Str("room_id", roomID).Msg("joined room")
	return nil
}

// Leave emits room:leave if the room is currently joined.
func (t *Tracker) Leave(roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}

	t.mu.Lock()
	if !t.joined[roomID] {
		t.mu.Unlock()
		return nil
	}
	delete(t.joined, roomID)
	t.mu.Unlock()

	if !t.conn.Registered() {
		// Nothing on the wire to leave; the drop already detached us.
		return nil
	}

	if err := t.conn.Emit(roomID, events.RoomLeave, events.RoomPayload{
		RoomID:   roomID,
		DeviceID: t.deviceID,
	}); err != nil {
		return err
	}

	log.Debug().Str("room_id", roomID).Msg("left room")
	return nil
}

// Joined reports current membership of one room.
func (t *Tracker) Joined(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined[roomID]
}

func (t *Tracker) reset() {
	t.mu.Lock()
	n := len(t.joined)
	t.joined = make(map[string]bool)
	t.mu.Unlock()
	if n > 0 {
		log.Debug().Int("rooms", n).Msg("membership reset after disconnect")
	}
}

// Close detaches the tracker from its connection subscriptions.
func (t *Tracker) Close() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}
