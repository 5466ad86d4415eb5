package devserver

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/events"
)

// client is one websocket connection served by the harness.
type client struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	done     chan struct{}

	// joined is guarded by the server's room lock.
	joined map[string]bool
}

func (c *client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.dropClient(c)
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
	}
}

// handleMessage processes one inbound event from the client.
func (c *client) handleMessage(message []byte) {
	var ev events.Event
	if err := json.Unmarshal(message, &ev); err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("discarding malformed event")
		return
	}

	switch ev.Name {
	case events.WSConnect:
		var p events.HelloPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Warn().Err(err).Msg("malformed handshake")
			return
		}
		c.deviceID = p.DeviceID
		c.reply(events.WSConnected, "", events.ConnectedPayload{SessionID: c.id})
		log.Debug().Str("connection_id", c.id).Str("device_id", p.DeviceID).Msg("client registered")

	case events.WSHeartbeat:
		c.reply(events.WSPong, "", nil)

	case events.RoomJoin:
		if ev.RoomID == "" {
			return
		}
		c.server.joinRoom(c, ev.RoomID)
		c.server.broadcastEvent(ev.RoomID, events.RoomUserJoined, events.RoomUserPayload{
			RoomID:   ev.RoomID,
			PlayerID: c.deviceID,
		})

	case events.RoomLeave:
		if ev.RoomID == "" {
			return
		}
		c.server.leaveRoom(c, ev.RoomID)
		c.server.broadcastEvent(ev.RoomID, events.RoomUserLeft, events.RoomUserPayload{
			RoomID:   ev.RoomID,
			PlayerID: c.deviceID,
		})

	default:
		// Room-scoped game events are relayed to the whole room.
		if ev.RoomID != "" {
			c.server.broadcast(ev.RoomID, message)
		}
	}
}

// reply sends one event back on this connection only.
func (c *client) reply(name events.Name, roomID string, payload any) {
	data, err := marshalEvent(name, roomID, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping reply")
	}
}

// broadcastEvent marshals and fans out a server-originated event.
func (s *Server) broadcastEvent(roomID string, name events.Name, payload any) {
	data, err := marshalEvent(name, roomID, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast event")
		return
	}
	s.broadcast(roomID, data)
}

func marshalEvent(name events.Name, roomID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(events.Event{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Name:      name,
		Timestamp: time.Now(),
		Data:      raw,
	})
}
