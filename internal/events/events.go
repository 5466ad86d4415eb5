package events

import (
	"encoding/json"
	"time"
)

// Event is the envelope carried on the wire for every socket message.
// RoomID is duplicated at the envelope level so consumers can filter
// traffic for other rooms without parsing the payload.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id,omitempty"`
	Name      Name            `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Name identifies the kind of socket event.
type Name string

const (
	// Connection lifecycle.
	WSConnect   Name = "ws:connect"
	WSConnected Name = "ws:connected"
	WSHeartbeat Name = "ws:heartbeat"
	WSPong      Name = "ws:pong"

	// Room membership.
	RoomJoin       Name = "room:join"
	RoomLeave      Name = "room:leave"
	RoomUserJoined Name = "room:user-joined"
	RoomUserLeft   Name = "room:user-left"

	// Game flow.
	GameQuestionStarted Name = "game:question:started"
	GameQuestionEnded   Name = "game:question:ended"
	GamePhaseChange     Name = "game:phase:change"
	GamePause           Name = "game:pause"
	GameResume          Name = "game:resume"
	GameAnswerSubmit    Name = "game:answer:submit"
	GameAnswerAccepted  Name = "game:answer:accepted"
	GameAnswerStats     Name = "game:answer:stats:update"
	GameLeaderboard     Name = "game:leaderboard:update"
	GameStarted         Name = "game:started"
	GamePlayerKicked    Name = "game:player-kicked"
	GameRoomLocked      Name = "game:room-locked"
)

// HelloPayload is sent by the client immediately after transport connect.
// The server answers with ws:connected once the device is associated
// with the socket.
type HelloPayload struct {
	DeviceID   string `json:"device_id"`
	ClientType string `json:"client_type"`
}

// ConnectedPayload acknowledges registration and carries the
// server-assigned socket session id.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// RoomPayload is shared by room:join and room:leave.
type RoomPayload struct {
	RoomID   string `json:"room_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// RoomUserPayload is shared by room:user-joined and room:user-left.
type RoomUserPayload struct {
	RoomID      string `json:"room_id"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// QuestionRef identifies a question within its game.
type QuestionRef struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// QuestionStartedPayload carries wall-clock anchored start/end
// timestamps so late receivers compute correct remaining time.
type QuestionStartedPayload struct {
	RoomID   string      `json:"room_id"`
	Question QuestionRef `json:"question"`
	StartsAt time.Time   `json:"starts_at"`
	EndsAt   time.Time   `json:"ends_at"`
}

// QuestionEndedPayload marks the end of the answering window.
type QuestionEndedPayload struct {
	RoomID     string `json:"room_id"`
	QuestionID string `json:"question_id"`
}

// PhaseChangePayload announces a server-driven phase transition.
type PhaseChangePayload struct {
	RoomID    string     `json:"room_id"`
	Phase     string     `json:"phase"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// PausePayload is shared by game:pause and game:resume.
type PausePayload struct {
	GameID string `json:"game_id"`
}

// AnswerSubmitPayload is the lightweight room notification emitted
// alongside the authoritative REST submission.
type AnswerSubmitPayload struct {
	RoomID         string  `json:"room_id"`
	QuestionID     string  `json:"question_id"`
	PlayerID       string  `json:"player_id"`
	SelectedOption *string `json:"selected_option"`
	ResponseTimeMs int64   `json:"response_time_ms"`
}

// AnswerStatsPayload carries per-option answer counts for a question.
type AnswerStatsPayload struct {
	RoomID     string         `json:"room_id"`
	QuestionID string         `json:"question_id"`
	Counts     map[string]int `json:"counts"`
}

// LeaderboardUpdatePayload signals that the ranking changed server-side.
type LeaderboardUpdatePayload struct {
	RoomID string `json:"room_id"`
}

// GameStartedPayload announces the transition out of the lobby.
type GameStartedPayload struct {
	RoomID    string    `json:"room_id"`
	GameID    string    `json:"game_id"`
	StartedAt time.Time `json:"started_at"`
}

// PlayerKickedPayload tells a removed player to leave the room.
type PlayerKickedPayload struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// RoomLockedPayload announces that the room stopped accepting joins.
type RoomLockedPayload struct {
	RoomID string `json:"room_id"`
	Locked bool   `json:"locked"`
}

// ParsePayload parses the event data into the appropriate payload struct.
func ParsePayload(ev *Event) (interface{}, error) {
	switch ev.Name {
	case WSConnect:
		var p HelloPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case WSConnected:
		var p ConnectedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case RoomJoin, RoomLeave:
		var p RoomPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case RoomUserJoined, RoomUserLeft:
		var p RoomUserPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameQuestionStarted:
		var p QuestionStartedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameQuestionEnded:
		var p QuestionEndedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GamePhaseChange:
		var p PhaseChangePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GamePause, GameResume:
		var p PausePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameAnswerSubmit, GameAnswerAccepted:
		var p AnswerSubmitPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameAnswerStats:
		var p AnswerStatsPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameLeaderboard:
		var p LeaderboardUpdatePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameStarted:
		var p GameStartedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GamePlayerKicked:
		var p PlayerKickedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case GameRoomLocked:
		var p RoomLockedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, nil // Unknown event type
	}
}
