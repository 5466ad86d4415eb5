package api

import (
	"context"
	"fmt"
	"time"
)

// GameSnapshot is the authoritative game + flow state returned by the
// server. The client mirrors it and never treats its local copy as
// authoritative.
type GameSnapshot struct {
	GameID               string     `json:"game_id"`
	RoomID               string     `json:"room_id"`
	Status               string     `json:"status"` // "waiting", "active", "finished"
	CurrentQuestionID    string     `json:"current_question_id,omitempty"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	QuestionStartedAt    *time.Time `json:"question_started_at,omitempty"`
	QuestionEndedAt      *time.Time `json:"question_ended_at,omitempty"`
	Paused               bool       `json:"paused"`
}

// QuestionStart is returned by the start/advance operations and carries
// the wall-clock anchors that the started event propagates to the room.
type QuestionStart struct {
	QuestionID    string    `json:"question_id"`
	QuestionIndex int       `json:"question_index"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
}

// PlayerInfo identifies a joined player.
type PlayerInfo struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

// AnswerRequest is the authoritative answer submission.
type AnswerRequest struct {
	QuestionID     string  `json:"question_id"`
	PlayerID       string  `json:"player_id"`
	SelectedOption *string `json:"selected_option"`
	ResponseTimeMs int64   `json:"response_time_ms"`
}

// LeaderboardRow is one ranked entry; snapshots replace prior ones
// wholesale.
type LeaderboardRow struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// GameState fetches the authoritative snapshot for a game.
func (c *Client) GameState(ctx context.Context, gameID string) (*GameSnapshot, error) {
	var snap GameSnapshot
	if err := c.get(ctx, fmt.Sprintf("/api/games/%s", gameID), &snap); err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return &snap, nil
}

// JoinGame joins (or rejoins) a game as a player. The device id lets
// the server hand back the same player on reconnect.
func (c *Client) JoinGame(ctx context.Context, gameID, deviceID, displayName string) (*PlayerInfo, error) {
	req := struct {
		DeviceID    string `json:"device_id"`
		DisplayName string `json:"display_name"`
	}{DeviceID: deviceID, DisplayName: displayName}

	var info PlayerInfo
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/players", gameID), req, &info); err != nil {
		return nil, fmt.Errorf("failed to join game: %w", err)
	}
	return &info, nil
}

// StartQuestion starts the current question and returns its anchors.
func (c *Client) StartQuestion(ctx context.Context, gameID string) (*QuestionStart, error) {
	var qs QuestionStart
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/questions/start", gameID), nil, &qs); err != nil {
		return nil, fmt.Errorf("failed to start question: %w", err)
	}
	return &qs, nil
}

// RevealAnswer closes the answering window for a question.
func (c *Client) RevealAnswer(ctx context.Context, gameID, questionID string) error {
	req := struct {
		QuestionID string `json:"question_id"`
	}{QuestionID: questionID}
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/questions/reveal", gameID), req, nil); err != nil {
		return fmt.Errorf("failed to reveal answer: %w", err)
	}
	return nil
}

// NextQuestion advances to the next question and returns its anchors.
func (c *Client) NextQuestion(ctx context.Context, gameID string) (*QuestionStart, error) {
	var qs QuestionStart
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/questions/next", gameID), nil, &qs); err != nil {
		return nil, fmt.Errorf("failed to advance question: %w", err)
	}
	return &qs, nil
}

// PauseGame pauses question progression.
func (c *Client) PauseGame(ctx context.Context, gameID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/pause", gameID), nil, nil); err != nil {
		return fmt.Errorf("failed to pause game: %w", err)
	}
	return nil
}

// ResumeGame resumes a paused game.
func (c *Client) ResumeGame(ctx context.Context, gameID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/resume", gameID), nil, nil); err != nil {
		return fmt.Errorf("failed to resume game: %w", err)
	}
	return nil
}

// EndGame finishes the game.
func (c *Client) EndGame(ctx context.Context, gameID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/end", gameID), nil, nil); err != nil {
		return fmt.Errorf("failed to end game: %w", err)
	}
	return nil
}

// SubmitAnswer records the authoritative answer submission.
func (c *Client) SubmitAnswer(ctx context.Context, gameID string, req AnswerRequest) error {
	if err := c.post(ctx, fmt.Sprintf("/api/games/%s/answers", gameID), req, nil); err != nil {
		return fmt.Errorf("failed to submit answer: %w", err)
	}
	return nil
}

// Leaderboard fetches the current ranking.
func (c *Client) Leaderboard(ctx context.Context, gameID string) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	if err := c.get(ctx, fmt.Sprintf("/api/games/%s/leaderboard", gameID), &rows); err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return rows, nil
}

// InitPlayerData seeds ancillary player data. Best-effort: callers log
// and swallow failures rather than blocking the join flow.
func (c *Client) InitPlayerData(ctx context.Context, gameID, playerID string) error {
	req := struct {
		PlayerID string `json:"player_id"`
	}{PlayerID: playerID}
	return c.post(ctx, fmt.Sprintf("/api/games/%s/players/init", gameID), req, nil)
}
