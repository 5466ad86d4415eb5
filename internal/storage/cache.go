package storage

import (
	"fmt"
	"time"
)

// GameCache layers the game-related caches the engine persists between
// page loads on top of a Store: the game id behind a room code, the
// player id a device was assigned in a game, and the one-shot countdown
// start timestamp consumed by the next screen.
type GameCache struct {
	store Store
}

func NewGameCache(store Store) *GameCache {
	return &GameCache{store: store}
}

func roomGameKey(roomCode string) string {
	return fmt.Sprintf("room:%s:game", roomCode)
}

func playerKey(gameID, deviceID string) string {
	return fmt.Sprintf("game:%s:device:%s:player", gameID, deviceID)
}

func countdownKey(gameID string) string {
	return fmt.Sprintf("game:%s:countdown-start", gameID)
}

// GameIDForRoom returns the cached game id for a room code.
func (c *GameCache) GameIDForRoom(roomCode string) (string, bool) {
	return c.store.Get(roomGameKey(roomCode))
}

func (c *GameCache) SetGameIDForRoom(roomCode, gameID string) error {
	return c.store.Set(roomGameKey(roomCode), gameID)
}

// PlayerID returns the cached player id for a (game, device) pair, used
// to re-associate a reconnecting client with its prior membership.
func (c *GameCache) PlayerID(gameID, deviceID string) (string, bool) {
	return c.store.Get(playerKey(gameID, deviceID))
}

func (c *GameCache) SetPlayerID(gameID, deviceID, playerID string) error {
	return c.store.Set(playerKey(gameID, deviceID), playerID)
}

// SetCountdownStart records when the countdown screen began for a game.
func (c *GameCache) SetCountdownStart(gameID string, t time.Time) error {
	return c.store.Set(countdownKey(gameID), t.UTC().Format(time.RFC3339Nano))
}

// TakeCountdownStart returns the recorded countdown start and clears it.
// The value is one-shot: a second call reports absence.
func (c *GameCache) TakeCountdownStart(gameID string) (time.Time, bool) {
	raw, ok := c.store.Get(countdownKey(gameID))
	if !ok {
		return time.Time{}, false
	}
	c.store.Delete(countdownKey(gameID))

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
