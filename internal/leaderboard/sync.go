package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/socket"
)

// Socket is the slice of the connection the synchronizer needs.
type Socket interface {
	OnRoom(roomID string, name events.Name, h socket.Handler) func()
}

// BoardAPI is the REST surface for the authoritative ranking.
type BoardAPI interface {
	Leaderboard(ctx context.Context, gameID string) ([]api.LeaderboardRow, error)
}

// Entry is one ranked score row. Snapshots replace entries wholesale.
type Entry struct {
	PlayerID    string
	DisplayName string
	Score       int
	Rank        int
}

// RankChange records a player's movement between two snapshots.
// Numerically lower rank is a better position.
type RankChange struct {
	PlayerID   string
	FromRank   int
	ToRank     int
	IsMovingUp bool
}

const defaultDisplayWindow = 3 * time.Second

// Config holds the synchronizer configuration.
type Config struct {
	GameID string
	RoomID string

	// AutoRefresh re-fetches the ranking when a question ends.
	AutoRefresh bool
	// DisplayWindow bounds how long detected rank changes are held
	// before the transient buffer clears.
	DisplayWindow time.Duration

	Clock clockwork.Clock
}

// Synchronizer maintains the ranked score table and detects rank deltas
// between successive snapshots for transient UI effects.
type Synchronizer struct {
	cfg   Config
	conn  Socket
	api   BoardAPI
	clock clockwork.Clock

	mu         sync.Mutex
	entries    []Entry
	changes    []RankChange
	clearTimer clockwork.Timer
	refreshing bool

	unsubs  []func()
	started bool
}

func NewSynchronizer(conn Socket, boardAPI BoardAPI, cfg Config) *Synchronizer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.DisplayWindow <= 0 {
		cfg.DisplayWindow = defaultDisplayWindow
	}
	return &Synchronizer{
		cfg:   cfg,
		conn:  conn,
		api:   boardAPI,
		clock: cfg.Clock,
	}
}

// Start subscribes to server pushes. Idempotent.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	refresh := func(*events.Event) {
		if err := s.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("leaderboard refresh failed")
		}
	}
	s.unsubs = append(s.unsubs,
		s.conn.OnRoom(s.cfg.RoomID, events.GameLeaderboard, refresh),
	)
	if s.cfg.AutoRefresh {
		s.unsubs = append(s.unsubs,
			s.conn.OnRoom(s.cfg.RoomID, events.GameQuestionEnded, refresh),
		)
	}
}

// Stop tears down subscriptions and the pending clear timer.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.started = false
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Refresh re-fetches the authoritative ranking. Idempotent; overlapping
// calls collapse into one in-flight fetch.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		return nil
	}
	s.refreshing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	rows, err := s.api.Leaderboard(ctx, s.cfg.GameID)
	if err != nil {
		return err
	}

	next := make([]Entry, len(rows))
	for i, r := range rows {
		next[i] = Entry{
			PlayerID:    r.PlayerID,
			DisplayName: r.DisplayName,
			Score:       r.Score,
			Rank:        r.Rank,
		}
	}
	s.apply(next)
	return nil
}

// apply replaces the snapshot and computes rank deltas against the
// previous one.
func (s *Synchronizer) apply(next []Entry) {
	s.mu.Lock()
	prev := s.entries
	s.entries = next

	changes := diffRanks(prev, next)
	if len(changes) > 0 {
		s.changes = changes
		// One outstanding clear timer at a time; a newer snapshot
		// restarts the display window.
		if s.clearTimer != nil {
			s.clearTimer.Stop()
		}
		s.clearTimer = s.clock.AfterFunc(s.cfg.DisplayWindow, s.clearChanges)
	}
	s.mu.Unlock()

	log.Debug().Int("entries", len(next)).Int("rank_changes", len(changes)).Msg("leaderboard updated")
}

func (s *Synchronizer) clearChanges() {
	s.mu.Lock()
	s.changes = nil
	s.clearTimer = nil
	s.mu.Unlock()
}

// diffRanks compares two snapshots by player id. Players whose numeric
// rank decreased are marked as moving up.
func diffRanks(prev, next []Entry) []RankChange {
	if len(prev) == 0 {
		return nil
	}
	prevRank := make(map[string]int, len(prev))
	for _, e := range prev {
		prevRank[e.PlayerID] = e.Rank
	}

	var changes []RankChange
	for _, e := range next {
		from, ok := prevRank[e.PlayerID]
		if !ok || from == e.Rank {
			continue
		}
		changes = append(changes, RankChange{
			PlayerID:   e.PlayerID,
			FromRank:   from,
			ToRank:     e.Rank,
			IsMovingUp: e.Rank < from,
		})
	}
	return changes
}

// Entries returns the current snapshot.
func (s *Synchronizer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Changes returns the transient rank-change buffer.
func (s *Synchronizer) Changes() []RankChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RankChange, len(s.changes))
	copy(out, s.changes)
	return out
}
