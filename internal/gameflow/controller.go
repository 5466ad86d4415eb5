package gameflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/socket"
)

// Socket is the slice of the connection the controller needs.
type Socket interface {
	Emit(roomID string, name events.Name, payload any) error
	On(name events.Name, h socket.Handler) func()
	OnRoom(roomID string, name events.Name, h socket.Handler) func()
	OnStatus(h socket.StatusHandler) func()
}

// GameAPI is the REST collaborator surface the controller drives.
type GameAPI interface {
	GameState(ctx context.Context, gameID string) (*api.GameSnapshot, error)
	StartQuestion(ctx context.Context, gameID string) (*api.QuestionStart, error)
	RevealAnswer(ctx context.Context, gameID, questionID string) error
	NextQuestion(ctx context.Context, gameID string) (*api.QuestionStart, error)
	PauseGame(ctx context.Context, gameID string) error
	ResumeGame(ctx context.Context, gameID string) error
	EndGame(ctx context.Context, gameID string) error
}

var (
	// ErrNotHost rejects host-only operations before any network call.
	ErrNotHost = errors.New("gameflow: operation requires host role")
	// ErrNoGame rejects operations issued without a game id.
	ErrNoGame = errors.New("gameflow: no game id")
	// ErrNoQuestion rejects reveal without an active question.
	ErrNoQuestion = errors.New("gameflow: no active question")
)

const (
	defaultTickInterval     = 100 * time.Millisecond
	defaultQuestionDuration = 30 * time.Second
)

// Config holds the controller configuration.
type Config struct {
	GameID string
	RoomID string
	IsHost bool

	// SuppressLocalExpiry stops the local question-ended notification
	// on countdown expiry for non-host clients that prefer to wait for
	// the explicit server event.
	SuppressLocalExpiry bool

	TickInterval     time.Duration
	QuestionDuration time.Duration // fallback when end time is unknown

	Clock clockwork.Clock
}

// Flow mirrors the server's question-progression state. The client
// never treats it as authoritative: every mutation is a command
// acknowledgment, a server-pushed event, or a resync overwrite.
type Flow struct {
	GameID        string
	QuestionID    string
	QuestionIndex int
	StartTime     time.Time
	EndTime       *time.Time
	Paused        bool
}

// Controller maintains the mirrored game-phase state machine and the
// locally ticking countdown derived from server timestamps.
type Controller struct {
	cfg   Config
	conn  Socket
	api   GameAPI
	clock clockwork.Clock

	mu              sync.Mutex
	flow            Flow
	phase           Phase
	anchor          anchor
	timer           TimerState
	pausedRemaining time.Duration
	tickerStop      chan struct{} // single ticker handle; replaced only after stop
	revealTriggered bool
	expiryFired     bool
	endedNotified   string // question id whose end was already surfaced
	started         bool

	cbMu      sync.RWMutex
	nextCb    int
	phaseCbs  map[int]func(Phase)
	tickCbs   map[int]func(TimerState)
	endedCbs  map[int]func(questionID string)
	expiryCbs map[int]func(questionID string)
	errCbs    map[int]func(error)

	unsubs []func()
}

// New creates a controller. Call Start to subscribe and resync.
func New(conn Socket, gameAPI GameAPI, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.QuestionDuration <= 0 {
		cfg.QuestionDuration = defaultQuestionDuration
	}
	return &Controller{
		cfg:       cfg,
		conn:      conn,
		api:       gameAPI,
		clock:     cfg.Clock,
		phase:     PhaseWaiting,
		phaseCbs:  make(map[int]func(Phase)),
		tickCbs:   make(map[int]func(TimerState)),
		endedCbs:  make(map[int]func(string)),
		expiryCbs: make(map[int]func(string)),
		errCbs:    make(map[int]func(error)),
	}
}

// Start subscribes to the room's flow events and performs the initial
// resynchronization against the authoritative snapshot.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	room := c.cfg.RoomID
	c.unsubs = append(c.unsubs,
		c.conn.OnRoom(room, events.GameQuestionStarted, c.handleQuestionStarted),
		c.conn.OnRoom(room, events.GameQuestionEnded, c.handleQuestionEnded),
		c.conn.OnRoom(room, events.GamePhaseChange, c.handlePhaseChange),
		c.conn.OnRoom(room, events.GameStarted, c.handleGameStarted),
		c.conn.On(events.GamePause, c.handlePauseEvent),
		c.conn.On(events.GameResume, c.handleResumeEvent),
		// Re-derive phase after every registration; the client may have
		// missed events during the gap.
		c.conn.OnStatus(func(st socket.State) {
			if st.Status != socket.StatusRegistered {
				return
			}
			go func() {
				if err := c.Resync(context.Background()); err != nil {
					log.Warn().Err(err).Msg("resync after reconnect failed")
					c.notifyError(err)
				}
			}()
		}),
	)

	return c.Resync(ctx)
}

// Stop tears the controller down. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopTickerLocked()
	unsubs := c.unsubs
	c.unsubs = nil
	c.started = false
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Flow returns the mirrored flow state.
func (c *Controller) Flow() Flow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flow
}

// Timer returns the current derived countdown view.
func (c *Controller) Timer() TimerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// OnPhaseChange registers a phase-transition callback.
func (c *Controller) OnPhaseChange(h func(Phase)) func() {
	return registerCb(c, c.phaseCbs, h)
}

// OnTick registers a countdown tick callback.
func (c *Controller) OnTick(h func(TimerState)) func() {
	return registerCb(c, c.tickCbs, h)
}

// OnQuestionEnded registers a question-ended callback. It fires on the
// server event and, unless suppressed, on local countdown expiry.
func (c *Controller) OnQuestionEnded(h func(questionID string)) func() {
	return registerCb(c, c.endedCbs, h)
}

// OnTimerExpired registers a callback fired whenever the local
// countdown reaches zero, regardless of suppression.
func (c *Controller) OnTimerExpired(h func(questionID string)) func() {
	return registerCb(c, c.expiryCbs, h)
}

// OnError registers a callback for asynchronous command failures.
func (c *Controller) OnError(h func(error)) func() {
	return registerCb(c, c.errCbs, h)
}

func registerCb[T any](c *Controller, m map[int]T, h T) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextCb++
	id := c.nextCb
	m[id] = h
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(m, id)
	}
}

// ---- Host-issued commands ----

func (c *Controller) hostGuard() error {
	if !c.cfg.IsHost {
		return ErrNotHost
	}
	if c.cfg.GameID == "" {
		return ErrNoGame
	}
	return nil
}

// StartQuestion starts the current question and broadcasts the started
// event with explicit wall-clock startsAt/endsAt anchors so late
// receivers compute correct remaining time.
func (c *Controller) StartQuestion(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	qs, err := c.api.StartQuestion(ctx, c.cfg.GameID)
	if err != nil {
		return err
	}

	c.applyQuestionStart(qs.QuestionID, qs.QuestionIndex, qs.StartsAt, qs.EndsAt)

	return c.conn.Emit(c.cfg.RoomID, events.GameQuestionStarted, events.QuestionStartedPayload{
		RoomID:   c.cfg.RoomID,
		Question: events.QuestionRef{ID: qs.QuestionID, Index: qs.QuestionIndex},
		StartsAt: qs.StartsAt,
		EndsAt:   qs.EndsAt,
	})
}

// RevealAnswer closes the answering window for the active question.
func (c *Controller) RevealAnswer(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	c.mu.Lock()
	questionID := c.flow.QuestionID
	if questionID == "" {
		c.mu.Unlock()
		return ErrNoQuestion
	}
	// Taken before the call so a concurrent expiry does not double the
	// reveal; rolled back on failure so expiry can still recover.
	c.revealTriggered = true
	c.mu.Unlock()

	if err := c.api.RevealAnswer(ctx, c.cfg.GameID, questionID); err != nil {
		c.mu.Lock()
		if c.flow.QuestionID == questionID {
			c.revealTriggered = false
		}
		c.mu.Unlock()
		return err
	}
	c.finishQuestion(questionID, true)
	return nil
}

// NextQuestion advances to the next question and broadcasts its start.
func (c *Controller) NextQuestion(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	qs, err := c.api.NextQuestion(ctx, c.cfg.GameID)
	if err != nil {
		return err
	}

	c.applyQuestionStart(qs.QuestionID, qs.QuestionIndex, qs.StartsAt, qs.EndsAt)

	return c.conn.Emit(c.cfg.RoomID, events.GameQuestionStarted, events.QuestionStartedPayload{
		RoomID:   c.cfg.RoomID,
		Question: events.QuestionRef{ID: qs.QuestionID, Index: qs.QuestionIndex},
		StartsAt: qs.StartsAt,
		EndsAt:   qs.EndsAt,
	})
}

// Pause freezes the countdown without discarding its anchors.
func (c *Controller) Pause(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	if err := c.api.PauseGame(ctx, c.cfg.GameID); err != nil {
		return err
	}
	c.localPause()
	return c.conn.Emit(c.cfg.RoomID, events.GamePause, events.PausePayload{GameID: c.cfg.GameID})
}

// Resume continues the countdown from where Pause froze it.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	if err := c.api.ResumeGame(ctx, c.cfg.GameID); err != nil {
		return err
	}
	c.localResume()
	return c.conn.Emit(c.cfg.RoomID, events.GameResume, events.PausePayload{GameID: c.cfg.GameID})
}

// End finishes the game.
func (c *Controller) End(ctx context.Context) error {
	if err := c.hostGuard(); err != nil {
		return err
	}
	if err := c.api.EndGame(ctx, c.cfg.GameID); err != nil {
		return err
	}

	c.mu.Lock()
	c.stopTickerLocked()
	c.timer.Active = false
	changed := c.phase != PhaseEnded
	c.phase = PhaseEnded
	c.mu.Unlock()
	if changed {
		c.notifyPhase(PhaseEnded)
	}

	return c.conn.Emit(c.cfg.RoomID, events.GamePhaseChange, events.PhaseChangePayload{
		RoomID: c.cfg.RoomID,
		Phase:  string(PhaseEnded),
	})
}

// ---- Server-pushed events ----

func (c *Controller) handleQuestionStarted(ev *events.Event) {
	var p events.QuestionStartedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("malformed question started payload")
		return
	}
	// Re-anchor to the event's authoritative timestamps; this corrects
	// for clock drift and delivery delay already incurred.
	c.applyQuestionStart(p.Question.ID, p.Question.Index, p.StartsAt, p.EndsAt)
}

func (c *Controller) handleQuestionEnded(ev *events.Event) {
	var p events.QuestionEndedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("malformed question ended payload")
		return
	}
	c.finishQuestion(p.QuestionID, true)
}

func (c *Controller) handlePhaseChange(ev *events.Event) {
	var p events.PhaseChangePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("malformed phase change payload")
		return
	}
	phase := Phase(p.Phase)

	c.mu.Lock()
	if c.phase == phase {
		c.mu.Unlock()
		return
	}
	c.phase = phase
	if phase != PhaseQuestion && phase != PhaseAnswering {
		c.stopTickerLocked()
		c.timer.Active = false
	}
	c.mu.Unlock()
	c.notifyPhase(phase)
}

func (c *Controller) handleGameStarted(ev *events.Event) {
	var p events.GameStartedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Warn().Err(err).Msg("malformed game started payload")
		return
	}

	c.mu.Lock()
	if p.GameID != "" {
		c.flow.GameID = p.GameID
	}
	changed := c.phase != PhaseCountdown
	c.phase = PhaseCountdown
	c.mu.Unlock()
	if changed {
		c.notifyPhase(PhaseCountdown)
	}
}

func (c *Controller) handlePauseEvent(ev *events.Event) {
	var p events.PausePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil || p.GameID != c.cfg.GameID {
		return
	}
	c.localPause()
}

func (c *Controller) handleResumeEvent(ev *events.Event) {
	var p events.PausePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil || p.GameID != c.cfg.GameID {
		return
	}
	c.localResume()
}

// ---- State transitions ----

func (c *Controller) applyQuestionStart(id string, index int, startsAt, endsAt time.Time) {
	end := endsAt
	c.mu.Lock()
	c.flow.QuestionID = id
	c.flow.QuestionIndex = index
	c.flow.StartTime = startsAt
	if end.IsZero() {
		c.flow.EndTime = nil
	} else {
		c.flow.EndTime = &end
	}
	c.flow.Paused = false
	c.anchor = anchor{questionID: id, questionIndex: index, start: startsAt, end: endsAt}
	c.revealTriggered = false
	c.expiryFired = false
	c.endedNotified = ""
	changed := c.phase != PhaseQuestion
	c.phase = PhaseQuestion
	c.startTickerLocked()
	c.mu.Unlock()

	log.Debug().
		Str("question_id", id).
		Int("index", index).
		Time("starts_at", startsAt).
		Time("ends_at", endsAt).
		Msg("question started")

	if changed {
		c.notifyPhase(PhaseQuestion)
	}
}

// finishQuestion moves the flow into answer_reveal after a server-backed
// end (event or acknowledged command). Purely local expiry goes through
// notifyQuestionEnded without touching the mirrored state.
func (c *Controller) finishQuestion(questionID string, notifyPhase bool) {
	now := c.clock.Now()
	c.mu.Lock()
	if questionID != "" && c.flow.QuestionID != "" && questionID != c.flow.QuestionID {
		c.mu.Unlock()
		return // stale end for a question we already moved past
	}
	c.stopTickerLocked()
	if c.flow.EndTime == nil {
		c.flow.EndTime = &now
	}
	c.timer.Active = false
	c.timer.Remaining = 0
	changed := c.phase != PhaseAnswerReveal
	c.phase = PhaseAnswerReveal
	c.mu.Unlock()

	c.notifyEndedOnce(questionID)
	if changed && notifyPhase {
		c.notifyPhase(PhaseAnswerReveal)
	}
}

// notifyEndedOnce surfaces a question end at most once per question. The
// same end can reach the controller several ways, a local expiry, the
// server event and the echo of the host's own broadcast among them.
func (c *Controller) notifyEndedOnce(questionID string) {
	c.mu.Lock()
	if questionID == "" {
		questionID = c.flow.QuestionID
	}
	if questionID != "" && c.endedNotified == questionID {
		c.mu.Unlock()
		return
	}
	c.endedNotified = questionID
	c.mu.Unlock()

	c.notifyQuestionEnded(questionID)
}

func (c *Controller) localPause() {
	c.mu.Lock()
	if c.flow.Paused {
		c.mu.Unlock()
		return
	}
	c.flow.Paused = true
	rem := computeRemaining(c.anchor, c.cfg.QuestionDuration, c.clock.Now())
	c.pausedRemaining = rem
	c.stopTickerLocked()
	c.timer.Active = false
	c.timer.Remaining = rem
	c.mu.Unlock()

	log.Debug().Dur("remaining", rem).Msg("countdown paused")
}

func (c *Controller) localResume() {
	c.mu.Lock()
	if !c.flow.Paused {
		c.mu.Unlock()
		return
	}
	c.flow.Paused = false
	// Duration comes from the original source timestamps; only the
	// anchor shifts so the countdown continues from the frozen value.
	c.anchor = c.anchor.shiftedForResume(c.cfg.QuestionDuration, c.pausedRemaining, c.clock.Now())
	c.startTickerLocked()
	c.mu.Unlock()

	log.Debug().Msg("countdown resumed")
}

// ---- Local ticking ----

func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	stop := make(chan struct{})
	c.tickerStop = stop
	go c.runTicker(stop)
}

func (c *Controller) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

func (c *Controller) runTicker(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if c.tick(stop) {
				return
			}
		}
	}
}

// tick re-evaluates the countdown. Returns true when the ticker should
// stop (expiry reached or the handle was replaced).
func (c *Controller) tick(stop chan struct{}) bool {
	c.mu.Lock()
	if c.tickerStop != stop {
		c.mu.Unlock()
		return true
	}
	if c.flow.Paused {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	rem := computeRemaining(c.anchor, c.cfg.QuestionDuration, now)
	ts := TimerState{
		QuestionID:    c.anchor.questionID,
		QuestionIndex: c.anchor.questionIndex,
		StartTime:     c.anchor.start,
		EndTime:       c.anchor.end,
		Remaining:     rem,
		Active:        rem > 0,
	}
	c.timer = ts

	expired := rem <= 0 && !c.expiryFired
	if rem <= 0 {
		c.expiryFired = true
		c.tickerStop = nil // handle consumed; goroutine exits
	}
	questionID := c.anchor.questionID
	c.mu.Unlock()

	c.notifyTick(ts)
	if expired {
		c.handleExpiry(questionID)
	}
	return rem <= 0
}

// handleExpiry reacts to the local countdown reaching zero. The host
// triggers answer-reveal automatically; everyone else fires a local
// question-ended notification unless configured to wait for the server.
func (c *Controller) handleExpiry(questionID string) {
	c.notifyExpiry(questionID)

	if !c.cfg.IsHost {
		if !c.cfg.SuppressLocalExpiry {
			c.notifyEndedOnce(questionID)
		}
		return
	}

	c.mu.Lock()
	if c.revealTriggered {
		c.mu.Unlock()
		return
	}
	c.revealTriggered = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.api.RevealAnswer(ctx, c.cfg.GameID, questionID); err != nil {
		// Players must still get some transition.
		log.Error().Err(err).Str("question_id", questionID).Msg("auto reveal failed, falling back to local question end")
		c.notifyError(err)
		c.notifyEndedOnce(questionID)
		return
	}

	log.Debug().Str("question_id", questionID).Msg("auto reveal triggered")
	c.finishQuestion(questionID, true)
	if err := c.conn.Emit(c.cfg.RoomID, events.GameQuestionEnded, events.QuestionEndedPayload{
		RoomID:     c.cfg.RoomID,
		QuestionID: questionID,
	}); err != nil {
		log.Warn().Err(err).Msg("question ended broadcast failed")
	}
}

// ---- Resynchronization ----

// Resync fetches the authoritative snapshot and overwrites local state.
// Stale-state mismatches are not errors; they are resolved by the
// overwrite.
func (c *Controller) Resync(ctx context.Context) error {
	if c.cfg.GameID == "" {
		return ErrNoGame
	}
	snap, err := c.api.GameState(ctx, c.cfg.GameID)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	c.applySnapshot(snap)
	return nil
}

func (c *Controller) applySnapshot(snap *api.GameSnapshot) {
	phase := DerivePhase(snap)

	c.mu.Lock()
	prev := c.phase
	questionChanged := snap.CurrentQuestionID != c.flow.QuestionID

	c.flow = Flow{
		GameID:        snap.GameID,
		QuestionID:    snap.CurrentQuestionID,
		QuestionIndex: snap.CurrentQuestionIndex,
		Paused:        snap.Paused,
	}
	if snap.QuestionStartedAt != nil {
		c.flow.StartTime = *snap.QuestionStartedAt
	}
	c.flow.EndTime = snap.QuestionEndedAt
	c.phase = phase

	if questionChanged {
		c.revealTriggered = false
		c.expiryFired = false
		c.endedNotified = ""
	}

	switch phase {
	case PhaseQuestion:
		var end time.Time
		if snap.QuestionEndedAt != nil {
			end = *snap.QuestionEndedAt
		}
		c.anchor = anchor{
			questionID:    snap.CurrentQuestionID,
			questionIndex: snap.CurrentQuestionIndex,
			start:         c.flow.StartTime,
			end:           end,
		}
		if snap.Paused {
			c.pausedRemaining = computeRemaining(c.anchor, c.cfg.QuestionDuration, c.clock.Now())
			c.stopTickerLocked()
			c.timer.Active = false
			c.timer.Remaining = c.pausedRemaining
		} else {
			c.startTickerLocked()
		}
	default:
		c.stopTickerLocked()
		c.timer.Active = false
	}
	c.mu.Unlock()

	log.Debug().
		Str("game_id", snap.GameID).
		Str("phase", string(phase)).
		Str("question_id", snap.CurrentQuestionID).
		Msg("resynced from snapshot")

	if phase != prev {
		c.notifyPhase(phase)
	}
}

// ---- Notification fan-out ----

func (c *Controller) notifyPhase(p Phase) {
	for _, h := range snapshotCbs(c, c.phaseCbs) {
		h(p)
	}
}

func (c *Controller) notifyTick(ts TimerState) {
	for _, h := range snapshotCbs(c, c.tickCbs) {
		h(ts)
	}
}

func (c *Controller) notifyQuestionEnded(questionID string) {
	for _, h := range snapshotCbs(c, c.endedCbs) {
		h(questionID)
	}
}

func (c *Controller) notifyExpiry(questionID string) {
	for _, h := range snapshotCbs(c, c.expiryCbs) {
		h(questionID)
	}
}

func (c *Controller) notifyError(err error) {
	for _, h := range snapshotCbs(c, c.errCbs) {
		h(err)
	}
}

func snapshotCbs[T any](c *Controller, m map[int]T) []T {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	out := make([]T, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}
