package answers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/socket"
)

// Socket is the slice of the connection the tracker needs.
type Socket interface {
	Emit(roomID string, name events.Name, payload any) error
	OnRoom(roomID string, name events.Name, h socket.Handler) func()
}

// AnswerAPI is the REST surface for authoritative submissions.
type AnswerAPI interface {
	SubmitAnswer(ctx context.Context, gameID string, req api.AnswerRequest) error
}

var (
	ErrAlreadyAnswered   = errors.New("answers: already answered current question")
	ErrSubmitInFlight    = errors.New("answers: submission already in flight")
	ErrNoActiveQuestion  = errors.New("answers: no active question")
	ErrMissingIdentifier = errors.New("answers: game id and player id required")
)

// Submission is one recorded answer. Immutable once created; at most
// one exists per (player, question).
type Submission struct {
	QuestionID     string
	PlayerID       string
	SelectedOption *string
	ResponseTime   time.Duration
	SubmittedAt    time.Time
}

// Status is the local answered view for the current question.
type Status struct {
	QuestionID      string
	HasAnswered     bool
	SubmittedOption *string
	SubmittedAt     time.Time
}

// Config holds the tracker configuration.
type Config struct {
	GameID   string
	RoomID   string
	PlayerID string
	Clock    clockwork.Clock
}

// Tracker records whether the local player answered the current
// question and submits answers exactly once per question.
type Tracker struct {
	cfg   Config
	conn  Socket
	api   AnswerAPI
	clock clockwork.Clock

	mu         sync.Mutex
	questionID string
	answered   bool
	inFlight   bool
	selected   *string
	answeredAt time.Time
	history    []Submission

	unsubs  []func()
	started bool
}

func NewTracker(conn Socket, answerAPI AnswerAPI, cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Tracker{
		cfg:   cfg,
		conn:  conn,
		api:   answerAPI,
		clock: cfg.Clock,
	}
}

// Start subscribes to question starts; a new question clears answered
// status so the same tracker serves the whole question sequence.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.unsubs = append(t.unsubs,
		t.conn.OnRoom(t.cfg.RoomID, events.GameQuestionStarted, func(ev *events.Event) {
			var p events.QuestionStartedPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				return
			}
			t.resetFor(p.Question.ID)
		}),
	)
}

// Stop tears down subscriptions. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.started = false
	t.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (t *Tracker) resetFor(questionID string) {
	t.mu.Lock()
	t.questionID = questionID
	t.answered = false
	t.inFlight = false
	t.selected = nil
	t.answeredAt = time.Time{}
	t.mu.Unlock()
	log.Debug().Str("question_id", questionID).Msg("answer status reset")
}

// Submit records the player's answer for the current question. A second
// call for the same question is rejected before any network call, as is
// an overlapping call while one is still in flight.
func (t *Tracker) Submit(ctx context.Context, selectedOption *string, responseTime time.Duration) error {
	if t.cfg.GameID == "" || t.cfg.PlayerID == "" {
		return ErrMissingIdentifier
	}

	// The guard is taken synchronously before the asynchronous call so
	// overlapping submissions cannot both pass.
	t.mu.Lock()
	if t.questionID == "" {
		t.mu.Unlock()
		return ErrNoActiveQuestion
	}
	if t.answered {
		t.mu.Unlock()
		return ErrAlreadyAnswered
	}
	if t.inFlight {
		t.mu.Unlock()
		return ErrSubmitInFlight
	}
	t.inFlight = true
	questionID := t.questionID
	t.mu.Unlock()

	req := api.AnswerRequest{
		QuestionID:     questionID,
		PlayerID:       t.cfg.PlayerID,
		SelectedOption: selectedOption,
		ResponseTimeMs: responseTime.Milliseconds(),
	}
	if err := t.api.SubmitAnswer(ctx, t.cfg.GameID, req); err != nil {
		t.mu.Lock()
		if t.questionID == questionID {
			t.inFlight = false
		}
		t.mu.Unlock()
		return err
	}

	now := t.clock.Now()
	t.mu.Lock()
	// The question may have advanced while the call was in flight; the
	// reset for the new question must not be undone by a stale
	// completion. The submission itself still happened and is recorded.
	current := t.questionID == questionID
	if current {
		t.inFlight = false
		t.answered = true
		t.selected = selectedOption
		t.answeredAt = now
	}
	t.history = append(t.history, Submission{
		QuestionID:     questionID,
		PlayerID:       t.cfg.PlayerID,
		SelectedOption: selectedOption,
		ResponseTime:   responseTime,
		SubmittedAt:    now,
	})
	t.mu.Unlock()

	if !current {
		log.Debug().Str("question_id", questionID).Msg("answer landed after question advanced")
		return nil
	}

	// Lightweight room notification; the REST submission above is the
	// authoritative effect.
	if err := t.conn.Emit(t.cfg.RoomID, events.GameAnswerSubmit, events.AnswerSubmitPayload{
		RoomID:         t.cfg.RoomID,
		QuestionID:     questionID,
		PlayerID:       t.cfg.PlayerID,
		SelectedOption: selectedOption,
		ResponseTimeMs: responseTime.Milliseconds(),
	}); err != nil {
		log.Warn().Err(err).Msg("answer notification failed")
	}

	log.Debug().Str("question_id", questionID).Msg("answer submitted")
	return nil
}

// SubmitTimeout auto-submits a null answer when the countdown expires
// without a choice. Already-answered questions are left alone.
func (t *Tracker) SubmitTimeout(ctx context.Context, questionID string, responseTime time.Duration) error {
	t.mu.Lock()
	current := t.questionID
	answered := t.answered
	t.mu.Unlock()
	if current == "" || (questionID != "" && questionID != current) || answered {
		return nil
	}
	err := t.Submit(ctx, nil, responseTime)
	if errors.Is(err, ErrAlreadyAnswered) || errors.Is(err, ErrSubmitInFlight) {
		return nil
	}
	return err
}

// Status returns the answered view for the current question.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		QuestionID:      t.questionID,
		HasAnswered:     t.answered,
		SubmittedOption: t.selected,
		SubmittedAt:     t.answeredAt,
	}
}

// History returns the recorded submissions in order.
func (t *Tracker) History() []Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Submission, len(t.history))
	copy(out, t.history)
	return out
}
