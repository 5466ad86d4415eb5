package answers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/socket"
)

type fakeSocket struct {
	mu       sync.Mutex
	emits    []events.Name
	handlers map[events.Name][]socket.Handler
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{handlers: make(map[events.Name][]socket.Handler)}
}

func (f *fakeSocket) Emit(roomID string, name events.Name, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, name)
	return nil
}

func (f *fakeSocket) OnRoom(roomID string, name events.Name, h socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], h)
	return func() {}
}

func (f *fakeSocket) pushQuestionStarted(t *testing.T, questionID string) {
	t.Helper()
	data, err := json.Marshal(events.QuestionStartedPayload{
		Question: events.QuestionRef{ID: questionID},
	})
	require.NoError(t, err)
	ev := &events.Event{Name: events.GameQuestionStarted, Data: data}
	f.mu.Lock()
	hs := append([]socket.Handler(nil), f.handlers[events.GameQuestionStarted]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

type fakeAnswerAPI struct {
	mu   sync.Mutex
	reqs []api.AnswerRequest
	err  error

	// entered/release let a test hold a submission in flight.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAnswerAPI) SubmitAnswer(ctx context.Context, gameID string, req api.AnswerRequest) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeAnswerAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func newTracker(conn Socket, a AnswerAPI) *Tracker {
	return NewTracker(conn, a, Config{
		GameID:   "g1",
		RoomID:   "room1",
		PlayerID: "p1",
	})
}

func strp(s string) *string { return &s }

func TestSubmit_RequiresActiveQuestion(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	err := tr.Submit(context.Background(), strp("A"), time.Second)
	assert.ErrorIs(t, err, ErrNoActiveQuestion)
	assert.Equal(t, 0, fa.calls())
}

func TestSubmit_RequiresIdentifiers(t *testing.T) {
	fs := newFakeSocket()
	tr := NewTracker(fs, &fakeAnswerAPI{}, Config{RoomID: "room1"})
	tr.Start()
	defer tr.Stop()

	err := tr.Submit(context.Background(), strp("A"), time.Second)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestSubmit_OncePerQuestion(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")

	require.NoError(t, tr.Submit(context.Background(), strp("B"), 2*time.Second))

	// The duplicate is rejected before any network call.
	err := tr.Submit(context.Background(), strp("C"), 3*time.Second)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
	assert.Equal(t, 1, fa.calls())

	st := tr.Status()
	assert.Equal(t, "q1", st.QuestionID)
	assert.True(t, st.HasAnswered)
	require.NotNil(t, st.SubmittedOption)
	assert.Equal(t, "B", *st.SubmittedOption)
}

func TestSubmit_FailureLeavesRetryPossible(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{err: errors.New("boom")}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")

	require.Error(t, tr.Submit(context.Background(), strp("A"), time.Second))
	assert.False(t, tr.Status().HasAnswered)

	fa.mu.Lock()
	fa.err = nil
	fa.mu.Unlock()

	require.NoError(t, tr.Submit(context.Background(), strp("A"), time.Second))
	assert.True(t, tr.Status().HasAnswered)
}

func TestNewQuestion_ResetsAnsweredStatus(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")
	require.NoError(t, tr.Submit(context.Background(), strp("A"), time.Second))
	require.True(t, tr.Status().HasAnswered)

	fs.pushQuestionStarted(t, "q2")

	st := tr.Status()
	assert.Equal(t, "q2", st.QuestionID)
	assert.False(t, st.HasAnswered)

	require.NoError(t, tr.Submit(context.Background(), strp("D"), time.Second))
	assert.Equal(t, 2, fa.calls())

	hist := tr.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "q1", hist[0].QuestionID)
	assert.Equal(t, "q2", hist[1].QuestionID)
}

func TestSubmit_CompletionAfterNewQuestionDoesNotLeak(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{entered: make(chan struct{}, 4), release: make(chan struct{})}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")

	done := make(chan error, 1)
	go func() { done <- tr.Submit(context.Background(), strp("A"), time.Second) }()
	select {
	case <-fa.entered:
	case <-time.After(time.Second):
		t.Fatal("submission never reached the api")
	}

	// The next question arrives while the submission is still in flight.
	fs.pushQuestionStarted(t, "q2")
	close(fa.release)
	require.NoError(t, <-done)

	// The stale completion must not mark the new question answered.
	st := tr.Status()
	assert.Equal(t, "q2", st.QuestionID)
	assert.False(t, st.HasAnswered)

	// No room notification goes out for it either.
	fs.mu.Lock()
	notifies := 0
	for _, name := range fs.emits {
		if name == events.GameAnswerSubmit {
			notifies++
		}
	}
	fs.mu.Unlock()
	assert.Equal(t, 0, notifies)

	// The late submission is still on record, and q2 stays answerable.
	hist := tr.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "q1", hist[0].QuestionID)

	require.NoError(t, tr.Submit(context.Background(), strp("B"), time.Second))
	assert.True(t, tr.Status().HasAnswered)
}

func TestSubmitTimeout_NullAnswer(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")

	require.NoError(t, tr.SubmitTimeout(context.Background(), "q1", 30*time.Second))
	require.Equal(t, 1, fa.calls())

	fa.mu.Lock()
	req := fa.reqs[0]
	fa.mu.Unlock()
	assert.Nil(t, req.SelectedOption)
	assert.Equal(t, "q1", req.QuestionID)
}

func TestSubmitTimeout_NoOpWhenAnswered(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q1")
	require.NoError(t, tr.Submit(context.Background(), strp("A"), time.Second))

	require.NoError(t, tr.SubmitTimeout(context.Background(), "q1", 30*time.Second))
	assert.Equal(t, 1, fa.calls())
}

func TestSubmitTimeout_IgnoresStaleQuestion(t *testing.T) {
	fs := newFakeSocket()
	fa := &fakeAnswerAPI{}
	tr := newTracker(fs, fa)
	tr.Start()
	defer tr.Stop()

	fs.pushQuestionStarted(t, "q2")

	// Expiry for a question that has already been superseded.
	require.NoError(t, tr.SubmitTimeout(context.Background(), "q1", 30*time.Second))
	assert.Equal(t, 0, fa.calls())
}
