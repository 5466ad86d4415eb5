package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelope_RoundTrip(t *testing.T) {
	data, err := json.Marshal(RoomPayload{RoomID: "room1", DeviceID: "dev1"})
	require.NoError(t, err)

	ev := Event{
		ID:        "evt-1",
		RoomID:    "room1",
		Name:      RoomJoin,
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Data:      data,
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, RoomJoin, decoded.Name)
	assert.Equal(t, "room1", decoded.RoomID)
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))
}

func TestParsePayload_QuestionStarted(t *testing.T) {
	starts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(QuestionStartedPayload{
		RoomID:   "room1",
		Question: QuestionRef{ID: "q1", Index: 2},
		StartsAt: starts,
		EndsAt:   starts.Add(30 * time.Second),
	})
	require.NoError(t, err)

	got, err := ParsePayload(&Event{Name: GameQuestionStarted, Data: data})
	require.NoError(t, err)

	p, ok := got.(QuestionStartedPayload)
	require.True(t, ok)
	assert.Equal(t, "q1", p.Question.ID)
	assert.Equal(t, 2, p.Question.Index)
	assert.Equal(t, 30*time.Second, p.EndsAt.Sub(p.StartsAt))
}

func TestParsePayload_SharedShapes(t *testing.T) {
	data, err := json.Marshal(PausePayload{GameID: "g1"})
	require.NoError(t, err)

	for _, name := range []Name{GamePause, GameResume} {
		got, err := ParsePayload(&Event{Name: name, Data: data})
		require.NoError(t, err)
		p, ok := got.(PausePayload)
		require.True(t, ok)
		assert.Equal(t, "g1", p.GameID)
	}
}

func TestParsePayload_NullAnswerOption(t *testing.T) {
	data := []byte(`{"room_id":"room1","question_id":"q1","player_id":"p1","selected_option":null,"response_time_ms":30000}`)

	got, err := ParsePayload(&Event{Name: GameAnswerSubmit, Data: data})
	require.NoError(t, err)

	p, ok := got.(AnswerSubmitPayload)
	require.True(t, ok)
	assert.Nil(t, p.SelectedOption)
	assert.Equal(t, int64(30000), p.ResponseTimeMs)
}

func TestParsePayload_UnknownName(t *testing.T) {
	got, err := ParsePayload(&Event{Name: Name("game:unknown"), Data: []byte(`{}`)})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParsePayload_MalformedData(t *testing.T) {
	_, err := ParsePayload(&Event{Name: RoomJoin, Data: []byte(`{`)})
	assert.Error(t, err)
}
