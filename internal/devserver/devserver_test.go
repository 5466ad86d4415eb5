package devserver

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/engine/internal/answers"
	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/gameflow"
	"github.com/quizlive/engine/internal/leaderboard"
	"github.com/quizlive/engine/internal/room"
	"github.com/quizlive/engine/internal/socket"
)

func startHarness(t *testing.T, questionDuration time.Duration) (*Server, string, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.QuestionDuration = questionDuration
	srv := New(cfg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return srv, wsURL, ts.URL
}

func connect(t *testing.T, wsURL, deviceID string) *socket.Conn {
	t.Helper()
	c := socket.New(socket.DefaultConfig(wsURL, deviceID))
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, c.Registered, 3*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandshake_AssignsSessionID(t *testing.T) {
	_, wsURL, _ := startHarness(t, 30*time.Second)

	c := connect(t, wsURL, "dev-1")
	assert.NotEmpty(t, c.State().SessionID)
}

func TestRoomBroadcast_ReachesOtherMembers(t *testing.T) {
	_, wsURL, _ := startHarness(t, 30*time.Second)

	host := connect(t, wsURL, "dev-host")
	player := connect(t, wsURL, "dev-player")

	hostRooms := room.NewTracker(host, "dev-host")
	defer hostRooms.Close()
	playerRooms := room.NewTracker(player, "dev-player")
	defer playerRooms.Close()

	joined := make(chan *events.Event, 4)
	host.OnRoom("room1", events.RoomUserJoined, func(ev *events.Event) {
		joined <- ev
	})

	require.NoError(t, hostRooms.Join("room1"))
	require.NoError(t, playerRooms.Join("room1"))

	select {
	case <-joined:
	case <-time.After(3 * time.Second):
		t.Fatal("host never saw the player join")
	}
}

// TestFullQuestionCycle drives one complete round through the real
// stack: registration, room join, REST game join, host-started question
// with broadcast anchors, player answer with server-side duplicate
// rejection, timer-driven reveal, leaderboard fetch and game end.
func TestFullQuestionCycle(t *testing.T) {
	srv, wsURL, httpURL := startHarness(t, 800*time.Millisecond)
	srv.CreateGame("g1", "room1")
	ctx := context.Background()

	hostConn := connect(t, wsURL, "dev-host")
	playerConn := connect(t, wsURL, "dev-player")

	hostRooms := room.NewTracker(hostConn, "dev-host")
	defer hostRooms.Close()
	playerRooms := room.NewTracker(playerConn, "dev-player")
	defer playerRooms.Close()
	require.NoError(t, hostRooms.Join("room1"))
	require.NoError(t, playerRooms.Join("room1"))

	rest := api.NewClient(httpURL)

	info, err := rest.JoinGame(ctx, "g1", "dev-player", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, info.PlayerID)

	// Rejoining with the same device hands back the same player.
	again, err := rest.JoinGame(ctx, "g1", "dev-player", "Alice")
	require.NoError(t, err)
	assert.Equal(t, info.PlayerID, again.PlayerID)

	hostFlow := gameflow.New(hostConn, rest, gameflow.Config{
		GameID:       "g1",
		RoomID:       "room1",
		IsHost:       true,
		TickInterval: 20 * time.Millisecond,
	})
	require.NoError(t, hostFlow.Start(ctx))
	defer hostFlow.Stop()

	playerFlow := gameflow.New(playerConn, rest, gameflow.Config{
		GameID:              "g1",
		RoomID:              "room1",
		SuppressLocalExpiry: true,
		TickInterval:        20 * time.Millisecond,
	})
	require.NoError(t, playerFlow.Start(ctx))
	defer playerFlow.Stop()

	tracker := answers.NewTracker(playerConn, rest, answers.Config{
		GameID:   "g1",
		RoomID:   "room1",
		PlayerID: info.PlayerID,
	})
	tracker.Start()
	defer tracker.Stop()

	require.NoError(t, hostFlow.StartQuestion(ctx))

	// The broadcast anchors propagate the question to the player side.
	require.Eventually(t, func() bool {
		return playerFlow.Phase() == gameflow.PhaseQuestion
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return tracker.Status().QuestionID != ""
	}, 3*time.Second, 10*time.Millisecond)

	questionID := tracker.Status().QuestionID
	assert.Equal(t, questionID, playerFlow.Flow().QuestionID)

	option := "B"
	require.NoError(t, tracker.Submit(ctx, &option, 2*time.Second))
	assert.ErrorIs(t, tracker.Submit(ctx, &option, 2*time.Second), answers.ErrAlreadyAnswered)

	// The server holds the same invariant independently of the local guard.
	err = rest.SubmitAnswer(ctx, "g1", api.AnswerRequest{
		QuestionID:     questionID,
		PlayerID:       info.PlayerID,
		SelectedOption: &option,
		ResponseTimeMs: 2000,
	})
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)

	// Local expiry on the host side triggers the authoritative reveal;
	// the room broadcast carries it to the player.
	require.Eventually(t, func() bool {
		return hostFlow.Phase() == gameflow.PhaseAnswerReveal
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return playerFlow.Phase() == gameflow.PhaseAnswerReveal
	}, 3*time.Second, 10*time.Millisecond)

	board := leaderboard.NewSynchronizer(playerConn, rest, leaderboard.Config{GameID: "g1", RoomID: "room1"})
	board.Start()
	defer board.Stop()
	require.NoError(t, board.Refresh(ctx))

	entries := board.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, info.PlayerID, entries[0].PlayerID)
	assert.Equal(t, 100, entries[0].Score)
	assert.Equal(t, 1, entries[0].Rank)

	require.NoError(t, hostFlow.End(ctx))
	require.Eventually(t, func() bool {
		return playerFlow.Phase() == gameflow.PhaseEnded
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := rest.GameState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "finished", snap.Status)
}

func TestRevealRejectsAdvancedQuestion(t *testing.T) {
	srv, _, httpURL := startHarness(t, 30*time.Second)
	srv.CreateGame("g1", "room1")
	ctx := context.Background()

	rest := api.NewClient(httpURL)

	first, err := rest.StartQuestion(ctx, "g1")
	require.NoError(t, err)
	_, err = rest.NextQuestion(ctx, "g1")
	require.NoError(t, err)

	err = rest.RevealAnswer(ctx, "g1", first.QuestionID)
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.StatusCode)
}

func TestGameNotFound(t *testing.T) {
	_, _, httpURL := startHarness(t, 30*time.Second)

	rest := api.NewClient(httpURL)
	_, err := rest.GameState(context.Background(), "missing")

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "game not found", apiErr.Message)
}
