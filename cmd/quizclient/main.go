package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/answers"
	"github.com/quizlive/engine/internal/api"
	"github.com/quizlive/engine/internal/config"
	"github.com/quizlive/engine/internal/events"
	"github.com/quizlive/engine/internal/gameflow"
	"github.com/quizlive/engine/internal/identity"
	"github.com/quizlive/engine/internal/leaderboard"
	"github.com/quizlive/engine/internal/room"
	"github.com/quizlive/engine/internal/socket"
	"github.com/quizlive/engine/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		configPath  = flag.String("config", "", "path to yaml config")
		gameID      = flag.String("game", "", "game id to join")
		roomID      = flag.String("room", "", "room id of the game")
		displayName = flag.String("name", "anonymous", "player display name")
		isHost      = flag.Bool("host", false, "run as the game host")
		tabScope    = flag.Bool("tab-scope", false, "use a tab-lifetime identity (public display screens)")
	)
	flag.Parse()

	if *gameID == "" || *roomID == "" {
		log.Fatal().Msg("-game and -room are required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}

	fileStore, err := storage.OpenFileStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device store")
	}
	cache := storage.NewGameCache(fileStore)

	provider := identity.NewProvider(fileStore, storage.NewMemStore())
	scope := identity.ScopeDevice
	if *tabScope {
		scope = identity.ScopeTab
	}
	deviceID, err := provider.DeviceID(scope)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve device identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientType := "player"
	if *isHost {
		clientType = "host"
	}
	connCfg := socket.DefaultConfig(cfg.Server.WSURL, deviceID)
	connCfg.ClientType = clientType
	connCfg.HeartbeatInterval = cfg.Heartbeat()
	connCfg.MaxReconnects = cfg.Reconnect.MaxAttempts
	connCfg.ReconnectWait = cfg.ReconnectWait()
	conn := socket.New(connCfg)
	defer conn.Close()

	restClient := api.NewClient(cfg.Server.HTTPURL)

	// Join as player over REST first; the device id re-associates a
	// reconnecting client with its prior membership.
	playerID, _ := cache.PlayerID(*gameID, deviceID)
	if playerID == "" {
		info, err := restClient.JoinGame(ctx, *gameID, deviceID, *displayName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to join game")
		}
		playerID = info.PlayerID
		if err := cache.SetPlayerID(*gameID, deviceID, playerID); err != nil {
			log.Warn().Err(err).Msg("failed to cache player id")
		}
	}
	// Ancillary player data is best effort and must not block the flow.
	if err := restClient.InitPlayerData(ctx, *gameID, playerID); err != nil {
		log.Warn().Err(err).Msg("player data init failed")
	}

	tracker := room.NewTracker(conn, deviceID)
	defer tracker.Close()
	tracker.WatchKicks(*roomID, playerID)

	flow := gameflow.New(conn, restClient, gameflow.Config{
		GameID:           *gameID,
		RoomID:           *roomID,
		IsHost:           *isHost,
		TickInterval:     cfg.Tick(),
		QuestionDuration: cfg.QuestionDuration(),
	})
	defer flow.Stop()

	answerTracker := answers.NewTracker(conn, restClient, answers.Config{
		GameID:   *gameID,
		RoomID:   *roomID,
		PlayerID: playerID,
	})
	answerTracker.Start()
	defer answerTracker.Stop()

	board := leaderboard.NewSynchronizer(conn, restClient, leaderboard.Config{
		GameID:        *gameID,
		RoomID:        *roomID,
		AutoRefresh:   true,
		DisplayWindow: cfg.LeaderboardWindow(),
	})
	board.Start()
	defer board.Stop()

	// Room join waits for registration, not mere transport connect.
	unsubStatus := conn.OnStatus(func(st socket.State) {
		switch st.Status {
		case socket.StatusRegistered:
			if err := tracker.Join(*roomID); err != nil {
				log.Error().Err(err).Msg("room join failed")
			}
		case socket.StatusFailed:
			log.Error().Str("last_error", st.LastError).Msg("connection lost for good, restart the client")
		}
	})
	defer unsubStatus()

	unsubPhase := flow.OnPhaseChange(func(p gameflow.Phase) {
		log.Info().Str("phase", string(p)).Msg("phase changed")
	})
	defer unsubPhase()

	unsubLocked := conn.OnRoom(*roomID, events.GameRoomLocked, func(ev *events.Event) {
		payload, err := events.ParsePayload(ev)
		if err != nil {
			return
		}
		if p, ok := payload.(events.RoomLockedPayload); ok {
			log.Info().Bool("locked", p.Locked).Msg("room lock changed")
		}
	})
	defer unsubLocked()

	// The one-shot countdown anchor is consumed by the next screen.
	unsubStarted := conn.OnRoom(*roomID, events.GameStarted, func(*events.Event) {
		if err := cache.SetCountdownStart(*gameID, time.Now()); err != nil {
			log.Warn().Err(err).Msg("failed to record countdown start")
		}
	})
	defer unsubStarted()

	if !*isHost {
		// No choice made in time: a null answer goes on record.
		unsubExpiry := flow.OnTimerExpired(func(questionID string) {
			if err := answerTracker.SubmitTimeout(ctx, questionID, cfg.QuestionDuration()); err != nil {
				log.Warn().Err(err).Msg("timeout submission failed")
			}
		})
		defer unsubExpiry()
	}

	if err := conn.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	if err := flow.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("initial resync failed, waiting for events")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	if err := tracker.Leave(*roomID); err != nil {
		log.Warn().Err(err).Msg("room leave failed")
	}
}
