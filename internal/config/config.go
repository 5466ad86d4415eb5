package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine settings: where the server lives, how the
// countdown ticks, and how reconnection is bounded.
type Config struct {
	Server struct {
		WSURL   string `yaml:"ws_url"`
		HTTPURL string `yaml:"http_url"`
	} `yaml:"server"`

	Timers struct {
		HeartbeatSec      int `yaml:"heartbeat_sec"`
		TickMs            int `yaml:"tick_ms"`
		QuestionSec       int `yaml:"question_sec"`
		LeaderboardWindow int `yaml:"leaderboard_window_sec"`
	} `yaml:"timers"`

	Reconnect struct {
		MaxAttempts int `yaml:"max_attempts"`
		WaitSec     int `yaml:"wait_sec"`
	} `yaml:"reconnect"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var c Config
	c.Server.WSURL = getEnv("QUIZ_WS_URL", "ws://localhost:8090/ws")
	c.Server.HTTPURL = getEnv("QUIZ_HTTP_URL", "http://localhost:8090")
	c.Timers.HeartbeatSec = getEnvAsInt("QUIZ_HEARTBEAT_SEC", 30)
	c.Timers.TickMs = getEnvAsInt("QUIZ_TICK_MS", 100)
	c.Timers.QuestionSec = getEnvAsInt("QUIZ_QUESTION_SEC", 30)
	c.Timers.LeaderboardWindow = getEnvAsInt("QUIZ_LEADERBOARD_WINDOW_SEC", 3)
	c.Reconnect.MaxAttempts = getEnvAsInt("QUIZ_RECONNECT_ATTEMPTS", 5)
	c.Reconnect.WaitSec = getEnvAsInt("QUIZ_RECONNECT_WAIT_SEC", 2)
	c.Storage.Path = getEnv("QUIZ_STORAGE_PATH", ".quizlive/store.json")
	return &c
}

// Load reads a yaml config file, filling gaps from env and defaults.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// Heartbeat returns the heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Timers.HeartbeatSec) * time.Second
}

// Tick returns the countdown tick interval.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Timers.TickMs) * time.Millisecond
}

// QuestionDuration returns the fallback question duration.
func (c *Config) QuestionDuration() time.Duration {
	return time.Duration(c.Timers.QuestionSec) * time.Second
}

// LeaderboardWindow returns the rank-change display window.
func (c *Config) LeaderboardWindow() time.Duration {
	return time.Duration(c.Timers.LeaderboardWindow) * time.Second
}

// ReconnectWait returns the fixed backoff between reconnect attempts.
func (c *Config) ReconnectWait() time.Duration {
	return time.Duration(c.Reconnect.WaitSec) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
