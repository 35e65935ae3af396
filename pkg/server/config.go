package server

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Relay modes. Split runs recognition, generation, and synthesis as separate
// legs; realtime collapses them into a single vendor session.
const (
	RelayModeSplit    = "split"
	RelayModeRealtime = "realtime"
)

// Config holds the server's environment-driven settings.
type Config struct {
	// Address is the listen address.
	Address string

	// AuthToken protects the client endpoint. Empty disables the check.
	AuthToken string

	// OpenAIAPIKey drives the generation leg. Required.
	OpenAIAPIKey string

	// RecognitionURL and RecognitionAPIKey configure the recognition leg.
	// Empty RecognitionURL disables it (text-input-only sessions).
	RecognitionURL    string
	RecognitionAPIKey string

	// DatabasePath locates the SQLite file. Empty selects the in-memory
	// store.
	DatabasePath string

	// RelayMode selects split or realtime operation.
	RelayMode string

	HeartbeatInterval time.Duration
	ThinkingTimeout   time.Duration
	HistoryLimit      int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Address:           getEnv("LISTEN_ADDR", ":8080"),
		AuthToken:         os.Getenv("VOICEBRIDGE_AUTH_TOKEN"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		RecognitionURL:    os.Getenv("RECOGNITION_URL"),
		RecognitionAPIKey: os.Getenv("RECOGNITION_API_KEY"),
		DatabasePath:      os.Getenv("DATABASE_PATH"),
		RelayMode:         getEnv("RELAY_MODE", RelayModeSplit),
		HeartbeatInterval: getDurationSec("HEARTBEAT_INTERVAL_SEC", 15),
		ThinkingTimeout:   getDurationSec("RESPONSE_TIMEOUT_SEC", 30),
		HistoryLimit:      getInt("HISTORY_LIMIT", 20),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("server: OPENAI_API_KEY is required")
	}
	if cfg.RelayMode != RelayModeSplit && cfg.RelayMode != RelayModeRealtime {
		return nil, fmt.Errorf("server: unknown RELAY_MODE %q", cfg.RelayMode)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationSec(key string, defaultSec int) time.Duration {
	return time.Duration(getInt(key, defaultSec)) * time.Second
}
