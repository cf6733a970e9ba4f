// Package config loads client configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all client settings.
type Config struct {
	// BackendURL is the HTTP(S) base URL of the Kurisu backend.
	BackendURL string

	// Token is an optional pre-provisioned bearer token. When empty the
	// stored token (or an interactive login) is used.
	Token string

	// DBPath is the SQLite file for client-side state.
	DBPath string

	// Model overrides the backend's default model when non-empty.
	Model string

	// TTSBackend selects the synthesis backend when non-empty.
	TTSBackend string

	// ConnectTimeout bounds the WebSocket handshake.
	ConnectTimeout time.Duration

	// BackoffBase and BackoffCap shape the reconnect delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// SilenceTimeout is how long the voice machine waits in silence
	// before closing a speech segment.
	SilenceTimeout time.Duration

	// IdleTimeout is how long interaction mode survives without
	// activity.
	IdleTimeout time.Duration

	// SpeechThreshold is the VAD probability above which a frame counts
	// as speech.
	SpeechThreshold float64

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (Config, error) {
	cfg := Config{
		BackendURL:      getEnv("KURISU_BACKEND_URL", "http://localhost:8000"),
		Token:           os.Getenv("KURISU_TOKEN"),
		DBPath:          getEnv("KURISU_DB_PATH", "kurisu.db"),
		Model:           os.Getenv("KURISU_MODEL"),
		TTSBackend:      os.Getenv("KURISU_TTS_BACKEND"),
		ConnectTimeout:  getDuration("KURISU_CONNECT_TIMEOUT", 15*time.Second),
		BackoffBase:     getDuration("KURISU_BACKOFF_BASE", time.Second),
		BackoffCap:      getDuration("KURISU_BACKOFF_CAP", 10*time.Second),
		SilenceTimeout:  getDuration("KURISU_SILENCE_TIMEOUT", 1500*time.Millisecond),
		IdleTimeout:     getDuration("KURISU_IDLE_TIMEOUT", 30*time.Second),
		SpeechThreshold: getFloat("KURISU_SPEECH_THRESHOLD", 0.5),
		LogLevel:        getEnv("KURISU_LOG_LEVEL", "info"),
	}

	if cfg.BackendURL == "" {
		return cfg, fmt.Errorf("KURISU_BACKEND_URL must not be empty")
	}
	if cfg.BackoffBase > cfg.BackoffCap {
		return cfg, fmt.Errorf("KURISU_BACKOFF_BASE (%v) exceeds KURISU_BACKOFF_CAP (%v)", cfg.BackoffBase, cfg.BackoffCap)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return cfg, fmt.Errorf("KURISU_SPEECH_THRESHOLD must be in (0, 1), got %v", cfg.SpeechThreshold)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
