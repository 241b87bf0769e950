package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the GAIA backend service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	UpstreamMode             string
	OpenAIAPIKey             string
	OpenAIBaseURL            string
	OpenAIRealtimeModel      string
	OpenAITranscribeModel    string
	OpenAITranscribeLanguage string
	OpenAIChatModel          string
	OpenAIChatMaxTokens      int
	OpenAIChatTemperature    float64
	UpstreamTimeout          time.Duration

	ChatHistoryLimit int
	MaxAudioBytes    int64
	TokenRatePerSec  float64
	TokenRateBurst   int

	DatabaseURL    string
	ArchiveEnabled bool
	// ArchiveToken guards GET /v1/archive/recent. When empty the route only
	// answers loopback callers.
	ArchiveToken string

	PersonaFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "gaia"),
		AllowAnyOrigin:           false,
		UpstreamMode:             envOrDefault("UPSTREAM_MODE", "auto"),
		OpenAIAPIKey:             stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:            envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIRealtimeModel:      envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		OpenAITranscribeModel:    envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		OpenAITranscribeLanguage: envOrDefault("OPENAI_TRANSCRIBE_LANGUAGE", "es"),
		OpenAIChatModel:          envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIChatMaxTokens:      500,
		OpenAIChatTemperature:    0.7,
		UpstreamTimeout:          60 * time.Second,
		ChatHistoryLimit:         10,
		MaxAudioBytes:            25 << 20,
		TokenRatePerSec:          1,
		TokenRateBurst:           5,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ArchiveEnabled:           false,
		ArchiveToken:             stringsTrimSpace("ARCHIVE_TOKEN"),
		PersonaFile:              stringsTrimSpace("GAIA_PERSONA_FILE"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamTimeout, err = durationFromEnv("OPENAI_TIMEOUT", cfg.UpstreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchiveEnabled, err = boolFromEnv("ARCHIVE_ENABLED", cfg.DatabaseURL != "")
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAIChatMaxTokens, err = intFromEnv("OPENAI_CHAT_MAX_TOKENS", cfg.OpenAIChatMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAIChatTemperature, err = floatFromEnv("OPENAI_CHAT_TEMPERATURE", cfg.OpenAIChatTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatHistoryLimit, err = intFromEnv("CHAT_HISTORY_LIMIT", cfg.ChatHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	maxAudio, err := intFromEnv("MAX_AUDIO_BYTES", int(cfg.MaxAudioBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioBytes = int64(maxAudio)
	cfg.TokenRatePerSec, err = floatFromEnv("TOKEN_RATE_PER_SEC", cfg.TokenRatePerSec)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenRateBurst, err = intFromEnv("TOKEN_RATE_BURST", cfg.TokenRateBurst)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(cfg.UpstreamMode) {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("UPSTREAM_MODE must be one of auto, openai, mock")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ChatHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive")
	}
	if cfg.OpenAIChatMaxTokens <= 0 {
		return Config{}, fmt.Errorf("OPENAI_CHAT_MAX_TOKENS must be positive")
	}
	if cfg.OpenAIChatTemperature < 0 || cfg.OpenAIChatTemperature > 2 {
		return Config{}, fmt.Errorf("OPENAI_CHAT_TEMPERATURE must be within [0, 2]")
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_AUDIO_BYTES must be positive")
	}
	if cfg.TokenRatePerSec <= 0 || cfg.TokenRateBurst <= 0 {
		return Config{}, fmt.Errorf("TOKEN_RATE_PER_SEC and TOKEN_RATE_BURST must be positive")
	}

	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
