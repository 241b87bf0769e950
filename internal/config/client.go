package config

import (
	"fmt"
	"strings"
	"time"
)

// ClientConfig contains settings for the gaia terminal client.
type ClientConfig struct {
	ServerURL         string
	RealtimeURL       string
	RealtimeModel     string
	ConnectTimeout    time.Duration
	CompletionTimeout time.Duration
	MinClipBytes      int
	MaxClipBytes      int64
	HistoryLimit      int
	ChatTransport     string
	VoiceMode         string
	PersonaFile       string
}

// LoadClient reads the client's environment variables.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:         strings.TrimRight(envOrDefault("GAIA_SERVER_URL", "http://localhost:8080"), "/"),
		RealtimeURL:       envOrDefault("GAIA_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:     stringsTrimSpace("GAIA_REALTIME_MODEL"),
		ConnectTimeout:    15 * time.Second,
		CompletionTimeout: 60 * time.Second,
		MinClipBytes:      1024,
		MaxClipBytes:      25 << 20,
		HistoryLimit:      10,
		ChatTransport:     strings.ToLower(envOrDefault("GAIA_CHAT_TRANSPORT", "http")),
		VoiceMode:         strings.ToLower(envOrDefault("GAIA_VOICE_MODE", "realtime")),
		PersonaFile:       stringsTrimSpace("GAIA_PERSONA_FILE"),
	}
	var err error
	cfg.ConnectTimeout, err = durationFromEnv("GAIA_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("GAIA_COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.MinClipBytes, err = intFromEnv("GAIA_MIN_CLIP_BYTES", cfg.MinClipBytes)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("CHAT_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return ClientConfig{}, err
	}

	switch cfg.ChatTransport {
	case "http", "ws":
	default:
		return ClientConfig{}, fmt.Errorf("GAIA_CHAT_TRANSPORT must be http or ws")
	}
	switch cfg.VoiceMode {
	case "realtime", "mock":
	default:
		return ClientConfig{}, fmt.Errorf("GAIA_VOICE_MODE must be realtime or mock")
	}
	if cfg.ConnectTimeout <= 0 || cfg.CompletionTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("GAIA_CONNECT_TIMEOUT and GAIA_COMPLETION_TIMEOUT must be positive")
	}
	if cfg.MinClipBytes <= 0 {
		return ClientConfig{}, fmt.Errorf("GAIA_MIN_CLIP_BYTES must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return ClientConfig{}, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive")
	}
	return cfg, nil
}
