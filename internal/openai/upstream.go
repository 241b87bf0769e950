// Package openai talks to the OpenAI endpoints GAIA's server routes proxy:
// realtime client secrets, Whisper transcription, and chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/protocol"
)

// ClientSecret is an ephemeral realtime credential minted for one browser
// or CLI connect.
type ClientSecret struct {
	Value     string
	ExpiresAt int64
}

// AudioFile is an uploaded clip forwarded to transcription.
type AudioFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Upstream is the model provider behind the HTTP routes.
type Upstream interface {
	MintClientSecret(ctx context.Context) (ClientSecret, error)
	Transcribe(ctx context.Context, file AudioFile) (string, error)
	// Complete answers message given prior turns. Implementations prepend
	// the persona system prompt.
	Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error)
}

var (
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")
	ErrEmptyReply    = errors.New("completion returned no content")
)

// Config controls upstream construction.
type Config struct {
	Mode               string
	APIKey             string
	BaseURL            string
	RealtimeModel      string
	TranscribeModel    string
	TranscribeLanguage string
	ChatModel          string
	ChatMaxTokens      int
	ChatTemperature    float64
	HistoryLimit       int
	Timeout            time.Duration
	Persona            persona.Persona
}

// NewUpstream picks an implementation by mode. "auto" uses OpenAI when an
// API key is present and the mock otherwise.
func NewUpstream(cfg Config) (Upstream, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewClient(cfg), nil
		}
		return NewMockUpstream(cfg.Persona), nil
	case "openai":
		// A missing key is reported per request as config_error, matching
		// how the routes surface it to clients.
		return NewClient(cfg), nil
	case "mock":
		return NewMockUpstream(cfg.Persona), nil
	default:
		return nil, fmt.Errorf("unsupported upstream mode %q", cfg.Mode)
	}
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Op        string
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no detail"
	}
	if e.Code != "" {
		return fmt.Sprintf("openai %s status %d (%s): %s", e.Op, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("openai %s status %d: %s", e.Op, e.Status, msg)
}

// lastTurns keeps at most n trailing turns.
func lastTurns(history []protocol.ChatTurn, n int) []protocol.ChatTurn {
	if n > 0 && len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
