package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes carried in ErrorResponse.Code and ErrorEvent.Code.
const (
	CodeConfigError    = "config_error"
	CodeUpstreamError  = "upstream_error"
	CodeInvalidRequest = "invalid_request"
	CodeMissingAudio   = "missing_audio"
	CodeAudioTooLarge  = "audio_too_large"
	CodeEmptyResponse  = "empty_response"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// TokenResponse is returned by POST /api/gaia-token.
type TokenResponse struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
}

// TranscriptionResponse is returned by POST /api/transcribe-audio.
type TranscriptionResponse struct {
	Transcription string    `json:"transcription"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChatTurn is one prior message sent as completion context.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/gaia-chat.
type ChatRequest struct {
	Message  string     `json:"message"`
	Messages []ChatTurn `json:"messages"`
}

// ChatResponse is returned by POST /api/gaia-chat.
type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageType identifies websocket payload variants on /api/gaia-chat/ws.
type MessageType string

const (
	TypeChatRequest  MessageType = "chat_request"
	TypeChatReply    MessageType = "chat_reply"
	TypeSessionReady MessageType = "session_ready"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ChatRequestFrame struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Message   string      `json:"message"`
	Messages  []ChatTurn  `json:"messages"`
}

type ChatReplyFrame struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

type SessionReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes a frame sent by a chat websocket client.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatRequest:
		var msg ChatRequestFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.RequestID == "" || strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_request")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerMessage decodes a frame sent by the chat websocket server.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatReply:
		var msg ChatReplyFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSessionReady:
		var msg SessionReady
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeErrorEvent:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
