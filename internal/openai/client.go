package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/protocol"
	"github.com/ent0n29/gaia/internal/reliability"
)

const (
	DefaultBaseURL            = "https://api.openai.com/v1"
	DefaultRealtimeModel      = "gpt-4o-realtime-preview-2024-10-01"
	DefaultTranscribeModel    = "whisper-1"
	DefaultTranscribeLanguage = "es"
	DefaultChatModel          = "gpt-4o-mini"
	DefaultChatMaxTokens      = 500
	DefaultChatTemperature    = 0.7
	DefaultHistoryLimit       = 10
)

// Client calls the OpenAI REST API with the server's key.
type Client struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RealtimeModel == "" {
		cfg.RealtimeModel = DefaultRealtimeModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.TranscribeLanguage == "" {
		cfg.TranscribeLanguage = DefaultTranscribeLanguage
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.ChatMaxTokens <= 0 {
		cfg.ChatMaxTokens = DefaultChatMaxTokens
	}
	if cfg.ChatTemperature <= 0 {
		cfg.ChatTemperature = DefaultChatTemperature
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Persona.Name == "" {
		cfg.Persona = persona.Default()
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type clientSecretRequest struct {
	Session realtimeSession `json:"session"`
}

type realtimeSession struct {
	Type         string         `json:"type"`
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Audio        *realtimeAudio `json:"audio,omitempty"`
}

type realtimeAudio struct {
	Output struct {
		Voice string `json:"voice"`
	} `json:"output"`
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// MintClientSecret requests an ephemeral realtime secret preloaded with the
// persona instructions and voice.
func (c *Client) MintClientSecret(ctx context.Context) (ClientSecret, error) {
	const op = "client_secrets"
	if err := c.requireKey(); err != nil {
		return ClientSecret{}, err
	}

	body := clientSecretRequest{Session: realtimeSession{
		Type:         "realtime",
		Model:        c.cfg.RealtimeModel,
		Instructions: c.cfg.Persona.Instructions(),
	}}
	if v := strings.TrimSpace(c.cfg.Persona.Voice); v != "" {
		body.Session.Audio = &realtimeAudio{}
		body.Session.Audio.Output.Voice = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ClientSecret{}, fmt.Errorf("marshal request: %w", err)
	}

	var out clientSecretResponse
	if err := c.doJSON(ctx, op, "/realtime/client_secrets", payload, &out); err != nil {
		return ClientSecret{}, err
	}
	if strings.TrimSpace(out.Value) == "" {
		return ClientSecret{}, &APIError{Op: op, Status: http.StatusBadGateway, Message: "response carried no client secret"}
	}
	return ClientSecret{Value: out.Value, ExpiresAt: out.ExpiresAt}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sends file to the transcription model in the configured
// language.
func (c *Client) Transcribe(ctx context.Context, file AudioFile) (string, error) {
	const op = "transcriptions"
	if err := c.requireKey(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := file.Name
	if name == "" {
		name = "recording.wav"
	}
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.TranscribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("language", c.cfg.TranscribeLanguage); err != nil {
		return "", fmt.Errorf("write language field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	var out transcriptionResponse
	if err := c.do(ctx, op, "/audio/transcriptions", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []protocol.ChatTurn `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends system prompt, the last HistoryLimit turns and message.
func (c *Client) Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error) {
	const op = "chat.completions"
	if err := c.requireKey(); err != nil {
		return "", err
	}

	history = lastTurns(history, c.cfg.HistoryLimit)
	msgs := make([]protocol.ChatTurn, 0, len(history)+2)
	msgs = append(msgs, protocol.ChatTurn{Role: "system", Content: c.cfg.Persona.Instructions()})
	msgs = append(msgs, history...)
	msgs = append(msgs, protocol.ChatTurn{Role: "user", Content: message})

	payload, err := json.Marshal(chatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    msgs,
		MaxTokens:   c.cfg.ChatMaxTokens,
		Temperature: c.cfg.ChatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out chatCompletionResponse
	if err := c.doJSON(ctx, op, "/chat/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) requireKey() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, path string, payload []byte, out any) error {
	return c.do(ctx, op, path, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) do(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return newAPIError(op, res.StatusCode, raw)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newAPIError(op string, status int, raw []byte) *APIError {
	e := &APIError{Op: op, Status: status, Retryable: reliability.IsRetryableHTTPStatus(status)}
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		e.Message = body.Error.Message
		e.Code = body.Error.Code
		if e.Code == "" {
			e.Code = body.Error.Type
		}
		return e
	}
	e.Message = strings.TrimSpace(string(raw))
	return e
}
