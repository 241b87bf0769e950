// Package backend holds the HTTP clients the GAIA session controllers use to
// reach gaiad: credential minting, clip transcription and chat completion.
// Every failure is returned as a classified *failure.Error.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/protocol"
)

const (
	TokenPath      = "/api/gaia-token"
	TranscribePath = "/api/transcribe-audio"
	ChatPath       = "/api/gaia-chat"
	ChatWSPath     = "/api/gaia-chat/ws"

	// DefaultMaxClipBytes matches the upstream transcription upload limit.
	DefaultMaxClipBytes = 25 << 20

	defaultTimeout = 60 * time.Second
	errorBodyLimit = 4 << 10
)

// Credential is a short-lived realtime secret. It is requested fresh for
// every voice connect and must never be cached or logged.
type Credential struct {
	Secret    string
	ExpiresAt time.Time
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{expires_at=%s}", c.ExpiresAt.Format(time.RFC3339))
}

func (c Credential) GoString() string { return c.String() }

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(slog.Time("expires_at", c.ExpiresAt))
}

// Expired reports whether the credential is past its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMaxClipBytes caps the size of clips accepted by Transcribe.
func WithMaxClipBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxClip = n
		}
	}
}

// Client talks to the gaiad HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	maxClip int
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		maxClip: DefaultMaxClipBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint requests a fresh ephemeral credential. Nothing is cached.
func (c *Client) Mint(ctx context.Context) (Credential, error) {
	const op = "mint credential"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, nil)
	if err != nil {
		return Credential{}, failure.Wrap(failure.KindConfig, op, err)
	}
	res, err := c.do(op, req)
	if err != nil {
		return Credential{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := readError(res)
		if apiErr.Code == protocol.CodeConfigError {
			return Credential{}, failure.New(failure.KindConfig, op, "server is missing its upstream secret")
		}
		return Credential{}, failure.New(failure.KindAuth, op, fmt.Sprintf("status %d: %s", res.StatusCode, apiErr.Error))
	}

	var body protocol.TokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Credential{}, failure.Wrap(failure.KindAuth, op, fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(body.ClientSecret) == "" {
		return Credential{}, failure.New(failure.KindAuth, op, "response carried no client secret")
	}

	cred := Credential{Secret: body.ClientSecret}
	if body.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(body.ExpiresAt, 0).UTC()
	}
	logger.Debug("credential minted", "credential", cred)
	return cred, nil
}

// Transcribe uploads clip as a single multipart "audio" part and returns
// the recognized text. An empty transcription is returned as-is.
func (c *Client) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	const op = "transcribe"

	if clip == nil || len(clip.Data) == 0 {
		return "", failure.New(failure.KindInvalidInput, op, "clip is empty")
	}
	if len(clip.Data) > c.maxClip {
		return "", failure.New(failure.KindInvalidInput, op,
			fmt.Sprintf("clip is %d bytes, limit is %d", len(clip.Data), c.maxClip))
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", clipFilename(clip))
	if err != nil {
		return "", failure.Wrap(failure.KindInvalidInput, op, err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", failure.Wrap(failure.KindInvalidInput, op, err)
	}
	if err := w.Close(); err != nil {
		return "", failure.Wrap(failure.KindInvalidInput, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TranscribePath, &buf)
	if err != nil {
		return "", failure.Wrap(failure.KindConfig, op, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := readError(res)
		return "", failure.New(failure.KindUpstreamUnavailable, op, fmt.Sprintf("status %d: %s", res.StatusCode, apiErr.Error))
	}

	var body protocol.TranscriptionResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", failure.Wrap(failure.KindUpstreamUnavailable, op, fmt.Errorf("decode response: %w", err))
	}
	return body.Transcription, nil
}

// Complete sends message with history, in order and untouched, and returns
// the assistant reply. Truncating history is the caller's job.
func (c *Client) Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error) {
	const op = "complete"

	if history == nil {
		history = []protocol.ChatTurn{}
	}
	payload, err := json.Marshal(protocol.ChatRequest{Message: message, Messages: history})
	if err != nil {
		return "", failure.Wrap(failure.KindInvalidInput, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(payload))
	if err != nil {
		return "", failure.Wrap(failure.KindConfig, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := readError(res)
		if apiErr.Code == protocol.CodeEmptyResponse {
			return "", failure.New(failure.KindEmptyResponse, op, "assistant returned no content")
		}
		return "", failure.New(failure.KindUpstreamUnavailable, op, fmt.Sprintf("status %d: %s", res.StatusCode, apiErr.Error))
	}

	var body protocol.ChatResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", failure.Wrap(failure.KindUpstreamUnavailable, op, fmt.Errorf("decode response: %w", err))
	}
	if strings.TrimSpace(body.Message) == "" {
		return "", failure.New(failure.KindEmptyResponse, op, "assistant returned no content")
	}
	return body.Message, nil
}

func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, failure.FromContext(op, ctxErr)
		}
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, failure.New(failure.KindUpstreamUnavailable, op, "timed out")
		}
		return nil, failure.Wrap(failure.KindUpstreamUnavailable, op, err)
	}
	logger.Debug("backend call", "op", op, "status", res.StatusCode, "elapsed_ms", time.Since(started).Milliseconds())
	return res, nil
}

func readError(res *http.Response) protocol.ErrorResponse {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
	var out protocol.ErrorResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Error == "" {
		out.Error = strings.TrimSpace(string(raw))
	}
	if out.Error == "" {
		out.Error = http.StatusText(res.StatusCode)
	}
	return out
}

func clipFilename(clip *audio.Clip) string {
	ext := "bin"
	switch {
	case strings.Contains(clip.MimeType, "wav"):
		ext = "wav"
	case strings.Contains(clip.MimeType, "webm"):
		ext = "webm"
	case strings.Contains(clip.MimeType, "ogg"):
		ext = "ogg"
	case strings.Contains(clip.MimeType, "mpeg"), strings.Contains(clip.MimeType, "mp3"):
		ext = "mp3"
	}
	return "recording." + ext
}
