package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/protocol"
)

func TestMintReturnsFreshCredential(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, TokenPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"client_secret":"ek_secret_%d","expires_at":1900000000}`, calls)
	}))
	defer ts.Close()

	c := New(ts.URL)
	first, err := c.Mint(context.Background())
	require.NoError(t, err)
	second, err := c.Mint(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "credentials must not be cached")
	assert.Equal(t, "ek_secret_1", first.Secret)
	assert.Equal(t, "ek_secret_2", second.Secret)
	assert.Equal(t, int64(1900000000), first.ExpiresAt.Unix())
	assert.NotContains(t, first.String(), "ek_secret")
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", first, first, first), "ek_secret")
}

func TestMintConfigErrorIsNotRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"OPENAI_API_KEY is not configured","code":"config_error"}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Mint(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfig), "err = %v", err)
	assert.False(t, failure.IsRetryable(err))
}

func TestMintUpstreamStatusIsAuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"upstream failed","code":"upstream_error"}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Mint(context.Background())
	assert.True(t, errors.Is(err, failure.ErrAuth), "err = %v", err)
	assert.True(t, failure.IsRetryable(err))
}

func TestMintEmptySecretIsAuthError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"client_secret":"","expires_at":0}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Mint(context.Background())
	assert.True(t, errors.Is(err, failure.ErrAuth), "err = %v", err)
}

func TestMintTransportFailureIsUpstreamUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := New(url).Mint(context.Background())
	assert.True(t, errors.Is(err, failure.ErrUpstreamUnavailable), "err = %v", err)
}

func TestMintTimeoutIsUpstreamUnavailable(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(ts.URL).Mint(ctx)
	assert.True(t, errors.Is(err, failure.ErrUpstreamUnavailable), "err = %v", err)
}

func TestTranscribeSendsMultipartAudio(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("audio")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "recording.wav", hdr.Filename)
		assert.Equal(t, "RIFFdata", string(data))
		_ = json.NewEncoder(w).Encode(protocol.TranscriptionResponse{Transcription: "¿Qué es GUAICARAMO?"})
	}))
	defer ts.Close()

	text, err := New(ts.URL).Transcribe(context.Background(), &audio.Clip{Data: []byte("RIFFdata"), MimeType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "¿Qué es GUAICARAMO?", text)
}

func TestTranscribeValidatesClip(t *testing.T) {
	c := New("http://127.0.0.1:0", WithMaxClipBytes(4))

	_, err := c.Transcribe(context.Background(), &audio.Clip{})
	assert.True(t, errors.Is(err, failure.ErrInvalidInput))

	_, err = c.Transcribe(context.Background(), &audio.Clip{Data: []byte("too large")})
	assert.True(t, errors.Is(err, failure.ErrInvalidInput))
}

func TestTranscribeEmptyTextReturnedAsIs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"transcription":""}`)
	}))
	defer ts.Close()

	text, err := New(ts.URL).Transcribe(context.Background(), &audio.Clip{Data: []byte("x"), MimeType: "audio/webm"})
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestTranscribeNon2xxIsUpstreamUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Transcribe(context.Background(), &audio.Clip{Data: []byte("x")})
	assert.True(t, errors.Is(err, failure.ErrUpstreamUnavailable), "err = %v", err)
}

func TestCompletePreservesHistoryOrder(t *testing.T) {
	history := []protocol.ChatTurn{
		{Role: "assistant", Content: "¡Hola!"},
		{Role: "user", Content: "hola"},
		{Role: "user", Content: "hola"},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ChatPath, r.URL.Path)
		var req protocol.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "¿Qué es GUAICARAMO?", req.Message)
		assert.Equal(t, history, req.Messages)
		_ = json.NewEncoder(w).Encode(protocol.ChatResponse{Message: "GUAICARAMO es una empresa palmicultora."})
	}))
	defer ts.Close()

	reply, err := New(ts.URL).Complete(context.Background(), history, "¿Qué es GUAICARAMO?")
	require.NoError(t, err)
	assert.Equal(t, "GUAICARAMO es una empresa palmicultora.", reply)
}

func TestCompleteSendsEmptyHistoryAsArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(raw), `"messages":[]`), "body = %s", raw)
		_, _ = io.WriteString(w, `{"message":"ok"}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Complete(context.Background(), nil, "hola")
	require.NoError(t, err)
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "missing message", status: http.StatusOK, body: `{"timestamp":"2025-01-01T00:00:00Z"}`, want: failure.ErrEmptyResponse},
		{name: "blank message", status: http.StatusOK, body: `{"message":"  "}`, want: failure.ErrEmptyResponse},
		{name: "server empty response", status: http.StatusInternalServerError, body: `{"error":"no content","code":"empty_response"}`, want: failure.ErrEmptyResponse},
		{name: "upstream failure", status: http.StatusInternalServerError, body: `{"error":"boom","code":"upstream_error"}`, want: failure.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := New(ts.URL).Complete(context.Background(), nil, "hola")
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}
}

func TestCompleteCancelledIsSilentKind(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(ts.URL).Complete(ctx, nil, "hola")
	assert.True(t, failure.IsCancelled(err), "err = %v", err)
}
