package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/backend"
	"github.com/ent0n29/gaia/internal/failure"
)

type micStream struct {
	ch   chan []byte
	once sync.Once
}

func (s *micStream) Chunks() <-chan []byte { return s.ch }
func (s *micStream) Format() audio.Format {
	return audio.Format{Encoding: audio.EncodingPCM16LE, SampleRate: 24000}
}
func (s *micStream) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type micDevice struct {
	mu      sync.Mutex
	streams []*micStream
}

func (d *micDevice) Open(context.Context) (audio.Stream, error) {
	s := &micStream{ch: make(chan []byte, 8)}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

type realtimeServer struct {
	mu     sync.Mutex
	auth   string
	model  string
	events []string
	conn   *websocket.Conn
}

func (s *realtimeServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *realtimeServer) handler(t *testing.T, reject bool) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.model = r.URL.Query().Get("model")
		s.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		_ = conn.WriteJSON(map[string]any{"type": "session.created"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			typ, _ := ev["type"].(string)
			s.mu.Lock()
			s.events = append(s.events, typ)
			s.mu.Unlock()
			if typ == "response.create" {
				_ = conn.WriteJSON(map[string]any{
					"type":       "response.output_audio_transcript.done",
					"transcript": "GUAICARAMO es una empresa palmicultora.",
				})
			}
		}
	})
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestRealtimeDialerStreamsAudioAndCommits(t *testing.T) {
	srv := &realtimeServer{}
	ts := httptest.NewServer(srv.handler(t, false))
	defer ts.Close()

	mic := &micDevice{}
	transcripts := make(chan string, 1)
	d := NewRealtimeDialer(wsURL(ts.URL), "gpt-realtime", mic)
	d.OnTranscript = func(text string) { transcripts <- text }

	cred := backend.Credential{Secret: "ek_dial_secret", ExpiresAt: time.Now().Add(time.Minute)}
	conn, err := d.Dial(context.Background(), cred, Handle{ID: "h1"})
	require.NoError(t, err)
	defer conn.Close()

	srv.mu.Lock()
	assert.Equal(t, "Bearer ek_dial_secret", srv.auth)
	assert.Equal(t, "gpt-realtime", srv.model)
	srv.mu.Unlock()

	require.NoError(t, conn.StartListening(context.Background()))
	mic.mu.Lock()
	stream := mic.streams[0]
	mic.mu.Unlock()
	stream.ch <- []byte{1, 2, 3, 4}

	require.Eventually(t, func() bool {
		for _, ev := range srv.seen() {
			if ev == "input_audio_buffer.append" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.StopListening(context.Background()))

	select {
	case text := <-transcripts:
		assert.Equal(t, "GUAICARAMO es una empresa palmicultora.", text)
	case <-time.After(2 * time.Second):
		t.Fatalf("no transcript received")
	}

	events := srv.seen()
	assert.Equal(t, "session.update", events[0])
	assert.Contains(t, events, "input_audio_buffer.commit")
	assert.Contains(t, events, "response.create")

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	default:
		t.Fatalf("Done should be closed after Close")
	}
}

func TestRealtimeDialerRejectedHandshakeIsAuthError(t *testing.T) {
	srv := &realtimeServer{}
	ts := httptest.NewServer(srv.handler(t, true))
	defer ts.Close()

	d := NewRealtimeDialer(wsURL(ts.URL), "", &micDevice{})
	_, err := d.Dial(context.Background(), backend.Credential{Secret: "ek_x"}, Handle{ID: "h1"})
	assert.True(t, errors.Is(err, failure.ErrAuth), "err = %v", err)
}

func TestRealtimeDialerRejectsExpiredCredential(t *testing.T) {
	d := NewRealtimeDialer("ws://127.0.0.1:1", "", nil)
	_, err := d.Dial(context.Background(), backend.Credential{Secret: "ek_x", ExpiresAt: time.Now().Add(-time.Second)}, Handle{})
	assert.True(t, errors.Is(err, failure.ErrAuth), "err = %v", err)
}

func TestRealtimeConnReportsServerDrop(t *testing.T) {
	srv := &realtimeServer{}
	ts := httptest.NewServer(srv.handler(t, false))
	defer ts.Close()

	d := NewRealtimeDialer(wsURL(ts.URL), "", &micDevice{})
	conn, err := d.Dial(context.Background(), backend.Credential{Secret: "ek_x"}, Handle{ID: "h1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.conn != nil
	}, time.Second, 5*time.Millisecond)
	srv.mu.Lock()
	_ = srv.conn.Close()
	srv.mu.Unlock()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Done not closed after server drop")
	}
	assert.Error(t, conn.Err())
	_ = conn.Close()
}
