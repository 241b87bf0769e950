package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/backend"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/reliability"
)

const (
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"

	realtimeSampleRate   = 24000
	realtimeReadLimit    = 16 << 20
	realtimeWriteTimeout = 10 * time.Second
	realtimeCloseGrace   = 2 * time.Second
)

// realtimeEvent is the subset of server event fields GAIA reads.
type realtimeEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RealtimeDialer opens OpenAI realtime sessions over a websocket
// authenticated with the ephemeral credential, and streams microphone PCM
// while listening.
type RealtimeDialer struct {
	URL          string
	Model        string
	Mic          audio.Device
	PushToTalk   bool
	OnTranscript func(text string)

	dialer *websocket.Dialer
}

func NewRealtimeDialer(rawURL, model string, mic audio.Device) *RealtimeDialer {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultRealtimeURL
	}
	return &RealtimeDialer{
		URL:        rawURL,
		Model:      model,
		Mic:        mic,
		PushToTalk: true,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (d *RealtimeDialer) Dial(ctx context.Context, cred backend.Credential, h Handle) (Conn, error) {
	const op = "dial realtime"

	if cred.Expired(time.Now()) {
		return nil, failure.New(failure.KindAuth, op, "credential expired before dial")
	}
	target, err := d.target()
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, op, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Secret)

	ws, res, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.FromContext(op, ctxErr)
		}
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return nil, failure.New(failure.KindAuth, op, fmt.Sprintf("handshake rejected with status %d", res.StatusCode))
		}
		return nil, failure.Wrap(failure.KindUpstreamUnavailable, op, err)
	}
	ws.SetReadLimit(realtimeReadLimit)

	if err := awaitSessionCreated(ctx, ws); err != nil {
		_ = ws.Close()
		return nil, err
	}

	c := &realtimeConn{
		ws:           ws,
		handle:       h,
		mic:          d.Mic,
		onTranscript: d.OnTranscript,
		done:         make(chan struct{}),
	}
	if d.PushToTalk {
		update := map[string]any{
			"type": "session.update",
			"session": map[string]any{
				"type": "realtime",
				"audio": map[string]any{
					"input": map[string]any{"turn_detection": nil},
				},
			},
		}
		if err := c.send(update); err != nil {
			_ = ws.Close()
			return nil, failure.Wrap(failure.KindUpstreamUnavailable, op, err)
		}
	}
	go c.readLoop()
	return c, nil
}

func (d *RealtimeDialer) target() (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("realtime url must be ws or wss, got %q", u.Scheme)
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func awaitSessionCreated(ctx context.Context, ws *websocket.Conn) error {
	const op = "await realtime session"

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
		defer ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		var ev realtimeEvent
		if err := ws.ReadJSON(&ev); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return failure.FromContext(op, ctxErr)
			}
			return failure.Wrap(failure.KindUpstreamUnavailable, op, err)
		}
		switch ev.Type {
		case "session.created":
			return nil
		case "error":
			if ev.Error != nil {
				return failure.New(failure.KindAuth, op, ev.Error.Message)
			}
			return failure.New(failure.KindAuth, op, "session rejected")
		}
	}
}

type realtimeConn struct {
	ws           *websocket.Conn
	handle       Handle
	mic          audio.Device
	onTranscript func(string)

	writeMu sync.Mutex

	mu       sync.Mutex
	stream   audio.Stream
	pumpDone chan struct{}
	closing  bool
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *realtimeConn) Done() <-chan struct{} { return c.done }

func (c *realtimeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *realtimeConn) StartListening(ctx context.Context) error {
	if c.mic == nil {
		return failure.Wrap(failure.KindDevice, "start listening", audio.ErrDeviceUnavailable)
	}
	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	stream, err := c.mic.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return failure.FromContext("start listening", ctx.Err())
		}
		return failure.Wrap(failure.KindDevice, "start listening", err)
	}
	if f := stream.Format(); !f.IsPCM() || (f.SampleRate != 0 && f.SampleRate != realtimeSampleRate) {
		logger.Warn("microphone format differs from realtime input", "encoding", f.Encoding, "sample_rate", f.SampleRate)
	}

	c.mu.Lock()
	if c.closing || c.stream != nil {
		c.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	c.stream = stream
	c.pumpDone = make(chan struct{})
	done := c.pumpDone
	c.mu.Unlock()

	go c.pump(stream, done)
	return nil
}

func (c *realtimeConn) pump(stream audio.Stream, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		ev := map[string]any{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(chunk),
		}
		if err := c.send(ev); err != nil {
			logger.Warn("streaming microphone audio failed", "handle", c.handle.ID, "error", err)
			_ = stream.Close()
			for range stream.Chunks() {
			}
			return
		}
	}
}

func (c *realtimeConn) StopListening(context.Context) error {
	if !c.stopMic() {
		return nil
	}
	if err := c.send(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return failure.Wrap(failure.KindUpstreamUnavailable, "stop listening", err)
	}
	if err := c.send(map[string]any{"type": "response.create"}); err != nil {
		return failure.Wrap(failure.KindUpstreamUnavailable, "stop listening", err)
	}
	return nil
}

// stopMic releases the microphone and waits for the pump to drain. It
// reports whether a stream was open.
func (c *realtimeConn) stopMic() bool {
	c.mu.Lock()
	stream := c.stream
	done := c.pumpDone
	c.stream = nil
	c.pumpDone = nil
	c.mu.Unlock()
	if stream == nil {
		return false
	}
	if err := stream.Close(); err != nil {
		logger.Warn("microphone release reported an error", "error", err)
	}
	<-done
	return true
}

func (c *realtimeConn) send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(realtimeWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *realtimeConn) readLoop() {
	defer c.finish()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			c.mu.Unlock()
			return
		}
		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "response.output_audio_transcript.done", "response.audio_transcript.done":
			if c.onTranscript != nil && strings.TrimSpace(ev.Transcript) != "" {
				c.onTranscript(ev.Transcript)
			}
		case "error":
			if ev.Error == nil {
				continue
			}
			logger.Warn("realtime session error",
				"handle", c.handle.ID,
				"code", ev.Error.Code,
				"retryable", reliability.IsRetryableRealtimeError(ev.Error.Code),
				"message", ev.Error.Message,
			)
		}
	}
}

func (c *realtimeConn) finish() {
	c.stopMic()
	c.closeOnce.Do(func() { close(c.done) })
}

// Close releases the microphone, closes the socket and waits for the read
// loop to exit.
func (c *realtimeConn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.stopMic()

	c.writeMu.Lock()
	werr := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if werr != nil {
		logger.Debug("realtime close frame not sent", "handle", c.handle.ID, "error", werr)
	}

	select {
	case <-c.done:
	case <-time.After(realtimeCloseGrace):
	}
	cerr := c.ws.Close()
	<-c.done
	if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		return cerr
	}
	return nil
}
