package voice

import (
	"context"
	"sync"

	"github.com/ent0n29/gaia/internal/backend"
)

// MockDialer opens offline sessions for local development when no realtime
// endpoint is reachable. Every listen/stop cycle yields a canned transcript.
type MockDialer struct {
	OnTranscript func(text string)
}

func NewMockDialer() *MockDialer { return &MockDialer{} }

func (d *MockDialer) Dial(ctx context.Context, _ backend.Credential, _ Handle) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mockConn{done: make(chan struct{}), onTranscript: d.OnTranscript}, nil
}

type mockConn struct {
	mu           sync.Mutex
	listening    bool
	turns        int
	closed       bool
	done         chan struct{}
	onTranscript func(string)
}

func (c *mockConn) StartListening(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = true
	return nil
}

func (c *mockConn) StopListening(context.Context) error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.listening = false
	c.turns++
	hook := c.onTranscript
	c.mu.Unlock()

	if hook != nil {
		hook("Te escucho. Esta es una sesión de voz simulada.")
	}
	return nil
}

func (c *mockConn) Done() <-chan struct{} { return c.done }
func (c *mockConn) Err() error            { return nil }

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.listening = false
	close(c.done)
	return nil
}
