package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/protocol"
)

func newChatSocketServer(t *testing.T, handle func(conn *websocket.Conn, req protocol.ChatRequestFrame)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ChatWSPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.SessionReady{Type: protocol.TypeSessionReady, SessionID: "s1"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				continue
			}
			handle(conn, msg.(protocol.ChatRequestFrame))
		}
	}))
}

func TestWSCompleterMatchesReplies(t *testing.T) {
	ts := newChatSocketServer(t, func(conn *websocket.Conn, req protocol.ChatRequestFrame) {
		_ = conn.WriteJSON(protocol.ChatReplyFrame{
			Type:      protocol.TypeChatReply,
			RequestID: req.RequestID,
			Message:   "eco: " + req.Message,
			Timestamp: time.Now().UTC(),
		})
	})
	defer ts.Close()

	c := NewWSCompleter(ts.URL)
	defer c.Close()

	for _, msg := range []string{"uno", "dos"} {
		reply, err := c.Complete(context.Background(), nil, msg)
		require.NoError(t, err)
		assert.Equal(t, "eco: "+msg, reply)
	}
}

func TestWSCompleterMapsErrorEvents(t *testing.T) {
	ts := newChatSocketServer(t, func(conn *websocket.Conn, req protocol.ChatRequestFrame) {
		_ = conn.WriteJSON(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			RequestID: req.RequestID,
			Code:      protocol.CodeEmptyResponse,
			Detail:    "no content",
		})
	})
	defer ts.Close()

	c := NewWSCompleter(ts.URL)
	defer c.Close()

	_, err := c.Complete(context.Background(), nil, "hola")
	assert.True(t, errors.Is(err, failure.ErrEmptyResponse), "err = %v", err)
}

func TestWSCompleterCancelAbandonsRequest(t *testing.T) {
	ts := newChatSocketServer(t, func(*websocket.Conn, protocol.ChatRequestFrame) {})
	defer ts.Close()

	c := NewWSCompleter(ts.URL)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, nil, "hola")
	assert.True(t, errors.Is(err, failure.ErrUpstreamUnavailable), "err = %v", err)
}

func TestWSCompleterClosedRejects(t *testing.T) {
	c := NewWSCompleter("http://127.0.0.1:0")
	require.NoError(t, c.Close())
	_, err := c.Complete(context.Background(), nil, "hola")
	assert.True(t, errors.Is(err, failure.ErrNotConnected), "err = %v", err)
}
