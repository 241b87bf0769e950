package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/protocol"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsReadLimit        = 1 << 20
)

type wsResult struct {
	text string
	err  error
}

// WSCompleter implements the completion contract over one persistent
// websocket to /api/gaia-chat/ws. Replies are matched to requests by
// request_id; the connection is dialed lazily and redialed after a drop.
type WSCompleter struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wsResult
	closed  bool

	writeMu sync.Mutex
}

// NewWSCompleter derives the websocket URL from the gaiad base URL.
func NewWSCompleter(baseURL string) *WSCompleter {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSCompleter{
		url: u + ChatWSPath,
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		pending: make(map[string]chan wsResult),
	}
}

func (w *WSCompleter) Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error) {
	const op = "complete"

	conn, err := w.ensureConn(ctx)
	if err != nil {
		return "", err
	}
	if history == nil {
		history = []protocol.ChatTurn{}
	}

	id := uuid.NewString()
	ch := make(chan wsResult, 1)
	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	frame := protocol.ChatRequestFrame{
		Type:      protocol.TypeChatRequest,
		RequestID: id,
		Message:   message,
		Messages:  history,
	}
	w.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err = conn.WriteJSON(frame)
	w.writeMu.Unlock()
	if err != nil {
		w.drop(conn, err)
		return "", failure.Wrap(failure.KindUpstreamUnavailable, op, err)
	}

	select {
	case res := <-ch:
		return res.text, res.err
	case <-ctx.Done():
		return "", failure.FromContext(op, ctx.Err())
	}
}

// Close tears down the socket and fails every pending request.
func (w *WSCompleter) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	w.drop(conn, errors.New("completer closed"))
	return nil
}

func (w *WSCompleter) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	const op = "dial chat socket"

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, failure.New(failure.KindNotConnected, op, "completer closed")
	}
	if w.conn != nil {
		return w.conn, nil
	}

	conn, res, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.FromContext(op, ctxErr)
		}
		if res != nil {
			return nil, failure.New(failure.KindUpstreamUnavailable, op, fmt.Sprintf("handshake status %d", res.StatusCode))
		}
		return nil, failure.Wrap(failure.KindUpstreamUnavailable, op, err)
	}
	conn.SetReadLimit(wsReadLimit)
	w.conn = conn
	go w.readLoop(conn)
	return conn, nil
}

func (w *WSCompleter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.drop(conn, err)
			return
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			logger.Debug("ignoring chat socket frame", "error", err)
			continue
		}
		switch m := msg.(type) {
		case protocol.SessionReady:
			logger.Debug("chat socket ready", "session_id", m.SessionID)
		case protocol.ChatReplyFrame:
			if strings.TrimSpace(m.Message) == "" {
				w.deliver(m.RequestID, wsResult{err: failure.New(failure.KindEmptyResponse, "complete", "assistant returned no content")})
				continue
			}
			w.deliver(m.RequestID, wsResult{text: m.Message})
		case protocol.ErrorEvent:
			kind := failure.KindUpstreamUnavailable
			switch m.Code {
			case protocol.CodeEmptyResponse:
				kind = failure.KindEmptyResponse
			case protocol.CodeInvalidRequest:
				kind = failure.KindInvalidInput
			}
			w.deliver(m.RequestID, wsResult{err: failure.New(kind, "complete", m.Detail)})
		}
	}
}

func (w *WSCompleter) deliver(id string, res wsResult) {
	w.mu.Lock()
	ch, ok := w.pending[id]
	w.mu.Unlock()
	if !ok {
		// Requester already gave up.
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// drop forgets conn (if still current) and fails its pending requests.
func (w *WSCompleter) drop(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	pending := w.pending
	w.pending = make(map[string]chan wsResult)
	w.mu.Unlock()

	_ = conn.Close()
	if cause == nil {
		cause = errors.New("connection closed")
	}
	for _, ch := range pending {
		select {
		case ch <- wsResult{err: failure.Wrap(failure.KindUpstreamUnavailable, "complete", cause)}:
		default:
		}
	}
}
