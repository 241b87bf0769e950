package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/gaia/internal/archive"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleChatWS serves the persistent chat transport. Each connection is one
// session; a new chat_request supersedes (cancels) one still in flight.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(r.RemoteAddr)
	s.sessionsChanged("ws_connected")
	defer func() {
		_, _ = s.sessions.End(sess.ID)
		s.sessionsChanged("ws_disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok && s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}
	send(protocol.SessionReady{Type: protocol.TypeSessionReady, SessionID: sess.ID})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		// An open socket keeps its session alive between requests.
		_ = s.sessions.Touch(sess.ID)
		return nil
	})

	var (
		mu           sync.Mutex
		activeID     string
		cancelActive context.CancelFunc
		inflight     sync.WaitGroup
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_ = s.sessions.Touch(sess.ID)
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   protocol.CodeInvalidRequest,
				Detail: err.Error(),
			})
			continue
		}
		req, ok := parsed.(protocol.ChatRequestFrame)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(req.Type)).Inc()
		}

		mu.Lock()
		if cancelActive != nil {
			cancelActive()
			_ = s.sessions.FinishRequest(sess.ID, activeID)
			logger.Debug("chat request superseded", "session_id", sess.ID, "request_id", activeID)
		}
		if err := s.sessions.StartRequest(sess.ID, req.RequestID); err != nil {
			mu.Unlock()
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				RequestID: req.RequestID,
				Code:      protocol.CodeInvalidRequest,
				Detail:    err.Error(),
			})
			continue
		}
		reqCtx, reqCancel := context.WithCancel(ctx)
		activeID, cancelActive = req.RequestID, reqCancel
		mu.Unlock()

		inflight.Add(1)
		go func(req protocol.ChatRequestFrame) {
			defer inflight.Done()
			defer reqCancel()

			reply, _, code, detail := s.complete(reqCtx, req.Messages, req.Message)

			mu.Lock()
			current := activeID == req.RequestID
			if current {
				activeID, cancelActive = "", nil
				_ = s.sessions.FinishRequest(sess.ID, req.RequestID)
			}
			mu.Unlock()
			if !current || reqCtx.Err() != nil {
				return
			}

			if code != "" {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					RequestID: req.RequestID,
					Code:      code,
					Retryable: code == protocol.CodeUpstreamError || code == protocol.CodeEmptyResponse,
					Detail:    detail,
				})
				return
			}
			s.record(sess.ID, archive.ChannelWebsocket, "user", req.Message)
			s.record(sess.ID, archive.ChannelWebsocket, "assistant", reply)
			send(protocol.ChatReplyFrame{
				Type:      protocol.TypeChatReply,
				RequestID: req.RequestID,
				Message:   reply,
				Timestamp: s.now().UTC(),
			})
		}(req)
	}

	cancel()
	inflight.Wait()
	<-writerDone
}

func (s *Server) sessionsChanged(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatRequestFrame:
		return m.Type, true
	case protocol.ChatReplyFrame:
		return m.Type, true
	case protocol.SessionReady:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
