package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ent0n29/gaia/internal/archive"
	"github.com/ent0n29/gaia/internal/config"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/observability"
	"github.com/ent0n29/gaia/internal/openai"
	"github.com/ent0n29/gaia/internal/protocol"
	"github.com/ent0n29/gaia/internal/session"
)

type Server struct {
	cfg          config.Config
	upstream     openai.Upstream
	sessions     *session.Manager
	metrics      *observability.Metrics
	archiveStore archive.Store
	recorder     *archive.Recorder
	tokenLimiter *rate.Limiter
	upgrader     websocket.Upgrader
	now          func() time.Time
}

type Option func(*Server)

// WithArchive enables turn recording and GET /v1/archive/recent.
func WithArchive(store archive.Store, recorder *archive.Recorder) Option {
	return func(s *Server) {
		s.archiveStore = store
		s.recorder = recorder
	}
}

func New(cfg config.Config, upstream openai.Upstream, sessions *session.Manager, metrics *observability.Metrics, opts ...Option) *Server {
	perSec, burst := cfg.TokenRatePerSec, cfg.TokenRateBurst
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 5
	}
	s := &Server{
		cfg:          cfg,
		upstream:     upstream,
		sessions:     sessions,
		metrics:      metrics,
		tokenLimiter: rate.NewLimiter(rate.Limit(perSec), burst),
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/gaia-token", s.handleToken)
	r.Post("/api/transcribe-audio", s.handleTranscribe)
	r.Post("/api/gaia-chat", s.handleChat)
	r.Get("/api/gaia-chat/ws", s.handleChatWS)
	r.With(s.requireArchiveAccess).Get("/v1/archive/recent", s.handleArchiveRecent)

	return r
}

// requireArchiveAccess admits a matching bearer token, or any loopback
// caller when no token is configured.
func (s *Server) requireArchiveAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.ArchiveToken; token != "" {
			got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "archive token required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			respondError(w, http.StatusForbidden, "forbidden", "archive is only served to local callers")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"upstream_mode":   s.upstreamMode(),
		"archive_enabled": s.archiveStore != nil,
		"active_ws_chats": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if _, ok := s.upstream.(*openai.Client); ok && strings.TrimSpace(s.cfg.OpenAIAPIKey) == "" {
		respondError(w, http.StatusServiceUnavailable, protocol.CodeConfigError, openai.ErrMissingAPIKey.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"upstream_mode": s.upstreamMode(),
	})
}

func (s *Server) upstreamMode() string {
	switch s.upstream.(type) {
	case *openai.Client:
		return "openai"
	case *openai.MockUpstream:
		return "mock"
	default:
		return "custom"
	}
}

// observeUpstream times fn and counts its failures under operation.
func (s *Server) observeUpstream(operation string, fn func() error) error {
	started := time.Now()
	err := fn()
	if s.metrics == nil {
		return err
	}
	s.metrics.ObserveUpstream(operation, time.Since(started))
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues(operation, upstreamCode(err)).Inc()
	}
	return err
}

func upstreamCode(err error) string {
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, openai.ErrMissingAPIKey):
		return protocol.CodeConfigError
	case errors.Is(err, openai.ErrEmptyReply):
		return protocol.CodeEmptyResponse
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr):
		return "status_" + strconv.Itoa(apiErr.Status)
	default:
		return "transport"
	}
}

func (s *Server) record(conversationID string, channel archive.Channel, role, content string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(conversationID, channel, role, content)
}

func logUpstreamError(ctx context.Context, route string, err error) {
	logger.ErrorContext(ctx, "upstream call failed", "route", route, "error", err)
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}
