package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/gaia/internal/archive"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/openai"
	"github.com/ent0n29/gaia/internal/protocol"
)

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.tokenLimiter.Allow() {
		if s.metrics != nil {
			s.metrics.RateLimited.WithLabelValues("token").Inc()
		}
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusTooManyRequests, protocol.CodeRateLimited, "too many token requests")
		return
	}

	var secret openai.ClientSecret
	err := s.observeUpstream("client_secrets", func() error {
		var err error
		secret, err = s.upstream.MintClientSecret(r.Context())
		return err
	})
	if err != nil {
		logUpstreamError(r.Context(), "token", err)
		var apiErr *openai.APIError
		switch {
		case errors.Is(err, openai.ErrMissingAPIKey):
			respondError(w, http.StatusInternalServerError, protocol.CodeConfigError, "OPENAI_API_KEY no está configurada")
		case errors.As(err, &apiErr):
			respondError(w, apiErr.Status, protocol.CodeUpstreamError, fmt.Sprintf("Error generando token efímero: %d", apiErr.Status))
		default:
			respondError(w, http.StatusBadGateway, protocol.CodeUpstreamError, "Error interno del servidor")
		}
		return
	}

	logger.InfoContext(r.Context(), "ephemeral token issued", "expires_at", secret.ExpiresAt)
	respondJSON(w, http.StatusOK, protocol.TokenResponse{
		ClientSecret: secret.Value,
		ExpiresAt:    secret.ExpiresAt,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxAudioBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	// Room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+64<<10)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, protocol.CodeAudioTooLarge, "El archivo de audio es demasiado grande")
			return
		}
		respondError(w, http.StatusBadRequest, protocol.CodeMissingAudio, "No se proporcionó archivo de audio")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeMissingAudio, "No se proporcionó archivo de audio")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeMissingAudio, "No se pudo leer el archivo de audio")
		return
	}
	if int64(len(data)) > maxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, protocol.CodeAudioTooLarge, "El archivo de audio es demasiado grande")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, protocol.CodeMissingAudio, "El archivo de audio está vacío")
		return
	}

	audio := openai.AudioFile{
		Name:        filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	var text string
	err = s.observeUpstream("transcriptions", func() error {
		var err error
		text, err = s.upstream.Transcribe(r.Context(), audio)
		return err
	})
	if err != nil {
		logUpstreamError(r.Context(), "transcribe", err)
		if errors.Is(err, openai.ErrMissingAPIKey) {
			respondError(w, http.StatusInternalServerError, protocol.CodeConfigError, "Error de configuración del servidor")
			return
		}
		respondError(w, http.StatusInternalServerError, protocol.CodeUpstreamError, "Error al transcribir el audio")
		return
	}

	respondJSON(w, http.StatusOK, protocol.TranscriptionResponse{
		Transcription: text,
		Timestamp:     s.now().UTC(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "Mensaje es requerido")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "Mensaje es requerido")
		return
	}

	conversationID := middleware.GetReqID(r.Context())
	reply, status, code, msg := s.complete(r.Context(), req.Messages, req.Message)
	if code != "" {
		respondError(w, status, code, msg)
		return
	}
	s.record(conversationID, archive.ChannelHTTP, "user", req.Message)
	s.record(conversationID, archive.ChannelHTTP, "assistant", reply)

	respondJSON(w, http.StatusOK, protocol.ChatResponse{
		Message:   reply,
		Timestamp: s.now().UTC(),
	})
}

// complete runs one completion and maps failures to an HTTP status, error
// code and user-facing message. code is empty on success.
func (s *Server) complete(ctx context.Context, history []protocol.ChatTurn, message string) (reply string, status int, code, msg string) {
	err := s.observeUpstream("chat.completions", func() error {
		var err error
		reply, err = s.upstream.Complete(ctx, history, message)
		return err
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = openai.ErrEmptyReply
	}
	if err == nil {
		return reply, http.StatusOK, "", ""
	}

	logUpstreamError(ctx, "chat", err)
	switch {
	case errors.Is(err, openai.ErrMissingAPIKey):
		return "", http.StatusInternalServerError, protocol.CodeConfigError, "Error de configuración del servidor"
	case errors.Is(err, openai.ErrEmptyReply):
		return "", http.StatusInternalServerError, protocol.CodeEmptyResponse, "No se recibió respuesta del asistente"
	default:
		return "", http.StatusInternalServerError, protocol.CodeUpstreamError, "Error al procesar la solicitud"
	}
}

func (s *Server) handleArchiveRecent(w http.ResponseWriter, r *http.Request) {
	if s.archiveStore == nil {
		respondError(w, http.StatusNotFound, "archive_disabled", "conversation archive is not enabled")
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	turns, err := s.archiveStore.Recent(r.Context(), limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "archive query failed", "error", err)
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "archive query failed")
		return
	}
	if turns == nil {
		turns = []archive.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}
