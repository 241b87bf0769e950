package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/gaia/internal/archive"
	"github.com/ent0n29/gaia/internal/config"
	"github.com/ent0n29/gaia/internal/httpapi"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/observability"
	"github.com/ent0n29/gaia/internal/openai"
	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Upstream openai.Upstream

	// Cleanup should be called on shutdown to flush the archive and close the DB pool.
	Cleanup func() error
}

// Build wires the gaiad server from cfg.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona load failed: %w", err)
	}

	upstream, err := openai.NewUpstream(openai.Config{
		Mode:               cfg.UpstreamMode,
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		RealtimeModel:      cfg.OpenAIRealtimeModel,
		TranscribeModel:    cfg.OpenAITranscribeModel,
		TranscribeLanguage: cfg.OpenAITranscribeLanguage,
		ChatModel:          cfg.OpenAIChatModel,
		ChatMaxTokens:      cfg.OpenAIChatMaxTokens,
		ChatTemperature:    cfg.OpenAIChatTemperature,
		HistoryLimit:       cfg.ChatHistoryLimit,
		Timeout:            cfg.UpstreamTimeout,
		Persona:            p,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream init failed: %w", err)
	}
	if _, mock := upstream.(*openai.MockUpstream); mock {
		logger.Warn("upstream: mock (no OPENAI_API_KEY or UPSTREAM_MODE=mock)")
	} else {
		logger.Info("upstream: openai", "chat_model", cfg.OpenAIChatModel, "realtime_model", cfg.OpenAIRealtimeModel)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	var (
		opts     []httpapi.Option
		store    archive.Store
		recorder *archive.Recorder
	)
	if cfg.ArchiveEnabled {
		store, err = archive.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("archive store init failed: %w", err)
		}
		recorder = archive.NewRecorder(store, archive.WithDropHook(func(reason string) {
			metrics.ArchiveDrops.WithLabelValues(reason).Inc()
		}))
		opts = append(opts, httpapi.WithArchive(store, recorder))
		logger.Info("conversation archive enabled", "postgres", cfg.DatabaseURL != "")
	}

	api := httpapi.New(cfg, upstream, sessions, metrics, opts...)

	cleanup := func() error {
		var errs []string
		// Drain before the pool goes away.
		recorder.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Upstream: upstream,
		Cleanup:  cleanup,
	}, nil
}
