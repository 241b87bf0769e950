package app

import (
	"fmt"

	"github.com/ent0n29/gaia/internal/arbiter"
	"github.com/ent0n29/gaia/internal/audio"
	"github.com/ent0n29/gaia/internal/backend"
	"github.com/ent0n29/gaia/internal/chat"
	"github.com/ent0n29/gaia/internal/config"
	"github.com/ent0n29/gaia/internal/lifecycle"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/voice"
	"github.com/ent0n29/gaia/internal/watch"
)

// ClientResult is the assembled terminal client.
type ClientResult struct {
	Config  config.ClientConfig
	Persona persona.Persona
	Arbiter *arbiter.Arbiter
	Voice   *voice.Controller
	Chat    *chat.Controller
	Scope   *lifecycle.Scope

	// Close releases every session and the chat socket, if any.
	Close func()
}

// BuildClient wires both modalities behind one arbiter. mic may be nil, in
// which case the platform default device is used.
func BuildClient(cfg config.ClientConfig, mic audio.Device) (*ClientResult, error) {
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona load failed: %w", err)
	}
	if mic == nil {
		mic = audio.DefaultDevice()
	}
	// Voice listening and chat recording never share the microphone.
	shared := audio.NewExclusive(mic)

	notifier := watch.NewNotifier()
	scope := lifecycle.NewScope()
	api := backend.New(cfg.ServerURL, backend.WithMaxClipBytes(int(cfg.MaxClipBytes)))

	var (
		completer chat.Completer = api
		closeWS   func()
	)
	if cfg.ChatTransport == "ws" {
		ws := backend.NewWSCompleter(cfg.ServerURL)
		completer = ws
		closeWS = func() { _ = ws.Close() }
	}

	var (
		dialer   voice.Dialer
		realtime *voice.RealtimeDialer
		mock     *voice.MockDialer
	)
	switch cfg.VoiceMode {
	case "mock":
		mock = voice.NewMockDialer()
		dialer = mock
	default:
		realtime = voice.NewRealtimeDialer(cfg.RealtimeURL, cfg.RealtimeModel, shared)
		dialer = realtime
	}

	voiceCtl := voice.NewController(api, dialer, scope,
		voice.WithConnectTimeout(cfg.ConnectTimeout),
		voice.WithChangeHook(notifier.Notify),
	)
	switch {
	case realtime != nil:
		realtime.OnTranscript = voiceCtl.RecordTranscript
	case mock != nil:
		mock.OnTranscript = voiceCtl.RecordTranscript
	}

	capture := audio.NewCapture(shared,
		audio.WithMinClipBytes(cfg.MinClipBytes),
		audio.WithChangeHook(notifier.Notify),
	)
	chatCtl := chat.NewController(completer, chat.Config{
		Persona:           p,
		HistoryLimit:      cfg.HistoryLimit,
		CompletionTimeout: cfg.CompletionTimeout,
	}, scope,
		chat.WithChangeHook(notifier.Notify),
		chat.WithRecorder(capture),
		chat.WithTranscriber(api),
	)

	arb := arbiter.New(voiceCtl, chatCtl, notifier)
	logger.Info("gaia client ready",
		"server", cfg.ServerURL,
		"chat_transport", cfg.ChatTransport,
		"voice_mode", cfg.VoiceMode,
	)

	return &ClientResult{
		Config:  cfg,
		Persona: p,
		Arbiter: arb,
		Voice:   voiceCtl,
		Chat:    chatCtl,
		Scope:   scope,
		Close: func() {
			arb.Close()
			scope.Release()
			if closeWS != nil {
				closeWS()
			}
		},
	}, nil
}
