// Package arbiter keeps the voice and chat modalities mutually exclusive.
// It is the only surface the presentation layer mutates session state
// through.
package arbiter

import (
	"context"
	"io"
	"sync"

	"github.com/ent0n29/gaia/internal/chat"
	"github.com/ent0n29/gaia/internal/logger"
	"github.com/ent0n29/gaia/internal/voice"
	"github.com/ent0n29/gaia/internal/watch"
)

// VoiceSession is the subset of *voice.Controller the arbiter drives.
type VoiceSession interface {
	ConnectAsync(ctx context.Context) <-chan error
	Disconnect()
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Status() voice.Status
}

// ChatSession is the subset of *chat.Controller the arbiter drives.
type ChatSession interface {
	Connect()
	Disconnect()
	SendMessage(ctx context.Context, content string, opts ...chat.SendOption) error
	StartRecording(ctx context.Context) error
	StopRecordingAndSend(ctx context.Context) error
	Abort()
	ClearMessages()
	Export(w io.Writer) error
	Status() chat.Status
}

type Modality string

const (
	ModalityNone  Modality = "none"
	ModalityVoice Modality = "voice"
	ModalityChat  Modality = "chat"
)

// Snapshot is a consistent view of both modalities.
type Snapshot struct {
	Voice  voice.Status
	Chat   chat.Status
	Active Modality
}

type Arbiter struct {
	voice    VoiceSession
	chat     ChatSession
	notifier *watch.Notifier

	// toggleMu serializes transitions across both modalities.
	toggleMu sync.Mutex
}

// New wires the two controllers. notifier may be nil; controllers built
// with WithChangeHook(notifier.Notify) make Subscribe useful.
func New(v VoiceSession, c ChatSession, notifier *watch.Notifier) *Arbiter {
	if notifier == nil {
		notifier = watch.NewNotifier()
	}
	return &Arbiter{voice: v, chat: c, notifier: notifier}
}

// ToggleVoice activates or deactivates the voice session. Activation
// disconnects chat first and returns once the connect attempt resolves.
func (a *Arbiter) ToggleVoice(ctx context.Context, activate bool) error {
	a.toggleMu.Lock()
	if !activate {
		a.voice.Disconnect()
		a.toggleMu.Unlock()
		return nil
	}
	if a.chat.Status().Connected {
		logger.Info("switching modality", "from", ModalityChat, "to", ModalityVoice)
	}
	a.chat.Disconnect()
	// Connecting is entered synchronously, so a toggle queued behind this
	// one always observes voice as active.
	result := a.voice.ConnectAsync(ctx)
	a.toggleMu.Unlock()

	return <-result
}

// ToggleChat activates or deactivates the chat session, forcing voice off
// before activation.
func (a *Arbiter) ToggleChat(activate bool) {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	if !activate {
		a.chat.Disconnect()
		return
	}
	if a.voice.Status().Active() {
		logger.Info("switching modality", "from", ModalityVoice, "to", ModalityChat)
	}
	a.voice.Disconnect()
	a.chat.Connect()
}

// Deactivate turns both modalities off.
func (a *Arbiter) Deactivate() {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	a.voice.Disconnect()
	a.chat.Disconnect()
}

func (a *Arbiter) Active() Modality {
	return a.Snapshot().Active
}

func (a *Arbiter) Snapshot() Snapshot {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	s := Snapshot{Voice: a.voice.Status(), Chat: a.chat.Status(), Active: ModalityNone}
	switch {
	case s.Voice.Active():
		s.Active = ModalityVoice
	case s.Chat.Connected:
		s.Active = ModalityChat
	}
	return s
}

func (a *Arbiter) SendMessage(ctx context.Context, content string) error {
	return a.chat.SendMessage(ctx, content)
}

func (a *Arbiter) StartRecording(ctx context.Context) error {
	return a.chat.StartRecording(ctx)
}

func (a *Arbiter) StopRecordingAndSend(ctx context.Context) error {
	return a.chat.StopRecordingAndSend(ctx)
}

func (a *Arbiter) AbortChat() { a.chat.Abort() }

func (a *Arbiter) ClearMessages() { a.chat.ClearMessages() }

func (a *Arbiter) ExportChat(w io.Writer) error { return a.chat.Export(w) }

func (a *Arbiter) StartListening(ctx context.Context) error {
	return a.voice.StartListening(ctx)
}

func (a *Arbiter) StopListening(ctx context.Context) error {
	return a.voice.StopListening(ctx)
}

// Subscribe returns a channel signalled whenever either modality changes.
func (a *Arbiter) Subscribe() (<-chan struct{}, func()) {
	return a.notifier.Subscribe()
}

// Close turns both modalities off.
func (a *Arbiter) Close() {
	a.Deactivate()
}
