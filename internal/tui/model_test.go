package tui

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/gaia/internal/arbiter"
	"github.com/ent0n29/gaia/internal/chat"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/voice"
	"github.com/ent0n29/gaia/internal/watch"
)

type fakeArbiter struct {
	mu       sync.Mutex
	snap     arbiter.Snapshot
	notifier *watch.Notifier
	calls    []string
	sendErr  error
}

func newFakeArbiter() *fakeArbiter {
	return &fakeArbiter{notifier: watch.NewNotifier(), snap: arbiter.Snapshot{Active: arbiter.ModalityNone}}
}

func (f *fakeArbiter) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeArbiter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeArbiter) Snapshot() arbiter.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeArbiter) Subscribe() (<-chan struct{}, func()) { return f.notifier.Subscribe() }

func (f *fakeArbiter) ToggleVoice(_ context.Context, activate bool) error {
	f.record("voice:" + boolStr(activate))
	f.mu.Lock()
	if activate {
		f.snap = arbiter.Snapshot{Active: arbiter.ModalityVoice, Voice: voice.Status{State: voice.StateConnected}}
	} else {
		f.snap = arbiter.Snapshot{Active: arbiter.ModalityNone}
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeArbiter) ToggleChat(activate bool) {
	f.record("chat:" + boolStr(activate))
	f.mu.Lock()
	if activate {
		f.snap = arbiter.Snapshot{Active: arbiter.ModalityChat, Chat: chat.Status{
			Connected: true,
			Messages: []chat.Message{{
				ID: 1, Role: chat.RoleAssistant, Kind: chat.KindText,
				Content:   persona.Default().Greeting,
				Timestamp: time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
			}},
		}}
	} else {
		f.snap = arbiter.Snapshot{Active: arbiter.ModalityNone}
	}
	f.mu.Unlock()
}

func (f *fakeArbiter) SendMessage(_ context.Context, content string) error {
	f.record("send:" + content)
	return f.sendErr
}

func (f *fakeArbiter) StartRecording(context.Context) error {
	f.record("record:start")
	return nil
}

func (f *fakeArbiter) StopRecordingAndSend(context.Context) error {
	f.record("record:stop")
	return nil
}

func (f *fakeArbiter) StartListening(context.Context) error {
	f.record("listen:start")
	return nil
}

func (f *fakeArbiter) StopListening(context.Context) error {
	f.record("listen:stop")
	return nil
}

func (f *fakeArbiter) AbortChat()     { f.record("abort") }
func (f *fakeArbiter) ClearMessages() { f.record("clear") }

func (f *fakeArbiter) ExportChat(w io.Writer) error {
	f.record("export")
	_, err := io.WriteString(w, "[5/3/2024, 14:07:09] GAIA: hola")
	return err
}

func boolStr(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func newTestModel(t *testing.T, arb *fakeArbiter) *Model {
	t.Helper()
	m := New(arb, persona.Default(), Options{
		ExportDir: t.TempDir(),
		Now:       func() time.Time { return time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC) },
	})
	t.Cleanup(m.shutdown)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func ctrl(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func TestViewBeforeResize(t *testing.T) {
	m := New(newFakeArbiter(), persona.Default(), Options{})
	defer m.shutdown()
	assert.Equal(t, "Iniciando...", m.View())
}

func TestToggleChatShowsGreeting(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	assert.Contains(t, m.View(), "DESCONECTADO")

	_, cmd := m.Update(ctrl(tea.KeyCtrlT))
	assert.Nil(t, cmd)
	assert.Equal(t, []string{"chat:on"}, arb.Calls())

	view := m.View()
	assert.Contains(t, view, "CHAT")
	assert.Contains(t, view, "Soy GAIA")
}

func TestSendRunsOffTheUpdateLoop(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)
	m.Update(ctrl(tea.KeyCtrlT))

	m.input.SetValue("hola")
	_, cmd := m.Update(ctrl(tea.KeyEnter))
	require.NotNil(t, cmd)
	assert.Equal(t, "", m.input.Value())

	msg := cmd()
	done, ok := msg.(opDoneMsg)
	require.True(t, ok)
	assert.Equal(t, "send", done.op)
	assert.Contains(t, arb.Calls(), "send:hola")

	m.Update(done)
	assert.Equal(t, "", m.busyOp)
}

func TestSendIgnoredWhenChatDisconnected(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	m.input.SetValue("hola")
	_, cmd := m.Update(ctrl(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, arb.Calls())
}

func TestFailedOperationShowsNotice(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	m.Update(opDoneMsg{op: "voice", err: failure.New(failure.KindAuth, "mint credential", "status 401")})
	assert.Contains(t, m.View(), "auth: status 401")

	m.notice = ""
	m.Update(opDoneMsg{op: "send", err: failure.New(failure.KindCancelled, "send message", "request was cancelled")})
	assert.Equal(t, "", m.notice)
}

func TestToggleVoiceAndListen(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	_, cmd := m.Update(ctrl(tea.KeyCtrlV))
	require.NotNil(t, cmd)
	m.Update(cmd())
	assert.Equal(t, arbiter.ModalityVoice, m.snap.Active)
	assert.Contains(t, m.View(), "VOZ")

	_, cmd = m.Update(ctrl(tea.KeyCtrlL))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"voice:on", "listen:start"}, arb.Calls())
}

func TestChangeNotificationRefreshesSnapshot(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	wait := m.waitForChange()
	arb.ToggleChat(true)
	arb.notifier.Notify()

	msg := wait()
	_, ok := msg.(changedMsg)
	require.True(t, ok)
	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd)
	assert.True(t, m.snap.Chat.Connected)
}

func TestExportWritesTranscriptFile(t *testing.T) {
	arb := newFakeArbiter()
	m := newTestModel(t, arb)

	_, cmd := m.Update(ctrl(tea.KeyCtrlE))
	require.NotNil(t, cmd)
	msg, ok := cmd().(exportedMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.Equal(t, filepath.Join(m.opts.ExportDir, "gaia-chat-2024-03-05.txt"), msg.path)

	raw, err := os.ReadFile(msg.path)
	require.NoError(t, err)
	assert.Equal(t, "[5/3/2024, 14:07:09] GAIA: hola", string(raw))

	m.Update(msg)
	assert.Contains(t, m.notice, "gaia-chat-2024-03-05.txt")
}

func TestQuitUnsubscribes(t *testing.T) {
	m := newTestModel(t, newFakeArbiter())
	_, cmd := m.Update(ctrl(tea.KeyEsc))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
	assert.Nil(t, m.unsubscribe)
}
