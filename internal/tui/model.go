// Package tui is the terminal front end for the GAIA client. It renders an
// arbiter snapshot and turns key presses into arbiter calls; it never
// touches the session controllers directly.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ent0n29/gaia/internal/arbiter"
	"github.com/ent0n29/gaia/internal/failure"
	"github.com/ent0n29/gaia/internal/persona"
)

// Arbiter is the session surface the UI drives. *arbiter.Arbiter
// satisfies it.
type Arbiter interface {
	Snapshot() arbiter.Snapshot
	Subscribe() (<-chan struct{}, func())
	ToggleVoice(ctx context.Context, activate bool) error
	ToggleChat(activate bool)
	SendMessage(ctx context.Context, content string) error
	StartRecording(ctx context.Context) error
	StopRecordingAndSend(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	AbortChat()
	ClearMessages()
	ExportChat(w io.Writer) error
}

type changedMsg struct{}

type opDoneMsg struct {
	op  string
	err error
}

type exportedMsg struct {
	path string
	err  error
}

type Options struct {
	// ExportDir is where ctrl+e writes transcripts. Defaults to the
	// working directory.
	ExportDir string
	Now       func() time.Time
}

type Model struct {
	arb     Arbiter
	persona persona.Persona
	opts    Options
	keys    keyMap

	ctx    context.Context
	cancel context.CancelFunc

	changes     <-chan struct{}
	unsubscribe func()

	snap   arbiter.Snapshot
	input  textinput.Model
	vp     viewport.Model
	ready  bool
	width  int
	height int
	notice string
	busyOp string
}

func New(arb Arbiter, p persona.Persona, opts Options) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	in := textinput.New()
	in.Placeholder = "Escribe tu mensaje..."
	in.CharLimit = 4000
	in.Focus()

	ctx, cancel := context.WithCancel(context.Background())
	changes, unsubscribe := arb.Subscribe()
	return &Model{
		arb:         arb,
		persona:     p,
		opts:        opts,
		keys:        defaultKeyMap(),
		ctx:         ctx,
		cancel:      cancel,
		changes:     changes,
		unsubscribe: unsubscribe,
		snap:        arb.Snapshot(),
		input:       in,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m *Model) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

// run executes a blocking arbiter call off the update loop.
func (m *Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case changedMsg:
		m.snap = m.arb.Snapshot()
		m.refreshLog()
		return m, m.waitForChange()

	case opDoneMsg:
		if m.busyOp == msg.op {
			m.busyOp = ""
		}
		m.snap = m.arb.Snapshot()
		m.refreshLog()
		if msg.err != nil && !failure.IsCancelled(msg.err) {
			m.notice = failure.Describe(msg.err)
		}
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.notice = "No se pudo exportar: " + msg.err.Error()
		} else {
			m.notice = "Conversación exportada a " + msg.path
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.ToggleChat):
		m.notice = ""
		m.arb.ToggleChat(!m.snap.Chat.Connected)
		m.snap = m.arb.Snapshot()
		m.refreshLog()
		return m, nil

	case key.Matches(msg, m.keys.ToggleVoice):
		m.notice = ""
		activate := !m.snap.Voice.Active()
		m.busyOp = "voice"
		return m, m.run("voice", func(ctx context.Context) error {
			return m.arb.ToggleVoice(ctx, activate)
		})

	case key.Matches(msg, m.keys.Listen):
		if m.snap.Active != arbiter.ModalityVoice {
			return m, nil
		}
		if m.snap.Voice.Listening {
			return m, m.run("listen", m.arb.StopListening)
		}
		return m, m.run("listen", m.arb.StartListening)

	case key.Matches(msg, m.keys.Record):
		if !m.snap.Chat.Connected {
			return m, nil
		}
		if m.snap.Chat.Recording {
			m.busyOp = "record"
			return m, m.run("record", m.arb.StopRecordingAndSend)
		}
		return m, m.run("record", m.arb.StartRecording)

	case key.Matches(msg, m.keys.Abort):
		m.arb.AbortChat()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.arb.ClearMessages()
		return m, nil

	case key.Matches(msg, m.keys.Export):
		return m, m.export()

	case key.Matches(msg, m.keys.Send):
		text := m.input.Value()
		if !m.snap.Chat.Connected || m.snap.Chat.Loading || text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		m.busyOp = "send"
		return m, m.run("send", func(ctx context.Context) error {
			return m.arb.SendMessage(ctx, text)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) export() tea.Cmd {
	dir := m.opts.ExportDir
	name := fmt.Sprintf("gaia-chat-%s.txt", m.opts.Now().Format("2006-01-02"))
	arb := m.arb
	return func() tea.Msg {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return exportedMsg{err: err}
		}
		if err := arb.ExportChat(f); err != nil {
			_ = f.Close()
			return exportedMsg{err: err}
		}
		return exportedMsg{path: path, err: f.Close()}
	}
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	vpHeight := h - headerHeight - footerHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.vp = viewport.New(w, vpHeight)
		m.ready = true
	} else {
		m.vp.Width = w
		m.vp.Height = vpHeight
	}
	m.input.Width = w - 4
	m.refreshLog()
}

func (m *Model) refreshLog() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.renderLog())
	m.vp.GotoBottom()
}

func (m *Model) shutdown() {
	m.cancel()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}
