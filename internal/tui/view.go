package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/gaia/internal/arbiter"
	"github.com/ent0n29/gaia/internal/chat"
	"github.com/ent0n29/gaia/internal/voice"
)

const (
	colorPrimary   = "#7C3AED"
	colorSuccess   = "#10B981"
	colorWarning   = "#F59E0B"
	colorError     = "#EF4444"
	colorGray      = "#6B7280"
	colorLightGray = "#9CA3AF"
	colorSky       = "#93C5FD"

	headerHeight = 2
	footerHeight = 5

	logTimeLayout = "15:04"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorPrimary))
	badgeStyle     = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorSky))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorPrimary))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(colorError))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorLightGray))
)

func (m *Model) View() string {
	if !m.ready {
		return "Iniciando..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.vp.View(),
		m.renderFooter(),
	)
}

func (m *Model) renderHeader() string {
	title := titleStyle.Render(m.persona.Name)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", m.modalityBadge()) + "\n"
}

func (m *Model) modalityBadge() string {
	switch m.snap.Active {
	case arbiter.ModalityVoice:
		label, color := "VOZ", colorSuccess
		switch {
		case m.snap.Voice.State == voice.StateConnecting:
			label, color = "VOZ · conectando", colorWarning
		case m.snap.Voice.Listening:
			label = "VOZ · escuchando"
		}
		return badgeStyle.Background(lipgloss.Color(color)).Render(label)
	case arbiter.ModalityChat:
		label, color := "CHAT", colorSuccess
		switch {
		case m.snap.Chat.Recording:
			label, color = "CHAT · grabando", colorError
		case m.snap.Chat.Loading:
			label, color = "CHAT · pensando", colorWarning
		}
		return badgeStyle.Background(lipgloss.Color(color)).Render(label)
	default:
		return badgeStyle.Background(lipgloss.Color(colorGray)).Render("DESCONECTADO")
	}
}

func (m *Model) renderLog() string {
	switch m.snap.Active {
	case arbiter.ModalityVoice:
		if t := strings.TrimSpace(m.snap.Voice.Transcript); t != "" {
			return assistantStyle.Render(m.persona.Label("assistant")+":") + " " + t
		}
		return mutedStyle.Render("Sesión de voz activa. Pulsa ctrl+l para hablar.")
	case arbiter.ModalityChat:
	default:
		return mutedStyle.Render("Pulsa ctrl+t para chatear o ctrl+v para hablar.")
	}

	lines := make([]string, 0, len(m.snap.Chat.Messages))
	for _, msg := range m.snap.Chat.Messages {
		lines = append(lines, m.formatMessage(msg))
	}
	if m.snap.Chat.Loading {
		lines = append(lines, mutedStyle.Render(m.persona.Name+" está escribiendo..."))
	}
	return strings.Join(lines, "\n\n")
}

func (m *Model) formatMessage(msg chat.Message) string {
	style := assistantStyle
	if msg.Role == chat.RoleUser {
		style = userStyle
	}
	prefix := ""
	if msg.Kind == chat.KindAudio {
		prefix = "🎤 "
	}
	return fmt.Sprintf("%s %s %s%s",
		mutedStyle.Render(msg.Timestamp.Format(logTimeLayout)),
		style.Render(m.persona.Label(string(msg.Role))+":"),
		prefix,
		msg.Content,
	)
}

func (m *Model) renderFooter() string {
	var status string
	switch {
	case m.notice != "":
		status = errorStyle.Render(m.notice)
	case m.snap.Chat.Error != "":
		status = errorStyle.Render(m.snap.Chat.Error)
	case m.snap.Voice.Error != "":
		status = errorStyle.Render(m.snap.Voice.Error)
	}

	help := make([]string, 0, len(m.keys.help()))
	for _, b := range m.keys.help() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		"",
		status,
		m.input.View(),
		helpStyle.Render(strings.Join(help, " • ")),
	)
}
