package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/gaia/internal/persona"
	"github.com/ent0n29/gaia/internal/protocol"
)

// MockUpstream provides deterministic local replies when no API key is
// configured.
type MockUpstream struct {
	persona persona.Persona
	now     func() time.Time
}

func NewMockUpstream(p persona.Persona) *MockUpstream {
	if p.Name == "" {
		p = persona.Default()
	}
	return &MockUpstream{persona: p, now: time.Now}
}

func (m *MockUpstream) MintClientSecret(ctx context.Context) (ClientSecret, error) {
	if err := ctx.Err(); err != nil {
		return ClientSecret{}, err
	}
	return ClientSecret{
		Value:     "ek_mock_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExpiresAt: m.now().Add(time.Minute).Unix(),
	}, nil
}

func (m *MockUpstream) Transcribe(ctx context.Context, file AudioFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(file.Data) == 0 {
		return "", nil
	}
	return "¿Qué es GUAICARAMO?", nil
}

func (m *MockUpstream) Complete(ctx context.Context, history []protocol.ChatTurn, message string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(m.persona, history, message), nil
}

func buildMockReply(p persona.Persona, history []protocol.ChatTurn, message string) string {
	base := strings.TrimSpace(message)
	if base == "" {
		return ""
	}
	reply := fmt.Sprintf("%s (modo demo) recibió: %s", p.Name, base)

	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "user" {
			continue
		}
		last := strings.TrimSpace(history[i].Content)
		if last != "" {
			reply += "\nAntes mencionaste: " + last
		}
		break
	}
	return reply
}
