package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type secretValue struct{ secret string }

func (s secretValue) LogValue() slog.Value { return slog.StringValue("[credential]") }

func TestRedactingHandlerScrubsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil)))

	log.With("auth", "Bearer ek_abc123def456").Info("dialing with sk-proj-abcdefghijklmnopqrstuvwxyz",
		"err", errors.New(`upstream said {"client_secret":"ek_abc123def456"}`),
		slog.Group("req", "header", "Bearer ek_abc123def456"),
		"cred", secretValue{secret: "ek_abc123def456"},
	)

	out := buf.String()
	assert.NotContains(t, out, "ek_abc123def456")
	assert.NotContains(t, out, "sk-proj-abcdefghijklmnopqrstuvwxyz")
	assert.Contains(t, out, "[REDACTED_SECRET]")
	assert.Contains(t, out, "[credential]")
}

func TestConfigureLevelAndFormat(t *testing.T) {
	prev := Default()
	defer defaultLogger.Store(prev)

	var buf bytes.Buffer
	Configure(&buf, "warn", "json")
	Info("hidden")
	Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "expected json output, got %q", out)
	assert.Contains(t, out, `"k":"v"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
