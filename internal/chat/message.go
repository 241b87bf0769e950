package chat

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/ent0n29/gaia/internal/persona"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Message is one entry in the chat log. IDs are unique and increasing for
// the lifetime of a Controller, across clears and reconnects.
type Message struct {
	ID        uint64
	Role      Role
	Content   string
	Timestamp time.Time
	Kind      Kind
	AudioRef  string
}

const exportTimeLayout = "2/1/2006, 15:04:05"

// WriteTranscript renders msgs as plain text, one block per message.
func WriteTranscript(w io.Writer, p persona.Persona, msgs []Message) error {
	bw := bufio.NewWriter(w)
	for i, m := range msgs {
		if i > 0 {
			if _, err := bw.WriteString("\n\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "[%s] %s: %s", m.Timestamp.Format(exportTimeLayout), p.Label(string(m.Role)), m.Content); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Export writes the current log with WriteTranscript.
func (c *Controller) Export(w io.Writer) error {
	return WriteTranscript(w, c.cfg.Persona, c.Messages())
}
