// Package archive keeps a server-side record of chat exchanges. Content is
// redacted before it is stored and is never fed back into a client session.
package archive

import (
	"context"
	"time"
)

// Channel identifies the route a turn arrived on.
type Channel string

const (
	ChannelHTTP      Channel = "http"
	ChannelWebsocket Channel = "ws"
)

// TurnRecord stores a single user or assistant chat turn.
type TurnRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Channel        Channel   `json:"channel"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and lists archived turns.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	Recent(ctx context.Context, limit int) ([]TurnRecord, error)
	Close() error
}
