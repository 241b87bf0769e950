package voice

import (
	"context"
	"time"

	"github.com/ent0n29/gaia/internal/backend"
)

// Minter issues a fresh ephemeral credential per call.
type Minter interface {
	Mint(ctx context.Context) (backend.Credential, error)
}

// Handle identifies one live realtime connection. A new Handle is created
// for every connect and is never reused.
type Handle struct {
	ID       string
	OpenedAt time.Time
}

// Conn is an open realtime session.
type Conn interface {
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended, if it ended on its own.
	Err() error
	Close() error
}

// Dialer opens a realtime session using cred. cred must not be retained
// past Dial.
type Dialer interface {
	Dial(ctx context.Context, cred backend.Credential, h Handle) (Conn, error)
}
