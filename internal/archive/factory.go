package archive

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory store holding the last DefaultMemoryCapacity turns.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(DefaultMemoryCapacity), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
