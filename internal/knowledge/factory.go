package knowledge

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory store seeded with the service catalogue.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewSeededInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
