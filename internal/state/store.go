package state

import (
	"context"
	"time"
)

// Store persists delivered-alert marks backing the suppression window.
// Params: mark and lookup operations keyed by dedup key.
// Returns: shared suppression memory across monitors and incident sources.
type Store interface {
	MarkDelivered(ctx context.Context, dedupKey string, deliveredAt time.Time, window time.Duration) error
	Suppressed(ctx context.Context, dedupKey string) (bool, error)
	Close() error
}
