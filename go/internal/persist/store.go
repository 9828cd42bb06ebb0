// Package persist provides snapshot storage backends for the timer registry.
package persist

import (
	"context"

	"github.com/cuesync/cuesync/go/internal/timer"
)

// Store persists the full registry snapshot. Save overwrites whatever was
// stored before; Load is called once at startup and must treat missing or
// unreadable prior data as an empty registry, not a fatal condition.
type Store interface {
	Save(ctx context.Context, snapshots map[string]timer.Snapshot) error
	Load(ctx context.Context) (map[string]timer.Snapshot, error)
}
