// Package db
package db

import (
	"context"
	"time"

	"github.com/amirphl/depth-sync/internal/journal"
)

type Event = journal.Event

// Storage is the interface for the sync journal backends.
type Storage interface {
	journal.Journaler
	// DeleteEvents prunes events older than before. An empty eventType matches
	// every type.
	DeleteEvents(ctx context.Context, eventType string, before time.Time) error
	Close() error
}
