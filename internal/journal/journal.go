package journal

import (
	"context"
	"time"
)

// Event types written by the sync pipeline.
const (
	TypeSnapshot    = "snapshot"
	TypeGap         = "gap"
	TypeCrossed     = "crossed"
	TypeFetchFailed = "fetch_failed"
	TypeStreamError = "stream_error"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Symbol      string
	Type        string // e.g., "snapshot", "gap", "crossed", etc.
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
