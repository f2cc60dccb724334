package db

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage used when no database is configured.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{events: make([]Event, 0, 1024)}
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

// GetEvents returns events of eventType with start <= Time < end.
func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// DeleteEvents removes events of eventType, or of every type when eventType is
// empty, with Time before before.
func (m *MemoryStorage) DeleteEvents(ctx context.Context, eventType string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before = before.UTC()
	kept := m.events[:0]
	for _, e := range m.events {
		if (eventType == "" || e.Type == eventType) && e.Time.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
