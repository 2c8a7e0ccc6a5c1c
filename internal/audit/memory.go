package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
	last    *Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	m.last = &e
	return nil
}

func (m *MemoryBackend) Last(_ context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Entry{}, false, nil
	}
	return *m.last, true, nil
}

func (m *MemoryBackend) Scan(ctx context.Context, reverse bool, fn func(Entry) error) error {
	m.mu.RLock()
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := i
		if reverse {
			idx = len(snapshot) - 1 - i
		}
		if err := fn(snapshot[idx]); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	n := len(m.entries) - len(kept)
	m.entries = kept
	return n, nil
}

func (m *MemoryBackend) Close() error { return nil }
