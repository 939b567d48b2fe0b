package repository

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is an in-process KeyValue backend. Expired entries are dropped
// lazily when read; nothing sweeps in the background.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type MemoryOption func(*MemoryKV)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryKV) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemoryKV(opts ...MemoryOption) *MemoryKV {
	m := &MemoryKV{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (m *MemoryKV) SetWithExpiry(_ context.Context, ttl time.Duration, entries ...Entry) error {
	if ttl <= 0 {
		return errors.New("repository: memory set: ttl must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)
	for _, e := range entries {
		value := make([]byte, len(e.Value))
		copy(value, e.Value)
		m.items[e.Key] = memoryItem{value: value, expiresAt: expiresAt}
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
