package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryStore перезарядки в памяти процесса (одиночный пир, тесты)
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore создаёт хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time), now: time.Now}
}

// WithClock подменяет источник времени
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// Start запускает перезарядку
func (m *MemoryStore) Start(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	m.expires[key] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

// Active идёт ли перезарядка; истёкшие ключи удаляются при чтении
func (m *MemoryStore) Active(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.expires[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.expires, key)
		return false, nil
	}
	return true, nil
}

// Close ничего не делает
func (m *MemoryStore) Close() error { return nil }
