package cache

import (
	"sync"

	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
)

// Memory is the volatile in-process pool. Expiry is lazy: expired entries are
// treated as misses on read and dropped whenever they are observed.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	clk     clock.Clock
}

// NewMemory creates an empty in-memory pool.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		clk:     clk,
	}
}

func (m *Memory) Get(key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(m.clk.Now()) {
		delete(m.entries, key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (m *Memory) Set(key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}
