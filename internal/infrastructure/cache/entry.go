package cache

import (
	"sync"
	"time"
)

// State is the freshness of a cached value at lookup time
type State string

const (
	StateFresh State = "fresh"
	StateStale State = "stale"
	StateMiss  State = "miss"
)

// Entry is a cached value with its staleness policy baked in at write time
type Entry[V any] struct {
	Value      V         `json:"value"`
	FetchedAt  time.Time `json:"fetched_at"`
	FreshUntil time.Time `json:"fresh_until"`
	StaleUntil time.Time `json:"stale_until"`
}

// StateAt classifies the entry at now
func (e Entry[V]) StateAt(now time.Time) State {
	switch {
	case now.Before(e.FreshUntil):
		return StateFresh
	case now.Before(e.StaleUntil):
		return StateStale
	}
	return StateMiss
}

// memoryTier is the in-process L1. Purge stamps a key with a fresh
// generation from seq, so a load started before a purge cannot write its
// result back. Keys without a stamp report floor; sweep only drops stamps
// after raising floor to seq, so generations never move backwards.
type memoryTier[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	gens    map[string]uint64
	seq     uint64
	floor   uint64
}

func newMemoryTier[V any]() *memoryTier[V] {
	return &memoryTier[V]{
		entries: make(map[string]Entry[V]),
		gens:    make(map[string]uint64),
	}
}

func (m *memoryTier[V]) get(key string, now time.Time) (Entry[V], bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return e, false
	}
	if e.StateAt(now) == StateMiss {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.StaleUntil.Equal(e.StaleUntil) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return e, false
	}
	return e, true
}

func (m *memoryTier[V]) generation(key string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generationLocked(key)
}

func (m *memoryTier[V]) generationLocked(key string) uint64 {
	if g, ok := m.gens[key]; ok {
		return g
	}
	return m.floor
}

// setIf stores e unless key was purged since gen was read
func (m *memoryTier[V]) setIf(key string, e Entry[V], gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generationLocked(key) != gen {
		return false
	}
	m.entries[key] = e
	return true
}

func (m *memoryTier[V]) purge(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.seq++
	m.gens[key] = m.seq
	m.mu.Unlock()
}

// sweep drops entries past their stale window and the purge stamps of keys
// that hold no entry. A load that read a dropped stamp, or the old floor,
// has its result discarded.
func (m *memoryTier[V]) sweep(now time.Time) (expired, stamps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.StateAt(now) == StateMiss {
			delete(m.entries, key)
			expired++
		}
	}
	for key := range m.gens {
		if _, ok := m.entries[key]; !ok {
			delete(m.gens, key)
			stamps++
		}
	}
	if stamps > 0 {
		m.floor = m.seq
	}
	return expired, stamps
}

func (m *memoryTier[V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *memoryTier[V]) stamps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.gens)
}
