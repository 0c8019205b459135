package store

import (
	"context"
	"sort"
	"sync"
)

// MemorySelectionStore keeps selections in process memory.
type MemorySelectionStore struct {
	mu    sync.RWMutex
	sets  map[string]map[string]struct{}
	zsets map[string]map[string]float64
}

// NewMemorySelectionStore creates an empty store.
func NewMemorySelectionStore() *MemorySelectionStore {
	return &MemorySelectionStore{
		sets:  make(map[string]map[string]struct{}),
		zsets: make(map[string]map[string]float64),
	}
}

func (m *MemorySelectionStore) IsMember(_ context.Context, setKey, member string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[setKey][member]
	return ok, nil
}

func (m *MemorySelectionStore) AddToSet(_ context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[setKey]
	if !ok {
		set = make(map[string]struct{})
		m.sets[setKey] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemorySelectionStore) RemoveFromSet(_ context.Context, setKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[setKey], member)
	if len(m.sets[setKey]) == 0 {
		delete(m.sets, setKey)
	}
	return nil
}

func (m *MemorySelectionStore) Members(_ context.Context, setKey string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]string, 0, len(m.sets[setKey]))
	for member := range m.sets[setKey] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MemorySelectionStore) Score(_ context.Context, zsetKey, member string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, ok := m.zsets[zsetKey][member]
	return score, ok, nil
}

func (m *MemorySelectionStore) ZAdd(_ context.Context, zsetKey, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zset, ok := m.zsets[zsetKey]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[zsetKey] = zset
	}
	zset[member] = score
	return nil
}

func (m *MemorySelectionStore) ZRem(_ context.Context, zsetKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets[zsetKey], member)
	if len(m.zsets[zsetKey]) == 0 {
		delete(m.zsets, zsetKey)
	}
	return nil
}

func (m *MemorySelectionStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.sets, k)
		delete(m.zsets, k)
	}
	return nil
}

func (m *MemorySelectionStore) Close() error { return nil }

var _ SelectionStore = (*MemorySelectionStore)(nil)
