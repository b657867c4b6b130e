package remote

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTarget is the in-process fallback store used when redis is
// unreachable and as the default target in tests.
type MemoryTarget struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{
		snapshots: make(map[string]Snapshot),
	}
}

func memoryKey(kind string, entityID int64) string {
	return fmt.Sprintf("%s:%d", kind, entityID)
}

func (m *MemoryTarget) Push(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[memoryKey(snap.Kind, snap.EntityID)] = snap
	return nil
}

func (m *MemoryTarget) Pull(ctx context.Context, kind string, entityID int64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[memoryKey(kind, entityID)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *MemoryTarget) Delete(ctx context.Context, kind string, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, memoryKey(kind, entityID))
	return nil
}

func (m *MemoryTarget) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string]Snapshot)
	return nil
}

// Len reports the number of stored snapshots.
func (m *MemoryTarget) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
