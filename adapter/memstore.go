package adapter

import (
	"context"
	"sync"

	"github.com/stridelab/traincore/api"
)

// MemoryStore is an in-memory SnapshotStore for tests and samples. The
// core is fully testable against it without any platform backend.
type MemoryStore struct {
	mu   sync.Mutex
	snap *api.Snapshot
}

var _ api.SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, snap *api.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*api.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}
