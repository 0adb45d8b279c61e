// Package store persists the durable subset of the ledger: balance, open
// positions, open orders, closed-position history and the selected pair.
// Market data is never stored.
package store

import (
	"context"
	"sync"

	"papertrade/internal/domain"
)

// Snapshotter saves and loads ledger snapshots.
type Snapshotter interface {
	// Load returns the last saved snapshot, or nil if nothing was saved yet.
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snap domain.Snapshot) error
	Ping(ctx context.Context) error
}

// MemoryStore keeps the encoded snapshot in process memory. It backs
// SNAPSHOT_BACKEND=none and tests.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save encodes and keeps the snapshot.
func (m *MemoryStore) Save(_ context.Context, snap domain.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Load decodes the kept snapshot.
func (m *MemoryStore) Load(_ context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()

	if data == nil {
		return nil, nil
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Saves returns how many snapshots have been saved.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ Snapshotter = (*MemoryStore)(nil)
