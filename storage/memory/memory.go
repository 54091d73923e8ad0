// Package memory provides a thread-safe in-memory storage.Backend.
package memory

import (
	"context"
	"sync"

	"github.com/mikoworkspace/mikoproxy/storage"
)

// Backend keeps the last saved snapshot in memory. Suitable for tests and
// ephemeral runs where nothing should survive the process.
type Backend struct {
	mu    sync.RWMutex
	snap  storage.Snapshot
	saves int
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{snap: storage.NewSnapshot()}
}

func (b *Backend) Load(context.Context) (storage.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.Clone(), nil
}

func (b *Backend) Save(_ context.Context, s storage.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = s.Clone()
	b.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (b *Backend) Saves() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saves
}

func (b *Backend) Location() string { return "memory" }

func (b *Backend) Close() error { return nil }
