package blockchain

import (
	"context"
	"sync"
)

// Reservation is the signed transaction pinned to an idempotency key before
// it is first broadcast. Retries rebroadcast Raw, so they can never produce a
// second transaction for the key.
type Reservation struct {
	TxRef string `json:"tx_ref"`
	Raw   string `json:"raw"`
}

// IdempotencyIndex holds one reservation per key.
type IdempotencyIndex interface {
	Get(ctx context.Context, key string) (Reservation, bool, error)
	// Reserve stores r unless the key is taken. It returns the reservation
	// that holds the key and whether r won.
	Reserve(ctx context.Context, key string, r Reservation) (Reservation, bool, error)
	// Replace swaps old for next only while old still holds the key.
	Replace(ctx context.Context, key string, old, next Reservation) (bool, error)
}

type MemoryIndex struct {
	mu   sync.RWMutex
	refs map[string]Reservation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{refs: map[string]Reservation{}}
}

func (m *MemoryIndex) Get(_ context.Context, key string) (Reservation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.refs[key]
	return r, ok, nil
}

func (m *MemoryIndex) Reserve(_ context.Context, key string, r Reservation) (Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.refs[key]; ok {
		return cur, false, nil
	}
	m.refs[key] = r
	return r, true, nil
}

func (m *MemoryIndex) Replace(_ context.Context, key string, old, next Reservation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.refs[key]; !ok || cur != old {
		return false, nil
	}
	m.refs[key] = next
	return true, nil
}
