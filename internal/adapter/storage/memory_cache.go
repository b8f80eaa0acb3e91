package storage

import (
	"context"
	"sync"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

// MemoryIdempotencyStore has no expiry; it is meant for tests and single
// process deployments.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{keys: make(map[string]string)}
}

func (m *MemoryIdempotencyStore) Acquire(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result, ok := m.keys[key]; ok {
		return result, false, nil
	}
	m.keys[key] = ""
	return "", true, nil
}

func (m *MemoryIdempotencyStore) Complete(ctx context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = result
	return nil
}

func (m *MemoryIdempotencyStore) Abandon(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// StaticSessions resolves a fixed token table, used for development setups
// without a session store.
type StaticSessions map[string]port.Principal

func (s StaticSessions) Resolve(ctx context.Context, token string) (port.Principal, error) {
	p, ok := s[token]
	if !ok || token == "" {
		return port.Principal{}, domain.ErrUnauthorized
	}
	return p, nil
}
