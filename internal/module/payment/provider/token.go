package provider

import (
	"context"
	"sync"
	"time"
)

// TokenStore caches provider access tokens. Implementations may be shared
// across instances (Redis) or local to the process.
type TokenStore interface {
	GetToken(ctx context.Context, key string) (string, bool, error)
	SetToken(ctx context.Context, key, token string, ttl time.Duration) error
	DeleteToken(ctx context.Context, key string) error
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

// NewMemoryTokenStore creates an empty in-process token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryToken), now: time.Now}
}

func (s *MemoryTokenStore) GetToken(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key]
	if !ok || !s.now().Before(tok.expiresAt) {
		delete(s.tokens, key)
		return "", false, nil
	}
	return tok.value, true, nil
}

func (s *MemoryTokenStore) SetToken(_ context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = memoryToken{value: token, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) DeleteToken(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}
