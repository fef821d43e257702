package kvstore

import (
	"context"
	"sync"
)

// NewSession returns an in-memory Store scoped to the current process.
// Its contents are discarded on exit; it backs the session-scoped flags
// (for example a "dismissed this session" marker).
func NewSession() Store {
	return &sessionStore{kv: map[string]string{}}
}

type sessionStore struct {
	mu sync.Mutex
	kv map[string]string
}

func (s *sessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *sessionStore) Put(ctx context.Context, key, value string) error {
	_ = ctx
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.kv[key] = value
	s.mu.Unlock()
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	delete(s.kv, key)
	s.mu.Unlock()
	return nil
}

func (s *sessionStore) Close() error { return nil }
