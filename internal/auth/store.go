package auth

import (
	"context"
	"sync"

	"github.com/bageldb/libraries/pkg/bagel"
)

// CredentialStore is the persistence the session lives in.
type CredentialStore = bagel.CredentialStore

// StoreError indicates a credential storage failure. It is returned to the
// caller as is; persistence failures are never retried.
type StoreError struct {
	Op  string // "get", "set", "remove", "clear"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	msg := e.Op + " credential"
	if e.Key != "" {
		msg += " " + e.Key
	}

	return msg + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// MemoryStore is the in-process fallback store. It does not survive restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]

	return value, ok, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value

	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

// Clear deletes every key.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]string)

	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
