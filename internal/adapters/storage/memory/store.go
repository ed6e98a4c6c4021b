// Package memory provides a map-backed key-value store for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"
)

// Store implements ports.KeyValueStore in memory.
// SaveErr and LoadErr, when set, are returned by every call.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	saves  int

	SaveErr error
	LoadErr error
}

// New creates an empty store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "storage" }

// Check implements ports.HealthChecker.
func (s *Store) Check(context.Context) error { return nil }

// Load implements ports.KeyValueStore.
func (s *Store) Load(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.LoadErr != nil {
		return "", false, s.LoadErr
	}

	v, ok := s.values[key]

	return v, ok, nil
}

// Save implements ports.KeyValueStore.
func (s *Store) Save(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	s.values[key] = value
	s.saves++

	return nil
}

// FailSaves makes subsequent saves return err; nil restores normal operation.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SaveErr = err
}

// Saves returns how many saves succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saves
}
