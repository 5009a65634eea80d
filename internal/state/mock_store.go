package state

import (
	"sort"
	"sync"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	locks  *keyLocks

	// Error injection
	GetError error
	SetError error

	// Write tracking
	Writes int
}

// NewMockStore creates a mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[string][]byte),
		locks:  newKeyLocks(),
	}
}

// Get returns a copy of the value under key.
func (m *MockStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetError != nil {
		return nil, m.GetError
	}

	value, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value.
func (m *MockStore) Set(key string, value []byte) error {
	return m.SetMany(map[string][]byte{key: value})
}

// SetMany stores all values, or none when SetError is configured.
func (m *MockStore) SetMany(values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetError != nil {
		return m.SetError
	}

	for key, value := range values {
		m.values[key] = append([]byte(nil), value...)
	}
	m.Writes++
	return nil
}

// Delete removes a key.
func (m *MockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetError != nil {
		return m.SetError
	}

	delete(m.values, key)
	return nil
}

// Keys returns all keys.
func (m *MockStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Lock acquires an exclusive lock for a key.
func (m *MockStore) Lock(key string) (UnlockFunc, error) {
	return m.locks.lock(key, lockTimeout)
}

// Migrate copies all keys to target.
func (m *MockStore) Migrate(target Store) error {
	m.mu.RLock()
	values := make(map[string][]byte, len(m.values))
	for key, value := range m.values {
		values[key] = value
	}
	m.mu.RUnlock()

	if len(values) == 0 {
		return nil
	}
	return target.SetMany(values)
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Helper methods for testing

// Raw returns the stored value without error injection.
func (m *MockStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok
}

// Clear removes all keys.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
}
