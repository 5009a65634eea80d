package state

import (
	"errors"
	"time"
)

// Store is device-local key/value storage. Each persisted collection lives
// under its own namespaced key and is owned by exactly one component.
type Store interface {
	// Get returns the value stored under key.
	Get(key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(key string, value []byte) error

	// SetMany replaces several keys as one logical update.
	SetMany(values map[string][]byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns all stored keys.
	Keys() ([]string, error)

	// Lock acquires an exclusive lock for a key.
	Lock(key string) (UnlockFunc, error)

	// Migrate copies every key into target.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// UnlockFunc releases a key lock.
type UnlockFunc func()

// Errors
var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrStateLocked  = errors.New("state is locked")
	ErrStateCorrupt = errors.New("state file is corrupt")
)

// Namespaced keys, one per persisted collection.
const (
	KeyAuthToken          = "@booktu:token"
	KeyInventoryHistory   = "@booktu:inventory_history"
	KeyBooks              = "@booktu:books"
	KeyEstablishments     = "@booktu:establishments"
	KeyOfflineInventories = "@booktu:offline_inventory"
	KeyRefreshedAt        = "@booktu:refetch_timestamp"
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// lockTimeout bounds how long Lock waits for a busy key.
const lockTimeout = 5 * time.Second
