package state

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/booktu/internal/events"
)

// SQLiteStore implements SQLite-based key/value storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	locks  *keyLocks
}

// NewSQLiteStore creates a SQLite store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
		locks:  newKeyLocks(),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value BLOB NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Get reads a key.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	s.logger.WithField("key", key).Debug("Loading key from SQLite")

	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query key: %w", err)
	}

	return value, nil
}

// Set upserts a key.
func (s *SQLiteStore) Set(key string, value []byte) error {
	return s.SetMany(map[string][]byte{key: value})
}

// SetMany upserts every key in one transaction.
func (s *SQLiteStore) SetMany(values map[string][]byte) error {
	s.logger.WithField("keys", sortedKeys(values)).Debug("Saving keys to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
        INSERT INTO kv (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            updated_at = CURRENT_TIMESTAMP
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, key := range sortedKeys(values) {
		value := values[key]
		if value == nil {
			value = []byte{}
		}
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// Delete removes a key.
func (s *SQLiteStore) Delete(key string) error {
	s.logger.WithField("key", key).Debug("Deleting key in SQLite")

	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}

	return nil
}

// Keys returns all keys.
func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Lock acquires a lock for a key.
func (s *SQLiteStore) Lock(key string) (UnlockFunc, error) {
	return s.locks.lock(key, lockTimeout)
}

// Migrate copies all keys to another store.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
