package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/booktu/internal/events"
)

// renameFile is os.Rename; tests replace it to fail a commit midway.
var renameFile = os.Rename

// JSONStore implements file-based storage, one file per key.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	// Locking
	mu    sync.RWMutex
	locks *keyLocks
}

// record is the on-disk envelope for one key.
type record struct {
	Key           string    `json:"key"`
	Value         []byte    `json:"value"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// NewJSONStore creates a JSON-based store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
		locks:   newKeyLocks(),
	}, nil
}

// Get reads a key from its JSON file.
func (s *JSONStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.keyPath(key)

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"path": path,
	}).Debug("Loading key")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("State file corrupt, trying backup")
		if rec, berr := s.loadBackup(key); berr == nil {
			return rec.Value, nil
		}
		return nil, ErrStateCorrupt
	}

	if rec.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", rec.SchemaVersion).Warn("State schema version mismatch")
	}

	return rec.Value, nil
}

// Set writes a key atomically.
func (s *JSONStore) Set(key string, value []byte) error {
	return s.SetMany(map[string][]byte{key: value})
}

// SetMany stages every key to a temp file before renaming any of them, so
// an encode or write failure leaves all keys untouched. A rename failure
// restores the keys already committed in this call.
func (s *JSONStore) SetMany(values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := sortedKeys(values)
	staged := make([]string, 0, len(keys))
	cleanup := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}

	// previous holds the current file of every key; nil means absent.
	previous := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := os.ReadFile(s.keyPath(key))
		switch {
		case err == nil:
			previous[key] = data
		case os.IsNotExist(err):
			previous[key] = nil
		default:
			return fmt.Errorf("read state file: %w", err)
		}
	}

	for _, key := range keys {
		data, err := encodeRecord(key, values[key])
		if err != nil {
			cleanup()
			return err
		}

		tmpPath := s.keyPath(key) + ".tmp"
		if err := writeSynced(tmpPath, data); err != nil {
			cleanup()
			return fmt.Errorf("write temp file: %w", err)
		}
		staged = append(staged, tmpPath)
	}

	for i, key := range keys {
		path := s.keyPath(key)

		if previous[key] != nil {
			if err := s.copyFile(path, path+".backup"); err != nil {
				s.logger.WithError(err).Warn("Failed to create backup")
			}
		}

		if err := renameFile(path+".tmp", path); err != nil {
			cleanup()
			s.rollback(keys[:i], previous)
			return fmt.Errorf("rename state file: %w", err)
		}
	}

	s.logger.WithField("keys", keys).Debug("Saved keys")
	return nil
}

// rollback puts committed keys back to their previous contents.
func (s *JSONStore) rollback(committed []string, previous map[string][]byte) {
	for _, key := range committed {
		path := s.keyPath(key)

		var err error
		if previous[key] == nil {
			err = os.Remove(path)
		} else if err = writeSynced(path+".tmp", previous[key]); err == nil {
			err = os.Rename(path+".tmp", path)
		}
		if err != nil {
			s.logger.WithError(err).WithField("key", key).Error("Failed to roll back state file")
		}
	}
}

// Delete removes a key and its backup.
func (s *JSONStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("key", key).Debug("Deleting key")

	path := s.keyPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	_ = os.Remove(path + ".backup")

	return nil
}

// Keys returns every stored key.
func (s *JSONStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		if rec, err := decodeRecord(data); err == nil {
			keys = append(keys, rec.Key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Lock acquires a lock for a key.
func (s *JSONStore) Lock(key string) (UnlockFunc, error) {
	return s.locks.lock(key, lockTimeout)
}

// Migrate copies all keys to another store.
func (s *JSONStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

// keyPath maps "@booktu:offline_inventory" to "booktu.offline_inventory.json".
func (s *JSONStore) keyPath(key string) string {
	name := strings.TrimPrefix(key, "@")
	name = strings.NewReplacer(":", ".", "/", "_", string(filepath.Separator), "_").Replace(name)
	return filepath.Join(s.baseDir, name+".json")
}

func (s *JSONStore) loadBackup(key string) (*record, error) {
	data, err := os.ReadFile(s.keyPath(key) + ".backup")
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *JSONStore) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func encodeRecord(key string, value []byte) ([]byte, error) {
	rec := record{
		Key:           key,
		Value:         value,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Checksum:      checksum(value),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrStateCorrupt
	}
	if rec.Key == "" {
		return nil, ErrStateCorrupt
	}
	if rec.Checksum != "" && rec.Checksum != checksum(rec.Value) {
		return nil, ErrStateCorrupt
	}
	return &rec, nil
}

func checksum(value []byte) string {
	hash := sha256.Sum256(value)
	return hex.EncodeToString(hash[:])
}

func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func sortedKeys(values map[string][]byte) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func migrate(source, target Store, logger *events.Logger) error {
	keys, err := source.Keys()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	logger.WithField("count", len(keys)).Info("Migrating keys")

	values := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := source.Get(key)
		if err != nil {
			logger.WithError(err).WithField("key", key).Error("Failed to load key")
			continue
		}
		values[key] = value
	}

	if len(values) == 0 {
		return nil
	}

	if err := target.SetMany(values); err != nil {
		return fmt.Errorf("save keys: %w", err)
	}
	return nil
}
