package state

import (
	"encoding/json"
	"errors"

	"github.com/TheMichaelB/booktu/internal/models"
)

// LoadJSON decodes the value under key into out. It reports false when the
// key has never been written.
func LoadJSON(s Store, key string, out interface{}) (bool, error) {
	data, err := s.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &models.StorageError{Op: "read", Key: key, Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, &models.StorageError{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &models.StorageError{Op: "encode", Key: key, Err: err}
	}

	if err := s.Set(key, data); err != nil {
		return &models.StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}
