// Package filecache provides crash-atomic JSON file caches keyed by
// SHA-1 digests, used for SSO tokens, client registrations, and role
// credentials.
package filecache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	errUtils "github.com/ssoutil/ssoutil/errors"
)

// Store is a directory of JSON records, one file per key.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the record for key into v. Returns false when the key is absent.
func (s *Store) Get(key string, v any) (bool, error) {
	data, err := os.ReadFile(s.Path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading cache entry %s: %v", errUtils.ErrMissingConfiguration, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing cache entry %s: %w", key, err)
	}
	return true, nil
}

// Put writes the record for key atomically (write to temp, then rename).
func (s *Store) Put(key string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating cache dir %s: %w", s.dir, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry %s: %w", key, err)
	}
	if err := renameio.WriteFile(s.Path(key), data, 0o600); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

// Remove deletes the record for key. Missing entries are not an error.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry %s: %w", key, err)
	}
	return nil
}

// KeyForString returns the hex SHA-1 of s.
func KeyForString(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// KeyForObject returns the hex SHA-1 of the canonical JSON encoding of v.
// Map keys are sorted by the encoder, so the digest is stable.
func KeyForObject(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}
