// Package kvstore is a JSON-file-backed key/value store for small,
// rarely-mutated datasets (countries, translations, settings) that do
// not warrant a document-database collection.
//
// The whole dataset lives in memory and is mirrored 1:1 to a single file
// holding a JSON array of [key, value] pairs, sorted by key. Every
// mutation rewrites the file wholesale via a temp file and rename — there
// is no incremental format, no revision tokens and no conflict detection;
// last write wins. An xxh3 hash of the previous snapshot skips the
// rewrite when a mutation changed nothing.
//
// With caching disabled every read reloads the file first, for
// deployments where several processes share one file. Writers are still
// not coordinated across processes.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
)

// Config holds store options.
type Config struct {
	// DisableCache makes every read reload the file instead of
	// trusting the in-memory mirror.
	DisableCache bool
}

// Store is a file-backed key/value map. Safe for concurrent use within
// one process.
type Store struct {
	path    string
	nocache bool

	mu   sync.RWMutex
	data map[string]any
	snap uint64
}

// Open reads the file at path into memory, starting empty if the file
// does not exist yet.
func Open(path string, config Config) (*Store, error) {
	s := &Store{path: path, nocache: config.DisableCache}
	s.data = make(map[string]any)
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

// load replaces the in-memory map with the file contents. The caller
// must hold the write lock (or be the constructor).
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	data := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		var value any
		if err := json.Unmarshal(pair[1], &value); err != nil {
			return fmt.Errorf("parse value for %q: %w", key, err)
		}
		data[key] = value
	}
	s.data = data
	s.snap = xxh3.Hash(raw)
	return nil
}

// save serializes the whole map back to disk. The caller must hold the
// write lock.
func (s *Store) save() error {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([][2]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]any{k, s.data[k]})
	}

	raw, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}

	sum := xxh3.Hash(raw)
	if sum == s.snap {
		return nil
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	s.snap = sum
	return nil
}

// reload refreshes from disk when caching is off.
func (s *Store) reload() error {
	if !s.nocache {
		return nil
	}
	return s.load()
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reload(); err != nil {
		return nil, false, err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

// GetAll returns a copy of the whole map.
func (s *Store) GetAll() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reload(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

// Len returns the number of entries.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reload(); err != nil {
		return 0, err
	}
	return len(s.data), nil
}

// Set writes one entry and persists the snapshot.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.save()
}

// SetAll writes many entries in one snapshot rewrite.
func (s *Store) SetAll(entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.data[k] = v
	}
	return s.save()
}

// Delete removes an entry. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save()
}
