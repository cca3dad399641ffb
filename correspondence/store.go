// Package correspondence finds matched interest points between two images and caches every
// intermediate result so that repeated runs skip work already done.
package correspondence

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for a key that has no entry.
var ErrNotFound = errors.New("no cache entry")

// Store persists cache artifacts by key. Entries never expire and are never checked for
// staleness.
type Store interface {
	Exists(key string) (bool, error)
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
}

// FileStore keeps each entry in the file named by its key.
type FileStore struct{}

// NewFileStore returns a store backed by the filesystem.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Exists reports whether the key's file exists.
func (fs *FileStore) Exists(key string) (bool, error) {
	_, err := os.Stat(key)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking cache file %q", key)
}

// Get reads the key's file.
func (fs *FileStore) Get(key string) ([]byte, error) {
	//nolint:gosec
	data, err := os.ReadFile(key)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache file %q", key)
	}
	return data, nil
}

// Put writes the key's file, replacing any previous content. The data is written to a
// temporary file first so readers never see a partial entry.
func (fs *FileStore) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(key), "."+filepath.Base(key)+".*")
	if err != nil {
		return errors.Wrapf(err, "writing cache file %q", key)
	}
	if _, err := tmp.Write(data); err != nil {
		//nolint:errcheck,gosec
		tmp.Close()
		//nolint:errcheck,gosec
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing cache file %q", key)
	}
	if err := tmp.Close(); err != nil {
		//nolint:errcheck,gosec
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing cache file %q", key)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), key), "writing cache file %q", key)
}

// MemStore keeps entries in memory.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: map[string][]byte{}}
}

// Exists reports whether key has an entry.
func (ms *MemStore) Exists(key string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.entries[key]
	return ok, nil
}

// Get returns a copy of the entry for key.
func (ms *MemStore) Get(key string) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	data, ok := ms.entries[key]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", key)
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data under key.
func (ms *MemStore) Put(key string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes the entry for key, if any.
func (ms *MemStore) Delete(key string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, key)
}

// Keys returns every key in sorted order.
func (ms *MemStore) Keys() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	keys := make([]string, 0, len(ms.entries))
	for k := range ms.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
