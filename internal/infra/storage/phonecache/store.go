// Package phonecache persists the last non-empty phone list fetched from the
// coordination server.
package phonecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

var (
	_ registration.PhoneCache = (*FileStore)(nil)
	_ registration.PhoneCache = (*MemoryStore)(nil)
)

// FileStore keeps the phone list as a JSON array in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by path.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the cached list. A missing or empty file yields an empty list.
func (s *FileStore) Load(ctx context.Context) ([]registration.PhoneNumber, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read phone cache %s: %w", s.path, err)
	}

	phones, err := registration.ParsePhoneList(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse phone cache %s: %w", s.path, err)
	}
	return phones, nil
}

// Save replaces the file contents with phones. The write goes to a temporary
// file in the same directory that is renamed over the old one.
func (s *FileStore) Save(ctx context.Context, phones []registration.PhoneNumber) (err error) {
	data, err := json.Marshal(phones)
	if err != nil {
		return fmt.Errorf("failed to encode phone cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for phone cache: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	_, werr := tmp.Write(data)
	werr = multierr.Append(werr, tmp.Sync())
	werr = multierr.Append(werr, tmp.Close())
	if werr != nil {
		return fmt.Errorf("failed to write phone cache: %w", werr)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace phone cache %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore is an in-process PhoneCache.
type MemoryStore struct {
	mu     sync.Mutex
	phones []registration.PhoneNumber
	saves  int
}

// NewMemoryStore creates a MemoryStore seeded with phones.
func NewMemoryStore(phones ...registration.PhoneNumber) *MemoryStore {
	return &MemoryStore{phones: append([]registration.PhoneNumber(nil), phones...)}
}

// Load returns a copy of the stored list.
func (s *MemoryStore) Load(ctx context.Context) ([]registration.PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registration.PhoneNumber(nil), s.phones...), nil
}

// Save replaces the stored list.
func (s *MemoryStore) Save(ctx context.Context, phones []registration.PhoneNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phones = append([]registration.PhoneNumber(nil), phones...)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
