package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists one Relay record.
type Store interface {
	// Load returns the stored record, or Defaults when nothing is stored.
	Load() (Relay, error)
	// Save replaces the stored record and reports whether one existed.
	Save(Relay) (existed bool, err error)
}

// FileStore keeps the record in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Relay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("read settings: %w", err)
	}

	r := Defaults()
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Defaults(), fmt.Errorf("decode settings %s: %w", s.path, err)
	}
	return r.Normalize(), nil
}

func (s *FileStore) Save(r Relay) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	existed := statErr == nil

	data, err := yaml.Marshal(r)
	if err != nil {
		return existed, fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return existed, fmt.Errorf("create settings directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return existed, fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return existed, fmt.Errorf("replace settings: %w", err)
	}
	return existed, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	record *Relay
	saves  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Relay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return Defaults(), nil
	}
	return s.record.Normalize(), nil
}

func (s *MemoryStore) Save(r Relay) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.record != nil
	s.record = &r
	s.saves++
	return existed, nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
