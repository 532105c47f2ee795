// Package prefs persists client preferences between runs of the chat command.
package prefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Prefs are the client preferences. Theme and ImageModel are kept for other
// clients sharing the file.
type Prefs struct {
	Model      string `toml:"model"`
	Theme      string `toml:"theme,omitempty"`
	ImageModel string `toml:"image_model,omitempty"`
}

// Store loads and saves preferences.
type Store interface {
	Load() (Prefs, error)
	Save(p Prefs) error
}

// FileStore keeps preferences in a TOML file
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the preferences. A missing file yields zero preferences.
func (s *FileStore) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p Prefs
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("failed to read prefs file: %w", err)
	}

	if _, err := toml.Decode(string(data), &p); err != nil {
		return Prefs{}, fmt.Errorf("failed to parse prefs file %s: %w", s.path, err)
	}
	return p, nil
}

// Save writes the preferences, replacing the file atomically.
func (s *FileStore) Save(p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create prefs directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("failed to encode prefs: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write prefs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}
	return nil
}

// MemStore keeps preferences in memory, for clients without a prefs file.
type MemStore struct {
	mu sync.Mutex
	p  Prefs
}

func (s *MemStore) Load() (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, nil
}

func (s *MemStore) Save(p Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
	return nil
}
