// Package document reads and writes the roadmap markdown file.
package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultContent is returned when the roadmap file does not exist yet.
const DefaultContent = "# Roadmap\n\n"

// Store is a single markdown file on disk.
type Store struct {
	path string
	mu   sync.Mutex // serialises read-modify-write in ToggleSubtask
}

// New returns a Store for path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Read returns the document text, or DefaultContent when it is absent.
func (s *Store) Read() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultContent, nil
	}
	if err != nil {
		return "", fmt.Errorf("document: read %s: %w", s.path, err)
	}
	return string(data), nil
}

// Write replaces the document, creating its directory when needed.
func (s *Store) Write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(content)
}

func (s *Store) write(content string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("document: create dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("document: write %s: %w", s.path, err)
	}
	return nil
}

// ToggleSubtask marks every "[ ] <id>" checkbox as done. The file is only
// rewritten when something changed; the return value reports that.
func (s *Store) ToggleSubtask(id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("document: subtask id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.Read()
	if err != nil {
		return false, err
	}
	updated := strings.ReplaceAll(content, "[ ] "+id, "[x] "+id)
	if updated == content {
		return false, nil
	}
	if err := s.write(updated); err != nil {
		return false, err
	}
	return true, nil
}
