// Package session persists backend login state between runs.
//
// A session is an opaque blob keyed by backend kind. Each backend owns its
// own format (a cookie list, a browser storage snapshot); the store never
// looks inside. A missing or unreadable entry is reported as absent so the
// backend falls back to a fresh login.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/chatcrawler/internal/logger"
)

// DefaultDir is where FileStore keeps sessions unless told otherwise.
const DefaultDir = "output/cookies"

// Session is one backend's persisted login state.
type Session struct {
	Kind    string    `json:"kind"`
	Data    []byte    `json:"data"`
	SavedAt time.Time `json:"saved_at"`
}

// Store loads and saves sessions by backend kind. Entries are never merged:
// Save replaces whatever was stored for that kind.
type Store interface {
	Load(kind string) (Session, bool)
	Save(kind string, s Session) error
	Clear(kind string) error
}

// FileStore keeps one JSON file per backend kind under Dir.
// Concurrent runs against the same kind race; the last writer wins.
type FileStore struct {
	Dir string
}

// NewFileStore creates a store rooted at dir (DefaultDir when empty).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir
	}
	return &FileStore{Dir: dir}
}

// Path returns the file backing kind.
func (fs *FileStore) Path(kind string) string {
	return filepath.Join(fs.Dir, kind+".json")
}

// Load reads the session for kind. Missing, corrupt or mismatched files are absent.
func (fs *FileStore) Load(kind string) (Session, bool) {
	path := fs.Path(kind)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("session unreadable, treating as absent", "kind", kind, "path", path, "error", err)
		}
		return Session{}, false
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warn("session corrupt, treating as absent", "kind", kind, "path", path, "error", err)
		return Session{}, false
	}
	if s.Kind != kind || len(s.Data) == 0 {
		logger.Warn("session does not match backend, treating as absent", "kind", kind, "stored_kind", s.Kind)
		return Session{}, false
	}

	logger.Debug("session loaded", "kind", kind, "saved_at", s.SavedAt)
	return s, true
}

// Save writes the session for kind, replacing any previous entry.
func (fs *FileStore) Save(kind string, s Session) error {
	s.Kind = kind
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(fs.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(fs.Dir, kind+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmpName, fs.Path(kind)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session: %w", err)
	}

	logger.Debug("session saved", "kind", kind, "path", fs.Path(kind), "bytes", len(s.Data))
	return nil
}

// Clear removes the session for kind. Clearing an absent session is not an error.
func (fs *FileStore) Clear(kind string) error {
	if err := os.Remove(fs.Path(kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// MemoryStore keeps sessions in memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Load returns the stored session for kind.
func (ms *MemoryStore) Load(kind string) (Session, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s, ok := ms.sessions[kind]
	if !ok || len(s.Data) == 0 {
		return Session{}, false
	}
	return s, true
}

// Save replaces the session for kind.
func (ms *MemoryStore) Save(kind string, s Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s.Kind = kind
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	s.Data = append([]byte(nil), s.Data...)
	ms.sessions[kind] = s
	return nil
}

// Clear removes the session for kind.
func (ms *MemoryStore) Clear(kind string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, kind)
	return nil
}
