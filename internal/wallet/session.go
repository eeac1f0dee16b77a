package wallet

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Session is a per-user file of unlocked keys, keyed by keychain reference.
// `w3permit wallet unlock` fills it so repeated permit signing skips the
// keychain prompt; `wallet lock` removes it.
type Session struct {
	mu   sync.Mutex
	path string
}

// DefaultSession returns the session stored in the OS cache directory:
//
//	macOS:   ~/Library/Caches/w3permit/session.json
//	Linux:   ~/.cache/w3permit/session.json
//	Windows: %LocalAppData%\w3permit\session.json
func DefaultSession() *Session {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return NewSession(filepath.Join(dir, "w3permit", "session.json"))
}

// NewSession uses the file at path.
func NewSession(path string) *Session { return &Session{path: path} }

// Path returns the session file location.
func (s *Session) Path() string { return s.path }

// Get returns the cached key for ref.
func (s *Session) Get(ref string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.read()[ref]
	return v, ok
}

// Snapshot returns a copy of every cached key in one read.
func (s *Session) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Put caches hexKey under ref.
func (s *Session) Put(ref, hexKey string) error {
	return s.PutAll(map[string]string{ref: hexKey})
}

// PutAll merges keys into the session in a single read and write.
func (s *Session) PutAll(keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.read()
	for ref, k := range keys {
		m[ref] = normaliseHexKey(k)
	}
	return s.write(m)
}

// Remove evicts ref. A missing entry is not an error.
func (s *Session) Remove(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.read()
	if _, ok := m[ref]; !ok {
		return nil
	}
	delete(m, ref)
	return s.write(m)
}

// Clear deletes the session file and the in-process key cache.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionCache.Clear()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Active reports whether any key is unlocked.
func (s *Session) Active() bool {
	return len(s.Snapshot()) > 0
}

// read never returns nil; unreadable or corrupt files read as empty.
func (s *Session) read() map[string]string {
	m := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return make(map[string]string)
	}
	return m
}

func (s *Session) write(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(s.path, 0o600)
}
