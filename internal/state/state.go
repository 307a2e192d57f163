// Package state persists the router's cross-invocation state: which
// backend is active and until when each backend is rate-limited.
//
// The on-disk format is plain KEY=value lines so operators can inspect
// and edit it with a text editor. An absent file is valid and means
// "no rate limits, default backend".
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
)

// FileName is the state file inside the .ralph directory.
const FileName = "state.env"

// RouterState is the persisted routing state.
type RouterState struct {
	// Active is the backend the router last used.
	Active backend.ID

	// LimitUntil maps each backend to the instant its rate limit
	// elapses. A zero time means the backend is not limited.
	LimitUntil map[backend.ID]time.Time
}

// NewRouterState returns the zero state: codex active, no limits.
func NewRouterState() RouterState {
	return RouterState{
		Active: backend.Codex,
		LimitUntil: map[backend.ID]time.Time{
			backend.Claude: {},
			backend.Codex:  {},
		},
	}
}

// Limited reports whether id is rate-limited at the given instant.
func (s RouterState) Limited(id backend.ID, now time.Time) bool {
	return s.LimitUntil[id].After(now)
}

// SetLimit records that id is rate-limited until the given instant.
func (s *RouterState) SetLimit(id backend.ID, until time.Time) {
	if s.LimitUntil == nil {
		s.LimitUntil = make(map[backend.ID]time.Time)
	}
	s.LimitUntil[id] = until
}

// ClearLimit removes the rate limit for id.
func (s *RouterState) ClearLimit(id backend.ID) {
	s.SetLimit(id, time.Time{})
}

// Store is the persistence port for router state. The file
// implementation is used by the CLI; tests substitute MemStore.
type Store interface {
	Load() (RouterState, error)
	Save(RouterState) error
}

// State file keys.
const (
	keyActive      = "ACTIVE_BACKEND"
	keyClaudeLimit = "CLAUDE_LIMIT_UNTIL"
	keyCodexLimit  = "CODEX_LIMIT_UNTIL"
)

// FileStore persists router state to a KEY=value file, rewritten whole
// on every save.
type FileStore struct {
	path string
}

// NewFileStore creates a store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file. A missing file returns the zero state.
func (fs *FileStore) Load() (RouterState, error) {
	st := NewRouterState()

	if _, err := os.Stat(fs.path); os.IsNotExist(err) {
		return st, nil
	}

	vals, err := godotenv.Read(fs.path)
	if err != nil {
		return st, fmt.Errorf("read state file: %w", err)
	}

	if v, ok := vals[keyActive]; ok && backend.ID(v).Valid() {
		st.Active = backend.ID(v)
	}
	st.SetLimit(backend.Claude, parseEpoch(vals[keyClaudeLimit]))
	st.SetLimit(backend.Codex, parseEpoch(vals[keyCodexLimit]))

	return st, nil
}

// Save rewrites the whole state file atomically (temp file + rename).
func (fs *FileStore) Save(st RouterState) error {
	content, err := godotenv.Marshal(map[string]string{
		keyActive:      string(st.Active),
		keyClaudeLimit: formatEpoch(st.LimitUntil[backend.Claude]),
		keyCodexLimit:  formatEpoch(st.LimitUntil[backend.Codex]),
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.env")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	st     RouterState
	loaded bool

	// Saves counts Save calls, for asserting persistence behavior.
	Saves int
}

// NewMemStore creates a MemStore holding the given state.
func NewMemStore(st RouterState) *MemStore {
	return &MemStore{st: st, loaded: true}
}

// Load returns the held state, or the zero state if none was set.
func (m *MemStore) Load() (RouterState, error) {
	if !m.loaded {
		return NewRouterState(), nil
	}
	return m.st, nil
}

// Save replaces the held state.
func (m *MemStore) Save(st RouterState) error {
	m.st = st
	m.loaded = true
	m.Saves++
	return nil
}

func parseEpoch(v string) time.Time {
	if v == "" || v == "0" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func formatEpoch(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
