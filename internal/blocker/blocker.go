// Package blocker watches the questions document for the same set of
// unanswered questions persisting across daemon cycles. When a set of
// open questions survives a configured number of consecutive cycles
// unchanged, the daemon backs off for an extended cooldown instead of
// burning iterations against a wall. A circuit breaker, not a halt:
// the counter resets after the cooldown so the loop gets fresh tries.
package blocker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zakelfassi/Ralph-Kit/internal/controldoc"
)

// FileName is the blocker state file inside the .ralph directory.
const FileName = "blocker.env"

// Defaults for the circuit breaker.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Minute
)

// State is the persisted blocker counter.
type State struct {
	// Count is the number of consecutive cycles the same non-empty
	// fingerprint has been observed.
	Count int

	// Fingerprint identifies the open-question set seen last cycle.
	// Empty means no open questions were seen.
	Fingerprint string
}

// Store is the persistence port for blocker state.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// Fingerprint hashes a set of question identifiers into a stable hex
// string. Order-independent: the ids are sorted before hashing. An
// empty set yields the empty string.
func Fingerprint(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	// AwaitingIDs already sorts, but callers may not.
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Detector tracks open-question fingerprints across cycles.
type Detector struct {
	questionDoc string
	store       Store

	// Threshold is the consecutive-cycle count at which the detector
	// reports blocked.
	Threshold int

	// Logf receives one line per state change. Defaults to a no-op.
	Logf func(format string, args ...any)
}

// NewDetector creates a detector reading open questions from
// questionDoc and persisting counter state in store.
func NewDetector(questionDoc string, store Store) *Detector {
	return &Detector{
		questionDoc: questionDoc,
		store:       store,
		Threshold:   DefaultThreshold,
		Logf:        func(string, ...any) {},
	}
}

// CheckAndUpdate scans the questions document, updates the persisted
// counter, and reports whether the loop is blocked. Blocked means the
// same non-empty set of open questions has now been seen Threshold
// cycles in a row.
func (d *Detector) CheckAndUpdate() (bool, error) {
	ids, err := controldoc.AwaitingIDs(d.questionDoc)
	if err != nil {
		return false, fmt.Errorf("scan questions doc: %w", err)
	}
	fp := Fingerprint(ids)

	st, err := d.store.Load()
	if err != nil {
		return false, fmt.Errorf("load blocker state: %w", err)
	}

	switch {
	case fp == "":
		st = State{}
	case fp == st.Fingerprint:
		st.Count++
	default:
		st = State{Count: 1, Fingerprint: fp}
	}

	if err := d.store.Save(st); err != nil {
		return false, fmt.Errorf("save blocker state: %w", err)
	}

	if fp != "" && st.Count >= d.Threshold {
		d.Logf("blocker: %d open questions unchanged for %d cycles", len(ids), st.Count)
		return true, nil
	}
	return false, nil
}

// Reset clears the persisted counter. The daemon calls this after the
// blocker cooldown so the next cycles start counting from scratch.
func (d *Detector) Reset() error {
	if err := d.store.Save(State{}); err != nil {
		return fmt.Errorf("reset blocker state: %w", err)
	}
	return nil
}

// Blocker state file keys.
const (
	keyCount       = "BLOCKER_COUNT"
	keyFingerprint = "BLOCKER_FINGERPRINT"
)

// FileStore persists blocker state to a KEY=value file.
type FileStore struct {
	path string
}

// NewFileStore creates a store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file. A missing file returns the zero state.
func (fs *FileStore) Load() (State, error) {
	if _, err := os.Stat(fs.path); os.IsNotExist(err) {
		return State{}, nil
	}

	vals, err := godotenv.Read(fs.path)
	if err != nil {
		return State{}, fmt.Errorf("read blocker state: %w", err)
	}

	var st State
	if n, err := strconv.Atoi(vals[keyCount]); err == nil && n > 0 {
		st.Count = n
	}
	st.Fingerprint = vals[keyFingerprint]
	return st, nil
}

// Save rewrites the whole state file atomically (temp file + rename).
func (fs *FileStore) Save(st State) error {
	content, err := godotenv.Marshal(map[string]string{
		keyCount:       strconv.Itoa(st.Count),
		keyFingerprint: st.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("marshal blocker state: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create blocker state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blocker-*.env")
	if err != nil {
		return fmt.Errorf("create temp blocker state: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		return fmt.Errorf("write temp blocker state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp blocker state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blocker state: %w", err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		return fmt.Errorf("rename blocker state: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	st State
}

// Load returns the held state.
func (m *MemStore) Load() (State, error) { return m.st, nil }

// Save replaces the held state.
func (m *MemStore) Save(st State) error {
	m.st = st
	return nil
}
