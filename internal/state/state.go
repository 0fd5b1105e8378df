// Package state persists step results across runs so a failed
// provisioning run can resume without redoing completed work.
package state

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultPath is where apply persists results unless --state-file
// overrides it.
const DefaultPath = "/var/lib/provisio/state.json"

// Record is one persisted step outcome. Records are append-only; a
// re-run of a step appends a new record rather than mutating history.
type Record struct {
	RunID     string        `json:"run_id"`
	StepID    string        `json:"step_id"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

type document struct {
	Version int      `json:"version"`
	History []Record `json:"history"`
}

// Store reads and writes the provisioning state file. Safe for
// concurrent use by parallel step workers.
type Store struct {
	path string

	mu      sync.Mutex
	history []Record
	latest  map[string]Record
}

// NewStore creates a store backed by the given file. The file does not
// need to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path, latest: make(map[string]Record)}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// NewRunID generates a lexically sortable identifier for one apply run.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Load reads the state file. A missing file yields an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.history = nil
		s.latest = make(map[string]Record)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading state file %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing state file %s: %w", s.path, err)
	}

	s.history = doc.History
	s.latest = make(map[string]Record, len(doc.History))
	for _, rec := range doc.History {
		s.latest[rec.StepID] = rec
	}
	return nil
}

// Append records a step outcome in memory. Call Save to persist.
func (s *Store) Append(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, rec)
	s.latest[rec.StepID] = rec
}

// Latest returns the most recent record for a step, if any.
func (s *Store) Latest(stepID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.latest[stepID]
	return rec, ok
}

// History returns all records in append order.
func (s *Store) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

// Save writes the state file atomically: a temp file in the same
// directory is renamed over the target so a crash mid-write never
// leaves a truncated file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Version: 1, History: s.history}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing state: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", closeErr)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
