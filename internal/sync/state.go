package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DateRange is a span of time confirmed fully imported. Pagination
// within a synced range can be skipped entirely.
type DateRange struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DocCount   int       `json:"doc_count"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Contains reports whether t falls within the range, inclusive on both
// ends.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// StreamState tracks import progress for one item stream. The JSON
// field names are read by independent tooling and must not change.
type StreamState struct {
	LastImportTimestamp *time.Time  `json:"last_import_timestamp,omitempty"`
	OldestImportedDate  string      `json:"oldest_imported_date,omitempty"`
	SyncedRanges        []DateRange `json:"synced_ranges"`
	BackfillInProgress  bool        `json:"backfill_in_progress"`
}

// OldestDate parses oldest_imported_date, returning ok=false when the
// field is absent or malformed.
func (s *StreamState) OldestDate() (time.Time, bool) {
	if s.OldestImportedDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s.OldestImportedDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// State is the persisted sync state, one per vault. Document stream
// fields sit at the top level for compatibility with state files that
// predate the highlights stream; highlights nest under "highlights".
type State struct {
	StreamState
	Highlights StreamState `json:"highlights"`
}

// normalize fills in defaults so older or partial state files load
// cleanly.
func (s *State) normalize() {
	if s.SyncedRanges == nil {
		s.SyncedRanges = []DateRange{}
	}
	if s.Highlights.SyncedRanges == nil {
		s.Highlights.SyncedRanges = []DateRange{}
	}
}

// NewState returns an empty state
func NewState() *State {
	s := &State{}
	s.normalize()
	return s
}

// Store reads and writes the state file
type Store struct {
	path string
}

// NewStore creates a store for the given state file path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location
func (st *Store) Path() string {
	return st.path
}

// Load reads the state file. A missing or unparseable file yields an
// empty state, never an error.
func (st *Store) Load() *State {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read state file, starting empty", "path", st.path, "error", err)
		}
		return NewState()
	}

	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		slog.Warn("state file unparseable, starting empty", "path", st.path, "error", err)
		return NewState()
	}

	state.normalize()
	return state
}

// Save writes the state file atomically via a temp file and rename.
// Filesystem failures surface to the caller.
func (st *Store) Save(state *State) error {
	state.normalize()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := st.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFile, st.path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}
