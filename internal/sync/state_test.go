package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsEmptyState(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))

	state := store.Load()

	if state.LastImportTimestamp != nil {
		t.Error("expected nil last import timestamp")
	}
	if len(state.SyncedRanges) != 0 || state.SyncedRanges == nil {
		t.Error("expected empty, non-nil synced ranges")
	}
	if state.BackfillInProgress {
		t.Error("expected backfill flag clear")
	}
}

func TestLoad_CorruptFileYieldsEmptyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	state := NewStore(path).Load()

	if state.LastImportTimestamp != nil || len(state.SyncedRanges) != 0 {
		t.Error("expected empty state from corrupt file")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))

	last := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	state := NewState()
	state.LastImportTimestamp = &last
	state.OldestImportedDate = "2026-01-01"
	state.SyncedRanges = []DateRange{{Start: day(1), End: day(20), DocCount: 42, VerifiedAt: day(20)}}
	state.Highlights.BackfillInProgress = true

	if err := store.Save(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded := store.Load()
	if loaded.LastImportTimestamp == nil || !loaded.LastImportTimestamp.Equal(last) {
		t.Errorf("unexpected last import timestamp: %v", loaded.LastImportTimestamp)
	}
	if loaded.OldestImportedDate != "2026-01-01" {
		t.Errorf("unexpected oldest date: %q", loaded.OldestImportedDate)
	}
	if len(loaded.SyncedRanges) != 1 || loaded.SyncedRanges[0].DocCount != 42 {
		t.Errorf("unexpected synced ranges: %+v", loaded.SyncedRanges)
	}
	if !loaded.Highlights.BackfillInProgress {
		t.Error("expected highlights backfill flag preserved")
	}
}

func TestSave_FieldNames(t *testing.T) {
	// Field names are read by other tooling; changing them breaks it
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path)

	last := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	state := NewState()
	state.LastImportTimestamp = &last
	state.OldestImportedDate = "2026-01-01"
	state.SyncedRanges = []DateRange{{Start: day(1), End: day(20), DocCount: 3, VerifiedAt: day(20)}}

	if err := store.Save(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`"last_import_timestamp"`,
		`"oldest_imported_date"`,
		`"synced_ranges"`,
		`"backfill_in_progress"`,
		`"doc_count"`,
		`"verified_at"`,
		`"highlights"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected state file to contain %s", want)
		}
	}
}

func TestLoad_LegacyFileWithoutHighlights(t *testing.T) {
	// Files written before the highlights stream existed
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{
  "last_import_timestamp": "2026-01-20T12:00:00+00:00",
  "oldest_imported_date": "2026-01-01",
  "synced_ranges": [
    {"start": "2026-01-01T00:00:00Z", "end": "2026-01-20T00:00:00Z", "doc_count": 5, "verified_at": "2026-01-20T00:00:00Z"}
  ],
  "backfill_in_progress": false
}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	state := NewStore(path).Load()

	if state.LastImportTimestamp == nil {
		t.Fatal("expected last import timestamp parsed")
	}
	if len(state.SyncedRanges) != 1 || state.SyncedRanges[0].DocCount != 5 {
		t.Errorf("unexpected synced ranges: %+v", state.SyncedRanges)
	}
	if state.Highlights.SyncedRanges == nil {
		t.Error("expected highlights stream normalized to empty slice")
	}
}

func TestSave_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.json"))

	if err := store.Save(NewState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSave_EmptyStateHasNoNullRanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := NewStore(path).Save(&State{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if string(raw["synced_ranges"]) == "null" {
		t.Error("expected synced_ranges serialized as [], not null")
	}
}

func TestOldestDate(t *testing.T) {
	s := &StreamState{OldestImportedDate: "2026-01-05"}
	got, ok := s.OldestDate()
	if !ok || !got.Equal(day(5)) {
		t.Errorf("expected %v, got %v (ok=%v)", day(5), got, ok)
	}

	s = &StreamState{}
	if _, ok := s.OldestDate(); ok {
		t.Error("expected ok=false for empty date")
	}

	s = &StreamState{OldestImportedDate: "not-a-date"}
	if _, ok := s.OldestDate(); ok {
		t.Error("expected ok=false for malformed date")
	}
}
