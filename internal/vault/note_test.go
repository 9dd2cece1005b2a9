package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vonshlovens/readvault/internal/readwise"
)

func testDocument() *readwise.Document {
	saved := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return &readwise.Document{
		ID:          "doc-1",
		Title:       "A Fine Article",
		Author:      "Jane Doe",
		Category:    "article",
		Summary:     "A summary.",
		Content:     "The content.",
		SavedAt:     readwise.Timestamp{Time: saved},
		ReadwiseURL: "https://readwise.io/reader/doc-1",
		SourceURL:   "https://example.com/article",
		Tags:        readwise.TagList{"go"},
	}
}

func TestRenderDocument(t *testing.T) {
	content, err := RenderDocument(testDocument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(content)
	if !strings.HasPrefix(text, "---\n") {
		t.Error("expected frontmatter delimiter at start")
	}
	for _, want := range []string{
		"title: A Fine Article",
		"readwise_url: https://readwise.io/reader/doc-1",
		"## Summary\n\nA summary.",
		"## Content\n\nThe content.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected rendered note to contain %q", want)
		}
	}
	if strings.Contains(text, "## Notes") {
		t.Error("empty notes section should be omitted")
	}
}

func TestRenderDocument_ScannerRoundTrip(t *testing.T) {
	// The scanner must be able to recover the ID from what we write
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := SaveDocument(dir, testDocument(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := NewDocumentScanner(nil).Scan(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.HasID("doc-1") {
		t.Error("expected scanner to recover document ID from saved note")
	}
	if !result.HasFilename("A Fine Article.md") {
		t.Error("expected scanner to record filename")
	}

	start, end, ok := result.InferredRange()
	if !ok {
		t.Fatal("expected inferred range from saved_at")
	}
	want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !start.Equal(want) || !end.Equal(want) {
		t.Errorf("expected range [%v, %v], got [%v, %v]", want, want, start, end)
	}
}

func TestRenderHighlight(t *testing.T) {
	loc := 42
	h := &readwise.Highlight{
		ID:            "7",
		Text:          "A memorable quote.",
		Note:          "My note.",
		Location:      &loc,
		HighlightedAt: readwise.Timestamp{Time: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)},
		SourceTitle:   "Deep Work",
		SourceAuthor:  "Cal Newport",
		SourceURL:     "https://example.com/book",
	}

	content, err := RenderHighlight(h, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(content)
	for _, want := range []string{
		`highlight_id: "7"`,
		"# Deep Work",
		"*Cal Newport*",
		`> "A memorable quote."`,
		"**Location**: 42",
		"**Highlighted**: 2026-01-10",
		"**Note**: My note.",
		"**Source**: https://example.com/book",
		"*Imported from Readwise Highlights on 2026-03-01*",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected rendered highlight to contain %q", want)
		}
	}
}

func TestWriteNote_CollisionCounter(t *testing.T) {
	dir := t.TempDir()

	first, err := WriteNote(dir, "Note.md", []byte("one"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "Note.md" {
		t.Errorf("expected 'Note.md', got %q", first)
	}

	second, err := WriteNote(dir, "Note.md", []byte("two"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != "Note (1).md" {
		t.Errorf("expected 'Note (1).md', got %q", second)
	}

	third, err := WriteNote(dir, "Note.md", []byte("three"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != "Note (2).md" {
		t.Errorf("expected 'Note (2).md', got %q", third)
	}

	// Original file untouched
	data, err := os.ReadFile(filepath.Join(dir, "Note.md"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("expected original content preserved, got %q", data)
	}
}

func TestRenderDailyReview(t *testing.T) {
	highlights := []readwise.Highlight{
		{Text: "First quote", SourceURL: "https://a.example"},
		{Text: "Second quote", Note: "nb"},
	}

	content := string(RenderDailyReview("2026-03-01", highlights))

	for _, want := range []string{
		"# Daily Review - 2026-03-01",
		"## First quote",
		"**Source**: https://a.example",
		"## Second quote",
		"**Note**: nb",
		"**Source**: Unknown",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("expected daily review to contain %q", want)
		}
	}
}
