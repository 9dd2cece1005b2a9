package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/readvault/internal/readwise"
)

// documentFrontmatter is the YAML front-matter written to document
// notes. readwise_url carries the upstream ID the scanner recovers
// during deduplication.
type documentFrontmatter struct {
	Title       string   `yaml:"title"`
	Author      string   `yaml:"author,omitempty"`
	Source      string   `yaml:"source,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	SavedAt     string   `yaml:"saved_at,omitempty"`
	UpdatedAt   string   `yaml:"updated_at,omitempty"`
	ReadwiseURL string   `yaml:"readwise_url,omitempty"`
	SourceURL   string   `yaml:"source_url,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

type highlightFrontmatter struct {
	HighlightID   string   `yaml:"highlight_id"`
	Text          string   `yaml:"text,omitempty"`
	SourceTitle   string   `yaml:"source_title,omitempty"`
	SourceAuthor  string   `yaml:"source_author,omitempty"`
	SourceType    string   `yaml:"source_type,omitempty"`
	SourceURL     string   `yaml:"source_url,omitempty"`
	HighlightedAt string   `yaml:"highlighted_at,omitempty"`
	UpdatedAt     string   `yaml:"updated_at,omitempty"`
	Location      *int     `yaml:"location,omitempty"`
	ReadwiseURL   string   `yaml:"readwise_url,omitempty"`
	Tags          []string `yaml:"tags,omitempty"`
}

func formatTime(t readwise.Timestamp) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// RenderDocument produces the markdown content for a document note
func RenderDocument(doc *readwise.Document) ([]byte, error) {
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}

	fm := documentFrontmatter{
		Title:       title,
		Author:      doc.Author,
		Source:      doc.Source,
		Category:    doc.Category,
		SavedAt:     formatTime(doc.SavedAt),
		UpdatedAt:   formatTime(doc.UpdatedAt),
		ReadwiseURL: doc.ReadwiseURL,
		SourceURL:   doc.SourceURL,
		Tags:        doc.Tags,
	}

	yamlBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(yamlBytes)
	b.WriteString("---\n\n")

	if doc.Summary != "" {
		fmt.Fprintf(&b, "## Summary\n\n%s\n\n", doc.Summary)
	}
	if doc.Content != "" {
		fmt.Fprintf(&b, "## Content\n\n%s\n\n", doc.Content)
	}
	if doc.Notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n\n", doc.Notes)
	}

	return []byte(b.String()), nil
}

// RenderHighlight produces the markdown content for a highlight note
func RenderHighlight(h *readwise.Highlight, now time.Time) ([]byte, error) {
	fm := highlightFrontmatter{
		HighlightID:   h.ID.String(),
		Text:          truncateRunes(h.Text, 100),
		SourceTitle:   h.SourceTitle,
		SourceAuthor:  h.SourceAuthor,
		SourceType:    h.SourceType,
		SourceURL:     h.SourceURL,
		HighlightedAt: formatTime(h.HighlightedAt),
		UpdatedAt:     formatTime(h.Updated),
		Location:      h.Location,
		ReadwiseURL:   h.ReadwiseURL,
		Tags:          h.Tags,
	}

	yamlBytes, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	sourceTitle := h.SourceTitle
	if sourceTitle == "" {
		sourceTitle = "Unknown Source"
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(yamlBytes)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n", sourceTitle)
	if h.SourceAuthor != "" {
		fmt.Fprintf(&b, "*%s*\n\n", h.SourceAuthor)
	}

	b.WriteString("## Highlight\n\n")
	fmt.Fprintf(&b, "> %q\n\n", h.Text)

	var info []string
	if h.Location != nil {
		info = append(info, fmt.Sprintf("**Location**: %d", *h.Location))
	}
	if !h.HighlightedAt.IsZero() {
		info = append(info, "**Highlighted**: "+h.HighlightedAt.Format("2006-01-02"))
	}
	if len(info) > 0 {
		b.WriteString(strings.Join(info, " | ") + "\n\n")
	}

	if h.Note != "" {
		fmt.Fprintf(&b, "**Note**: %s\n\n", h.Note)
	}

	b.WriteString("---\n\n")
	if h.SourceURL != "" {
		fmt.Fprintf(&b, "**Source**: %s\n", h.SourceURL)
	}
	if h.ReadwiseURL != "" {
		fmt.Fprintf(&b, "**Readwise**: %s\n", h.ReadwiseURL)
	}
	fmt.Fprintf(&b, "\n*Imported from Readwise Highlights on %s*\n", now.UTC().Format("2006-01-02"))

	return []byte(b.String()), nil
}

// RenderDailyReview produces a single digest note from a batch of
// highlights
func RenderDailyReview(date string, highlights []readwise.Highlight) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Review - %s\n\n", date)

	for i := range highlights {
		h := &highlights[i]
		fmt.Fprintf(&b, "## %s\n\n", h.Text)
		if h.Note != "" {
			fmt.Fprintf(&b, "**Note**: %s\n\n", h.Note)
		}
		source := h.SourceURL
		if source == "" {
			source = "Unknown"
		}
		fmt.Fprintf(&b, "**Source**: %s\n\n---\n\n", source)
	}

	return []byte(b.String())
}

// WriteNote writes rendered content into dir under filename, appending
// a numeric counter suffix until a free name is found. Returns the
// filename actually used. Callers are expected to have already ruled
// out true duplicates by upstream ID; a collision here is a different
// item sharing a name.
func WriteNote(dir, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	name := filename
	for counter := 1; ; counter++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = WithCounter(filename, counter)
	}

	if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
		return "", fmt.Errorf("failed to write note: %w", err)
	}

	return name, nil
}

// SaveDocument renders and writes one document note, returning the
// filename used
func SaveDocument(dir string, doc *readwise.Document, now time.Time) (string, error) {
	content, err := RenderDocument(doc)
	if err != nil {
		return "", err
	}
	return WriteNote(dir, DocumentFilename(doc, now), content)
}

// SaveHighlight renders and writes one highlight note, returning the
// filename used
func SaveHighlight(dir string, h *readwise.Highlight, now time.Time) (string, error) {
	content, err := RenderHighlight(h, now)
	if err != nil {
		return "", err
	}
	return WriteNote(dir, HighlightFilename(h, now), content)
}
