package vault

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/vonshlovens/readvault/internal/readwise"
)

const maxTitleRunes = 100

var (
	// invalidCharsRegex matches characters not allowed in vault filenames
	invalidCharsRegex = regexp.MustCompile(`[<>"\\|?*]`)

	// authorCharsRegex additionally strips path separators from fallback
	// author names
	authorCharsRegex = regexp.MustCompile(`[<>"\\|?*/:]`)
)

// SanitizeTitle converts a title into a filename stem. May return a
// string without alphanumeric content; callers needing a usable name
// should go through DocumentFilename or SanitizeSourceTitle.
func SanitizeTitle(title string) string {
	name := strings.ReplaceAll(title, "/", "-")
	name = strings.ReplaceAll(name, ":", " -")
	name = invalidCharsRegex.ReplaceAllString(name, "")
	name = truncateRunes(name, maxTitleRunes)
	return strings.TrimSpace(name)
}

// DocumentFilename returns the target filename for a document. When the
// sanitized title has no alphanumeric content, a metadata-derived name
// is used instead so the import never fails on naming.
func DocumentFilename(doc *readwise.Document, now time.Time) string {
	name := SanitizeTitle(doc.Title)
	if !hasAlnum(name) {
		name = fallbackName(doc, now)
	}
	return name + ".md"
}

// fallbackName builds a descriptive name from document metadata
func fallbackName(doc *readwise.Document, now time.Time) string {
	author := authorCharsRegex.ReplaceAllString(doc.Author, "")
	author = strings.TrimSpace(truncateRunes(author, 30))
	if author == "" {
		author = "Unknown"
	}

	date := now.Format("2006-01-02")
	if !doc.SavedAt.IsZero() {
		date = doc.SavedAt.Format("2006-01-02")
	}

	label := categoryLabel(doc.Category)
	name := fmt.Sprintf("%s by %s - %s", label, author, date)
	if hasAlnum(name) {
		return name
	}
	return "Untitled - " + now.Format("2006-01-02-150405")
}

func categoryLabel(category string) string {
	switch category {
	case "":
		return "Document"
	case "tweet":
		return "Tweet"
	default:
		return strings.ToUpper(category[:1]) + category[1:]
	}
}

// SanitizeSourceTitle sanitizes a highlight's source title for use in
// the temporal filename scheme. Never returns an unusable name.
func SanitizeSourceTitle(title string) string {
	name := SanitizeTitle(title)
	if !hasAlnum(name) {
		return "Untitled Source"
	}
	return name
}

// HighlightFilename returns the temporal filename for a highlight:
// "YYYYMMDD-HHMMSS [Source] highlight.md"
func HighlightFilename(h *readwise.Highlight, now time.Time) string {
	ts := h.UpdatedAt()
	if ts.IsZero() {
		ts = now
	}

	source := h.SourceTitle
	if source == "" {
		source = "Unknown Source"
	}

	return fmt.Sprintf("%s [%s] highlight.md", ts.Format("20060102-150405"), SanitizeSourceTitle(source))
}

// WithCounter inserts a numeric collision suffix before the extension:
// "Name.md" -> "Name (2).md"
func WithCounter(filename string, counter int) string {
	stem := strings.TrimSuffix(filename, ".md")
	return fmt.Sprintf("%s (%d).md", stem, counter)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
