package vault

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/readvault/internal/readwise"
)

// frontmatterRegex matches YAML frontmatter between --- delimiters
var frontmatterRegex = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n?`)

// ItemKind selects which front-matter keys the scanner recovers IDs and
// dates from.
type ItemKind int

const (
	KindDocument ItemKind = iota
	KindHighlight
)

// ScanResult aggregates what the vault already contains: the known
// upstream IDs, the known filenames, and the inferred date range
// covering every dated file seen.
type ScanResult struct {
	ids       map[string]struct{}
	filenames map[string]struct{}

	Earliest   time.Time
	Latest     time.Time
	DatedCount int
	FileCount  int
}

func newScanResult() *ScanResult {
	return &ScanResult{
		ids:       make(map[string]struct{}),
		filenames: make(map[string]struct{}),
	}
}

func (r *ScanResult) HasID(id string) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *ScanResult) AddID(id string) {
	r.ids[id] = struct{}{}
}

func (r *ScanResult) HasFilename(name string) bool {
	_, ok := r.filenames[name]
	return ok
}

func (r *ScanResult) AddFilename(name string) {
	r.filenames[name] = struct{}{}
}

func (r *ScanResult) IDCount() int {
	return len(r.ids)
}

func (r *ScanResult) FilenameCount() int {
	return len(r.filenames)
}

// InferredRange returns the single range covering all dated files, or
// ok=false when no file carried a parseable date.
func (r *ScanResult) InferredRange() (start, end time.Time, ok bool) {
	if r.DatedCount == 0 {
		return time.Time{}, time.Time{}, false
	}
	return r.Earliest, r.Latest, true
}

func (r *ScanResult) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if r.DatedCount == 0 || t.Before(r.Earliest) {
		r.Earliest = t
	}
	if r.DatedCount == 0 || t.After(r.Latest) {
		r.Latest = t
	}
	r.DatedCount++
}

// Scanner walks output directories and rebuilds deduplication state
// from the saved notes alone.
type Scanner struct {
	kind           ItemKind
	ignorePatterns []string
}

// NewDocumentScanner creates a scanner keyed on readwise_url / saved_at
func NewDocumentScanner(ignorePatterns []string) *Scanner {
	return &Scanner{kind: KindDocument, ignorePatterns: ignorePatterns}
}

// NewHighlightScanner creates a scanner keyed on highlight_id /
// highlighted_at
func NewHighlightScanner(ignorePatterns []string) *Scanner {
	return &Scanner{kind: KindHighlight, ignorePatterns: ignorePatterns}
}

// Scan walks the given directories, collecting filenames, upstream IDs,
// and the inferred date range. Missing directories are skipped; files
// without a recognizable ID contribute only their filename.
func (s *Scanner) Scan(dirs ...string) (*ScanResult, error) {
	result := newScanResult()

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // Skip unreadable entries
			}

			relPath, _ := filepath.Rel(dir, path)
			relPath = filepath.ToSlash(relPath)

			if s.shouldIgnore(relPath) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
				return nil
			}

			result.AddFilename(filepath.Base(path))
			s.inspect(path, result)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
		}
	}

	return result, nil
}

// inspect pulls the ID and date out of one note's front-matter. Failure
// is silent: the file still counts by filename.
func (s *Scanner) inspect(path string, result *ScanResult) {
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("failed to read note", "path", path, "error", err)
		return
	}

	fields := parseFrontmatterFields(string(content))
	if fields == nil {
		return
	}

	switch s.kind {
	case KindDocument:
		if id := readwise.ExtractIDFromURL(fields["readwise_url"]); id != "" {
			result.AddID(id)
		}
		result.observe(readwise.ParseTimestamp(fields["saved_at"]))
	case KindHighlight:
		if id := fields["highlight_id"]; id != "" {
			result.AddID(id)
		}
		result.observe(readwise.ParseTimestamp(fields["highlighted_at"]))
	}
}

func (s *Scanner) shouldIgnore(relPath string) bool {
	for _, pattern := range s.ignorePatterns {
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// parseFrontmatterFields extracts scalar front-matter values as
// strings. Returns nil when there is no parseable front-matter.
func parseFrontmatterFields(content string) map[string]string {
	match := frontmatterRegex.FindStringSubmatch(content)
	if match == nil {
		return nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(match[1]), &raw); err != nil {
		return nil
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case int:
			fields[k] = fmt.Sprintf("%d", val)
		case int64:
			fields[k] = fmt.Sprintf("%d", val)
		case float64:
			fields[k] = fmt.Sprintf("%v", val)
		case time.Time:
			fields[k] = val.Format(time.RFC3339)
		}
	}
	return fields
}
