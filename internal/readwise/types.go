package readwise

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	// dupTZRegex matches a timezone designator followed by a stray "Z",
	// e.g. "2026-01-02T03:04:05+00:00Z". The upstream API has been
	// observed emitting these.
	dupTZRegex = regexp.MustCompile(`([+-]\d{2}:?\d{2}|Z)Z$`)

	// Timestamp formats observed in API responses
	timeFormats = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// NormalizeTimestamp strips duplicated timezone suffixes from a raw
// timestamp string before parsing.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	for dupTZRegex.MatchString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ParseTimestamp parses an upstream timestamp defensively. Returns the
// zero time when nothing parses.
func ParseTimestamp(s string) time.Time {
	s = NormalizeTimestamp(s)
	if s == "" {
		return time.Time{}
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Timestamp wraps time.Time with tolerant JSON decoding. Malformed or
// missing values decode to the zero time rather than failing the item.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	t.Time = ParseTimestamp(s)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// TagList normalizes the tag shapes the API returns: a list of strings,
// a list of objects carrying a name, or a map keyed by tag name.
type TagList []string

func (t *TagList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*t = ss
		return nil
	}

	var objs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &objs); err == nil {
		tags := make([]string, 0, len(objs))
		for _, o := range objs {
			if o.Name != "" {
				tags = append(tags, o.Name)
			}
		}
		*t = tags
		return nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err == nil {
		tags := make([]string, 0, len(m))
		for name := range m {
			tags = append(tags, name)
		}
		sort.Strings(tags)
		*t = tags
		return nil
	}

	// Unknown shape: leave empty rather than fail the item
	return nil
}

// Document is a saved item from the v3 list endpoint
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Notes       string    `json:"notes"`
	Tags        TagList   `json:"tags"`
	SavedAt     Timestamp `json:"saved_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
	ReadwiseURL string    `json:"readwise_url"`
	SourceURL   string    `json:"source_url"`
}

// DocumentPage is one page of v3 list results
type DocumentPage struct {
	Count          int        `json:"count"`
	NextPageCursor string     `json:"nextPageCursor"`
	Results        []Document `json:"results"`
}

// Highlight is a single highlight from the v2 export or highlights
// endpoints. Book metadata fields are filled in from the enclosing Book
// when decoded from the export endpoint.
type Highlight struct {
	ID            json.Number `json:"id"`
	Text          string      `json:"text"`
	Note          string      `json:"note"`
	Location      *int        `json:"location"`
	HighlightedAt Timestamp   `json:"highlighted_at"`
	CreatedAt     Timestamp   `json:"created_at"`
	Updated       Timestamp   `json:"updated"`
	ReadwiseURL   string      `json:"readwise_url"`
	Tags          TagList     `json:"tags"`

	SourceTitle  string `json:"-"`
	SourceAuthor string `json:"-"`
	SourceType   string `json:"-"`
	SourceURL    string `json:"-"`
}

// UpdatedAt returns the best-effort timestamp for a highlight, matching
// the precedence the filenames are derived from.
func (h *Highlight) UpdatedAt() time.Time {
	switch {
	case !h.Updated.IsZero():
		return h.Updated.Time
	case !h.HighlightedAt.IsZero():
		return h.HighlightedAt.Time
	default:
		return h.CreatedAt.Time
	}
}

// Book is a source with nested highlights from the v2 export endpoint
type Book struct {
	UserBookID  json.Number `json:"user_book_id"`
	Title       string      `json:"title"`
	Author      string      `json:"author"`
	Category    string      `json:"category"`
	SourceURL   string      `json:"source_url"`
	ReadwiseURL string      `json:"readwise_url"`
	Highlights  []Highlight `json:"highlights"`
}

// ExportPage is one page of v2 export results
type ExportPage struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []Book  `json:"results"`
}

// HighlightPage is one page of v2 highlights results
type HighlightPage struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []Highlight `json:"results"`
}

// ExtractIDFromURL returns the last path segment of a readwise_url,
// which is the upstream document ID. Empty when no URL is given.
func ExtractIDFromURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return ""
	}
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		return url[idx+1:]
	}
	return url
}
