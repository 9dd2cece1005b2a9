package readwise

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vonshlovens/readvault/internal/config"
)

// Client wraps the Readwise REST API. Rate-limit responses (429) are
// retried with exponential backoff, honoring the Retry-After header;
// other failures surface immediately.
type Client struct {
	http *resty.Client
}

// New creates an API client from configuration
func New(cfg *config.Config) *Client {
	rc := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetHeader("Authorization", "Token "+cfg.API.Token).
		SetTimeout(time.Duration(cfg.API.TimeoutSeconds) * time.Second).
		SetRetryCount(cfg.Sync.RetryAttempts).
		SetRetryWaitTime(time.Duration(cfg.Sync.RetryBaseDelayS) * time.Second).
		SetRetryMaxWaitTime(time.Duration(cfg.Sync.RetryMaxDelayS) * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{http: rc}
}

// ListOptions controls a v3 document list request
type ListOptions struct {
	Category     string
	PageSize     int
	UpdatedAfter *time.Time
	PageCursor   string
}

// ListDocuments fetches one page of documents from the v3 list endpoint
func (c *Client) ListDocuments(ctx context.Context, opts ListOptions) (*DocumentPage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetResult(&DocumentPage{})

	if opts.Category != "" {
		req.SetQueryParam("category", opts.Category)
	}
	if opts.PageSize > 0 {
		req.SetQueryParam("limit", strconv.Itoa(opts.PageSize))
	}
	if opts.UpdatedAfter != nil {
		req.SetQueryParam("updatedAfter", opts.UpdatedAfter.UTC().Format(time.RFC3339))
	}
	if opts.PageCursor != "" {
		req.SetQueryParam("pageCursor", opts.PageCursor)
	}

	resp, err := req.Get("/api/v3/list/")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list documents: unexpected status %s", resp.Status())
	}

	return resp.Result().(*DocumentPage), nil
}

// ExportOptions controls a v2 export request. The export endpoint uses
// page-number pagination rather than a cursor.
type ExportOptions struct {
	Page         int
	PageSize     int
	UpdatedAfter *time.Time
}

// ExportHighlights fetches one page of books with nested highlights
// from the v2 export endpoint. Book metadata is copied onto each
// highlight so callers get self-contained items.
func (c *Client) ExportHighlights(ctx context.Context, opts ExportOptions) (*ExportPage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetResult(&ExportPage{})

	if opts.Page > 0 {
		req.SetQueryParam("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		req.SetQueryParam("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.UpdatedAfter != nil {
		req.SetQueryParam("updatedAfter", opts.UpdatedAfter.UTC().Format(time.RFC3339))
	}

	resp, err := req.Get("/api/v2/export/")
	if err != nil {
		return nil, fmt.Errorf("export highlights: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("export highlights: unexpected status %s", resp.Status())
	}

	page := resp.Result().(*ExportPage)
	for i := range page.Results {
		book := &page.Results[i]
		for j := range book.Highlights {
			h := &book.Highlights[j]
			h.SourceTitle = book.Title
			h.SourceAuthor = book.Author
			h.SourceType = book.Category
			h.SourceURL = book.SourceURL
		}
	}

	return page, nil
}

// ListHighlights fetches one page of recent highlights from the v2
// highlights endpoint, newest first.
func (c *Client) ListHighlights(ctx context.Context, pageSize int) (*HighlightPage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetResult(&HighlightPage{})

	if pageSize > 0 {
		req.SetQueryParam("page_size", strconv.Itoa(pageSize))
	}

	resp, err := req.Get("/api/v2/highlights/")
	if err != nil {
		return nil, fmt.Errorf("list highlights: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list highlights: unexpected status %s", resp.Status())
	}

	return resp.Result().(*HighlightPage), nil
}
