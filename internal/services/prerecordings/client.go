// Package prerecordings clients the external store of pre-produced show
// audio: one file per scheduled instance of a "prerecorded" event. Same
// shape as internal/services/records, against a different base path, per
// spec section 6.
package prerecordings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Entry is one page row: a prerecording available for an event instance
// starting at Start.
type Entry struct {
	Event uuid.UUID `json:"event"`
	Start time.Time `json:"start"`
}

// Page is the paginated response shape of GET /prerecordings/{event}.
type Page struct {
	Count   int     `json:"count"`
	Entries []Entry `json:"entries"`
}

// ListParams controls GET /prerecordings/{event}.
type ListParams struct {
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
	Order  string
}

// Client talks to one prerecordings service instance over HTTP.
type Client struct {
	base       url.URL
	httpClient *http.Client
}

// New builds a Client. base must include scheme and host.
func New(base string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing prerecordings base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: *u, httpClient: httpClient}, nil
}

// List pages through GET /prerecordings/{event}.
func (c *Client) List(ctx context.Context, event uuid.UUID, params ListParams) (Page, error) {
	u := c.base
	u.Path = fmt.Sprintf("/prerecordings/%s", event)
	q := url.Values{}
	if params.After != nil {
		q.Set("after", params.After.UTC().Format(time.RFC3339))
	}
	if params.Before != nil {
		q.Set("before", params.Before.UTC().Format(time.RFC3339))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Order != "" {
		q.Set("order", params.Order)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("constructing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("prerecordings unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, statusError(resp)
	}
	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decoding prerecordings response: %w", err)
	}
	return page, nil
}

// ListAll drains every page of List for the given event and window.
func (c *Client) ListAll(ctx context.Context, event uuid.UUID, after, before time.Time) ([]Entry, error) {
	const pageSize = 100
	var all []Entry
	offset := 0
	for {
		page, err := c.List(ctx, event, ListParams{After: &after, Before: &before, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.Count {
			return all, nil
		}
	}
}

// Download streams the prerecording body for (event, start). The caller
// must close the returned ReadCloser. contentType is the response's
// Content-Type header, used by internal/services/format to pick a file
// extension.
func (c *Client) Download(ctx context.Context, event uuid.UUID, start time.Time) (body io.ReadCloser, contentType string, err error) {
	u := c.base
	u.Path = fmt.Sprintf("/prerecordings/%s/%s", event, start.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("constructing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("prerecordings unavailable: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", statusError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Detail != "" {
		return fmt.Errorf("prerecordings error: %s (HTTP %d)", body.Detail, resp.StatusCode)
	}
	return fmt.Errorf("prerecordings error: HTTP %d", resp.StatusCode)
}
