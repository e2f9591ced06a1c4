// Package calendar is a thin client for the external programming-calendar
// service: the source of truth for which shows run when. It follows the
// teacher's remoteAgent idiom (harpoon-scheduler/agent.go) — a struct
// wrapping a base url.URL, one method per endpoint, status-code switch on
// the response.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NotFoundError is returned when the calendar has no event with the
// requested id.
type NotFoundError struct{ ID uuid.UUID }

func (e *NotFoundError) Error() string { return fmt.Sprintf("event %s not found", e.ID) }

// Client talks to one calendar service instance over HTTP.
type Client struct {
	base       url.URL
	httpClient *http.Client
}

// New builds a Client. base must include scheme and host, e.g.
// "http://calendar:10300".
func New(base string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: *u, httpClient: httpClient}, nil
}

// GetEvent fetches a single event by id.
func (c *Client) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	u := c.base
	u.Path = fmt.Sprintf("/events/%s", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Event{}, fmt.Errorf("constructing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Event{}, fmt.Errorf("calendar unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var event Event
		if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
			return Event{}, fmt.Errorf("decoding calendar response: %w", err)
		}
		return event, nil
	case http.StatusNotFound:
		return Event{}, &NotFoundError{ID: id}
	default:
		return Event{}, statusError(resp)
	}
}

// ListEvents pages through GET /events.
func (c *Client) ListEvents(ctx context.Context, params ListEventsParams) (EventsPage, error) {
	u := c.base
	u.Path = "/events"
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Where != "" {
		q.Set("where", params.Where)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return EventsPage{}, fmt.Errorf("constructing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return EventsPage{}, fmt.Errorf("calendar unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return EventsPage{}, statusError(resp)
	}
	var page EventsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return EventsPage{}, fmt.Errorf("decoding calendar response: %w", err)
	}
	return page, nil
}

// ListSchedule pages through GET /schedule for the window [params.Start,
// params.End).
func (c *Client) ListSchedule(ctx context.Context, params ListScheduleParams) (SchedulesPage, error) {
	u := c.base
	u.Path = "/schedule"
	q := url.Values{}
	q.Set("start", params.Start.UTC().Format(time.RFC3339))
	q.Set("end", params.End.UTC().Format(time.RFC3339))
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Where != "" {
		q.Set("where", params.Where)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return SchedulesPage{}, fmt.Errorf("constructing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SchedulesPage{}, fmt.Errorf("calendar unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SchedulesPage{}, statusError(resp)
	}
	var page SchedulesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return SchedulesPage{}, fmt.Errorf("decoding calendar response: %w", err)
	}
	return page, nil
}

// ListAllSchedule drains every page of ListSchedule for the given window.
func (c *Client) ListAllSchedule(ctx context.Context, start, end time.Time, where string) ([]Schedule, error) {
	const pageSize = 100
	var all []Schedule
	offset := 0
	for {
		page, err := c.ListSchedule(ctx, ListScheduleParams{Start: start, End: end, Limit: pageSize, Offset: offset, Where: where})
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

type errorResponse struct {
	Detail string `json:"detail"`
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Detail != "" {
		return fmt.Errorf("calendar error: %s (HTTP %d)", body.Detail, resp.StatusCode)
	}
	return fmt.Errorf("calendar error: HTTP %d", resp.StatusCode)
}
