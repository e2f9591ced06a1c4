// Package reserve clients the upstream stream reserver: the service that
// hands out transmission slots on the mixing endpoint. Its SSE
// availability channel is consumed with bernerdschaefer/eventsource,
// grounded on the teacher's remoteAgent.Events (harpoon-scheduler/agent.go).
package reserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/google/uuid"

	"github.com/radio-aktywne/mantis/internal/metrics"
)

// UnavailableError is returned by Reserve when the reserver answers 409:
// the slot is currently taken and the caller should wait for the next SSE
// availability event before retrying.
type UnavailableError struct{}

func (e *UnavailableError) Error() string { return "stream slot currently unavailable" }

// Request is the body of POST /reserve.
type Request struct {
	Event  uuid.UUID `json:"event"`
	Format string    `json:"format"`
	Record bool      `json:"record"`
}

// Credentials carries the passphrase the caller must present to the
// mixing endpoint.
type Credentials struct {
	Token string `json:"token"`
}

// Reservation is the body of a successful POST /reserve response.
type Reservation struct {
	Credentials Credentials `json:"credentials"`
	Port        int         `json:"port"`
}

// Client talks to one stream reserver instance over HTTP and SSE.
type Client struct {
	base       url.URL
	httpClient *http.Client
}

// New builds a Client. base must include scheme and host.
func New(base string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing reserve base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: *u, httpClient: httpClient}, nil
}

// reserveOnce issues a single POST /reserve attempt.
func (c *Client) reserveOnce(ctx context.Context, req Request) (Reservation, error) {
	metrics.StreamReservationAttempts.Inc()

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(req); err != nil {
		return Reservation{}, fmt.Errorf("encoding reservation request: %w", err)
	}

	u := c.base
	u.Path = "/reserve"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return Reservation{}, fmt.Errorf("constructing request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserver unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var reservation Reservation
		if err := json.NewDecoder(resp.Body).Decode(&reservation); err != nil {
			return Reservation{}, fmt.Errorf("decoding reserver response: %w", err)
		}
		return reservation, nil
	case http.StatusConflict:
		return Reservation{}, &UnavailableError{}
	default:
		return Reservation{}, statusError(resp)
	}
}

// subscribe opens the SSE availability stream. The returned function reads
// one event (or returns ctx.Err()/the stream error) and must be called
// from a single goroutine. close must always be called.
func (c *Client) subscribe(ctx context.Context) (next func() error, closeStream func(), err error) {
	u := c.base
	u.Path = "/sse"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("constructing sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	es := eventsource.New(req, 3*time.Second)

	next = func() error {
		type result struct {
			err error
		}
		done := make(chan result, 1)
		go func() {
			_, err := es.Read()
			done <- result{err: err}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-done:
			return r.err
		}
	}
	closeStream = func() { es.Close() }

	return next, closeStream, nil
}

// Reserve attempts to reserve a stream slot, retrying on HTTP 409 until
// deadline. On each attempt it opens a fresh SSE availability subscription
// before POSTing, and closes that subscription before the attempt returns
// either way.
func (c *Client) Reserve(ctx context.Context, req Request, deadline time.Time) (Reservation, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		reservation, retry, err := c.attempt(ctx, req)
		if err == nil {
			return reservation, nil
		}
		if !retry {
			if ctx.Err() != nil {
				return Reservation{}, &ReservationFailedError{}
			}
			return Reservation{}, err
		}
		if ctx.Err() != nil {
			return Reservation{}, &ReservationFailedError{}
		}
	}
}

// attempt subscribes to the SSE availability stream, issues a single POST
// /reserve, and on conflict waits for the next availability event before
// reporting retry. The subscription is always closed before attempt
// returns.
func (c *Client) attempt(ctx context.Context, req Request) (reservation Reservation, retry bool, err error) {
	next, closeStream, err := c.subscribe(ctx)
	if err != nil {
		return Reservation{}, false, err
	}
	defer closeStream()

	reservation, err = c.reserveOnce(ctx, req)
	if err == nil {
		return reservation, false, nil
	}
	if _, unavailable := err.(*UnavailableError); !unavailable {
		return Reservation{}, false, err
	}

	if waitErr := next(); waitErr != nil {
		if ctx.Err() != nil {
			return Reservation{}, false, err
		}
		return Reservation{}, false, fmt.Errorf("waiting for availability: %w", waitErr)
	}

	return Reservation{}, true, nil
}

// ReservationFailedError is returned by Reserve when the deadline elapses
// without a successful reservation.
type ReservationFailedError struct{}

func (e *ReservationFailedError) Error() string { return "reservation deadline exceeded" }

type errorResponse struct {
	Detail string `json:"detail"`
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Detail != "" {
		return fmt.Errorf("reserve error: %s (HTTP %d)", body.Detail, resp.StatusCode)
	}
	return fmt.Errorf("reserve error: HTTP %d", resp.StatusCode)
}
