package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "celeri/internal/log"
)

// DefaultTimeout bounds a feed fetch when the caller sets none.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps the size of a feed we are willing to read.
const maxBodyBytes = 8 << 20

// ErrEmptyBody is returned when the server answered 200 with nothing in it.
var ErrEmptyBody = errors.New("empty ICS body")

// StatusError is a non-200 response from the feed server.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ics fetch: unexpected status %s", e.Status)
}

// Source represents a single ICS feed.
type Source struct {
	// ID is an internal identifier used in logs.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// Fetcher downloads ICS feeds. Responses are never cached: every call
// goes to the network.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewFetcherWithClient lets tests inject an httptest client.
func NewFetcherWithClient(c *http.Client) *Fetcher {
	if c == nil {
		return NewFetcher(0)
	}
	return &Fetcher{client: c}
}

// FetchOne fetches a single ICS source.
//
// Transport errors are returned as-is, non-200 responses as *StatusError
// and an empty 200 body as ErrEmptyBody, so callers can tell them apart.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) ([]byte, error) {
	if src.URL == "" {
		return nil, errors.New("source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("ics fetch: read body: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	appLog.Debug("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
	return body, nil
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
// Airbnb export links carry their access token in the query string.
//
//	https://www.airbnb.com/calendar/ical/123.ics?s=abcd
//	-> https://www.airbnb.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}

	return u[:j] + redactedSuffix
}

// RedactURL is redactURL for other packages' log lines.
func RedactURL(u string) string {
	return redactURL(u)
}
