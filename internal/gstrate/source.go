package gstrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by a RemoteSource when the rate authority has
// no entry for the requested code.
var ErrNotFound = errors.New("rate not found")

// RemoteSource fetches a rate entry for a single product code.
type RemoteSource interface {
	Fetch(ctx context.Context, code string) (Entry, error)
}

// HTTPSource queries an external rate endpoint that serves the same
// JSON shape as the local table, one entry per code:
// GET {base}/{code} -> {"gst_rate": 18, "description": "..."}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, Client: http.DefaultClient}
}

func (s *HTTPSource) Fetch(ctx context.Context, code string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+code, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("build rate request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch rate for %s: %w", code, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Entry{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return Entry{}, fmt.Errorf("rate source returned %d for %s", resp.StatusCode, code)
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return Entry{}, fmt.Errorf("decode rate for %s: %w", code, err)
	}
	if entry.Rate.IsNegative() {
		return Entry{}, fmt.Errorf("rate source returned negative rate for %s", code)
	}
	return entry, nil
}

func (s *HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}
