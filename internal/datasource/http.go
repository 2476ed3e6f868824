package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tradeboard/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout = 30 * time.Second
)

// HTTPSource implements DataSource over the datastore's REST API.
// It performs no retries of its own; retry and fallback policy lives in
// the recovery orchestrator.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPOption configures HTTPSource.
type HTTPOption func(*HTTPSource)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.client.Timeout = d
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSource) {
		s.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// NewHTTPSource creates a datastore client for the given base URL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchCompleted returns all completed trade rows.
func (s *HTTPSource) FetchCompleted(ctx context.Context) ([]domain.TradeRow, error) {
	return s.get(ctx, "/trades/completed", nil)
}

// FetchActive returns all active trade rows.
func (s *HTTPSource) FetchActive(ctx context.Context) ([]domain.TradeRow, error) {
	return s.get(ctx, "/trades/active", nil)
}

// FetchCompletedSince returns completed rows created after since.
func (s *HTTPSource) FetchCompletedSince(ctx context.Context, since time.Time) ([]domain.TradeRow, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	return s.get(ctx, "/trades/completed", q)
}

func (s *HTTPSource) get(ctx context.Context, path string, query url.Values) ([]domain.TradeRow, error) {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var rows []domain.TradeRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

var _ DataSource = (*HTTPSource)(nil)
