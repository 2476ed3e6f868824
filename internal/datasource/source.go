// Package datasource provides clients for the remote trade datastore.
// Implementations return raw rows only; classification and recovery of
// their failures belongs to the recovery package.
package datasource

import (
	"context"
	"fmt"
	"time"

	"tradeboard/internal/domain"
)

// DataSource reads ordered sequences of raw trade rows from the remote
// datastore.
type DataSource interface {
	// FetchCompleted returns all completed trade rows.
	FetchCompleted(ctx context.Context) ([]domain.TradeRow, error)

	// FetchActive returns all active trade rows.
	FetchActive(ctx context.Context) ([]domain.TradeRow, error)

	// FetchCompletedSince returns completed trade rows created after the
	// given instant, for incremental deltas.
	FetchCompletedSince(ctx context.Context, since time.Time) ([]domain.TradeRow, error)
}

// StatusError is a non-2xx response from the datastore API. The recovery
// classifier derives retryability from the code (5xx and 429 retry).
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("datastore responded %d: %s", e.Code, e.Body)
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }
