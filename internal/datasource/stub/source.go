// Package stub provides a fixed in-memory data source for testing and
// demo mode.
package stub

import (
	"context"
	"sync"
	"time"

	"tradeboard/internal/domain"
)

// StubSource returns fixed in-memory trade rows for testing.
// An injected error is returned by every fetch until cleared, which lets
// tests drive the recovery pipeline. Implements datasource.DataSource.
type StubSource struct {
	mu        sync.Mutex
	completed []domain.TradeRow
	active    []domain.TradeRow
	err       error

	FetchCalls int
}

// NewStubSource creates a stub source with the given rows.
func NewStubSource(completed, active []domain.TradeRow) *StubSource {
	return &StubSource{completed: completed, active: active}
}

// Fail makes every subsequent fetch return err; nil clears the failure.
func (s *StubSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Add appends rows to the completed set, simulating new remote data.
func (s *StubSource) Add(rows ...domain.TradeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, rows...)
}

// FetchCompleted returns all completed rows.
func (s *StubSource) FetchCompleted(_ context.Context) ([]domain.TradeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.TradeRow(nil), s.completed...), nil
}

// FetchActive returns all active rows.
func (s *StubSource) FetchActive(_ context.Context) ([]domain.TradeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.TradeRow(nil), s.active...), nil
}

// FetchCompletedSince returns completed rows created after since.
func (s *StubSource) FetchCompletedSince(_ context.Context, since time.Time) ([]domain.TradeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.err != nil {
		return nil, s.err
	}
	var result []domain.TradeRow
	for _, r := range s.completed {
		created := r.TradeDate
		if r.CreatedAt != nil {
			created = *r.CreatedAt
		}
		if created.After(since) {
			result = append(result, r)
		}
	}
	return result, nil
}
