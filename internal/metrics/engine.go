// Package metrics computes financial aggregates (win rate, profit factor,
// simplified Sharpe ratio, max drawdown and friends) over filtered record
// subsets.
package metrics

import (
	"context"

	"tradeboard/internal/domain"
	"tradeboard/internal/filter"
)

// Engine derives metrics snapshots from the current store contents through
// the filter engine. It performs no I/O and never mutates the store.
type Engine struct {
	filt *filter.Engine
}

// NewEngine creates a metrics engine on top of the given filter engine.
func NewEngine(filt *filter.Engine) *Engine {
	return &Engine{filt: filt}
}

// Snapshot applies the filter spec and computes aggregates over the
// completed subset, with the active subset contributing only its count.
func (e *Engine) Snapshot(ctx context.Context, spec domain.FilterSpec) (*domain.MetricsSnapshot, error) {
	records, err := e.filt.Apply(ctx, spec)
	if err != nil {
		return nil, err
	}

	completed := make([]*domain.TradeRecord, 0, len(records))
	active := 0
	for _, r := range records {
		switch r.Kind {
		case domain.KindCompleted:
			completed = append(completed, r)
		case domain.KindActive:
			active++
		}
	}
	return Compute(completed, active), nil
}
