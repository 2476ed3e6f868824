// Package filter resolves period selectors into concrete date intervals and
// produces the record subset matching a filter spec. It only ever reads
// from the record store.
package filter

import (
	"context"
	"strings"
	"time"

	"tradeboard/internal/domain"
	"tradeboard/internal/storage"
)

// Rolling window lengths.
const (
	window7Day  = 7 * 24 * time.Hour
	window30Day = 30 * 24 * time.Hour
)

// ResolveRange resolves a period selector into a concrete [start, end]
// interval. "today" is the current calendar day; the rolling windows end
// at now; custom bounds pass through unresolved.
func ResolveRange(spec domain.FilterSpec, now time.Time) (start, end time.Time, err error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}

	switch spec.Period {
	case domain.Period7Day:
		return now.Add(-window7Day), now, nil
	case domain.Period30Day:
		return now.Add(-window30Day), now, nil
	case domain.PeriodCustom:
		return *spec.Start, *spec.End, nil
	default: // today
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, start.Add(24 * time.Hour), nil
	}
}

// Engine applies filter specs against a record store.
type Engine struct {
	store storage.RecordStore
	now   func() time.Time
}

// New creates a filter engine reading from the given store.
func New(store storage.RecordStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Apply returns the records matching every active predicate of the spec,
// ordered by trade time ASC. Predicates run in fixed precedence: date
// range, then case-insensitive symbol equality, then outcome equality.
// A custom range with start after end yields the empty sequence; this is
// a defined contract, not an error.
func (e *Engine) Apply(ctx context.Context, spec domain.FilterSpec) ([]*domain.TradeRecord, error) {
	start, end, err := ResolveRange(spec, e.now())
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return []*domain.TradeRecord{}, nil
	}

	// The symbol index narrows the candidate set before predicates run;
	// the full scan is the fallback when no symbol is given.
	var candidates []*domain.TradeRecord
	if spec.Symbol != "" {
		candidates, err = e.store.LookupBySymbol(ctx, spec.Symbol)
	} else {
		candidates, err = e.store.All(ctx)
	}
	if err != nil {
		return nil, err
	}

	result := make([]*domain.TradeRecord, 0, len(candidates))
	for _, r := range candidates {
		if !matches(r, spec, start, end) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

// matches reports whether the record satisfies every active predicate.
// An absent predicate dimension matches everything.
func matches(r *domain.TradeRecord, spec domain.FilterSpec, start, end time.Time) bool {
	if r.TradeTime.Before(start) || r.TradeTime.After(end) {
		return false
	}
	if spec.Symbol != "" && !strings.EqualFold(r.Symbol, spec.Symbol) {
		return false
	}
	if spec.Outcome != "" && r.Outcome != spec.Outcome {
		return false
	}
	return true
}
