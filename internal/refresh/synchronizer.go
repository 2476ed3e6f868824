// Package refresh decides between full reloads, incremental deltas and
// no-ops, and feeds fetch results into the record store under a
// single-flight rule.
package refresh

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"tradeboard/internal/datasource"
	"tradeboard/internal/domain"
	"tradeboard/internal/observability"
	"tradeboard/internal/recovery"
	"tradeboard/internal/storage"
)

// DefaultIncrementalInterval is the elapsed time after which a periodic
// check schedules a delta fetch.
const DefaultIncrementalInterval = time.Minute

// ErrSyncInFlight is returned when a load of either kind is already
// outstanding for the store; the redundant trigger is dropped, not queued.
var ErrSyncInFlight = errors.New("refresh already in flight")

// Action is the refresh decision taken by a periodic check.
type Action string

// Actions
const (
	ActionNone        Action = "none"
	ActionFull        Action = "full"
	ActionIncremental Action = "incremental"
)

// Result describes a completed refresh.
type Result struct {
	Action  Action
	Loaded  int // records in the store after a full load
	Added   int // records merged by an incremental delta
	Skipped int // malformed rows dropped during conversion

	// ServedFromCache is set when the fetch failed but recovery served
	// the existing store contents; Warning carries the non-fatal failure.
	ServedFromCache bool
	// Superseded is set when a newer write landed while this load was in
	// flight, so its effect was discarded.
	Superseded bool

	Warning *recovery.EnhancedError
}

// Options configures a Synchronizer.
type Options struct {
	Store    storage.RecordStore
	Source   datasource.DataSource
	Recovery *recovery.Orchestrator

	IncrementalInterval time.Duration
	Verbose             bool
}

// Synchronizer coordinates loads from the data source into the record
// store. At most one load operation of either kind is in flight per store
// instance at any time.
type Synchronizer struct {
	store    storage.RecordStore
	source   datasource.DataSource
	recovery *recovery.Orchestrator

	interval time.Duration
	verbose  bool

	inFlight atomic.Bool
	now      func() time.Time
}

// New creates a Synchronizer.
func New(opts Options) *Synchronizer {
	interval := opts.IncrementalInterval
	if interval <= 0 {
		interval = DefaultIncrementalInterval
	}
	return &Synchronizer{
		store:    opts.Store,
		source:   opts.Source,
		recovery: opts.Recovery,
		interval: interval,
		verbose:  opts.Verbose,
		now:      time.Now,
	}
}

// Decide returns the action a periodic check would take: a full load for a
// COLD store, a delta when the incremental interval has elapsed, nothing
// otherwise.
func (s *Synchronizer) Decide() Action {
	if s.store.State() == domain.StateCold {
		return ActionFull
	}
	if s.now().Sub(s.store.LastIncremental()) > s.interval {
		return ActionIncremental
	}
	return ActionNone
}

// Check runs the periodic decision and executes the chosen action.
func (s *Synchronizer) Check(ctx context.Context) (*Result, error) {
	switch s.Decide() {
	case ActionFull:
		return s.Full(ctx)
	case ActionIncremental:
		return s.Incremental(ctx)
	default:
		return &Result{Action: ActionNone}, nil
	}
}

// fetched bundles the two row sets of a full load.
type fetched struct {
	completed []domain.TradeRow
	active    []domain.TradeRow
}

// Full replaces the store contents from the data source. A failed fetch
// resolved by recovery leaves the store as-is and surfaces the failure as
// a non-fatal warning on the result.
func (s *Synchronizer) Full(ctx context.Context) (*Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer s.inFlight.Store(false)

	start := s.now()
	startVersion := s.store.Version()

	outcome, err := s.recovery.Run(ctx, "refresh-full", func(ctx context.Context) (any, error) {
		completed, err := s.source.FetchCompleted(ctx)
		if err != nil {
			return nil, err
		}
		active, err := s.source.FetchActive(ctx)
		if err != nil {
			return nil, err
		}
		return fetched{completed: completed, active: active}, nil
	})
	if err != nil {
		observability.RecordRefreshRun(string(ActionFull), "error", s.now().Sub(start).Seconds())
		return nil, err
	}

	if outcome.Strategy == recovery.StrategyCacheFallback || outcome.Degraded {
		// Recovery served existing data; nothing to write.
		s.logf("full refresh recovered via %s, store untouched", outcome.Strategy)
		observability.RecordRefreshRun(string(ActionFull), "recovered", s.now().Sub(start).Seconds())
		return &Result{Action: ActionFull, ServedFromCache: true, Warning: outcome.Warning}, nil
	}

	data := outcome.Value.(fetched)
	records, skipped := convertRows(data.completed, data.active)

	if s.store.Version() != startVersion {
		// A newer write superseded this load while it was in flight;
		// discard its effect.
		s.logf("full refresh superseded (version %d -> %d)", startVersion, s.store.Version())
		observability.RecordRefreshRun(string(ActionFull), "superseded", s.now().Sub(start).Seconds())
		return &Result{Action: ActionFull, Superseded: true, Skipped: skipped}, nil
	}

	loaded, err := s.store.BulkLoad(ctx, records)
	if err != nil {
		observability.RecordRefreshRun(string(ActionFull), "error", s.now().Sub(start).Seconds())
		return nil, recovery.Classify("refresh-full", err)
	}

	s.logf("full refresh loaded %d records (%d skipped)", loaded, skipped)
	observability.RecordRefreshRun(string(ActionFull), "success", s.now().Sub(start).Seconds())
	observability.SetLastSuccessfulRefresh(s.now().Unix())
	return &Result{Action: ActionFull, Loaded: loaded, Skipped: skipped, Warning: outcome.Warning}, nil
}

// Incremental merges records newer than the last-incremental timestamp.
// Existing ids are never overwritten; a full load is the only operation
// allowed to supersede them.
func (s *Synchronizer) Incremental(ctx context.Context) (*Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer s.inFlight.Store(false)

	start := s.now()
	startVersion := s.store.Version()
	since := s.store.LastIncremental()

	outcome, err := s.recovery.Run(ctx, "refresh-incremental", func(ctx context.Context) (any, error) {
		completed, err := s.source.FetchCompletedSince(ctx, since)
		if err != nil {
			return nil, err
		}
		active, err := s.source.FetchActive(ctx)
		if err != nil {
			return nil, err
		}
		return fetched{completed: completed, active: active}, nil
	})
	if err != nil {
		observability.RecordRefreshRun(string(ActionIncremental), "error", s.now().Sub(start).Seconds())
		return nil, err
	}

	if outcome.Strategy == recovery.StrategyCacheFallback || outcome.Degraded {
		s.logf("incremental refresh recovered via %s, store untouched", outcome.Strategy)
		observability.RecordRefreshRun(string(ActionIncremental), "recovered", s.now().Sub(start).Seconds())
		return &Result{Action: ActionIncremental, ServedFromCache: true, Warning: outcome.Warning}, nil
	}

	data := outcome.Value.(fetched)
	records, skipped := convertRows(data.completed, data.active)

	if s.store.Version() != startVersion {
		s.logf("incremental refresh superseded (version %d -> %d)", startVersion, s.store.Version())
		observability.RecordRefreshRun(string(ActionIncremental), "superseded", s.now().Sub(start).Seconds())
		return &Result{Action: ActionIncremental, Superseded: true, Skipped: skipped}, nil
	}

	added, err := s.store.MergeIncremental(ctx, records)
	if err != nil {
		observability.RecordRefreshRun(string(ActionIncremental), "error", s.now().Sub(start).Seconds())
		return nil, recovery.Classify("refresh-incremental", err)
	}

	s.logf("incremental refresh merged %d records (%d skipped)", added, skipped)
	observability.RecordRefreshRun(string(ActionIncremental), "success", s.now().Sub(start).Seconds())
	observability.SetLastSuccessfulRefresh(s.now().Unix())
	return &Result{Action: ActionIncremental, Added: added, Skipped: skipped, Warning: outcome.Warning}, nil
}

// convertRows validates raw rows into records. Malformed rows are dropped
// and counted, never fatal.
func convertRows(completed, active []domain.TradeRow) ([]*domain.TradeRecord, int) {
	records := make([]*domain.TradeRecord, 0, len(completed)+len(active))
	skipped := 0

	for _, row := range completed {
		rec, err := row.ToRecord(domain.KindCompleted)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	for _, row := range active {
		rec, err := row.ToRecord(domain.KindActive)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

func (s *Synchronizer) logf(format string, args ...interface{}) {
	if s.verbose {
		log.Printf("[refresh] "+format, args...)
	}
}
