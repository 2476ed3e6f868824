// Package dashboard wires the record store, filter and metrics engines,
// synchronizer and recovery orchestrator into the core consumed by the UI
// layer.
package dashboard

import (
	"context"
	"errors"
	"log"
	"time"

	"tradeboard/internal/datasource"
	"tradeboard/internal/domain"
	"tradeboard/internal/filter"
	"tradeboard/internal/metrics"
	"tradeboard/internal/recovery"
	"tradeboard/internal/refresh"
	"tradeboard/internal/snapshot"
	"tradeboard/internal/storage"
)

// Options for creating a Core.
type Options struct {
	// Required
	Store  storage.RecordStore
	Source datasource.DataSource

	// Optional durability slot; when set, successful full loads are
	// persisted and startup seeds from it.
	Snapshot *snapshot.Slot

	// FreshnessWindow bounds snapshot seeding age; the store's own window
	// governs HOT/WARM.
	FreshnessWindow     time.Duration
	IncrementalInterval time.Duration

	// Policies overrides the per-kind retry configurations.
	Policies map[recovery.ErrorKind]recovery.RetryPolicy

	Verbose bool
}

// Core is the explicitly constructed application context owning the store
// lifecycle. There is no module-level state: callers construct, use and
// clear their own instance.
type Core struct {
	store storage.RecordStore
	filt  *filter.Engine
	met   *metrics.Engine
	sync  *refresh.Synchronizer
	rec   *recovery.Orchestrator
	slot  *snapshot.Slot

	freshness time.Duration
	verbose   bool
}

// New creates a Core. The recovery orchestrator's cache fallback serves
// the store's current contents whenever it is non-empty and not COLD.
func New(opts Options) *Core {
	freshness := opts.FreshnessWindow
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}

	c := &Core{
		store:     opts.Store,
		slot:      opts.Snapshot,
		freshness: freshness,
		verbose:   opts.Verbose,
	}

	c.rec = recovery.New(recovery.Options{
		Policies: opts.Policies,
		Fallback: func(ctx context.Context) (any, bool) {
			if c.store.State() == domain.StateCold {
				return nil, false
			}
			records, err := c.store.All(ctx)
			if err != nil || len(records) == 0 {
				return nil, false
			}
			return records, true
		},
		Degraded: func() any { return []*domain.TradeRecord{} },
		Verbose:  opts.Verbose,
	})

	c.filt = filter.New(opts.Store)
	c.met = metrics.NewEngine(c.filt)
	c.sync = refresh.New(refresh.Options{
		Store:               opts.Store,
		Source:              opts.Source,
		Recovery:            c.rec,
		IncrementalInterval: opts.IncrementalInterval,
		Verbose:             opts.Verbose,
	})

	return c
}

// ApplyFilter returns the records matching the spec. Synchronous, no I/O.
func (c *Core) ApplyFilter(ctx context.Context, spec domain.FilterSpec) ([]*domain.TradeRecord, error) {
	return c.filt.Apply(ctx, spec)
}

// GetMetrics computes a metrics snapshot for the spec from the current
// store contents. Synchronous, no I/O.
func (c *Core) GetMetrics(ctx context.Context, spec domain.FilterSpec) (*domain.MetricsSnapshot, error) {
	return c.met.Snapshot(ctx, spec)
}

// RefreshFull reloads the store from the data source and persists the
// result to the durability slot when one is configured.
func (c *Core) RefreshFull(ctx context.Context) (*refresh.Result, error) {
	result, err := c.sync.Full(ctx)
	if err != nil {
		return nil, err
	}
	if result.Loaded > 0 {
		c.saveSnapshot(ctx)
	}
	return result, nil
}

// RefreshIncremental merges a delta from the data source.
func (c *Core) RefreshIncremental(ctx context.Context) (*refresh.Result, error) {
	return c.sync.Incremental(ctx)
}

// CheckRefresh runs the periodic full/delta/no-op decision.
func (c *Core) CheckRefresh(ctx context.Context) (*refresh.Result, error) {
	result, err := c.sync.Check(ctx)
	if err != nil {
		return nil, err
	}
	if result.Action == refresh.ActionFull && result.Loaded > 0 {
		c.saveSnapshot(ctx)
	}
	return result, nil
}

// GetStatistics reports store occupancy, hit rate, freshness and memory
// estimate.
func (c *Core) GetStatistics() domain.CacheStatistics {
	return c.store.Statistics()
}

// Clear resets the store to COLD.
func (c *Core) Clear() {
	c.store.Clear()
}

// Notifications returns recorded user notifications, oldest first.
func (c *Core) Notifications() []recovery.Notification {
	return c.rec.Notifications()
}

// RecentErrors returns the rolling buffer of recent classified errors.
func (c *Core) RecentErrors() []*recovery.EnhancedError {
	return c.rec.RecentErrors()
}

// SeedFromSnapshot loads the durability slot into the store if it is
// present and not older than the freshness window. A corrupt or stale
// snapshot is discarded silently: logged, never thrown.
func (c *Core) SeedFromSnapshot(ctx context.Context) (int, error) {
	if c.slot == nil {
		return 0, nil
	}

	records, savedAt, err := c.slot.Load(ctx, c.freshness)
	if err != nil {
		if errors.Is(err, snapshot.ErrEmpty) || errors.Is(err, snapshot.ErrStale) || errors.Is(err, snapshot.ErrCorrupt) {
			c.logf("snapshot discarded: %v", err)
			return 0, nil
		}
		return 0, recovery.Classify("snapshot-seed", err)
	}

	loaded, err := c.store.BulkLoad(ctx, records)
	if err != nil {
		return 0, recovery.Classify("snapshot-seed", err)
	}
	c.logf("seeded %d records from snapshot saved at %s", loaded, savedAt.Format(time.RFC3339))
	return loaded, nil
}

// MergeStream consumes pushed trade rows and merges them incrementally
// until the channel closes or the context is cancelled. Invalid rows are
// dropped and counted by the store.
func (c *Core) MergeStream(ctx context.Context, rows <-chan domain.TradeRow) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			kind := domain.KindCompleted
			if row.ExitPrice == nil {
				kind = domain.KindActive
			}
			rec, err := row.ToRecord(kind)
			if err != nil {
				c.logf("streamed row dropped: %v", err)
				continue
			}
			if _, err := c.store.MergeIncremental(ctx, []*domain.TradeRecord{rec}); err != nil {
				return recovery.Classify("stream-merge", err)
			}
		}
	}
}

func (c *Core) saveSnapshot(ctx context.Context) {
	if c.slot == nil {
		return
	}
	records, err := c.store.All(ctx)
	if err != nil {
		c.logf("snapshot save skipped: %v", err)
		return
	}
	if err := c.slot.Save(ctx, records, time.Now()); err != nil {
		c.logf("snapshot save failed: %v", err)
	}
}

func (c *Core) logf(format string, args ...interface{}) {
	if c.verbose {
		log.Printf("[dashboard] "+format, args...)
	}
}
