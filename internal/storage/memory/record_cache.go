// Package memory provides the in-memory indexed record cache backing the
// dashboard. It keeps an arena of records keyed by stable ids plus three
// secondary indexes (symbol, calendar day, kind), with index maintenance
// centralized in exactly two functions so data and indexes cannot drift.
package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"tradeboard/internal/domain"
	"tradeboard/internal/observability"
	"tradeboard/internal/storage"
)

// Default configuration values.
const (
	DefaultMaxRecords       = 1000
	DefaultFreshnessWindow  = 5 * time.Minute
	DefaultBatchSize        = 100
	DefaultCleanupThreshold = 0.8
	DefaultEvictFraction    = 0.2
)

// Eviction score weights: access frequency dominates, recency breaks ties.
const (
	weightFrequency = 0.7
	weightRecency   = 0.3
)

// recordFootprintBytes is a rough per-entry estimate covering the record,
// its cache entry metadata and its three index references.
const recordFootprintBytes = 320

// Config tunes the record cache.
type Config struct {
	MaxRecords       int
	FreshnessWindow  time.Duration
	BatchSize        int     // records processed per batch during bulk load
	CleanupThreshold float64 // occupancy fraction that triggers eviction
	EvictFraction    float64 // fraction of entries removed per eviction
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxRecords:       DefaultMaxRecords,
		FreshnessWindow:  DefaultFreshnessWindow,
		BatchSize:        DefaultBatchSize,
		CleanupThreshold: DefaultCleanupThreshold,
		EvictFraction:    DefaultEvictFraction,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CleanupThreshold <= 0 || c.CleanupThreshold > 1 {
		c.CleanupThreshold = DefaultCleanupThreshold
	}
	if c.EvictFraction <= 0 || c.EvictFraction >= 1 {
		c.EvictFraction = DefaultEvictFraction
	}
	return c
}

// entry is a stored record plus access metadata. The metadata feeds
// eviction scoring only, never correctness.
type entry struct {
	record      *domain.TradeRecord
	lastAccess  time.Time
	accessCount uint64
}

// RecordCache is an in-memory implementation of storage.RecordStore.
type RecordCache struct {
	cfg Config

	mu       sync.RWMutex
	data     map[string]*entry
	bySymbol map[string]map[string]struct{}
	byDay    map[string]map[string]struct{}
	byKind   map[string]map[string]struct{}

	loadedAt        time.Time // zero while COLD
	lastIncremental time.Time
	version         uint64

	hits      uint64
	misses    uint64
	malformed uint64
	evictions uint64

	now func() time.Time // injectable clock for tests
}

// NewRecordCache creates an empty (COLD) record cache.
func NewRecordCache(cfg Config) *RecordCache {
	c := &RecordCache{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
	c.reset()
	return c
}

// reset reinitializes arena and indexes. Caller must hold the write lock
// (or own the cache exclusively, as in NewRecordCache).
func (c *RecordCache) reset() {
	c.data = make(map[string]*entry)
	c.bySymbol = make(map[string]map[string]struct{})
	c.byDay = make(map[string]map[string]struct{})
	c.byKind = make(map[string]map[string]struct{})
}

func symbolKey(symbol string) string { return strings.ToUpper(symbol) }

// indexInsert adds the record's id to all three indexes. Together with
// indexRemove it is the only code path that mutates index tables.
func (c *RecordCache) indexInsert(r *domain.TradeRecord) {
	addToBucket(c.bySymbol, symbolKey(r.Symbol), r.ID)
	addToBucket(c.byDay, r.Day(), r.ID)
	addToBucket(c.byKind, string(r.Kind), r.ID)
}

// indexRemove removes the record's id from all three indexes, deleting
// empty buckets.
func (c *RecordCache) indexRemove(r *domain.TradeRecord) {
	dropFromBucket(c.bySymbol, symbolKey(r.Symbol), r.ID)
	dropFromBucket(c.byDay, r.Day(), r.ID)
	dropFromBucket(c.byKind, string(r.Kind), r.ID)
}

func addToBucket(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropFromBucket(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// BulkLoad replaces all contents. Input is processed in fixed-size batches
// with the context checked between batches, so a cancelled load never
// clobbers the previous dataset. Malformed records are skipped and counted;
// only total cancellation propagates. A duplicate id within the input keeps
// the first occurrence.
func (c *RecordCache) BulkLoad(ctx context.Context, records []*domain.TradeRecord) (int, error) {
	fresh := make(map[string]*entry, len(records))
	var skipped uint64

	batch := c.cfg.BatchSize
	for start := 0; start < len(records); start += batch {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		for _, r := range records[start:end] {
			if r == nil || r.Validate() != nil {
				skipped++
				continue
			}
			if _, dup := fresh[r.ID]; dup {
				skipped++
				continue
			}
			fresh[r.ID] = &entry{record: r, lastAccess: c.now()}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	for _, e := range fresh {
		c.data[e.record.ID] = e
		c.indexInsert(e.record)
	}
	now := c.now()
	c.loadedAt = now
	c.lastIncremental = now
	c.malformed += skipped
	c.version++
	c.maybeEvictLocked()

	observability.SetCacheSize(len(c.data))
	observability.RecordCacheLoad(len(c.data), int(skipped))
	return len(c.data), nil
}

// MergeIncremental inserts only ids not already present; first-seen wins
// and a stored record is never overwritten. Indexes are updated
// incrementally. The last-incremental timestamp advances even when zero
// records were added.
func (c *RecordCache) MergeIncremental(ctx context.Context, records []*domain.TradeRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	batch := c.cfg.BatchSize
	for start := 0; start < len(records); start += batch {
		select {
		case <-ctx.Done():
			return added, ctx.Err()
		default:
		}

		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		for _, r := range records[start:end] {
			if r == nil || r.Validate() != nil {
				c.malformed++
				continue
			}
			if _, exists := c.data[r.ID]; exists {
				continue
			}
			c.data[r.ID] = &entry{record: r, lastAccess: c.now()}
			c.indexInsert(r)
			added++
		}
	}

	c.lastIncremental = c.now()
	c.version++
	c.maybeEvictLocked()

	observability.SetCacheSize(len(c.data))
	return added, nil
}

// GetByID retrieves a record by id and touches its access metadata.
func (c *RecordCache) GetByID(_ context.Context, id string) (*domain.TradeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[id]
	if !ok {
		c.misses++
		observability.RecordCacheMiss()
		return nil, storage.ErrNotFound
	}
	c.touchLocked(e)
	c.hits++
	observability.RecordCacheHit()
	return e.record, nil
}

// LookupBySymbol retrieves all records for a symbol, case-insensitively.
func (c *RecordCache) LookupBySymbol(_ context.Context, symbol string) ([]*domain.TradeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(c.bySymbol, symbolKey(symbol)), nil
}

// LookupByDay retrieves all records traded on the given calendar day.
func (c *RecordCache) LookupByDay(_ context.Context, day time.Time) ([]*domain.TradeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(c.byDay, day.Format("2006-01-02")), nil
}

// LookupByKind retrieves all records of the given kind.
func (c *RecordCache) LookupByKind(_ context.Context, kind domain.RecordKind) ([]*domain.TradeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(c.byKind, string(kind)), nil
}

// All retrieves every record, ordered by trade time ASC.
func (c *RecordCache) All(_ context.Context) ([]*domain.TradeRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*domain.TradeRecord, 0, len(c.data))
	for _, e := range c.data {
		c.touchLocked(e)
		result = append(result, e.record)
	}
	sortRecords(result)
	return result, nil
}

// lookupLocked resolves an index bucket to its records. The index map must
// be read under the lock held by the caller, since BulkLoad and Clear
// reassign the index fields wholesale.
func (c *RecordCache) lookupLocked(idx map[string]map[string]struct{}, key string) []*domain.TradeRecord {
	set, ok := idx[key]
	if !ok || len(set) == 0 {
		c.misses++
		observability.RecordCacheMiss()
		return nil
	}

	result := make([]*domain.TradeRecord, 0, len(set))
	for id := range set {
		e, ok := c.data[id]
		if !ok {
			// Index and arena must never drift; a dangling id would mean
			// an index mutation bypassed indexInsert/indexRemove.
			continue
		}
		c.touchLocked(e)
		result = append(result, e.record)
	}
	sortRecords(result)
	c.hits++
	observability.RecordCacheHit()
	return result
}

func (c *RecordCache) touchLocked(e *entry) {
	e.lastAccess = c.now()
	e.accessCount++
}

func sortRecords(records []*domain.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].TradeTime.Equal(records[j].TradeTime) {
			return records[i].TradeTime.Before(records[j].TradeTime)
		}
		return records[i].ID < records[j].ID
	})
}

// maybeEvictLocked removes the lowest-scoring fraction of entries once
// occupancy exceeds the cleanup threshold, repeating the pass until
// occupancy is back at or below it, so an oversized bulk load cannot leave
// the store above MaxRecords. Caller must hold the write lock.
func (c *RecordCache) maybeEvictLocked() {
	limit := int(float64(c.cfg.MaxRecords) * c.cfg.CleanupThreshold)
	for len(c.data) > limit {
		c.evictPassLocked()
	}
}

func (c *RecordCache) evictPassLocked() {
	toRemove := int(float64(len(c.data)) * c.cfg.EvictFraction)
	if toRemove == 0 {
		toRemove = 1
	}

	type scored struct {
		id    string
		score float64
	}

	var maxCount uint64
	for _, e := range c.data {
		if e.accessCount > maxCount {
			maxCount = e.accessCount
		}
	}

	now := c.now()
	entries := make([]scored, 0, len(c.data))
	for id, e := range c.data {
		freq := 0.0
		if maxCount > 0 {
			freq = float64(e.accessCount) / float64(maxCount)
		}
		age := now.Sub(e.lastAccess).Seconds()
		recency := 1.0 / (1.0 + math.Max(age, 0))
		entries = append(entries, scored{
			id:    id,
			score: weightFrequency*freq + weightRecency*recency,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].id < entries[j].id
	})

	for _, s := range entries[:toRemove] {
		e := c.data[s.id]
		c.indexRemove(e.record)
		delete(c.data, s.id)
	}
	c.evictions += uint64(toRemove)
	observability.RecordCacheEvictions(toRemove)
}

// State reports the freshness state, evaluated lazily from elapsed time.
// There is no background timer driving the HOT → WARM transition.
func (c *RecordCache) State() domain.CacheState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *RecordCache) stateLocked() domain.CacheState {
	if c.loadedAt.IsZero() {
		return domain.StateCold
	}
	if c.now().Sub(c.loadedAt) < c.cfg.FreshnessWindow {
		return domain.StateHot
	}
	return domain.StateWarm
}

// Statistics reports occupancy, hit rate, freshness age and a rough
// memory footprint estimate.
func (c *RecordCache) Statistics() domain.CacheStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := domain.CacheStatistics{
		Size:             len(c.data),
		MaxSize:          c.cfg.MaxRecords,
		Occupancy:        float64(len(c.data)) / float64(c.cfg.MaxRecords),
		Hits:             c.hits,
		Misses:           c.misses,
		State:            c.stateLocked(),
		LastFullLoad:     c.loadedAt,
		LastIncremental:  c.lastIncremental,
		MalformedDropped: c.malformed,
		Evictions:        c.evictions,
		Version:          c.version,
		MemoryBytes:      int64(len(c.data)) * recordFootprintBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	if !c.loadedAt.IsZero() {
		stats.FreshnessAge = c.now().Sub(c.loadedAt)
	}
	return stats
}

// Version is bumped by every write operation (bulk load, merge, clear).
func (c *RecordCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// LastIncremental is the high-water mark for delta fetches.
func (c *RecordCache) LastIncremental() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastIncremental
}

// Clear resets the store to COLD, dropping all records and indexes.
// Hit/miss counters survive so statistics remain meaningful across reloads.
func (c *RecordCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	c.loadedAt = time.Time{}
	c.lastIncremental = time.Time{}
	c.version++
	observability.SetCacheSize(0)
}

var _ storage.RecordStore = (*RecordCache)(nil)
