package storage

import (
	"context"
	"time"

	"tradeboard/internal/domain"
)

// RecordStore owns the canonical trade record set and its secondary indexes.
// Writers (bulk load, incremental merge, clear) are serialized by the
// synchronizer's single-flight rule; readers accept best-effort freshness.
type RecordStore interface {
	// BulkLoad replaces all contents with the given records, rebuilding
	// indexes from scratch. Input is processed in fixed-size batches with
	// the context checked between batches. Malformed records are skipped
	// and counted, never fatal. Returns the number of records loaded.
	BulkLoad(ctx context.Context, records []*domain.TradeRecord) (int, error)

	// MergeIncremental inserts only ids not already present; first-seen
	// wins. Advances the last-incremental timestamp even when zero records
	// were added. Returns the number of records added.
	MergeIncremental(ctx context.Context, records []*domain.TradeRecord) (int, error)

	// GetByID retrieves a record by id. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.TradeRecord, error)

	// LookupBySymbol retrieves all records for a symbol (case-insensitive),
	// ordered by trade time ASC.
	LookupBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error)

	// LookupByDay retrieves all records whose trade time falls on the given
	// calendar day, ordered by trade time ASC.
	LookupByDay(ctx context.Context, day time.Time) ([]*domain.TradeRecord, error)

	// LookupByKind retrieves all records of the given kind, ordered by
	// trade time ASC.
	LookupByKind(ctx context.Context, kind domain.RecordKind) ([]*domain.TradeRecord, error)

	// All retrieves every record, ordered by trade time ASC.
	All(ctx context.Context) ([]*domain.TradeRecord, error)

	// Statistics reports occupancy, hit rate, freshness and memory estimate.
	Statistics() domain.CacheStatistics

	// State reports the freshness state, evaluated lazily at call time.
	State() domain.CacheState

	// Version is a monotonically increasing counter bumped by every write
	// operation, used to discard superseded loads.
	Version() uint64

	// LastIncremental is the high-water mark for delta fetches.
	LastIncremental() time.Time

	// Clear resets the store to COLD.
	Clear()
}
