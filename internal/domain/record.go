package domain

import (
	"errors"
	"fmt"
	"time"
)

// RecordKind partitions the record set into completed and active trades.
type RecordKind string

// Record kind constants
const (
	KindCompleted RecordKind = "completed"
	KindActive    RecordKind = "active"
)

// Outcome tag constants
const (
	OutcomeWin  = "WIN"
	OutcomeLoss = "LOSS"
	OutcomeOpen = "OPEN"
)

// ErrInvalidRecord is returned when a trade record violates its invariants.
var ErrInvalidRecord = errors.New("invalid trade record")

// TradeRecord is the canonical in-memory representation of a trade.
// Records are immutable once stored: a re-seen id during an incremental
// merge never overwrites the stored copy.
type TradeRecord struct {
	ID     string
	Symbol string

	EntryPrice float64
	ExitPrice  *float64 // set iff Kind == completed
	Quantity   float64

	RealizedPnL *float64 // realized for completed, unrealized for active
	ProfitPct   *float64 // percentage return
	Outcome     string   // "WIN" | "LOSS" | "OPEN"
	Confidence  *float64 // AI prediction confidence (nullable)

	Kind      RecordKind
	TradeTime time.Time
	ExitTime  *time.Time // set iff Kind == completed
}

// Validate checks the record invariants:
// quantity > 0, and exit fields present if and only if the record is completed.
func (t *TradeRecord) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidRecord)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidRecord)
	}
	if t.TradeTime.IsZero() {
		return fmt.Errorf("%w: zero trade time", ErrInvalidRecord)
	}
	switch t.Kind {
	case KindCompleted:
		if t.ExitPrice == nil {
			return fmt.Errorf("%w: completed record without exit price", ErrInvalidRecord)
		}
	case KindActive:
		if t.ExitPrice != nil || t.ExitTime != nil {
			return fmt.Errorf("%w: active record with exit fields", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, t.Kind)
	}
	return nil
}

// Day returns the calendar-day index key for the record.
func (t *TradeRecord) Day() string {
	return t.TradeTime.Format("2006-01-02")
}
