package domain

import (
	"fmt"
	"time"
)

// TradeRow is the raw trade shape returned by the remote datastore.
// Nullable columns map to pointer fields.
type TradeRow struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	Quantity    float64    `json:"quantity"`
	RealizedPnL *float64   `json:"realized_pnl,omitempty"`
	ProfitPct   *float64   `json:"profit_percentage,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	Confidence  *float64   `json:"confidence,omitempty"`
	TradeDate   time.Time  `json:"trade_date"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// ToRecord converts a raw row into a validated TradeRecord of the given kind.
// The outcome tag is derived from realized P&L when the row does not carry one.
func (r TradeRow) ToRecord(kind RecordKind) (*TradeRecord, error) {
	rec := &TradeRecord{
		ID:          r.ID,
		Symbol:      r.Symbol,
		EntryPrice:  r.EntryPrice,
		ExitPrice:   r.ExitPrice,
		Quantity:    r.Quantity,
		RealizedPnL: r.RealizedPnL,
		ProfitPct:   r.ProfitPct,
		Outcome:     r.Outcome,
		Confidence:  r.Confidence,
		Kind:        kind,
		TradeTime:   r.TradeDate,
	}

	if kind == KindCompleted {
		// The datastore records completion time in created_at; fall back
		// to the trade date when it is absent.
		if r.CreatedAt != nil {
			rec.ExitTime = r.CreatedAt
		} else {
			t := r.TradeDate
			rec.ExitTime = &t
		}
	} else {
		rec.ExitPrice = nil
		rec.ExitTime = nil
	}

	if rec.Outcome == "" {
		rec.Outcome = deriveOutcome(kind, r.RealizedPnL)
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("row %s: %w", r.ID, err)
	}
	return rec, nil
}

func deriveOutcome(kind RecordKind, pnl *float64) string {
	if kind == KindActive {
		return OutcomeOpen
	}
	if pnl != nil && *pnl > 0 {
		return OutcomeWin
	}
	return OutcomeLoss
}
