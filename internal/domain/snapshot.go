package domain

import (
	"encoding/json"
	"math"
	"time"
)

// MetricsSnapshot is an immutable aggregate computed from a filtered record
// subset. Instances are transient: always recomputed, never mutated.
type MetricsSnapshot struct {
	TotalTrades  int
	ActiveTrades int
	Wins         int
	Losses       int

	TotalInvestment float64
	TotalRecovery   float64
	NetPnL          float64

	WinRate       float64 // percent
	AverageReturn float64 // percent
	BestTrade     float64 // percent
	WorstTrade    float64 // percent

	ProfitFactor float64 // +Inf when gross loss is zero and gross profit > 0
	SharpeRatio  float64
	MaxDrawdown  float64 // percent, always >= 0
}

// MarshalJSON encodes a non-finite ProfitFactor as null, since JSON has no
// representation for +Inf and encoding/json rejects it outright.
func (m MetricsSnapshot) MarshalJSON() ([]byte, error) {
	type plain MetricsSnapshot
	out := struct {
		plain
		ProfitFactor *float64
	}{plain: plain(m)}
	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		out.ProfitFactor = &m.ProfitFactor
	}
	return json.Marshal(out)
}

// CacheState is the freshness state of the record store.
type CacheState string

// Cache states. COLD → HOT on successful load, HOT → WARM when the
// freshness window elapses, WARM → COLD on explicit clear.
const (
	StateCold CacheState = "COLD"
	StateHot  CacheState = "HOT"
	StateWarm CacheState = "WARM"
)

// CacheStatistics reports store occupancy, hit rate, freshness and an
// estimated memory footprint.
type CacheStatistics struct {
	Size      int
	MaxSize   int
	Occupancy float64 // fraction of MaxSize in use

	Hits    uint64
	Misses  uint64
	HitRate float64

	State           CacheState
	FreshnessAge    time.Duration // time since last full load, 0 when cold
	LastFullLoad    time.Time
	LastIncremental time.Time

	MalformedDropped uint64 // data-quality anomalies skipped during loads
	Evictions        uint64
	Version          uint64

	MemoryBytes int64 // rough estimate
}
