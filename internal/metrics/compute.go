package metrics

import (
	"math"
	"sort"

	"tradeboard/internal/domain"
)

// priceDeltaEpsilon is the minimum absolute entry/exit price delta for the
// reverse-quantity derivation. Below it the recorded quantity is used;
// above it realized P&L is treated as the more trustworthy signal than a
// possibly-partial recorded quantity.
const priceDeltaEpsilon = 1e-3

// Compute calculates all financial aggregates from a completed-only trade
// subset plus a separate active-subset count. Running sums stay unrounded;
// rounding applies only at the final output. Every divide-by-zero or
// empty-input case yields 0, never NaN and never a panic.
// Trades are sorted by TradeTime ASC, ID ASC before the order-dependent
// drawdown calculation.
func Compute(completed []*domain.TradeRecord, activeCount int) *domain.MetricsSnapshot {
	n := len(completed)
	if n == 0 {
		return &domain.MetricsSnapshot{ActiveTrades: activeCount}
	}

	sorted := make([]*domain.TradeRecord, n)
	copy(sorted, completed)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].TradeTime.Equal(sorted[j].TradeTime) {
			return sorted[i].TradeTime.Before(sorted[j].TradeTime)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var (
		wins            int
		totalInvestment float64
		totalRecovery   float64
		netPnL          float64
		grossProfit     float64
		grossLoss       float64
		pnls            = make([]float64, 0, n)
		returns         = make([]float64, 0, n)
	)

	for _, t := range sorted {
		if t.Outcome == domain.OutcomeWin {
			wins++
		}

		qty := effectiveQuantity(t)
		totalInvestment += t.EntryPrice * qty
		if t.ExitPrice != nil {
			totalRecovery += *t.ExitPrice * qty
		}

		pnl := 0.0
		if t.RealizedPnL != nil {
			pnl = *t.RealizedPnL
		}
		netPnL += pnl
		pnls = append(pnls, pnl)
		if pnl > 0 {
			grossProfit += pnl
		} else if pnl < 0 {
			grossLoss += -pnl
		}

		if ret, ok := percentageReturn(t); ok {
			returns = append(returns, ret)
		}
	}

	mean := computeMean(returns)
	best, worst := computeExtremes(returns)

	snap := &domain.MetricsSnapshot{
		TotalTrades:  n,
		ActiveTrades: activeCount,
		Wins:         wins,
		Losses:       n - wins,

		TotalInvestment: round2(totalInvestment),
		TotalRecovery:   round2(totalRecovery),
		NetPnL:          round2(netPnL),

		WinRate:       round2(float64(wins) / float64(n) * 100),
		AverageReturn: round2(mean),
		BestTrade:     round2(best),
		WorstTrade:    round2(worst),

		ProfitFactor: computeProfitFactor(grossProfit, grossLoss),
		SharpeRatio:  round2(computeSharpe(returns)),
		MaxDrawdown:  round2(computeMaxDrawdown(pnls)),
	}
	return snap
}

// effectiveQuantity back-solves the traded quantity from realized P&L and
// the entry/exit price delta, falling back to the recorded quantity when
// the delta is too small or the needed fields are absent.
func effectiveQuantity(t *domain.TradeRecord) float64 {
	if t.ExitPrice != nil && t.RealizedPnL != nil {
		delta := *t.ExitPrice - t.EntryPrice
		if math.Abs(delta) > priceDeltaEpsilon {
			return *t.RealizedPnL / delta
		}
	}
	return t.Quantity
}

// percentageReturn reads the recorded percentage return, deriving it from
// prices when the datastore did not record one.
func percentageReturn(t *domain.TradeRecord) (float64, bool) {
	if t.ProfitPct != nil {
		return *t.ProfitPct, true
	}
	if t.ExitPrice != nil && t.EntryPrice != 0 {
		return (*t.ExitPrice - t.EntryPrice) / t.EntryPrice * 100, true
	}
	return 0, false
}

// computeMean calculates the arithmetic mean, 0 for empty input.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator),
// 0 when fewer than 2 samples.
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computeExtremes returns (max, min) of the values, (0, 0) for empty input.
func computeExtremes(values []float64) (best, worst float64) {
	if len(values) == 0 {
		return 0, 0
	}
	best, worst = values[0], values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
		if v < worst {
			worst = v
		}
	}
	return best, worst
}

// computeProfitFactor is grossProfit / grossLoss with grossLoss taken as a
// positive magnitude. +Inf when grossLoss is zero and grossProfit > 0,
// 0 otherwise.
func computeProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return round2(grossProfit / grossLoss)
}

// computeSharpe is the simplified Sharpe ratio mean(returns)/stddev(returns),
// 0 when fewer than 2 data points or zero deviation.
func computeSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := computeMean(returns)
	stddev := computeStddev(returns, mean)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

// computeMaxDrawdown iterates P&Ls in chronological order accumulating a
// running total, tracks the running peak, and reports the maximum observed
// (peak − cumulative) / |peak| × 100. A zero peak is skipped so the result
// is never NaN; the result is always >= 0.
func computeMaxDrawdown(pnls []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, pnl := range pnls {
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if peak == 0 {
			continue
		}
		drawdown := (peak - cumulative) / math.Abs(peak) * 100
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
