package recovery

// StrategyKind is a tagged variant of recovery strategy, dispatched through
// an ordered table rather than inline callbacks so each behavior is
// data-driven and testable in isolation.
type StrategyKind string

// Strategy kinds
const (
	StrategyCacheFallback StrategyKind = "cache-fallback"
	StrategyRetryBackoff  StrategyKind = "retry-with-backoff"
	StrategyDegradation   StrategyKind = "graceful-degradation"
	StrategyNotification  StrategyKind = "user-notification"
	StrategyNone          StrategyKind = "none"
)

// strategyEntry pairs a strategy kind with its fixed priority.
type strategyEntry struct {
	kind     StrategyKind
	priority int
}

// strategyTable is evaluated in strict priority order; the first applicable
// strategy that succeeds ends the pipeline.
var strategyTable = []strategyEntry{
	{StrategyCacheFallback, 100},
	{StrategyRetryBackoff, 80},
	{StrategyDegradation, 60},
	{StrategyNotification, 40},
}

// applies reports whether the strategy is applicable to the classified
// failure. The predicates are fixed per kind:
//   - cache-fallback: fallback available and a network failure
//   - retry-with-backoff: retryable
//   - graceful-degradation: severity below critical
//   - user-notification: always
func (s strategyEntry) applies(err *EnhancedError) bool {
	switch s.kind {
	case StrategyCacheFallback:
		return err.FallbackAvailable && err.Kind == KindNetwork
	case StrategyRetryBackoff:
		return err.Retryable
	case StrategyDegradation:
		return err.Severity != SeverityCritical
	case StrategyNotification:
		return true
	default:
		return false
	}
}
