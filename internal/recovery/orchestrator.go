package recovery

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"tradeboard/internal/observability"
)

// Default observability bounds.
const (
	DefaultErrorLogSize      = 50
	DefaultNotificationLimit = 20
)

// Operation is a remote operation wrapped by the orchestrator.
type Operation func(ctx context.Context) (any, error)

// FallbackFunc serves the last good cached snapshot. ok is false when no
// usable snapshot exists.
type FallbackFunc func(ctx context.Context) (value any, ok bool)

// DegradedFunc produces a minimal placeholder result.
type DegradedFunc func() any

// Notification is a pre-rendered, human-readable message recorded for the
// UI layer. It carries no raw failure text.
type Notification struct {
	Message       string
	Kind          ErrorKind
	CorrelationID string
	Time          time.Time
}

// StrategyStats holds per-strategy attempt/success counters.
type StrategyStats struct {
	Attempts  uint64
	Successes uint64
}

// Outcome is the result of a wrapped operation after recovery.
type Outcome struct {
	Value    any
	Strategy StrategyKind // StrategyNone when the operation succeeded directly
	Degraded bool
	Warning  *EnhancedError // non-fatal classified failure, set when recovered
	Attempts int
}

// Options configures an Orchestrator.
type Options struct {
	// Policies are the per-kind retry configurations; DefaultPolicies()
	// when nil.
	Policies map[ErrorKind]RetryPolicy
	// Fallback serves cached data for network failures.
	Fallback FallbackFunc
	// Degraded produces a placeholder result for non-critical failures.
	Degraded DegradedFunc

	ErrorLogSize      int
	NotificationLimit int
	Verbose           bool
}

// Orchestrator executes operations under the recovery pipeline. Per
// operation the progression is NEW → CLASSIFIED → (STRATEGY_ATTEMPTED)* →
// RESOLVED | EXHAUSTED; an exhausted pipeline propagates the classified
// error to the caller unchanged.
type Orchestrator struct {
	policies map[ErrorKind]RetryPolicy
	fallback FallbackFunc
	degraded DegradedFunc
	verbose  bool

	errorLogSize      int
	notificationLimit int

	mu            sync.Mutex
	recent        []*EnhancedError
	notifications []Notification
	kindCounts    map[ErrorKind]uint64
	strategyStats map[StrategyKind]*StrategyStats

	rngMu sync.Mutex
	rng   *rand.Rand
	wait  func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator with the given options.
func New(opts Options) *Orchestrator {
	policies := opts.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}
	logSize := opts.ErrorLogSize
	if logSize <= 0 {
		logSize = DefaultErrorLogSize
	}
	notifyLimit := opts.NotificationLimit
	if notifyLimit <= 0 {
		notifyLimit = DefaultNotificationLimit
	}
	return &Orchestrator{
		policies:          policies,
		fallback:          opts.Fallback,
		degraded:          opts.Degraded,
		verbose:           opts.Verbose,
		errorLogSize:      logSize,
		notificationLimit: notifyLimit,
		kindCounts:        make(map[ErrorKind]uint64),
		strategyStats:     make(map[StrategyKind]*StrategyStats),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:              waitCtx,
	}
}

// waitCtx suspends for d, releasing control so other work proceeds while a
// retry is pending. Cancellation aborts the wait.
func waitCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes fn under the recovery pipeline. On failure the error is
// classified, then strategies are evaluated in strict priority order; the
// first applicable strategy that recovers data resolves the operation.
// User notification records its message but performs no data recovery, so
// a pipeline that reaches it still exhausts.
func (o *Orchestrator) Run(ctx context.Context, op string, fn Operation) (*Outcome, error) {
	value, err := fn(ctx)
	if err == nil {
		return &Outcome{Value: value, Strategy: StrategyNone, Attempts: 1}, nil
	}

	enh := o.classify(op, err)
	attempts := 1

	for _, s := range strategyTable {
		if !s.applies(enh) {
			continue
		}
		o.noteAttempt(s.kind)
		o.logf("%s: attempting %s (priority %d)", op, s.kind, s.priority)

		switch s.kind {
		case StrategyCacheFallback:
			if o.fallback == nil {
				continue
			}
			if v, ok := o.fallback(ctx); ok {
				o.noteSuccess(s.kind)
				return &Outcome{Value: v, Strategy: s.kind, Warning: enh, Attempts: attempts}, nil
			}

		case StrategyRetryBackoff:
			policy, ok := o.policies[enh.Kind]
			if !ok {
				continue
			}
			for attempt := 2; attempt <= policy.MaxAttempts; attempt++ {
				if werr := o.wait(ctx, o.backoffDelay(policy, attempt)); werr != nil {
					// Cancelled mid-backoff: the classified failure
					// propagates, recovery does not outlive the caller.
					return nil, enh
				}
				value, err = fn(ctx)
				attempts++
				if err == nil {
					o.noteSuccess(s.kind)
					return &Outcome{Value: value, Strategy: s.kind, Attempts: attempts}, nil
				}
				enh = o.classify(op, err)
			}

		case StrategyDegradation:
			if o.degraded == nil {
				continue
			}
			o.noteSuccess(s.kind)
			return &Outcome{Value: o.degraded(), Strategy: s.kind, Degraded: true, Warning: enh, Attempts: attempts}, nil

		case StrategyNotification:
			o.notify(enh)
			o.noteSuccess(s.kind)
		}
	}

	o.logf("%s: recovery exhausted after %d attempts (%s)", op, attempts, enh.Kind)
	return nil, enh
}

// backoffDelay computes the jittered delay under rngMu; Run may be called
// from multiple goroutines sharing the one rng.
func (o *Orchestrator) backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return policy.Delay(attempt, o.rng)
}

// classify wraps Classify and records the result in the rolling error log
// and per-kind counts.
func (o *Orchestrator) classify(op string, err error) *EnhancedError {
	enh := Classify(op, err)

	o.mu.Lock()
	o.recent = append(o.recent, enh)
	if len(o.recent) > o.errorLogSize {
		o.recent = o.recent[len(o.recent)-o.errorLogSize:]
	}
	o.kindCounts[enh.Kind]++
	o.mu.Unlock()

	observability.RecordErrorClassified(string(enh.Kind))
	return enh
}

func (o *Orchestrator) notify(enh *EnhancedError) {
	o.mu.Lock()
	o.notifications = append(o.notifications, Notification{
		Message:       enh.Message,
		Kind:          enh.Kind,
		CorrelationID: enh.CorrelationID,
		Time:          time.Now(),
	})
	if len(o.notifications) > o.notificationLimit {
		o.notifications = o.notifications[len(o.notifications)-o.notificationLimit:]
	}
	o.mu.Unlock()

	observability.RecordNotification()
}

func (o *Orchestrator) noteAttempt(kind StrategyKind) {
	o.mu.Lock()
	stats, ok := o.strategyStats[kind]
	if !ok {
		stats = &StrategyStats{}
		o.strategyStats[kind] = stats
	}
	stats.Attempts++
	o.mu.Unlock()

	observability.RecordStrategyAttempt(string(kind), "attempt")
}

func (o *Orchestrator) noteSuccess(kind StrategyKind) {
	o.mu.Lock()
	if stats, ok := o.strategyStats[kind]; ok {
		stats.Successes++
	}
	o.mu.Unlock()

	observability.RecordStrategyAttempt(string(kind), "success")
}

// RecentErrors returns the bounded rolling buffer of the most recent
// classified errors, oldest first.
func (o *Orchestrator) RecentErrors() []*EnhancedError {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*EnhancedError, len(o.recent))
	copy(out, o.recent)
	return out
}

// Notifications returns the recorded user notifications, oldest first.
func (o *Orchestrator) Notifications() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Notification, len(o.notifications))
	copy(out, o.notifications)
	return out
}

// KindCounts returns per-kind classified error counts.
func (o *Orchestrator) KindCounts() map[ErrorKind]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[ErrorKind]uint64, len(o.kindCounts))
	for k, v := range o.kindCounts {
		out[k] = v
	}
	return out
}

// Stats returns per-strategy attempt/success counters.
func (o *Orchestrator) Stats() map[StrategyKind]StrategyStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[StrategyKind]StrategyStats, len(o.strategyStats))
	for k, v := range o.strategyStats {
		out[k] = *v
	}
	return out
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[recovery] "+format, args...)
	}
}
