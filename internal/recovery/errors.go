// Package recovery wraps remote operations with error classification and an
// ordered recovery pipeline (cache fallback, retry with backoff, graceful
// degradation, user notification).
package recovery

import (
	"fmt"
	"time"
)

// ErrorKind classifies a raw failure.
type ErrorKind string

// Error kinds
const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindAPI        ErrorKind = "api"
	KindCache      ErrorKind = "cache"
	KindValidation ErrorKind = "validation"
	KindUnknown    ErrorKind = "unknown"
)

// Severity grades a classified failure.
type Severity string

// Severities
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityFor derives severity from the kind. Severity, retryability and
// fallback availability are never set independently by call sites; keeping
// them derived keeps classification and recovery behavior coupled.
func severityFor(kind ErrorKind) Severity {
	switch kind {
	case KindNetwork, KindAPI:
		return SeverityHigh
	case KindTimeout, KindCache:
		return SeverityMedium
	case KindValidation:
		return SeverityLow
	default:
		return SeverityCritical
	}
}

// fallbackAvailableFor reports whether serving the last good cached
// snapshot is a meaningful recovery for the kind.
func fallbackAvailableFor(kind ErrorKind) bool {
	return kind == KindNetwork || kind == KindAPI
}

// userMessageFor pre-renders the human-readable message from the kind, so
// message and recovery logic cannot drift apart. Raw failure text is never
// shown to users.
func userMessageFor(kind ErrorKind) string {
	switch kind {
	case KindNetwork:
		return "Connection problem. Showing cached data where available."
	case KindTimeout:
		return "The data source is responding slowly. Retrying."
	case KindAPI:
		return "The data service reported an error. Retrying."
	case KindCache:
		return "Local data problem. Reloading from the data source."
	case KindValidation:
		return "Some records could not be read and were skipped."
	default:
		return "Something went wrong. Please try again."
	}
}

// EnhancedError is a classified failure with derived recovery attributes
// and operation context.
type EnhancedError struct {
	Kind              ErrorKind
	Severity          Severity
	Message           string // pre-rendered, user-facing
	Retryable         bool
	FallbackAvailable bool

	Op            string
	Timestamp     time.Time
	CorrelationID string

	Cause error
}

func (e *EnhancedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Severity, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Severity)
}

// Unwrap exposes the raw cause to errors.Is/As.
func (e *EnhancedError) Unwrap() error { return e.Cause }
