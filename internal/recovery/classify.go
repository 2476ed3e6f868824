package recovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"tradeboard/internal/domain"
	"tradeboard/internal/snapshot"
	"tradeboard/internal/storage"
)

// statusCoder is implemented by datasource errors carrying an HTTP-style
// status code.
type statusCoder interface {
	StatusCode() int
}

// Classify maps a raw failure to an EnhancedError. Severity, retryability,
// fallback availability and the user message are all derived from the
// detected kind. An already classified error passes through unchanged.
func Classify(op string, err error) *EnhancedError {
	var enhanced *EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced
	}

	kind, retryable := detectKind(err)
	return &EnhancedError{
		Kind:              kind,
		Severity:          severityFor(kind),
		Message:           userMessageFor(kind),
		Retryable:         retryable,
		FallbackAvailable: fallbackAvailableFor(kind),
		Op:                op,
		Timestamp:         time.Now(),
		CorrelationID:     uuid.NewString(),
		Cause:             err,
	}
}

// detectKind inspects the raw error. Network and timeout failures are
// always retryable; api failures only for 5xx or rate-limit signals;
// cache failures retryable; validation and unknown failures are not.
func detectKind(err error) (ErrorKind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return KindAPI, code >= 500 || code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout, true
		}
		return KindNetwork, true
	}

	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidInput) {
		return KindCache, true
	}
	if errors.Is(err, snapshot.ErrEmpty) || errors.Is(err, snapshot.ErrStale) || errors.Is(err, snapshot.ErrCorrupt) {
		return KindCache, true
	}
	if errors.Is(err, domain.ErrInvalidRecord) || errors.Is(err, domain.ErrInvalidFilter) {
		return KindValidation, false
	}

	return KindUnknown, false
}
