package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period selects the date window of a filter.
type Period string

// Period constants
const (
	PeriodToday  Period = "today"
	Period7Day   Period = "7d"
	Period30Day  Period = "30d"
	PeriodCustom Period = "custom"
)

// ErrInvalidFilter is returned when a filter spec is malformed.
var ErrInvalidFilter = errors.New("invalid filter spec")

// ParsePeriod parses a period selector string.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(s) {
	case "today", "day":
		return PeriodToday, nil
	case "7d", "week", "7day":
		return Period7Day, nil
	case "30d", "month", "30day":
		return Period30Day, nil
	case "custom":
		return PeriodCustom, nil
	default:
		return PeriodToday, fmt.Errorf("%w: unknown period %q", ErrInvalidFilter, s)
	}
}

// FilterSpec is a predicate bundle describing which records to include.
// An absent dimension (zero value) matches everything.
type FilterSpec struct {
	Period Period

	// Start and End bound the window when Period == custom.
	Start *time.Time
	End   *time.Time

	Symbol  string // case-insensitive equality when set
	Outcome string // outcome tag equality when set
}

// Validate checks that a custom period carries both bounds.
// A custom range with Start after End is NOT an error: it is a defined
// contract that filtering such a spec yields the empty sequence.
func (s FilterSpec) Validate() error {
	if s.Period == PeriodCustom && (s.Start == nil || s.End == nil) {
		return fmt.Errorf("%w: custom period requires start and end", ErrInvalidFilter)
	}
	return nil
}
