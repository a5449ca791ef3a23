package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StorageLayout encodes last completion times in persisted records.
	StorageLayout = "2006-01-02_15:04:05"
	// RequestLayout is accepted from and returned to API callers.
	RequestLayout = "2006-01-02 15:04:05"
)

// TimestampError describes a requested completion time that could not be parsed.
type TimestampError struct {
	Input string
	Err   error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %v", e.Input, e.Err)
}

func (e *TimestampError) Unwrap() error { return e.Err }

// TimestampResult holds either a parsed time or the reason parsing failed.
type TimestampResult struct {
	Time time.Time
	Err  error
}

// OK reports whether the input parsed.
func (r TimestampResult) OK() bool { return r.Err == nil }

var errZeroTime = errors.New("zero time cannot be stored")

// ParseRequestedTimestamp parses raw against RequestLayout in loc. The zero
// time is rejected since records treat it as a missing completion.
func ParseRequestedTimestamp(raw string, loc *time.Location) TimestampResult {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(RequestLayout, raw, loc)
	if err != nil {
		return TimestampResult{Err: &TimestampError{Input: raw, Err: err}}
	}
	if t.IsZero() {
		return TimestampResult{Err: &TimestampError{Input: raw, Err: errZeroTime}}
	}
	return TimestampResult{Time: t}
}

// FormatRequestTimestamp renders t the way API callers send it.
func FormatRequestTimestamp(t time.Time) string {
	return t.Format(RequestLayout)
}
