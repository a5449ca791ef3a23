package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minutesPerDay  = 1440
	minutesPerHour = 60
)

// ActivityRecord is one tracked recurring activity. Name is unique within its section.
type ActivityRecord struct {
	Name               string
	FrequencyDays      int
	ExtraIntervalHours int
	LastCompletedAt    time.Time
}

// TotalMinutes returns the cadence window length in minutes.
func (r ActivityRecord) TotalMinutes() int {
	return r.FrequencyDays*minutesPerDay + r.ExtraIntervalHours*minutesPerHour
}

// Validate reports whether the record can be tracked.
func (r ActivityRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("activity name is required")
	}
	if r.FrequencyDays < 0 {
		return fmt.Errorf("activity %q: frequency must be >= 0, got %d", r.Name, r.FrequencyDays)
	}
	if r.ExtraIntervalHours < 0 {
		return fmt.Errorf("activity %q: extra interval must be >= 0, got %d", r.Name, r.ExtraIntervalHours)
	}
	if r.LastCompletedAt.IsZero() {
		return fmt.Errorf("activity %q: last completion time is required", r.Name)
	}
	return nil
}

// ValidateSection checks every record and the uniqueness of names.
func ValidateSection(records []ActivityRecord) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, dup := seen[rec.Name]; dup {
			return fmt.Errorf("duplicate activity %q", rec.Name)
		}
		seen[rec.Name] = struct{}{}
	}
	return nil
}

// indexOf returns the position of the named record or -1.
func indexOf(records []ActivityRecord, name string) int {
	for i := range records {
		if records[i].Name == name {
			return i
		}
	}
	return -1
}
