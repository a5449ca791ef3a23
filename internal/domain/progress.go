package domain

import (
	"math"
	"time"
)

// Progress is the freshness of a record at a point in time.
type Progress struct {
	// Fraction of the cadence window remaining, within [0, 1].
	Fraction         float64
	RemainingMinutes int
	TotalMinutes     int
	Due              bool
}

// ComputeProgress derives the remaining share of the record's cadence window at now.
//
// A record with an empty cadence is reported as due. A completion time later than
// now reports a full window rather than a fraction above 1.
func ComputeProgress(rec ActivityRecord, now time.Time) Progress {
	total := rec.TotalMinutes()
	if total <= 0 {
		return Progress{TotalMinutes: 0, Due: true}
	}

	elapsed := now.Sub(rec.LastCompletedAt).Seconds()
	fraction := 1 - elapsed/(float64(total)*60)
	fraction = math.Min(1, math.Max(0, fraction))

	return Progress{
		Fraction:         fraction,
		RemainingMinutes: int(math.Floor(fraction * float64(total))),
		TotalMinutes:     total,
		Due:              fraction <= 0,
	}
}
