// Package punctuality classifies a check-in against its slot's scheduled
// start on pure minute-of-day arithmetic.
package punctuality

import (
	"fmt"
	"time"
)

// Status of one attendance record.
type Status string

const (
	StatusOnTime Status = "on_time"
	StatusLate   Status = "late"
	// StatusAbsent is never produced by Evaluate; the sweep worker assigns
	// it to slots that saw no check-in at all.
	StatusAbsent Status = "absent"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS"; seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	var sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &sec); err != nil {
		if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
			return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
		}
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// FromClock extracts the time of day from a wall-clock instant.
func FromClock(at time.Time) TimeOfDay {
	return TimeOfDay{Hour: at.Hour(), Minute: at.Minute()}
}

func (t TimeOfDay) minutesSinceMidnight() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Evaluate compares a scheduled start to an actual check-in, both interpreted
// against the same calendar day. At or before the start is on time with zero
// lateness; anything after is late by the full minute delta.
//
// Known boundary: the arithmetic does not account for a check-in crossing
// midnight relative to a late-evening slot. Resolving that needs a product
// decision, not a guessed fix.
func Evaluate(scheduled, actual TimeOfDay) (Status, int) {
	delta := actual.minutesSinceMidnight() - scheduled.minutesSinceMidnight()
	if delta <= 0 {
		return StatusOnTime, 0
	}
	return StatusLate, delta
}
