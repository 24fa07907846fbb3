// Package schedule computes workday logout times across two clock frames:
// the externally verified "actual" time and the time shown on the user's
// own (possibly wrong) device clock. All functions are pure; the reference
// instant is always passed in, never read from the system clock.
package schedule

import (
	"strconv"
	"strings"
	"time"
)

// RolloverThreshold controls the night-shift heuristic in ParseClockInput:
// an arrival that lands more than this far in the future relative to the
// reference instant is assumed to belong to the previous calendar day.
// The 6-hour value is a heuristic tuned for single-shift use, not a derived
// constant.
const RolloverThreshold = 6 * time.Hour

// DefaultShift is the conventional shift length (8h30m). Callers always
// pass a shift explicitly; this is only the default they start from.
const DefaultShift = 8*time.Hour + 30*time.Minute

// Input describes one calculation pass.
type Input struct {
	// Arrival is the "HH:MM" arrival time as read off the user's clock.
	// Empty means not yet entered.
	Arrival string

	// Adjustment is extra time on top of the shift (overtime) or, when
	// negative, an early leave.
	Adjustment time.Duration

	// ManualOffset is how far the user's clock runs ahead of actual time.
	// Positive = clock is fast, negative = clock is slow.
	ManualOffset time.Duration

	// Shift is the required shift length.
	Shift time.Duration

	// Reference is the trusted "now" the arrival string is anchored to.
	Reference time.Time
}

// Result holds the four derived logout instants. The pointers are nil when
// Input.Arrival is empty; TotalMinutes is populated regardless.
type Result struct {
	ActualStandardLogout    *time.Time `json:"actual_standard_logout,omitempty"`
	ActualAdjustedLogout    *time.Time `json:"actual_adjusted_logout,omitempty"`
	UserClockStandardLogout *time.Time `json:"user_clock_standard_logout,omitempty"`
	UserClockAdjustedLogout *time.Time `json:"user_clock_adjusted_logout,omitempty"`
	TotalMinutes            int        `json:"total_duration_minutes"`
	NextDayStandard         bool       `json:"is_next_day_standard"`
	NextDayAdjusted         bool       `json:"is_next_day_adjusted"`
}

// ParseClockInput parses an "HH:MM" string into an instant on the same
// calendar day as ref, in ref's location. Malformed hour or minute fields
// fall back to ref's own hour and minute rather than failing. If the parsed
// instant is more than RolloverThreshold after ref, it is moved back one
// day: someone checking at 02:00 who typed "13:00" arrived yesterday.
func ParseClockInput(s string, ref time.Time) time.Time {
	if s == "" {
		return ref
	}

	hourStr, minuteStr, _ := strings.Cut(s, ":")
	hour, errH := strconv.Atoi(strings.TrimSpace(hourStr))
	minute, errM := strconv.Atoi(strings.TrimSpace(minuteStr))
	if errH != nil || errM != nil {
		hour = ref.Hour()
		minute = ref.Minute()
	}

	t := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
	if t.Sub(ref) > RolloverThreshold {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// Compute derives the logout schedule for in. It never fails: an empty
// arrival yields a Result with nil instants and only TotalMinutes set.
//
// The frame conversion works in three hops. The arrival string is what the
// user's clock showed, so subtracting the manual offset recovers the actual
// arrival. Shift and adjustment are added in actual time. Adding the offset
// back projects each logout onto the user's clock, which is the number they
// need to watch for.
func Compute(in Input) Result {
	res := Result{
		TotalMinutes: int((in.Shift + in.Adjustment).Minutes()),
	}
	if in.Arrival == "" {
		return res
	}

	userClockArrival := ParseClockInput(in.Arrival, in.Reference)
	actualArrival := userClockArrival.Add(-in.ManualOffset)

	actualStandard := actualArrival.Add(in.Shift)
	actualAdjusted := actualStandard.Add(in.Adjustment)
	userStandard := actualStandard.Add(in.ManualOffset)
	userAdjusted := actualAdjusted.Add(in.ManualOffset)

	res.ActualStandardLogout = &actualStandard
	res.ActualAdjustedLogout = &actualAdjusted
	res.UserClockStandardLogout = &userStandard
	res.UserClockAdjustedLogout = &userAdjusted
	// Boolean day-equality only: an adjustment spanning several days still
	// reads as a single "next day" marker.
	res.NextDayStandard = !sameDay(actualStandard, actualArrival)
	res.NextDayAdjusted = !sameDay(actualAdjusted, actualArrival)
	return res
}

// Progress reports elapsed shift percentage in actual time, clamped to
// [0,100]. A non-positive span (zero-length or negative shift) reports 100.
// Missing inputs report 0.
func Progress(arrival string, manualOffset time.Duration, actualAdjustedLogout, now time.Time) float64 {
	if arrival == "" || actualAdjustedLogout.IsZero() || now.IsZero() {
		return 0
	}

	userClockArrival := ParseClockInput(arrival, now)
	actualArrival := userClockArrival.Add(-manualOffset)

	total := actualAdjustedLogout.Sub(actualArrival)
	if total <= 0 {
		return 100
	}
	percent := float64(now.Sub(actualArrival)) / float64(total) * 100
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// FormatClock renders t as "HH:MM" for display and input round-tripping.
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
