/*
calendar.go - Checkpoint date arithmetic

PURPOSE:
  The single source of truth for checkpoint generation. Every accrual path
  (scheduled sweep, manual trigger, retroactive catch-up) steps dates
  through these functions; date-stepping is never reimplemented inline.

MONTH-STEPPING CONVENTION:
  Stepping months preserves the anchor day-of-month and clamps to the last
  day of shorter months: Jan 31 → Feb 28/29 → Mar 31. The clamp is anchored
  on the starting day, so repeated stepping does not drift toward the 28th.
  Calendar rollover (Jan 31 + 1 month = Mar 2/3) is deliberately NOT used.

BOUNDARY CONVENTION:
  A checkpoint posts when checkpoint ≤ boundary (inclusive). With grace end
  2024-01-01 and boundary 2024-04-02, the checkpoints are 01-02, 02-02,
  03-02 and 04-02: four entries.

All functions are pure and operate at day granularity (UTC midnight).
*/
package credit

import "time"

// =============================================================================
// CLOCK - Injectable wall clock
// =============================================================================

// Clock supplies "now" so the engine is deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests and replays.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// DAY ARITHMETIC
// =============================================================================

// Day truncates a time to UTC midnight. All ledger comparisons happen at
// this granularity.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDay returns the day after t.
func NextDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, 1)
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped adds n calendar months to t, clamping the day-of-month
// to the end of shorter months. The anchor day is t's own day, so calling
// it with increasing n never drifts: Jan 31 + 1 = Feb 28, Jan 31 + 2 = Mar 31.
func AddMonthsClamped(t time.Time, n int) time.Time {
	t = Day(t)
	months := int(t.Month()) - 1 + n
	year := t.Year() + months/12
	month := time.Month(months%12 + 1)
	if months < 0 && months%12 != 0 {
		year--
		month += 12
	}
	day := t.Day()
	if max := daysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MonthsElapsed returns the whole calendar months between two dates
// (year and month difference only; partial months round down), clamped
// to zero.
func MonthsElapsed(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if months < 0 {
		return 0
	}
	return months
}

// GraceEnd computes the grace-period end for a sale date. Used both at
// debt creation and when the grace period is edited retroactively, always
// from the original sale date.
func GraceEnd(saleDate time.Time, graceMonths int) time.Time {
	return AddMonthsClamped(saleDate, graceMonths)
}

// =============================================================================
// CHECKPOINT SEQUENCE
// =============================================================================

// Checkpoints generates the monthly accrual checkpoints for a debt: the
// first is the day after the grace period ends, then one per month
// (anchored, clamped), up to and including the boundary. The sequence is
// always finite; boundary is wall-clock "now" or a known payoff date.
func Checkpoints(graceEnd, boundary time.Time) []time.Time {
	start := NextDay(graceEnd)
	boundary = Day(boundary)

	var out []time.Time
	for n := 0; ; n++ {
		cp := AddMonthsClamped(start, n)
		if cp.After(boundary) {
			return out
		}
		out = append(out, cp)
	}
}
