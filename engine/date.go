package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granularity calendar date (no time-of-day, no zone)
// =============================================================================

// Date is a calendar date. All engine arithmetic is date-only and
// DST-agnostic: a day is a day, never 23 or 25 hours.
type Date struct {
	t time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date (in UTC).
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate parses a date in 2006-01-02 form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool      { return d.t.Before(other.t) }
func (d Date) After(other Date) bool       { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool       { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(o Date) bool   { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool    { return !d.Before(o) }

// Arithmetic
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddYears(n int) Date { return Date{t: d.t.AddDate(n, 0, 0)} }

// AddMonthsClamped advances n months and clamps the day to the last valid
// day of the resulting month. Unlike time.AddDate, Jan 31 + 1 month is
// Feb 28/29, never Mar 2.
func (d Date) AddMonthsClamped(n int) Date {
	year, month := d.Year(), int(d.Month())
	month += n
	year += (month - 1) / 12
	month = (month-1)%12 + 1
	if month < 1 {
		month += 12
		year--
	}
	return NewDate(year, time.Month(month), clampDay(d.Day(), year, time.Month(month)))
}

// WithDay returns the date with its day-of-month replaced, clamped to the
// last valid day of the month.
func (d Date) WithDay(day int) Date {
	return NewDate(d.Year(), d.Month(), clampDay(day, d.Year(), d.Month()))
}

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) Time() time.Time       { return d.t }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// DaysBetween returns the whole days from one date to another.
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// DaysInMonth returns the number of days in a month, leap-year aware.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(day, year int, month time.Month) int {
	if max := DaysInMonth(year, month); day > max {
		return max
	}
	if day < 1 {
		return 1
	}
	return day
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock abstracts "now" so the deduper and scheduler are testable without
// sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
