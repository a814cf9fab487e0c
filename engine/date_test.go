package engine_test

import (
	"testing"
	"time"

	"github.com/warp/budget-engine/engine"
)

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		from   string
		months int
		want   string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-01-31", 3, "2024-04-30"},
		{"2024-03-15", 1, "2024-04-15"},
		{"2024-11-30", 2, "2025-01-30"},
		{"2024-12-31", 1, "2025-01-31"},
		{"2024-02-29", 12, "2025-02-28"},
	}

	for _, tc := range cases {
		from, err := engine.ParseDate(tc.from)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.from, err)
		}
		got := from.AddMonthsClamped(tc.months)
		if got.String() != tc.want {
			t.Errorf("%s + %d months = %s, want %s", tc.from, tc.months, got, tc.want)
		}
	}
}

func TestWithDay_Clamps(t *testing.T) {
	feb := engine.NewDate(2023, time.February, 10)
	if got := feb.WithDay(31); got.Day() != 28 {
		t.Errorf("WithDay(31) in Feb 2023 = day %d, want 28", got.Day())
	}
	if got := feb.WithDay(15); got.Day() != 15 {
		t.Errorf("WithDay(15) = day %d, want 15", got.Day())
	}
}

func TestDaysBetween(t *testing.T) {
	a := engine.NewDate(2024, time.March, 1)
	b := engine.NewDate(2024, time.March, 31)
	if got := engine.DaysBetween(a, b); got != 30 {
		t.Errorf("DaysBetween = %d, want 30", got)
	}
	if got := engine.DaysBetween(b, a); got != -30 {
		t.Errorf("reverse DaysBetween = %d, want -30", got)
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2100, time.February, 28}, // century, not a leap year
		{2000, time.February, 29}, // divisible by 400
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, tc := range cases {
		if got := engine.DaysInMonth(tc.year, tc.month); got != tc.want {
			t.Errorf("DaysInMonth(%d, %s) = %d, want %d", tc.year, tc.month, got, tc.want)
		}
	}
}

func TestParseDate_RoundTrip(t *testing.T) {
	d, err := engine.ParseDate("2024-03-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2024-03-15" {
		t.Errorf("round trip = %s", d)
	}
	if _, err := engine.ParseDate("15/03/2024"); err == nil {
		t.Error("expected error for non-ISO input")
	}
}
