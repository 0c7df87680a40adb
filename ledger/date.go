package ledger

import (
	"time"
)

// =============================================================================
// DATE - Calendar-day granularity (the ledger never cares about clock time)
// =============================================================================

// Date is a calendar day in UTC. Grant dates, expiry dates, and leave days
// are all whole days; normalizing here keeps comparisons exact.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now().UTC())
}

// ParseDate parses a "2006-01-02" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }
func (d Date) IsZero() bool                  { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{t: d.t.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// =============================================================================
// DATE ARITHMETIC HELPERS
// =============================================================================

// DaysInclusive returns the number of calendar days in [from, to],
// counting both endpoints. Returns 0 when to precedes from.
func DaysInclusive(from, to Date) int {
	if to.Before(from) {
		return 0
	}
	return int(to.t.Sub(from.t).Hours()/24) + 1
}

// DatesInclusive returns every day in [from, to].
func DatesInclusive(from, to Date) []Date {
	var days []Date
	for d := from; d.BeforeOrEqual(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// MonthsBetween returns the number of whole calendar months from a to b.
// A month only counts once the day-of-month has been reached, so
// 2022-01-15 to 2022-02-14 is 0 months and to 2022-02-15 is 1 month.
func MonthsBetween(a, b Date) int {
	if b.Before(a) {
		return -MonthsBetween(b, a)
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	return months
}
