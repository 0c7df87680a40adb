/*
dayequiv.go - Period to day-equivalent conversion

PURPOSE:
  Converts a requested leave period (date range, unit, hours per day)
  into a decimal number of leave days. This runs twice in a request's
  lifecycle: once advisorily at creation (a UI hint, never persisted as
  final) and once authoritatively at approval using the rounding config
  active at approval time - a rounding-policy change between creation
  and approval legitimately changes the final total.

HOUR BUCKETS:
  Hour requests do not divide flatly by hours-per-day. Partial-day
  granularity depends on how many calendar days the request spans:

  1 day:   h <= half       -> 0.5
           h <= full       -> 1.0
  2 days:  h <= half       -> 0.5
           h <= full       -> 1.0
           full+0.5 <= h <= full+half -> 1.5
           h <= 2*full     -> 2.0
           beyond          -> generic rounding
  3+ days: generic rounding

  where half/full come from the schedule's Rounding config (4 and 8 by
  default) and generic rounding is round(h / hoursPerDay * 2) / 2.

BOUNDS:
  The result never exceeds the period's calendar days and is never
  negative.

SEE ALSO:
  - schedule/schedule.go: Rounding config
  - approval.go: Authoritative invocation
*/
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/schedule"
)

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
)

// ComputeTotalDays converts a requested period into a day-equivalent.
// hours and hoursPerDay are only consulted for UnitHour.
func ComputeTotalDays(start, end Date, unit Unit, hours, hoursPerDay decimal.Decimal, r schedule.Rounding) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, ErrInvalidPeriod
	}
	periodDays := decimal.NewFromInt(int64(DaysInclusive(start, end)))

	switch unit {
	case UnitDay:
		// Whole calendar days; the half-day rounding and cap are
		// degenerate here but keep the bounds explicit.
		return clamp(roundHalfDay(periodDays), periodDays), nil

	case UnitHour:
		if !hoursPerDay.IsPositive() || !hours.IsPositive() {
			return decimal.Zero, ErrInvalidUnit
		}
		return hourBuckets(periodDays, hours, hoursPerDay, r), nil

	default:
		return decimal.Zero, ErrInvalidUnit
	}
}

// hourBuckets applies the graduated per-span conversion rules.
func hourBuckets(periodDays, hours, hoursPerDay decimal.Decimal, r schedule.Rounding) decimal.Decimal {
	halfMax := r.HalfDayMaxHours
	fullDay := r.FullDayHours

	switch {
	case periodDays.Equal(one):
		if hours.LessThanOrEqual(halfMax) {
			return half
		}
		return clamp(one, periodDays)

	case periodDays.Equal(two):
		switch {
		case hours.LessThanOrEqual(halfMax):
			return half
		case hours.LessThanOrEqual(fullDay):
			return one
		case hours.GreaterThanOrEqual(fullDay.Add(half)) && hours.LessThanOrEqual(fullDay.Add(halfMax)):
			return one.Add(half)
		case hours.GreaterThan(fullDay.Add(halfMax)) && hours.LessThanOrEqual(fullDay.Mul(two)):
			return two
		default:
			return genericRound(periodDays, hours, hoursPerDay)
		}

	default:
		return genericRound(periodDays, hours, hoursPerDay)
	}
}

// genericRound rounds hours/hoursPerDay to the nearest half day,
// capped at the period length.
func genericRound(periodDays, hours, hoursPerDay decimal.Decimal) decimal.Decimal {
	days := roundHalfDay(hours.Div(hoursPerDay))
	return clamp(days, periodDays)
}

// roundHalfDay rounds to the nearest 0.5.
func roundHalfDay(d decimal.Decimal) decimal.Decimal {
	return d.Mul(two).Round(0).Div(two)
}

// clamp bounds the result to [0, max].
func clamp(d, max decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(max) {
		return max
	}
	return d
}
