/*
allocate.go - Newest-grant-first consumption allocation

PURPOSE:
  Decides how many days an approval draws from each of an employee's
  grant lots. The ordering policy is newest grant date first: the most
  recently granted lot is drained before older ones. Changing this to
  soonest-to-expire-first would alter which days are forfeited at expiry
  and is a business decision, not a code-level fix.

PROPERTIES:
  - Eligibility: expiry date >= asOf and remaining balance > 0
  - Order: grant date descending, lot id ascending on ties (deterministic)
  - Greedy: min(still needed, lot remaining) from each lot in turn
  - All-or-nothing: a shortfall fails with InsufficientBalanceError
    before any draw is produced; callers never see a partial breakdown

SEE ALSO:
  - approval.go: Applies the breakdown inside the approval transaction
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocate computes the per-lot breakdown for requiredDays against the
// given lots. Pure function: it never mutates the lots.
func Allocate(employeeID EmployeeID, lots []GrantLot, requiredDays decimal.Decimal, asOf Date) ([]LotDraw, error) {
	if !requiredDays.IsPositive() {
		return nil, nil
	}

	eligible := make([]GrantLot, 0, len(lots))
	available := decimal.Zero
	for _, lot := range lots {
		if lot.Consumable(asOf) {
			eligible = append(eligible, lot)
			available = available.Add(lot.DaysRemaining)
		}
	}

	if available.LessThan(requiredDays) {
		return nil, &InsufficientBalanceError{
			EmployeeID: employeeID,
			Available:  available,
			Requested:  requiredDays,
			Shortfall:  requiredDays.Sub(available),
		}
	}

	// Newest grant date first; lot id breaks ties for determinism.
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].GrantDate.Equal(eligible[j].GrantDate) {
			return eligible[i].GrantDate.After(eligible[j].GrantDate)
		}
		return eligible[i].ID < eligible[j].ID
	})

	var breakdown []LotDraw
	remaining := requiredDays
	for _, lot := range eligible {
		if remaining.IsZero() {
			break
		}
		draw := decimal.Min(remaining, lot.DaysRemaining)
		breakdown = append(breakdown, LotDraw{LotID: lot.ID, Days: draw})
		remaining = remaining.Sub(draw)
	}

	return breakdown, nil
}

// SplitByDay expands a per-lot breakdown into per-day consumption rows
// for audit granularity. Each calendar day of the request absorbs up to
// one day-equivalent (the trailing fraction lands on the last touched
// day), and day amounts are assigned to lots in breakdown order.
func SplitByDay(requestID RequestID, start, end Date, total decimal.Decimal, breakdown []LotDraw) []Consumption {
	var rows []Consumption

	lotIdx := 0
	lotLeft := decimal.Zero
	if len(breakdown) > 0 {
		lotLeft = breakdown[0].Days
	}

	remaining := total
	for _, day := range DatesInclusive(start, end) {
		if !remaining.IsPositive() {
			break
		}
		dayAmount := decimal.Min(one, remaining)
		remaining = remaining.Sub(dayAmount)

		// A single day may straddle two lots when a lot runs out mid-day.
		for dayAmount.IsPositive() && lotIdx < len(breakdown) {
			take := decimal.Min(dayAmount, lotLeft)
			if take.IsPositive() {
				rows = append(rows, Consumption{
					RequestID: requestID,
					LotID:     breakdown[lotIdx].LotID,
					Date:      day,
					Days:      take,
				})
				dayAmount = dayAmount.Sub(take)
				lotLeft = lotLeft.Sub(take)
			}
			if lotLeft.IsZero() {
				lotIdx++
				if lotIdx < len(breakdown) {
					lotLeft = breakdown[lotIdx].Days
				}
			}
		}
	}

	return rows
}
