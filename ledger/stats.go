/*
stats.go - Read-only leave statistics

PURPOSE:
  Rollups for reporting and export collaborators: total granted, used,
  pending, remaining, and the next grant date. This is a derived view
  and must never be the basis for mutation - the allocator reads lots
  directly, not these numbers.

DEGRADATION:
  Aggregation failures cannot corrupt the ledger, so partial read
  errors degrade to zeros with a logged warning instead of failing the
  whole request. Only a missing employee is surfaced as an error.
*/
package ledger

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/schedule"
)

// Stats is the per-employee rollup.
type Stats struct {
	TotalGranted  decimal.Decimal
	Used          decimal.Decimal
	Pending       decimal.Decimal
	Remaining     decimal.Decimal
	NextGrantDate *Date
}

type StatsService struct {
	Store   Store
	Catalog *schedule.Catalog
}

func NewStatsService(store Store, catalog *schedule.Catalog) *StatsService {
	return &StatsService{Store: store, Catalog: catalog}
}

// Stats computes the rollup as of the given date.
func (s *StatsService) Stats(ctx context.Context, employeeID EmployeeID, asOf Date) (*Stats, error) {
	emp, err := s.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		TotalGranted: decimal.Zero,
		Used:         decimal.Zero,
		Pending:      decimal.Zero,
	}

	// Granted: non-expired lots already granted.
	lots, err := s.Store.LotsByEmployee(ctx, employeeID)
	if err != nil {
		log.Printf("[Stats] lot read failed for %s, reporting zero granted: %v", employeeID, err)
	} else {
		for _, lot := range lots {
			if lot.GrantDate.BeforeOrEqual(asOf) && lot.ExpiryDate.AfterOrEqual(asOf) {
				out.TotalGranted = out.TotalGranted.Add(lot.DaysGranted)
			}
		}
	}

	// Used: all consumption for the employee.
	consumptions, err := s.Store.ConsumptionsByEmployee(ctx, employeeID)
	if err != nil {
		log.Printf("[Stats] consumption read failed for %s, reporting zero used: %v", employeeID, err)
	} else {
		for _, c := range consumptions {
			out.Used = out.Used.Add(c.Days)
		}
	}

	// Pending: advisory totals of undecided requests. Pending requests
	// have no fixed TotalDays yet, so recompute with the active rounding.
	out.Pending = s.pendingTotal(ctx, employeeID)

	out.Remaining = out.TotalGranted.Sub(out.Used).Sub(out.Pending)
	if out.Remaining.IsNegative() {
		out.Remaining = decimal.Zero
	}

	out.NextGrantDate = s.nextGrantDate(emp, asOf)
	return out, nil
}

func (s *StatsService) pendingTotal(ctx context.Context, employeeID EmployeeID) decimal.Decimal {
	total := decimal.Zero

	requests, err := s.Store.RequestsByEmployee(ctx, employeeID)
	if err != nil {
		log.Printf("[Stats] request read failed for %s, reporting zero pending: %v", employeeID, err)
		return total
	}

	active, err := s.Catalog.Resolve("")
	if err != nil {
		log.Printf("[Stats] no active schedule, reporting zero pending: %v", err)
		return total
	}

	for _, r := range requests {
		if r.Status != StatusPending {
			continue
		}
		if r.TotalDays != nil {
			total = total.Add(*r.TotalDays)
			continue
		}
		advisory, err := ComputeTotalDays(r.StartDate, r.EndDate, r.Unit, r.Hours, r.HoursPerDay, active.Rounding)
		if err != nil {
			log.Printf("[Stats] advisory total failed for request %s, skipping: %v", r.ID, err)
			continue
		}
		total = total.Add(advisory)
	}
	return total
}

func (s *StatsService) nextGrantDate(emp *Employee, asOf Date) *Date {
	active, err := s.Catalog.Resolve("")
	if err != nil {
		log.Printf("[Stats] no active schedule, omitting next grant date: %v", err)
		return nil
	}
	if emp.HireDate.IsZero() {
		return nil
	}
	for k := 1; ; k++ {
		grantDate := emp.HireDate.AddMonths(k * active.GrantCycleMonths)
		if grantDate.After(asOf) {
			return &grantDate
		}
	}
}
