/*
grants.go - Grant-lot generation

PURPOSE:
  Materializes discrete grant lots for an employee up to a target date.
  Grant dates fall at hireDate + k*grantCycleMonths; the days carried by
  each lot come from the schedule table matching the employee's pattern
  and years of service AT THE GRANT DATE, stepped at half-year
  granularity.

HALF-YEAR STEPPING:
  halfYears = floor(monthsBetween(hire, grant) / 6) / 2

  Grants change only at 6-month boundaries, matching the table's
  granularity. 18 months of service is 1.5 years, never 2.0.

IDEMPOTENCY:
  Lots are unique per (employee, grant date). Regeneration updates
  daysGranted and expiryDate in place and recomputes daysRemaining as
  daysGranted - sum(existing consumption), never overwriting the
  remaining balance directly. Consumption history survives schedule
  edits.

VERSION PINNING:
  New lots are stamped with the active schedule version. When an
  existing lot was generated under an older version, that version must
  still resolve - a missing referenced version is administrative data
  loss and aborts generation loudly instead of silently recomputing.

SEE ALSO:
  - schedule/schedule.go: Threshold tables
  - batch.go: Roster-wide generation with per-employee error isolation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/schedule"
)

// GenerateResult reports what one generation pass did.
type GenerateResult struct {
	Generated int `json:"generated"`
	Updated   int `json:"updated"`
}

// GrantGenerator creates and refreshes grant lots.
type GrantGenerator struct {
	Store   TxStore
	Catalog *schedule.Catalog
}

func NewGrantGenerator(store TxStore, catalog *schedule.Catalog) *GrantGenerator {
	return &GrantGenerator{Store: store, Catalog: catalog}
}

// Generate upserts every grant lot due for the employee up to asOf,
// using the active schedule. Runs inside the employee's transaction so
// it never overlaps an in-flight approval for the same lots.
func (g *GrantGenerator) Generate(ctx context.Context, employeeID EmployeeID, asOf Date, actor string) (GenerateResult, error) {
	var result GenerateResult

	err := g.Store.WithEmployeeTx(ctx, employeeID, func(s Store) error {
		emp, err := s.GetEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if emp.HireDate.IsZero() {
			return fmt.Errorf("employee %s: missing hire date", employeeID)
		}
		if err := emp.Pattern.Validate(); err != nil {
			return err
		}

		active, err := g.Catalog.Resolve("")
		if err != nil {
			return err
		}

		weeklyDays, _ := emp.Pattern.WeeklyDays()
		table, ok := active.Table(emp.Pattern.IsFullTime(), weeklyDays)
		if !ok {
			return fmt.Errorf("schedule %s has no table for pattern %s", active.Version, emp.Pattern)
		}

		for k := 1; ; k++ {
			grantDate := emp.HireDate.AddMonths(k * active.GrantCycleMonths)
			if grantDate.After(asOf) {
				break
			}

			halfYears := halfYearsOfService(emp.HireDate, grantDate)
			days, ok := schedule.GrantFor(table, halfYears)
			if !ok {
				// Service below the first threshold: nothing to grant.
				continue
			}
			expiry := grantDate.AddYears(active.ExpiryYears)

			generated, updated, err := g.upsertLot(ctx, s, emp, grantDate, days, expiry, active.Version)
			if err != nil {
				return err
			}
			if generated {
				result.Generated++
			}
			if updated {
				result.Updated++
			}
		}

		if emp.ScheduleVersion != active.Version {
			emp.ScheduleVersion = active.Version
			if err := s.SaveEmployee(ctx, *emp); err != nil {
				return err
			}
		}

		return s.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  time.Now().UTC(),
			ActorID:    actor,
			Action:     AuditLotsRegenerated,
			EmployeeID: employeeID,
			Payload: map[string]any{
				"as_of":     asOf.String(),
				"generated": result.Generated,
				"updated":   result.Updated,
				"schedule":  active.Version,
			},
		})
	})
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// upsertLot creates the lot for (employee, grantDate) or refreshes it in
// place. The remaining balance is always recomputed from consumption
// history, never overwritten.
func (g *GrantGenerator) upsertLot(
	ctx context.Context,
	s Store,
	emp *Employee,
	grantDate Date,
	days decimal.Decimal,
	expiry Date,
	version string,
) (generated, updated bool, err error) {
	existing, err := s.LotByGrantDate(ctx, emp.ID, grantDate)
	if err != nil && !errors.Is(err, ErrLotNotFound) {
		return false, false, err
	}

	if existing == nil {
		now := time.Now().UTC()
		return true, false, s.InsertLot(ctx, GrantLot{
			ID:              LotID(uuid.NewString()),
			EmployeeID:      emp.ID,
			GrantDate:       grantDate,
			DaysGranted:     days,
			DaysRemaining:   days,
			ExpiryDate:      expiry,
			ScheduleVersion: version,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	// The version this lot was generated under must remain resolvable;
	// losing it means the catalog was corrupted, not that we should
	// quietly recompute from defaults.
	if existing.ScheduleVersion != version {
		if _, err := g.Catalog.Resolve(existing.ScheduleVersion); err != nil {
			return false, false, fmt.Errorf("lot %s references unresolvable schedule: %w", existing.ID, err)
		}
	}

	consumed, err := sumConsumed(ctx, s, existing.ID)
	if err != nil {
		return false, false, err
	}
	remaining := days.Sub(consumed)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	if existing.DaysGranted.Equal(days) &&
		existing.DaysRemaining.Equal(remaining) &&
		existing.ExpiryDate.Equal(expiry) &&
		existing.ScheduleVersion == version {
		return false, false, nil
	}

	existing.DaysGranted = days
	existing.DaysRemaining = remaining
	existing.ExpiryDate = expiry
	existing.ScheduleVersion = version
	existing.UpdatedAt = time.Now().UTC()
	return false, true, s.UpdateLot(ctx, *existing)
}

func sumConsumed(ctx context.Context, s Store, lotID LotID) (decimal.Decimal, error) {
	rows, err := s.ConsumptionsByLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range rows {
		total = total.Add(c.Days)
	}
	return total, nil
}

// halfYearsOfService computes years of service at half-year granularity:
// floor(months/6)/2.
func halfYearsOfService(hire, at Date) decimal.Decimal {
	months := MonthsBetween(hire, at)
	if months < 0 {
		months = 0
	}
	return decimal.NewFromInt(int64(months / 6)).Div(two)
}
