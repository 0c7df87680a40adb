/*
Package ledger implements the paid-leave grant ledger.

PURPOSE:
  Tracks how many leave days each employee is owed and where approved
  consumption was drawn from. Leave is granted in discrete lots (one per
  grant event, decaying toward zero, expiring after a validity period);
  approved requests consume from lots newest-grant-first; every approval
  is recorded atomically with a per-lot, per-day consumption breakdown
  and an audit entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: hire date + employment pattern (grant table selector)
  - GrantLot: one grant event with granted/remaining balances and expiry
  - Request: a leave request moving PENDING -> APPROVED | REJECTED
  - Consumption: immutable record of days drawn from one lot on one day
  - AuditEntry: append-only who-did-what record

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all day amounts (half-day granularity
     must survive balance conservation checks exactly)
  2. Immutability: Consumption rows are never edited; corrections are
     compensating entries
  3. Idempotency: lot generation upserts on (employee, grant date)
  4. Explicit stores: every component takes a Store, no globals

SEE ALSO:
  - grants.go: Grant-lot generation
  - dayequiv.go: Period to day-equivalent conversion
  - allocate.go: Newest-first consumption allocation
  - approval.go: The atomic approval transaction
*/
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LotID string
type RequestID string

// =============================================================================
// EMPLOYMENT PATTERN - Selects the applicable grant table
// =============================================================================

// Pattern classifies an employee's entitlement schedule: "A" for the
// full-time table, "B-n" for the part-time table keyed by contracted
// weekly working days n.
type Pattern string

const PatternFullTime Pattern = "A"

// PartTimePattern builds the pattern tag for n contracted weekly days.
func PartTimePattern(weeklyDays int) Pattern {
	return Pattern(fmt.Sprintf("B-%d", weeklyDays))
}

func (p Pattern) IsFullTime() bool { return p == PatternFullTime }

// WeeklyDays returns the contracted weekly working days for part-time
// patterns. ok is false for full-time or malformed tags.
func (p Pattern) WeeklyDays() (int, bool) {
	rest, found := strings.CutPrefix(string(p), "B-")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > 6 {
		return 0, false
	}
	return n, true
}

func (p Pattern) Validate() error {
	if p.IsFullTime() {
		return nil
	}
	if _, ok := p.WeeklyDays(); !ok {
		return &InvalidPatternError{Pattern: p}
	}
	return nil
}

// =============================================================================
// EMPLOYEE - External collaborator data the generator needs
// =============================================================================

type Employee struct {
	ID       EmployeeID
	Name     string
	Email    string
	HireDate Date
	Pattern  Pattern

	// ScheduleVersion is the schedule version last used to generate
	// this employee's lots. Empty until first generation.
	ScheduleVersion string

	CreatedAt time.Time
}

// =============================================================================
// GRANT LOT - One discrete batch of granted leave days
// =============================================================================

// GrantLot is one grant event for one employee.
//
// INVARIANTS:
//   - 0 <= DaysRemaining <= DaysGranted
//   - DaysRemaining + sum(consumption for this lot) == DaysGranted
//   - Unique per (EmployeeID, GrantDate); regeneration updates in place
//   - A lot past ExpiryDate is unavailable regardless of remaining balance
type GrantLot struct {
	ID            LotID
	EmployeeID    EmployeeID
	GrantDate     Date
	DaysGranted   decimal.Decimal
	DaysRemaining decimal.Decimal
	ExpiryDate    Date

	// ScheduleVersion is the config version this lot was generated under.
	ScheduleVersion string

	// Version is the optimistic concurrency counter; every balance
	// update must carry the version it read.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Consumable reports whether the lot can be drawn from on the given date.
func (l *GrantLot) Consumable(asOf Date) bool {
	return l.ExpiryDate.AfterOrEqual(asOf) && l.DaysRemaining.IsPositive()
}

// =============================================================================
// REQUEST - PENDING -> APPROVED | REJECTED (terminal)
// =============================================================================

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Unit string

const (
	UnitDay  Unit = "DAY"
	UnitHour Unit = "HOUR"
)

// Request is a leave request. TotalDays is nil until approval fixes the
// authoritative total; the advisory total computed at creation is a UI
// hint only and is never persisted as final.
type Request struct {
	ID         RequestID
	EmployeeID EmployeeID
	StartDate  Date
	EndDate    Date
	Unit       Unit

	// Hours is the requested hours across the period (HOUR unit only).
	Hours decimal.Decimal

	// HoursPerDay is the employee's working hours per day (HOUR unit only).
	HoursPerDay decimal.Decimal

	Status    RequestStatus
	TotalDays *decimal.Decimal

	// Breakdown records which lots were drawn from, set at approval.
	Breakdown []LotDraw

	Reason    string
	DecidedBy string
	DecidedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LotDraw is one entry of an allocation breakdown.
type LotDraw struct {
	LotID LotID           `json:"lot_id"`
	Days  decimal.Decimal `json:"days"`
}

// =============================================================================
// CONSUMPTION - Immutable per-lot, per-day draw records
// =============================================================================

// Consumption records days drawn from one lot on one calendar day for one
// request. Created only inside the approval transaction, never mutated;
// corrections require a compensating entry.
type Consumption struct {
	ID        string
	RequestID RequestID
	LotID     LotID
	Date      Date
	Days      decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// AUDIT LOG - Append-only record of ledger actions
// =============================================================================

type AuditAction string

const (
	AuditRequestCreated  AuditAction = "request_created"
	AuditRequestApproved AuditAction = "request_approved"
	AuditRequestRejected AuditAction = "request_rejected"
	AuditLotsRegenerated AuditAction = "lots_regenerated"
)

// AuditEntry records who did what when. Never updated or deleted.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     AuditAction
	EmployeeID EmployeeID
	RequestID  RequestID
	Payload    map[string]any
}
