/*
approval.go - Request lifecycle and the atomic approval transaction

PURPOSE:
  Orchestrates the leave-request state machine:

      PENDING ──▶ APPROVED   (ledger mutation + audit)
         │
         └─────▶ REJECTED   (no ledger effect)

  Both outcomes are terminal; a second decision on the same request
  fails with AlreadyProcessedError and leaves every ledger row
  untouched.

APPROVAL SEQUENCE (one transaction, all seven steps or none):
  1. Load the request, assert PENDING
  2. Resolve the schedule active at approval time
  3. Fix the authoritative day total (creation-time total was advisory)
  4. Allocate against the employee's lots, newest-grant-first
  5. Insert per-lot per-day consumption rows, decrement lot balances
  6. Mark the request APPROVED with total and breakdown
  7. Append the audit entry

  An InsufficientBalance at step 4 aborts the transaction and the
  request stays PENDING.

CONCURRENCY:
  The whole sequence runs inside WithEmployeeTx, so two approvals for
  the same employee serialize: neither can observe the other's
  pre-decrement lot balances. Lot updates additionally carry the
  optimistic version counter as a second line of defense. A bounded
  timeout covers the transaction; on timeout it rolls back entirely.

SEE ALSO:
  - allocate.go: Breakdown computation and per-day splitting
  - store.go: WithEmployeeTx contract
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/schedule"
)

// DefaultApprovalTimeout bounds one approval transaction.
const DefaultApprovalTimeout = 10 * time.Second

// ApprovalService drives the request lifecycle.
type ApprovalService struct {
	Store   TxStore
	Catalog *schedule.Catalog
	Timeout time.Duration

	// Clock returns "today" for expiry filtering; overridable in tests.
	Clock func() Date
}

func NewApprovalService(store TxStore, catalog *schedule.Catalog) *ApprovalService {
	return &ApprovalService{
		Store:   store,
		Catalog: catalog,
		Timeout: DefaultApprovalTimeout,
		Clock:   Today,
	}
}

func (s *ApprovalService) today() Date {
	if s.Clock != nil {
		return s.Clock()
	}
	return Today()
}

// =============================================================================
// CREATE - PENDING request plus advisory total (no ledger effect)
// =============================================================================

// CreateRequestInput is the employee-facing creation payload.
type CreateRequestInput struct {
	EmployeeID  EmployeeID
	StartDate   Date
	EndDate     Date
	Unit        Unit
	Hours       decimal.Decimal
	HoursPerDay decimal.Decimal
	Reason      string
	ActorID     string
}

// CreateRequest validates the period, computes the advisory total with
// the currently active rounding config, and records a PENDING request.
// The advisory total is a hint: approval recomputes authoritatively.
func (s *ApprovalService) CreateRequest(ctx context.Context, in CreateRequestInput) (*Request, decimal.Decimal, error) {
	active, err := s.Catalog.Resolve("")
	if err != nil {
		return nil, decimal.Zero, err
	}

	advisory, err := ComputeTotalDays(in.StartDate, in.EndDate, in.Unit, in.Hours, in.HoursPerDay, active.Rounding)
	if err != nil {
		return nil, decimal.Zero, err
	}

	now := time.Now().UTC()
	req := &Request{
		ID:          RequestID(uuid.NewString()),
		EmployeeID:  in.EmployeeID,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Unit:        in.Unit,
		Hours:       in.Hours,
		HoursPerDay: in.HoursPerDay,
		Status:      StatusPending,
		Reason:      in.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.Store.WithEmployeeTx(ctx, in.EmployeeID, func(st Store) error {
		if _, err := st.GetEmployee(ctx, in.EmployeeID); err != nil {
			return err
		}
		if err := st.InsertRequest(ctx, *req); err != nil {
			return err
		}
		return st.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    in.ActorID,
			Action:     AuditRequestCreated,
			EmployeeID: in.EmployeeID,
			RequestID:  req.ID,
			Payload: map[string]any{
				"start":         in.StartDate.String(),
				"end":           in.EndDate.String(),
				"unit":          string(in.Unit),
				"advisory_days": advisory.String(),
			},
		})
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return req, advisory, nil
}

// =============================================================================
// APPROVE - The atomic seven-step transaction
// =============================================================================

// Approve executes the approval transaction. On InsufficientBalance the
// request remains PENDING and no ledger row changes.
func (s *ApprovalService) Approve(ctx context.Context, id RequestID, approverID string) (*Request, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	// Locate the owning employee first; the real work re-reads the
	// request under the employee's lock.
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	var approved *Request
	err = s.Store.WithEmployeeTx(ctx, req.EmployeeID, func(st Store) error {
		r, err := st.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &AlreadyProcessedError{RequestID: r.ID, Status: r.Status}
		}

		active, err := s.Catalog.Resolve("")
		if err != nil {
			return err
		}

		// The authoritative total uses the config active NOW; a rounding
		// policy change since creation legitimately changes it.
		total := decimal.Zero
		if r.TotalDays != nil {
			total = *r.TotalDays
		} else {
			total, err = ComputeTotalDays(r.StartDate, r.EndDate, r.Unit, r.Hours, r.HoursPerDay, active.Rounding)
			if err != nil {
				return err
			}
		}

		asOf := s.today()
		lots, err := st.LotsByEmployee(ctx, r.EmployeeID)
		if err != nil {
			return err
		}

		breakdown, err := Allocate(r.EmployeeID, lots, total, asOf)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rows := SplitByDay(r.ID, r.StartDate, r.EndDate, total, breakdown)
		for i := range rows {
			rows[i].ID = uuid.NewString()
			rows[i].CreatedAt = now
		}
		if err := st.InsertConsumptions(ctx, rows); err != nil {
			return err
		}

		lotByID := make(map[LotID]GrantLot, len(lots))
		for _, lot := range lots {
			lotByID[lot.ID] = lot
		}
		for _, draw := range breakdown {
			lot := lotByID[draw.LotID]
			lot.DaysRemaining = lot.DaysRemaining.Sub(draw.Days)
			lot.UpdatedAt = now
			if err := st.UpdateLot(ctx, lot); err != nil {
				return err
			}
		}

		r.Status = StatusApproved
		r.TotalDays = &total
		r.Breakdown = breakdown
		r.DecidedBy = approverID
		r.DecidedAt = &now
		r.UpdatedAt = now
		if err := st.UpdateRequest(ctx, *r); err != nil {
			return err
		}

		if err := st.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    approverID,
			Action:     AuditRequestApproved,
			EmployeeID: r.EmployeeID,
			RequestID:  r.ID,
			Payload: map[string]any{
				"total_days": total.String(),
				"breakdown":  breakdownPayload(breakdown),
				"schedule":   active.Version,
			},
		}); err != nil {
			return err
		}

		approved = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// =============================================================================
// REJECT - Terminal, no ledger effect
// =============================================================================

func (s *ApprovalService) Reject(ctx context.Context, id RequestID, approverID string) (*Request, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	var rejected *Request
	err = s.Store.WithEmployeeTx(ctx, req.EmployeeID, func(st Store) error {
		r, err := st.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &AlreadyProcessedError{RequestID: r.ID, Status: r.Status}
		}

		now := time.Now().UTC()
		r.Status = StatusRejected
		r.DecidedBy = approverID
		r.DecidedAt = &now
		r.UpdatedAt = now
		if err := st.UpdateRequest(ctx, *r); err != nil {
			return err
		}

		if err := st.AppendAudit(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Timestamp:  now,
			ActorID:    approverID,
			Action:     AuditRequestRejected,
			EmployeeID: r.EmployeeID,
			RequestID:  r.ID,
			Payload:    map[string]any{"status": string(StatusRejected)},
		}); err != nil {
			return err
		}

		rejected = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *ApprovalService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultApprovalTimeout
}

func breakdownPayload(breakdown []LotDraw) []map[string]string {
	out := make([]map[string]string, len(breakdown))
	for i, d := range breakdown {
		out[i] = map[string]string{"lot_id": string(d.LotID), "days": d.Days.String()}
	}
	return out
}
