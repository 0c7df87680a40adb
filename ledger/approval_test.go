package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
	ledgerstore "github.com/warp/leave-ledger/ledger/store"
	"github.com/warp/leave-ledger/schedule"
)

// approvalFixture wires a service over the in-memory store with a fixed
// clock and one seeded employee.
type approvalFixture struct {
	store   *ledgerstore.Memory
	svc     *ledger.ApprovalService
	emp     ledger.Employee
	today   ledger.Date
	catalog *schedule.Catalog
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()

	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	today := ledger.NewDate(2025, time.June, 1)
	svc := ledger.NewApprovalService(store, catalog)
	svc.Clock = func() ledger.Date { return today }

	return &approvalFixture{store: store, svc: svc, emp: emp, today: today, catalog: catalog}
}

func (f *approvalFixture) addLot(t *testing.T, id string, grantDate ledger.Date, days float64) {
	t.Helper()
	require.NoError(t, f.store.InsertLot(context.Background(), ledger.GrantLot{
		ID:            ledger.LotID(id),
		EmployeeID:    f.emp.ID,
		GrantDate:     grantDate,
		DaysGranted:   dec(days),
		DaysRemaining: dec(days),
		ExpiryDate:    grantDate.AddYears(2),
		Version:       1,
	}))
}

func (f *approvalFixture) submit(t *testing.T, start, end ledger.Date) *ledger.Request {
	t.Helper()
	req, _, err := f.svc.CreateRequest(context.Background(), ledger.CreateRequestInput{
		EmployeeID: f.emp.ID,
		StartDate:  start,
		EndDate:    end,
		Unit:       ledger.UnitDay,
		Reason:     "family",
		ActorID:    string(f.emp.ID),
	})
	require.NoError(t, err)
	return req
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateRequest_PendingWithAdvisoryTotal(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()

	start := ledger.NewDate(2025, time.July, 7)
	req, advisory, err := f.svc.CreateRequest(ctx, ledger.CreateRequestInput{
		EmployeeID: f.emp.ID,
		StartDate:  start,
		EndDate:    start.AddDays(2),
		Unit:       ledger.UnitDay,
		ActorID:    "emp-1",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, req.Status)
	assert.Nil(t, req.TotalDays, "the authoritative total is fixed at approval, not creation")
	assert.True(t, dec(3).Equal(advisory))

	entries, err := f.store.QueryAudit(ctx, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditRequestCreated},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, req.ID, entries[0].RequestID)
}

func TestCreateRequest_RejectsInvalidPeriod(t *testing.T) {
	f := newApprovalFixture(t)

	start := ledger.NewDate(2025, time.July, 7)
	_, _, err := f.svc.CreateRequest(context.Background(), ledger.CreateRequestInput{
		EmployeeID: f.emp.ID,
		StartDate:  start,
		EndDate:    start.AddDays(-1),
		Unit:       ledger.UnitDay,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
}

func TestCreateRequest_UnknownEmployee(t *testing.T) {
	f := newApprovalFixture(t)

	start := ledger.NewDate(2025, time.July, 7)
	_, _, err := f.svc.CreateRequest(context.Background(), ledger.CreateRequestInput{
		EmployeeID: "ghost",
		StartDate:  start,
		EndDate:    start,
		Unit:       ledger.UnitDay,
	})
	assert.ErrorIs(t, err, ledger.ErrEmployeeNotFound)

	// The failed transaction leaves no request behind.
	pending, err := f.store.PendingRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// APPROVE - Happy path
// =============================================================================

func TestApprove_ConsumesNewestLotsFirst(t *testing.T) {
	// GIVEN: Two lots (2024: 5d, 2025: 2d) and a 3-day PENDING request
	// WHEN: Approving
	// THEN: The 2025 lot drains fully, the 2024 lot covers the rest, and
	//       remaining + consumed still equals granted on every lot

	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-2024", ledger.NewDate(2024, time.July, 15), 5)
	f.addLot(t, "lot-2025", ledger.NewDate(2025, time.January, 15), 2)

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start.AddDays(2))

	approved, err := f.svc.Approve(ctx, req.ID, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, approved.Status)
	require.NotNil(t, approved.TotalDays)
	assert.True(t, dec(3).Equal(*approved.TotalDays))
	assert.Equal(t, "mgr-1", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)

	require.Len(t, approved.Breakdown, 2)
	assert.Equal(t, ledger.LotID("lot-2025"), approved.Breakdown[0].LotID)
	assert.True(t, dec(2).Equal(approved.Breakdown[0].Days))
	assert.Equal(t, ledger.LotID("lot-2024"), approved.Breakdown[1].LotID)
	assert.True(t, dec(1).Equal(approved.Breakdown[1].Days))

	// Balance conservation per lot.
	for _, id := range []ledger.LotID{"lot-2024", "lot-2025"} {
		lot, err := f.store.GetLot(ctx, id)
		require.NoError(t, err)
		consumed := decimal.Zero
		rows, err := f.store.ConsumptionsByLot(ctx, id)
		require.NoError(t, err)
		for _, c := range rows {
			consumed = consumed.Add(c.Days)
		}
		assert.True(t, lot.DaysGranted.Equal(lot.DaysRemaining.Add(consumed)),
			"lot %s: granted=%s remaining=%s consumed=%s", id, lot.DaysGranted, lot.DaysRemaining, consumed)
	}

	lot2025, err := f.store.GetLot(ctx, "lot-2025")
	require.NoError(t, err)
	assert.True(t, lot2025.DaysRemaining.IsZero())

	entries, err := f.store.QueryAudit(ctx, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditRequestApproved},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mgr-1", entries[0].ActorID)
}

func TestApprove_WritesPerDayConsumption(t *testing.T) {
	f := newApprovalFixture(t)
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 10)

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start.AddDays(2))

	_, err := f.svc.Approve(context.Background(), req.ID, "mgr-1")
	require.NoError(t, err)

	rows, err := f.store.ConsumptionsByLot(context.Background(), "lot-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.True(t, start.AddDays(i).Equal(row.Date))
		assert.True(t, dec(1).Equal(row.Days))
		assert.Equal(t, req.ID, row.RequestID)
		assert.NotEmpty(t, row.ID)
	}
}

// =============================================================================
// APPROVE - Failure modes
// =============================================================================

func TestApprove_InsufficientBalanceRollsBack(t *testing.T) {
	// GIVEN: 2 available days and a 3-day PENDING request
	// WHEN: Approving
	// THEN: The approval fails, the request stays PENDING, and no lot or
	//       consumption row changed

	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 2)

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start.AddDays(2))

	_, err := f.svc.Approve(ctx, req.ID, "mgr-1")
	require.Error(t, err)

	var insufficientErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.True(t, dec(1).Equal(insufficientErr.Shortfall))

	stored, err := f.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, stored.Status, "a failed approval must not decide the request")

	lot, err := f.store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, dec(2).Equal(lot.DaysRemaining), "rollback must restore the lot balance")

	rows, err := f.store.ConsumptionsByLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Empty(t, rows, "rollback must remove consumption rows")
}

func TestApprove_SecondDecisionFails(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 10)

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start)

	_, err := f.svc.Approve(ctx, req.ID, "mgr-1")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, "mgr-2")
	var processedErr *ledger.AlreadyProcessedError
	require.ErrorAs(t, err, &processedErr)
	assert.Equal(t, ledger.StatusApproved, processedErr.Status)

	// The second attempt must not double-consume.
	lot, err := f.store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, dec(9).Equal(lot.DaysRemaining))

	_, err = f.svc.Reject(ctx, req.ID, "mgr-2")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
}

func TestApprove_UnknownRequest(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.svc.Approve(context.Background(), "ghost", "mgr-1")
	assert.ErrorIs(t, err, ledger.ErrRequestNotFound)
}

func TestApprove_ExpiredLotsDoNotCount(t *testing.T) {
	// A lot whose expiry predates the approval date is invisible to the
	// allocator even with a positive balance.

	f := newApprovalFixture(t)
	f.addLot(t, "lot-old", ledger.NewDate(2022, time.July, 15), 10) // expires 2024-07-15

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start)

	_, err := f.svc.Approve(context.Background(), req.ID, "mgr-1")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

// =============================================================================
// REJECT
// =============================================================================

func TestReject_NoLedgerEffect(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 10)

	start := ledger.NewDate(2025, time.July, 7)
	req := f.submit(t, start, start.AddDays(1))

	rejected, err := f.svc.Reject(ctx, req.ID, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, rejected.Status)
	assert.Equal(t, "mgr-1", rejected.DecidedBy)

	lot, err := f.store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, dec(10).Equal(lot.DaysRemaining))

	rows, err := f.store.ConsumptionsByLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	entries, err := f.store.QueryAudit(ctx, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditRequestRejected},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApprove_ConcurrentApprovalsSerialize(t *testing.T) {
	// GIVEN: A 3-day balance and two 2-day PENDING requests
	// WHEN: Approving both concurrently
	// THEN: Exactly one succeeds; the loser sees InsufficientBalance and
	//       the balance never goes negative

	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 3)

	start := ledger.NewDate(2025, time.July, 7)
	reqA := f.submit(t, start, start.AddDays(1))
	reqB := f.submit(t, start.AddDays(7), start.AddDays(8))

	errs := make(chan error, 2)
	for _, id := range []ledger.RequestID{reqA.ID, reqB.ID} {
		id := id
		go func() {
			_, err := f.svc.Approve(ctx, id, "mgr-1")
			errs <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}

	require.Len(t, failures, 1, "exactly one approval must lose")
	assert.ErrorIs(t, failures[0], ledger.ErrInsufficientBalance)

	lot, err := f.store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, dec(1).Equal(lot.DaysRemaining))
	assert.False(t, lot.DaysRemaining.IsNegative())
}

func TestUpdateLot_OptimisticVersionCheck(t *testing.T) {
	// A stale writer carrying an old version number is refused.

	f := newApprovalFixture(t)
	ctx := context.Background()
	f.addLot(t, "lot-1", ledger.NewDate(2025, time.January, 15), 10)

	fresh, err := f.store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	stale := *fresh

	fresh.DaysRemaining = dec(9)
	require.NoError(t, f.store.UpdateLot(ctx, *fresh))

	stale.DaysRemaining = dec(8)
	err = f.store.UpdateLot(ctx, stale)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
}
