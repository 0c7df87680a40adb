package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
	ledgerstore "github.com/warp/leave-ledger/ledger/store"
	"github.com/warp/leave-ledger/schedule"
)

func TestStats_Rollup(t *testing.T) {
	// GIVEN: Two live lots (10d + 11d), 3 days consumed, and a 2-day
	//        PENDING request
	// THEN: granted=21, used=3, pending=2, remaining=16

	ctx := context.Background()
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	asOf := ledger.NewDate(2025, time.June, 1)

	require.NoError(t, store.InsertLot(ctx, ledger.GrantLot{
		ID: "lot-1", EmployeeID: emp.ID,
		GrantDate:   ledger.NewDate(2024, time.January, 15),
		DaysGranted: dec(10), DaysRemaining: dec(7),
		ExpiryDate: ledger.NewDate(2026, time.January, 15),
		Version:    1,
	}))
	require.NoError(t, store.InsertLot(ctx, ledger.GrantLot{
		ID: "lot-2", EmployeeID: emp.ID,
		GrantDate:   ledger.NewDate(2024, time.July, 15),
		DaysGranted: dec(11), DaysRemaining: dec(11),
		ExpiryDate: ledger.NewDate(2026, time.July, 15),
		Version:    1,
	}))
	require.NoError(t, store.InsertConsumptions(ctx, []ledger.Consumption{
		{ID: "c1", RequestID: "req-1", LotID: "lot-1", Date: asOf.AddDays(-10), Days: dec(2)},
		{ID: "c2", RequestID: "req-1", LotID: "lot-1", Date: asOf.AddDays(-9), Days: dec(1)},
	}))

	svc := ledger.NewApprovalService(store, catalog)
	start := ledger.NewDate(2025, time.July, 7)
	_, _, err := svc.CreateRequest(ctx, ledger.CreateRequestInput{
		EmployeeID: emp.ID,
		StartDate:  start,
		EndDate:    start.AddDays(1),
		Unit:       ledger.UnitDay,
		ActorID:    string(emp.ID),
	})
	require.NoError(t, err)

	stats, err := ledger.NewStatsService(store, catalog).Stats(ctx, emp.ID, asOf)
	require.NoError(t, err)

	assert.True(t, dec(21).Equal(stats.TotalGranted))
	assert.True(t, dec(3).Equal(stats.Used))
	assert.True(t, dec(2).Equal(stats.Pending))
	assert.True(t, dec(16).Equal(stats.Remaining))
}

func TestStats_ExpiredAndFutureLotsExcluded(t *testing.T) {
	ctx := context.Background()
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	asOf := ledger.NewDate(2025, time.June, 1)

	// Expired before asOf.
	require.NoError(t, store.InsertLot(ctx, ledger.GrantLot{
		ID: "lot-expired", EmployeeID: emp.ID,
		GrantDate:   ledger.NewDate(2022, time.July, 15),
		DaysGranted: dec(10), DaysRemaining: dec(10),
		ExpiryDate: ledger.NewDate(2024, time.July, 15),
		Version:    1,
	}))
	// Not yet granted at asOf.
	require.NoError(t, store.InsertLot(ctx, ledger.GrantLot{
		ID: "lot-future", EmployeeID: emp.ID,
		GrantDate:   ledger.NewDate(2025, time.July, 15),
		DaysGranted: dec(12), DaysRemaining: dec(12),
		ExpiryDate: ledger.NewDate(2027, time.July, 15),
		Version:    1,
	}))

	stats, err := ledger.NewStatsService(store, catalog).Stats(ctx, emp.ID, asOf)
	require.NoError(t, err)
	assert.True(t, stats.TotalGranted.IsZero())
	assert.True(t, stats.Remaining.IsZero())
}

func TestStats_NextGrantDate(t *testing.T) {
	ctx := context.Background()
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	stats, err := ledger.NewStatsService(store, catalog).Stats(ctx, emp.ID, ledger.NewDate(2025, time.June, 1))
	require.NoError(t, err)

	// 6-month cycle from 2022-01-15: the first grant date after 2025-06-01
	// is 2025-07-15.
	require.NotNil(t, stats.NextGrantDate)
	assert.True(t, ledger.NewDate(2025, time.July, 15).Equal(*stats.NextGrantDate))
}

func TestStats_RemainingNeverNegative(t *testing.T) {
	// Pending requests can exceed the granted balance (they have not been
	// allocated yet); the rollup clamps at zero instead of going negative.

	ctx := context.Background()
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	svc := ledger.NewApprovalService(store, catalog)
	start := ledger.NewDate(2025, time.July, 7)
	_, _, err := svc.CreateRequest(ctx, ledger.CreateRequestInput{
		EmployeeID: emp.ID,
		StartDate:  start,
		EndDate:    start.AddDays(4),
		Unit:       ledger.UnitDay,
		ActorID:    string(emp.ID),
	})
	require.NoError(t, err)

	stats, err := ledger.NewStatsService(store, catalog).Stats(ctx, emp.ID, ledger.NewDate(2025, time.June, 1))
	require.NoError(t, err)
	assert.True(t, dec(5).Equal(stats.Pending))
	assert.True(t, stats.Remaining.IsZero())
}

func TestStats_UnknownEmployee(t *testing.T) {
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))

	_, err := ledger.NewStatsService(store, catalog).Stats(context.Background(), "ghost", ledger.Today())
	assert.ErrorIs(t, err, ledger.ErrEmployeeNotFound)
}

func TestStats_ApprovedRequestsNotPending(t *testing.T) {
	// Once approved, a request's days show up as Used (via consumption),
	// not as Pending.

	ctx := context.Background()
	store := ledgerstore.NewMemory()
	catalog := newCatalog(t, schedule.Default("v1"))
	emp := seedEmployee(t, store, ledger.NewDate(2022, time.January, 15), ledger.PatternFullTime)

	require.NoError(t, store.InsertLot(ctx, ledger.GrantLot{
		ID: "lot-1", EmployeeID: emp.ID,
		GrantDate:   ledger.NewDate(2025, time.January, 15),
		DaysGranted: dec(10), DaysRemaining: dec(10),
		ExpiryDate: ledger.NewDate(2027, time.January, 15),
		Version:    1,
	}))

	today := ledger.NewDate(2025, time.June, 1)
	svc := ledger.NewApprovalService(store, catalog)
	svc.Clock = func() ledger.Date { return today }

	start := ledger.NewDate(2025, time.July, 7)
	req, _, err := svc.CreateRequest(ctx, ledger.CreateRequestInput{
		EmployeeID: emp.ID,
		StartDate:  start,
		EndDate:    start.AddDays(1),
		Unit:       ledger.UnitDay,
		ActorID:    string(emp.ID),
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID, "mgr-1")
	require.NoError(t, err)

	stats, err := ledger.NewStatsService(store, catalog).Stats(ctx, emp.ID, today)
	require.NoError(t, err)
	assert.True(t, dec(2).Equal(stats.Used))
	assert.True(t, stats.Pending.IsZero())
	assert.True(t, dec(8).Equal(stats.Remaining))
}
