package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/schedule"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func computeDays(t *testing.T, start, end ledger.Date, unit ledger.Unit, hours float64) decimal.Decimal {
	t.Helper()
	got, err := ledger.ComputeTotalDays(start, end, unit, dec(hours), dec(8), schedule.DefaultRounding())
	require.NoError(t, err)
	return got
}

// =============================================================================
// DAY REQUESTS
// =============================================================================

func TestComputeTotalDays_DayUnit(t *testing.T) {
	mon := ledger.NewDate(2025, time.March, 10)

	assert.True(t, dec(1).Equal(computeDays(t, mon, mon, ledger.UnitDay, 0)))
	assert.True(t, dec(5).Equal(computeDays(t, mon, mon.AddDays(4), ledger.UnitDay, 0)))
}

func TestComputeTotalDays_InvalidPeriod(t *testing.T) {
	mon := ledger.NewDate(2025, time.March, 10)

	_, err := ledger.ComputeTotalDays(mon, mon.AddDays(-1), ledger.UnitDay, decimal.Zero, decimal.Zero, schedule.DefaultRounding())
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
}

// =============================================================================
// HOUR REQUESTS - Graduated bucket boundaries
// =============================================================================

func TestComputeTotalDays_HourSingleDay(t *testing.T) {
	// 1-day span: up to the half-day boundary counts 0.5, anything more
	// counts a full day.

	mon := ledger.NewDate(2025, time.March, 10)

	cases := []struct {
		hours float64
		want  float64
	}{
		{1, 0.5},
		{4, 0.5},
		{4.5, 1},
		{8, 1},
		{10, 1}, // capped at the period length
	}
	for _, c := range cases {
		got := computeDays(t, mon, mon, ledger.UnitHour, c.hours)
		assert.True(t, dec(c.want).Equal(got), "hours=%v: want %v, got %s", c.hours, c.want, got)
	}
}

func TestComputeTotalDays_HourTwoDays(t *testing.T) {
	// 2-day span: 4h -> 0.5, 8h -> 1.0, 9h -> 1.5, 13h -> 2.0.

	mon := ledger.NewDate(2025, time.March, 10)
	tue := mon.AddDays(1)

	cases := []struct {
		hours float64
		want  float64
	}{
		{4, 0.5},
		{6, 1},
		{8, 1},
		{8.5, 1.5},
		{9, 1.5},
		{12, 1.5},
		{12.5, 2},
		{13, 2},
		{16, 2},
	}
	for _, c := range cases {
		got := computeDays(t, mon, tue, ledger.UnitHour, c.hours)
		assert.True(t, dec(c.want).Equal(got), "hours=%v: want %v, got %s", c.hours, c.want, got)
	}
}

func TestComputeTotalDays_HourLongSpan(t *testing.T) {
	// 3+ day spans use generic rounding: round(h/hpd * 2) / 2, capped at
	// the period length.

	mon := ledger.NewDate(2025, time.March, 10)
	wed := mon.AddDays(2)

	cases := []struct {
		hours float64
		want  float64
	}{
		{12, 1.5},
		{17, 2},   // 2.125 -> 2.0 (round to nearest half)
		{18, 2.5}, // 2.25 -> 2.5 (half rounds away from zero)
		{24, 3},
		{40, 3}, // capped at 3 calendar days
	}
	for _, c := range cases {
		got := computeDays(t, mon, wed, ledger.UnitHour, c.hours)
		assert.True(t, dec(c.want).Equal(got), "hours=%v: want %v, got %s", c.hours, c.want, got)
	}
}

func TestComputeTotalDays_HourValidation(t *testing.T) {
	mon := ledger.NewDate(2025, time.March, 10)

	_, err := ledger.ComputeTotalDays(mon, mon, ledger.UnitHour, decimal.Zero, dec(8), schedule.DefaultRounding())
	assert.ErrorIs(t, err, ledger.ErrInvalidUnit, "zero hours")

	_, err = ledger.ComputeTotalDays(mon, mon, ledger.UnitHour, dec(4), decimal.Zero, schedule.DefaultRounding())
	assert.ErrorIs(t, err, ledger.ErrInvalidUnit, "zero hours per day")

	_, err = ledger.ComputeTotalDays(mon, mon, ledger.Unit("WEEK"), decimal.Zero, decimal.Zero, schedule.DefaultRounding())
	assert.ErrorIs(t, err, ledger.ErrInvalidUnit, "unknown unit")
}

func TestComputeTotalDays_CustomRounding(t *testing.T) {
	// A 6-hour half-day boundary reclassifies a 5-hour request.
	r := schedule.Rounding{HalfDayMaxHours: dec(6), FullDayHours: dec(10)}
	mon := ledger.NewDate(2025, time.March, 10)

	got, err := ledger.ComputeTotalDays(mon, mon, ledger.UnitHour, dec(5), dec(10), r)
	require.NoError(t, err)
	assert.True(t, dec(0.5).Equal(got))
}
