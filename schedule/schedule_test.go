package schedule_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/schedule"
)

func days(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

// =============================================================================
// THRESHOLD LOOKUP
// =============================================================================

func TestGrantFor_NearestBelow(t *testing.T) {
	// GIVEN: The default full-time table (0.5y -> 10d, 1.5y -> 11d, ...)
	// WHEN: Looking up service durations between thresholds
	// THEN: The highest row at or below the duration applies

	table, ok := schedule.Default("v1").Table(true, 0)
	require.True(t, ok)

	cases := []struct {
		years float64
		want  float64
	}{
		{0.5, 10},
		{1.0, 10}, // between 0.5 and 1.5: nearest below is 0.5
		{1.5, 11},
		{2.0, 11},
		{6.5, 20},
		{10.0, 20}, // beyond the last row: last row applies
	}
	for _, c := range cases {
		got, found := schedule.GrantFor(table, days(c.years))
		assert.True(t, found, "years=%v", c.years)
		assert.True(t, days(c.want).Equal(got), "years=%v: want %v, got %s", c.years, c.want, got)
	}
}

func TestGrantFor_BelowFirstThreshold(t *testing.T) {
	// GIVEN: A service duration below the first table row
	// WHEN: Looking up the grant
	// THEN: No grant applies

	table, _ := schedule.Default("v1").Table(true, 0)

	_, found := schedule.GrantFor(table, days(0))
	assert.False(t, found, "zero service should grant nothing")

	_, found = schedule.GrantFor(table, days(0.4))
	assert.False(t, found)
}

func TestDefault_PartTimeTables(t *testing.T) {
	s := schedule.Default("v1")

	assert.Equal(t, []int{1, 2, 3, 4}, s.WeeklyPatterns())

	table, ok := s.Table(false, 4)
	require.True(t, ok)
	got, found := schedule.GrantFor(table, days(0.5))
	require.True(t, found)
	assert.True(t, days(7).Equal(got))

	_, ok = s.Table(false, 5)
	assert.False(t, ok, "no table for 5 weekly days")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_RejectsMalformedTables(t *testing.T) {
	base := func() *schedule.GrantSchedule { return schedule.Default("v1") }

	t.Run("empty full-time table", func(t *testing.T) {
		s := base()
		s.FullTime = nil
		assert.Error(t, s.Validate())
	})

	t.Run("non-increasing thresholds", func(t *testing.T) {
		s := base()
		s.FullTime = []schedule.Threshold{
			{YearsOfService: days(1.5), DaysGranted: days(10)},
			{YearsOfService: days(0.5), DaysGranted: days(11)},
		}
		assert.Error(t, s.Validate())
	})

	t.Run("weekly days out of range", func(t *testing.T) {
		s := base()
		s.PartTime[7] = s.PartTime[4]
		assert.Error(t, s.Validate())
	})

	t.Run("zero grant cycle", func(t *testing.T) {
		s := base()
		s.GrantCycleMonths = 0
		assert.Error(t, s.Validate())
	})

	t.Run("valid default", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})
}

// =============================================================================
// CATALOG - Append-only version registry
// =============================================================================

func TestCatalog_RegisterAndResolve(t *testing.T) {
	catalog := schedule.NewCatalog()

	require.NoError(t, catalog.RegisterActive(schedule.Default("2024.1")))
	require.NoError(t, catalog.Register(schedule.Default("2024.2")))

	assert.Equal(t, "2024.1", catalog.ActiveVersion())
	assert.Equal(t, []string{"2024.1", "2024.2"}, catalog.Versions())

	// Empty hint resolves the active version.
	s, err := catalog.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "2024.1", s.Version)

	// Explicit hint resolves that version.
	s, err = catalog.Resolve("2024.2")
	require.NoError(t, err)
	assert.Equal(t, "2024.2", s.Version)

	// Unknown versions fail with ErrNotFound.
	_, err = catalog.Resolve("1999.1")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestCatalog_NoActiveVersion(t *testing.T) {
	catalog := schedule.NewCatalog()
	require.NoError(t, catalog.Register(schedule.Default("2024.1")))

	_, err := catalog.Resolve("")
	assert.ErrorIs(t, err, schedule.ErrNoActive)
}

func TestCatalog_ReRegistration(t *testing.T) {
	// GIVEN: A registered version
	// WHEN: Registering the same version again
	// THEN: Identical content is idempotent; different content conflicts

	catalog := schedule.NewCatalog()
	require.NoError(t, catalog.Register(schedule.Default("2024.1")))

	// Same content: no error.
	assert.NoError(t, catalog.Register(schedule.Default("2024.1")))

	// Different content under the same version: conflict.
	edited := schedule.Default("2024.1")
	edited.ExpiryYears = 3
	err := catalog.Register(edited)
	assert.ErrorIs(t, err, schedule.ErrVersionConflict)

	// The original stays untouched.
	s, err := catalog.Resolve("2024.1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.ExpiryYears)
}

func TestCatalog_SetActiveUnknownVersion(t *testing.T) {
	catalog := schedule.NewCatalog()
	assert.ErrorIs(t, catalog.SetActive("nope"), schedule.ErrNotFound)
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoadCatalogFile(t *testing.T) {
	yamlDoc := `
active: "2024.1"
schedules:
  - version: "2024.1"
    grant_cycle_months: 6
    expiry_years: 2
    full_time:
      - {years: 0.5, days: 10}
      - {years: 1.5, days: 11}
    part_time:
      4:
        - {years: 0.5, days: 7}
    rounding:
      half_day_max_hours: 4
      full_day_hours: 8
  - version: "2024.2"
    grant_cycle_months: 6
    expiry_years: 2
    full_time:
      - {years: 0.5, days: 12}
`
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	catalog, err := schedule.LoadCatalogFile(path)
	require.NoError(t, err)

	assert.Equal(t, "2024.1", catalog.ActiveVersion())
	assert.Equal(t, []string{"2024.1", "2024.2"}, catalog.Versions())

	s, err := catalog.Resolve("2024.1")
	require.NoError(t, err)
	assert.Equal(t, 6, s.GrantCycleMonths)
	table, ok := s.Table(false, 4)
	require.True(t, ok)
	got, found := schedule.GrantFor(table, days(0.5))
	require.True(t, found)
	assert.True(t, days(7).Equal(got))

	// Version without explicit rounding falls back to the default.
	s2, err := catalog.Resolve("2024.2")
	require.NoError(t, err)
	assert.True(t, s2.Rounding.FullDayHours.Equal(days(8)))
}

func TestLoadCatalogFile_RejectsInvalidSchedule(t *testing.T) {
	yamlDoc := `
schedules:
  - version: "bad"
    grant_cycle_months: 0
    expiry_years: 2
    full_time:
      - {years: 0.5, days: 10}
`
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	_, err := schedule.LoadCatalogFile(path)
	assert.Error(t, err)
}

func TestParseSchedule_JSON(t *testing.T) {
	raw := []byte(`{
		"version": "2025.1",
		"grant_cycle_months": 12,
		"expiry_years": 2,
		"full_time": [{"years": 0.5, "days": 10}]
	}`)

	s, err := schedule.ParseSchedule(raw)
	require.NoError(t, err)
	assert.Equal(t, "2025.1", s.Version)
	assert.Equal(t, 12, s.GrantCycleMonths)
}

func TestScheduleDoc_RoundTrip(t *testing.T) {
	s := schedule.Default("2024.1")
	doc := s.ToDoc()

	assert.Equal(t, "2024.1", doc.Version)
	assert.Equal(t, 6, doc.GrantCycleMonths)
	assert.Len(t, doc.FullTime, 7)
	assert.Len(t, doc.PartTime, 4)
	require.NotNil(t, doc.Rounding)
	assert.Equal(t, 4.0, doc.Rounding.HalfDayMaxHours)
}
