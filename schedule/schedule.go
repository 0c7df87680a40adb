/*
Package schedule defines the versioned grant-schedule configuration.

PURPOSE:
  A GrantSchedule describes how leave days are granted: how often grant
  events occur, how long a grant stays valid, and how many days each
  grant carries depending on years of service and employment pattern.
  Schedules are immutable value objects referenced by version - once a
  grant lot has been materialized against a version, that version must
  remain resolvable forever.

KEY CONCEPTS:
  - GrantSchedule: One immutable configuration version
  - Threshold: A (yearsOfService, daysGranted) row in a grant table
  - Rounding: Hour-to-day conversion rules for partial-day requests
  - Catalog: Append-only registry of versions (catalog.go)

VALIDATION:
  Schedules are validated on load, not at lookup time. A malformed
  threshold table (empty, unordered, negative days) is rejected by
  Validate() before the schedule can enter a Catalog.

THRESHOLD LOOKUP:
  Grant tables use nearest-below matching: the applicable row is the
  highest YearsOfService entry that is <= the employee's service
  duration. Service below the first threshold grants nothing.

EXAMPLE:
  s := schedule.Default("2024.1")
  table, _ := s.Table(true, 0)              // full-time table
  days, ok := schedule.GrantFor(table, halfYears)

SEE ALSO:
  - catalog.go: Version resolution
  - source.go: YAML/JSON loading
*/
package schedule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// THRESHOLD TABLES
// =============================================================================

// Threshold is one row of a grant table: employees with at least
// YearsOfService years of service receive DaysGranted days per grant event.
type Threshold struct {
	YearsOfService decimal.Decimal
	DaysGranted    decimal.Decimal
}

// GrantFor returns the days granted for the given service duration using
// nearest-below matching. The second return is false when the duration is
// below the first threshold (no grant).
func GrantFor(table []Threshold, yearsOfService decimal.Decimal) (decimal.Decimal, bool) {
	var (
		days  decimal.Decimal
		found bool
	)
	for _, row := range table {
		if row.YearsOfService.GreaterThan(yearsOfService) {
			break
		}
		days = row.DaysGranted
		found = true
	}
	return days, found
}

// =============================================================================
// ROUNDING - Hour to day-equivalent conversion rules
// =============================================================================

// Rounding configures how requested hours convert into day-equivalents.
// HalfDayMaxHours is the largest request that still counts as a half day;
// FullDayHours is the nominal length of one working day for bucket
// boundaries. The generic fallback rounds to the nearest half day.
type Rounding struct {
	HalfDayMaxHours decimal.Decimal
	FullDayHours    decimal.Decimal
}

// DefaultRounding returns the standard half-day/full-day boundaries
// (4 and 8 hours).
func DefaultRounding() Rounding {
	return Rounding{
		HalfDayMaxHours: decimal.NewFromInt(4),
		FullDayHours:    decimal.NewFromInt(8),
	}
}

func (r Rounding) validate() error {
	if !r.HalfDayMaxHours.IsPositive() {
		return errors.New("rounding: half_day_max_hours must be positive")
	}
	if !r.FullDayHours.GreaterThan(r.HalfDayMaxHours) {
		return errors.New("rounding: full_day_hours must exceed half_day_max_hours")
	}
	return nil
}

// =============================================================================
// GRANT SCHEDULE - One immutable configuration version
// =============================================================================

// GrantSchedule is a versioned, immutable grant configuration.
//
// GrantCycleMonths is the spacing between grant events: an employee hired
// on H receives grant events at H + k*GrantCycleMonths for k = 1, 2, ...
// ExpiryYears is how long a grant lot stays consumable after its grant date.
type GrantSchedule struct {
	Version          string
	GrantCycleMonths int
	ExpiryYears      int

	// FullTime is the grant table for pattern A employees.
	FullTime []Threshold

	// PartTime maps contracted weekly working days (pattern B-n) to tables.
	PartTime map[int][]Threshold

	Rounding Rounding
}

// Table returns the grant table for an employment pattern.
// fullTime selects the full-time table; otherwise weeklyDays selects a
// part-time table. Returns false if no table exists for the pattern.
func (s *GrantSchedule) Table(fullTime bool, weeklyDays int) ([]Threshold, bool) {
	if fullTime {
		return s.FullTime, len(s.FullTime) > 0
	}
	table, ok := s.PartTime[weeklyDays]
	return table, ok
}

// Validate checks structural soundness. Called on load so that lookup
// never has to deal with malformed tables.
func (s *GrantSchedule) Validate() error {
	if s.Version == "" {
		return errors.New("schedule: version is required")
	}
	if s.GrantCycleMonths <= 0 {
		return fmt.Errorf("schedule %s: grant_cycle_months must be positive", s.Version)
	}
	if s.ExpiryYears <= 0 {
		return fmt.Errorf("schedule %s: expiry_years must be positive", s.Version)
	}
	if err := validateTable(s.FullTime); err != nil {
		return fmt.Errorf("schedule %s: full_time: %w", s.Version, err)
	}
	for weeklyDays, table := range s.PartTime {
		if weeklyDays < 1 || weeklyDays > 6 {
			return fmt.Errorf("schedule %s: part_time: weekly days %d out of range", s.Version, weeklyDays)
		}
		if err := validateTable(table); err != nil {
			return fmt.Errorf("schedule %s: part_time[%d]: %w", s.Version, weeklyDays, err)
		}
	}
	return s.Rounding.validate()
}

func validateTable(table []Threshold) error {
	if len(table) == 0 {
		return errors.New("threshold table is empty")
	}
	for i, row := range table {
		if row.YearsOfService.IsNegative() {
			return fmt.Errorf("row %d: years_of_service is negative", i)
		}
		if row.DaysGranted.IsNegative() {
			return fmt.Errorf("row %d: days_granted is negative", i)
		}
		if i > 0 && !row.YearsOfService.GreaterThan(table[i-1].YearsOfService) {
			return fmt.Errorf("row %d: years_of_service must be strictly increasing", i)
		}
	}
	return nil
}

// Equal reports whether two schedules have identical content.
// Used by the catalog to allow idempotent re-registration.
func (s *GrantSchedule) Equal(other *GrantSchedule) bool {
	if s.Version != other.Version ||
		s.GrantCycleMonths != other.GrantCycleMonths ||
		s.ExpiryYears != other.ExpiryYears ||
		!s.Rounding.HalfDayMaxHours.Equal(other.Rounding.HalfDayMaxHours) ||
		!s.Rounding.FullDayHours.Equal(other.Rounding.FullDayHours) {
		return false
	}
	if !tablesEqual(s.FullTime, other.FullTime) {
		return false
	}
	if len(s.PartTime) != len(other.PartTime) {
		return false
	}
	for weeklyDays, table := range s.PartTime {
		if !tablesEqual(table, other.PartTime[weeklyDays]) {
			return false
		}
	}
	return true
}

func tablesEqual(a, b []Threshold) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].YearsOfService.Equal(b[i].YearsOfService) || !a[i].DaysGranted.Equal(b[i].DaysGranted) {
			return false
		}
	}
	return true
}

// WeeklyPatterns returns the part-time pattern keys in ascending order.
func (s *GrantSchedule) WeeklyPatterns() []int {
	keys := make([]int, 0, len(s.PartTime))
	for k := range s.PartTime {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// =============================================================================
// DEFAULT SCHEDULE
// =============================================================================

// Default returns the built-in grant schedule under the given version label:
// grant events every 6 months, 2-year validity, and the common tiered tables
// for full-time and 1-4 day part-time patterns.
func Default(version string) *GrantSchedule {
	return &GrantSchedule{
		Version:          version,
		GrantCycleMonths: 6,
		ExpiryYears:      2,
		FullTime:         table(10, 11, 12, 14, 16, 18, 20),
		PartTime: map[int][]Threshold{
			4: table(7, 8, 9, 10, 12, 13, 15),
			3: table(5, 6, 6, 8, 9, 10, 11),
			2: table(3, 4, 4, 5, 6, 6, 7),
			1: table(1, 2, 2, 2, 3, 3, 3),
		},
		Rounding: DefaultRounding(),
	}
}

// table builds a threshold table stepping 0.5, 1.5, 2.5, ... years.
func table(days ...int) []Threshold {
	rows := make([]Threshold, len(days))
	for i, d := range days {
		years := decimal.NewFromInt(int64(i)).Add(decimal.NewFromFloat(0.5))
		rows[i] = Threshold{YearsOfService: years, DaysGranted: decimal.NewFromInt(int64(d))}
	}
	return rows
}
