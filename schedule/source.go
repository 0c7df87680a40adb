/*
source.go - Schedule catalog loading from YAML and JSON

PURPOSE:
  Converts external schedule documents into GrantSchedule values.
  A catalog file (YAML) carries every version the deployment has ever
  used plus the active pointer; individual versions can also be
  registered at runtime as JSON via the admin API.

FILE SCHEMA (YAML):
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

SEE ALSO:
  - catalog.go: Where loaded schedules land
  - api/handlers.go: JSON registration endpoint
*/
package schedule

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES (shared by YAML and JSON)
// =============================================================================

type catalogDoc struct {
	Active    string        `yaml:"active" json:"active"`
	Schedules []ScheduleDoc `yaml:"schedules" json:"schedules"`
}

// ScheduleDoc is the external representation of one schedule version.
type ScheduleDoc struct {
	Version          string                 `yaml:"version" json:"version"`
	GrantCycleMonths int                    `yaml:"grant_cycle_months" json:"grant_cycle_months"`
	ExpiryYears      int                    `yaml:"expiry_years" json:"expiry_years"`
	FullTime         []ThresholdDoc         `yaml:"full_time" json:"full_time"`
	PartTime         map[int][]ThresholdDoc `yaml:"part_time,omitempty" json:"part_time,omitempty"`
	Rounding         *RoundingDoc           `yaml:"rounding,omitempty" json:"rounding,omitempty"`
}

type ThresholdDoc struct {
	Years float64 `yaml:"years" json:"years"`
	Days  float64 `yaml:"days" json:"days"`
}

type RoundingDoc struct {
	HalfDayMaxHours float64 `yaml:"half_day_max_hours" json:"half_day_max_hours"`
	FullDayHours    float64 `yaml:"full_day_hours" json:"full_day_hours"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func (d ScheduleDoc) toSchedule() (*GrantSchedule, error) {
	s := &GrantSchedule{
		Version:          d.Version,
		GrantCycleMonths: d.GrantCycleMonths,
		ExpiryYears:      d.ExpiryYears,
		FullTime:         docTable(d.FullTime),
		Rounding:         DefaultRounding(),
	}
	if len(d.PartTime) > 0 {
		s.PartTime = make(map[int][]Threshold, len(d.PartTime))
		for weeklyDays, rows := range d.PartTime {
			s.PartTime[weeklyDays] = docTable(rows)
		}
	}
	if d.Rounding != nil {
		s.Rounding = Rounding{
			HalfDayMaxHours: decimal.NewFromFloat(d.Rounding.HalfDayMaxHours),
			FullDayHours:    decimal.NewFromFloat(d.Rounding.FullDayHours),
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func docTable(rows []ThresholdDoc) []Threshold {
	table := make([]Threshold, len(rows))
	for i, r := range rows {
		table[i] = Threshold{
			YearsOfService: decimal.NewFromFloat(r.Years),
			DaysGranted:    decimal.NewFromFloat(r.Days),
		}
	}
	return table
}

// ToDoc converts a schedule back to its external representation.
func (s *GrantSchedule) ToDoc() ScheduleDoc {
	d := ScheduleDoc{
		Version:          s.Version,
		GrantCycleMonths: s.GrantCycleMonths,
		ExpiryYears:      s.ExpiryYears,
		FullTime:         tableDoc(s.FullTime),
		Rounding: &RoundingDoc{
			HalfDayMaxHours: s.Rounding.HalfDayMaxHours.InexactFloat64(),
			FullDayHours:    s.Rounding.FullDayHours.InexactFloat64(),
		},
	}
	if len(s.PartTime) > 0 {
		d.PartTime = make(map[int][]ThresholdDoc, len(s.PartTime))
		for weeklyDays, table := range s.PartTime {
			d.PartTime[weeklyDays] = tableDoc(table)
		}
	}
	return d
}

func tableDoc(table []Threshold) []ThresholdDoc {
	rows := make([]ThresholdDoc, len(table))
	for i, t := range table {
		rows[i] = ThresholdDoc{
			Years: t.YearsOfService.InexactFloat64(),
			Days:  t.DaysGranted.InexactFloat64(),
		}
	}
	return rows
}

// =============================================================================
// LOADING
// =============================================================================

// LoadCatalogFile reads a YAML catalog file and returns a populated catalog
// with the active version set.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	catalog := NewCatalog()
	for _, sd := range doc.Schedules {
		s, err := sd.toSchedule()
		if err != nil {
			return nil, err
		}
		if err := catalog.Register(s); err != nil {
			return nil, err
		}
	}
	if doc.Active != "" {
		if err := catalog.SetActive(doc.Active); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// ParseSchedule converts a single JSON schedule document into a validated
// GrantSchedule. Used by the admin registration endpoint.
func ParseSchedule(data []byte) (*GrantSchedule, error) {
	var doc ScheduleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}
	return doc.toSchedule()
}
