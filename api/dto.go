/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMAL FIELDS:
  Day and hour amounts cross the wire as strings ("1.5", not 1.5) so
  clients never round-trip through binary floating point.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - schedule/source.go: ScheduleDoc, the schedule wire format
*/
package api

import (
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/schedule"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	HireDate        string `json:"hire_date"`
	Pattern         string `json:"pattern"`
	ScheduleVersion string `json:"schedule_version,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee.
type CreateEmployeeRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	HireDate string `json:"hire_date"`
	Pattern  string `json:"pattern"`
}

// =============================================================================
// GRANT LOTS
// =============================================================================

// LotDTO represents a grant lot in API responses.
type LotDTO struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	GrantDate       string `json:"grant_date"`
	DaysGranted     string `json:"days_granted"`
	DaysRemaining   string `json:"days_remaining"`
	ExpiryDate      string `json:"expiry_date"`
	ScheduleVersion string `json:"schedule_version"`
}

// RegenerateResponse reports a single-employee regeneration.
type RegenerateResponse struct {
	EmployeeID string `json:"employee_id"`
	Generated  int    `json:"generated"`
	Updated    int    `json:"updated"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitRequestDTO is the request body to create a leave request.
type SubmitRequestDTO struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Unit        string `json:"unit"`
	Hours       string `json:"hours,omitempty"`
	HoursPerDay string `json:"hours_per_day,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
}

// DecisionRequest is the body for approve/reject.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
}

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID           string           `json:"id"`
	EmployeeID   string           `json:"employee_id"`
	StartDate    string           `json:"start_date"`
	EndDate      string           `json:"end_date"`
	Unit         string           `json:"unit"`
	Hours        string           `json:"hours,omitempty"`
	Status       string           `json:"status"`
	TotalDays    string           `json:"total_days,omitempty"`
	AdvisoryDays string           `json:"advisory_days,omitempty"`
	Breakdown    []ledger.LotDraw `json:"breakdown,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	DecidedBy    string           `json:"decided_by,omitempty"`
	DecidedAt    string           `json:"decided_at,omitempty"`
	CreatedAt    string           `json:"created_at,omitempty"`
}

// =============================================================================
// STATS
// =============================================================================

// StatsDTO is the per-employee balance rollup.
type StatsDTO struct {
	EmployeeID    string `json:"employee_id"`
	TotalGranted  string `json:"total_granted"`
	Used          string `json:"used"`
	Pending       string `json:"pending"`
	Remaining     string `json:"remaining"`
	NextGrantDate string `json:"next_grant_date,omitempty"`
	AsOf          string `json:"as_of"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

// ScheduleListDTO summarizes the catalog.
type ScheduleListDTO struct {
	Active   string   `json:"active"`
	Versions []string `json:"versions"`
}

// CreateScheduleRequest registers a schedule version.
type CreateScheduleRequest struct {
	Schedule schedule.ScheduleDoc `json:"schedule"`
	Activate bool                 `json:"activate"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEntryDTO represents one audit record.
type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	EmployeeID string         `json:"employee_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
