/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the grant ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    GET    /api/employees                        List all employees
    POST   /api/employees                        Create employee
    GET    /api/employees/{id}                   Get employee details
    GET    /api/employees/{id}/lots              List grant lots
    GET    /api/employees/{id}/stats             Balance rollup
    GET    /api/employees/{id}/requests          Request history
    POST   /api/employees/{id}/requests          Submit leave request
    POST   /api/employees/{id}/lots/regenerate   Regenerate grant lots

  Requests:
    GET    /api/requests/pending                 Approval queue
    POST   /api/requests/{id}/approve            Approve (atomic)
    POST   /api/requests/{id}/reject             Reject

  Schedules:
    GET    /api/schedules                        Catalog summary
    POST   /api/schedules                        Register a version
    GET    /api/schedules/{version}              Inspect a version

  Admin:
    POST   /api/admin/regenerate                 Whole-roster batch run
    GET    /api/audit                            Audit query

ERROR HANDLING:
  Domain errors map to HTTP status via httpStatus():
  - 400: Validation errors, invalid input
  - 404: Unknown employee, request, lot, or schedule version
  - 409: Already-decided request, version conflict, concurrent update
  - 422: Insufficient balance
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Actor IDs are taken from request bodies at face value.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.TxStore
	Audit     ledger.AuditReader
	Catalog   *schedule.Catalog
	Approvals *ledger.ApprovalService
	Generator *ledger.GrantGenerator
	Batch     *ledger.BatchRunner
	Stats     *ledger.StatsService

	// Clock returns "today"; overridable in tests.
	Clock func() ledger.Date
}

// NewHandler wires the default services around the given store.
func NewHandler(store ledger.TxStore, audit ledger.AuditReader, catalog *schedule.Catalog) *Handler {
	gen := ledger.NewGrantGenerator(store, catalog)
	return &Handler{
		Store:     store,
		Audit:     audit,
		Catalog:   catalog,
		Approvals: ledger.NewApprovalService(store, catalog),
		Generator: gen,
		Batch:     ledger.NewBatchRunner(gen, 4),
		Stats:     ledger.NewStatsService(store, catalog),
		Clock:     ledger.Today,
	}
}

func (h *Handler) today() ledger.Date {
	if h.Clock != nil {
		return h.Clock()
	}
	return ledger.Today()
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	hireDate, err := ledger.ParseDate(req.HireDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
		return
	}

	pattern := ledger.Pattern(req.Pattern)
	if pattern == "" {
		pattern = ledger.PatternFullTime
	}
	if err := pattern.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid work pattern", err)
		return
	}

	emp := ledger.Employee{
		ID:        ledger.EmployeeID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		HireDate:  hireDate,
		Pattern:   pattern,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// ListLots returns all grant lots for an employee.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		writeError(w, httpStatus(err), "Failed to get employee", err)
		return
	}

	lots, err := h.Store.LotsByEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lots", err)
		return
	}

	dtos := make([]LotDTO, len(lots))
	for i, lot := range lots {
		dtos[i] = LotDTO{
			ID:              string(lot.ID),
			EmployeeID:      string(lot.EmployeeID),
			GrantDate:       lot.GrantDate.String(),
			DaysGranted:     lot.DaysGranted.String(),
			DaysRemaining:   lot.DaysRemaining.String(),
			ExpiryDate:      lot.ExpiryDate.String(),
			ScheduleVersion: lot.ScheduleVersion,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStats returns the balance rollup for an employee.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))
	asOf := h.today()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := ledger.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	stats, err := h.Stats.Stats(r.Context(), id, asOf)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to compute stats", err)
		return
	}

	dto := StatsDTO{
		EmployeeID:   string(id),
		TotalGranted: stats.TotalGranted.String(),
		Used:         stats.Used.String(),
		Pending:      stats.Pending.String(),
		Remaining:    stats.Remaining.String(),
		AsOf:         asOf.String(),
	}
	if stats.NextGrantDate != nil {
		dto.NextGrantDate = stats.NextGrantDate.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// RegenerateLots runs grant generation for one employee.
func (h *Handler) RegenerateLots(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	result, err := h.Generator.Generate(r.Context(), id, h.today(), actorFrom(r))
	if err != nil {
		writeError(w, httpStatus(err), "Failed to regenerate lots", err)
		return
	}

	writeJSON(w, http.StatusOK, RegenerateResponse{
		EmployeeID: string(id),
		Generated:  result.Generated,
		Updated:    result.Updated,
	})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a PENDING leave request with an advisory total.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	var body SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := ledger.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := ledger.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	unit := ledger.Unit(body.Unit)
	if unit == "" {
		unit = ledger.UnitDay
	}

	hours, err := parseDecimal(body.Hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours", err)
		return
	}
	hoursPerDay, err := parseDecimal(body.HoursPerDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours_per_day", err)
		return
	}

	req, advisory, err := h.Approvals.CreateRequest(r.Context(), ledger.CreateRequestInput{
		EmployeeID:  id,
		StartDate:   start,
		EndDate:     end,
		Unit:        unit,
		Hours:       hours,
		HoursPerDay: hoursPerDay,
		Reason:      body.Reason,
		ActorID:     body.ActorID,
	})
	if err != nil {
		writeError(w, httpStatus(err), "Failed to create request", err)
		return
	}

	dto := toRequestDTO(*req)
	dto.AdvisoryDays = advisory.String()
	writeJSON(w, http.StatusCreated, dto)
}

// ListRequests returns the request history for an employee.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	id := ledger.EmployeeID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		writeError(w, httpStatus(err), "Failed to get employee", err)
		return
	}

	requests, err := h.Store.RequestsByEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// ListPendingRequests returns the approval queue.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.PendingRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pending requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// ApproveRequest runs the atomic approval transaction.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := ledger.RequestID(chi.URLParam(r, "id"))

	var body DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	approved, err := h.Approvals.Approve(r.Context(), id, body.ApproverID)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to approve request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*approved))
}

// RejectRequest marks a pending request REJECTED.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id := ledger.RequestID(chi.URLParam(r, "id"))

	var body DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approver_id is required", nil)
		return
	}

	rejected, err := h.Approvals.Reject(r.Context(), id, body.ApproverID)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to reject request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*rejected))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules summarizes the catalog.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScheduleListDTO{
		Active:   h.Catalog.ActiveVersion(),
		Versions: h.Catalog.Versions(),
	})
}

// GetSchedule returns one schedule version.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	s, err := h.Catalog.Resolve(version)
	if err != nil {
		writeError(w, httpStatus(err), "Failed to resolve schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ToDoc())
}

// CreateSchedule registers a new schedule version. Versions are
// append-only; re-registering an existing version with different
// content is a conflict.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	raw, err := json.Marshal(body.Schedule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid schedule", err)
		return
	}
	s, err := schedule.ParseSchedule(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid schedule", err)
		return
	}

	if body.Activate {
		err = h.Catalog.RegisterActive(s)
	} else {
		err = h.Catalog.Register(s)
	}
	if err != nil {
		writeError(w, httpStatus(err), "Failed to register schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.ToDoc())
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerBatchRegenerate runs grant generation across the whole roster.
func (h *Handler) TriggerBatchRegenerate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Batch.Run(r.Context(), h.today(), actorFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run batch regeneration", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// QueryAudit returns audit entries matching the query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter

	if raw := r.URL.Query().Get("employee_id"); raw != "" {
		id := ledger.EmployeeID(raw)
		filter.EmployeeID = &id
	}
	if raw := r.URL.Query().Get("actor_id"); raw != "" {
		filter.ActorID = &raw
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		filter.Actions = []ledger.AuditAction{ledger.AuditAction(raw)}
	}

	entries, err := h.Audit.QueryAudit(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:         e.ID,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			EmployeeID: string(e.EmployeeID),
			RequestID:  string(e.RequestID),
			Payload:    e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func toEmployeeDTO(e ledger.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:              string(e.ID),
		Name:            e.Name,
		Email:           e.Email,
		HireDate:        e.HireDate.String(),
		Pattern:         string(e.Pattern),
		ScheduleVersion: e.ScheduleVersion,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDTO(r ledger.Request) RequestDTO {
	dto := RequestDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		StartDate:  r.StartDate.String(),
		EndDate:    r.EndDate.String(),
		Unit:       string(r.Unit),
		Status:     string(r.Status),
		Breakdown:  r.Breakdown,
		Reason:     r.Reason,
		DecidedBy:  r.DecidedBy,
	}
	if r.Unit == ledger.UnitHour {
		dto.Hours = r.Hours.String()
	}
	if r.TotalDays != nil {
		dto.TotalDays = r.TotalDays.String()
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	if !r.CreatedAt.IsZero() {
		dto.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDTOs(requests []ledger.Request) []RequestDTO {
	dtos := make([]RequestDTO, len(requests))
	for i, r := range requests {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func actorFrom(r *http.Request) string {
	if actor := r.URL.Query().Get("actor_id"); actor != "" {
		return actor
	}
	return "system"
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAlreadyProcessed),
		errors.Is(err, ledger.ErrConcurrentModification),
		errors.Is(err, schedule.ErrVersionConflict):
		return http.StatusConflict
	case ledger.IsNotFound(err), errors.Is(err, schedule.ErrNotFound):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
