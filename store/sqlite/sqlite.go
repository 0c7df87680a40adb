/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.AuditReader on SQLite. In
  production the same patterns apply to PostgreSQL, only minor SQL
  dialect differences.

KEY TABLES:
  employees:      Collaborator records (hire date, work pattern)
  grant_lots:     Discrete leave grants, UNIQUE(employee_id, grant_date)
  leave_requests: Request lifecycle rows
  consumptions:   Insert-only per-day draws, UNIQUE(request_id, lot_id, date)
  audit_log:      Append-only audit trail

MUTATION DISCIPLINE:
  - consumptions and audit_log have no UPDATE or DELETE paths.
  - UpdateLot is a compare-and-swap on the version column; zero rows
    affected surfaces ledger.ErrConcurrentModification.
  - WithEmployeeTx serializes writers per employee with an in-process
    lock, then opens an immediate transaction. Approvals for different
    employees proceed in parallel.

NUMERIC STORAGE:
  Day amounts are stored as decimal TEXT, never floating point. Dates
  are stored as "2006-01-02" strings; timestamps as RFC 3339.

WAL MODE:
  The database is opened with WAL so readers do not block the writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/ledger"
)

// Store implements ledger.TxStore and ledger.AuditReader using SQLite.
type Store struct {
	db *sql.DB

	// One lock per employee. SQLite already allows only one writer, but
	// the per-employee lock keeps the serialization unit explicit and
	// matches what row-level locking gives us on PostgreSQL.
	empMu    sync.Mutex
	empLocks map[ledger.EmployeeID]*sync.Mutex
}

var _ ledger.TxStore = (*Store)(nil)
var _ ledger.AuditReader = (*Store)(nil)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:       db,
		empLocks: make(map[ledger.EmployeeID]*sync.Mutex),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Employees (collaborator records)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		pattern TEXT NOT NULL,
		schedule_version TEXT,
		created_at TEXT NOT NULL
	);

	-- Grant lots: one row per (employee, grant date), refreshed in place
	-- on regeneration. version is the optimistic counter.
	CREATE TABLE IF NOT EXISTS grant_lots (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		grant_date TEXT NOT NULL,
		days_granted TEXT NOT NULL,
		days_remaining TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		schedule_version TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, grant_date)
	);

	-- Allocation hot path: consumable lots for one employee.
	CREATE INDEX IF NOT EXISTS idx_lots_employee_grant
		ON grant_lots(employee_id, grant_date DESC);
	CREATE INDEX IF NOT EXISTS idx_lots_expiry
		ON grant_lots(expiry_date);

	-- Leave requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		unit TEXT NOT NULL,
		hours TEXT NOT NULL,
		hours_per_day TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		total_days TEXT,
		breakdown_json TEXT,
		reason TEXT,
		decided_by TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(status);

	-- Consumptions (insert-only). One row per (request, lot, day).
	CREATE TABLE IF NOT EXISTS consumptions (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		date TEXT NOT NULL,
		days TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(request_id, lot_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_consumptions_lot
		ON consumptions(lot_id);
	CREATE INDEX IF NOT EXISTS idx_consumptions_request
		ON consumptions(request_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		request_id TEXT,
		payload_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee
		ON audit_log(employee_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	return saveEmployee(ctx, s.db, e)
}

func saveEmployee(ctx context.Context, q querier, e ledger.Employee) error {
	query := `
		INSERT INTO employees (id, name, email, hire_date, pattern, schedule_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date,
			pattern = excluded.pattern,
			schedule_version = excluded.schedule_version
	`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, query,
		string(e.ID), e.Name, e.Email,
		e.HireDate.String(),
		string(e.Pattern),
		e.ScheduleVersion,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, q querier, id ledger.EmployeeID) (*ledger.Employee, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date, pattern, schedule_version, created_at FROM employees WHERE id = ?",
		string(id),
	)

	emp, err := scanEmployee(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	return listEmployees(ctx, s.db)
}

func listEmployees(ctx context.Context, q querier) ([]ledger.Employee, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, email, hire_date, pattern, schedule_version, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []ledger.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows.Scan)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *emp)
	}
	return employees, rows.Err()
}

func scanEmployee(scan func(...any) error) (*ledger.Employee, error) {
	var (
		emp                 ledger.Employee
		id, pattern         string
		email, schedVersion sql.NullString
		hireDate, createdAt string
	)
	if err := scan(&id, &emp.Name, &email, &hireDate, &pattern, &schedVersion, &createdAt); err != nil {
		return nil, err
	}

	emp.ID = ledger.EmployeeID(id)
	emp.Email = email.String
	emp.Pattern = ledger.Pattern(pattern)
	emp.ScheduleVersion = schedVersion.String

	var err error
	if emp.HireDate, err = ledger.ParseDate(hireDate); err != nil {
		return nil, fmt.Errorf("employee %s: bad hire date: %w", id, err)
	}
	emp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &emp, nil
}

// =============================================================================
// GRANT LOTS
// =============================================================================

const lotColumns = `id, employee_id, grant_date, days_granted, days_remaining,
	expiry_date, schedule_version, version, created_at, updated_at`

func (s *Store) InsertLot(ctx context.Context, lot ledger.GrantLot) error {
	return insertLot(ctx, s.db, lot)
}

func insertLot(ctx context.Context, q querier, lot ledger.GrantLot) error {
	query := `
		INSERT INTO grant_lots
		(id, employee_id, grant_date, days_granted, days_remaining,
		 expiry_date, schedule_version, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(lot.ID), string(lot.EmployeeID),
		lot.GrantDate.String(),
		lot.DaysGranted.String(), lot.DaysRemaining.String(),
		lot.ExpiryDate.String(),
		lot.ScheduleVersion,
		lot.Version,
		lot.CreatedAt.Format(time.RFC3339),
		lot.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateLot
		}
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

// updateLot is a compare-and-swap on the version column. A stale
// version matches zero rows and fails with ErrConcurrentModification.
func updateLot(ctx context.Context, q querier, lot ledger.GrantLot) error {
	query := `
		UPDATE grant_lots SET
			days_granted = ?,
			days_remaining = ?,
			expiry_date = ?,
			schedule_version = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := q.ExecContext(ctx, query,
		lot.DaysGranted.String(), lot.DaysRemaining.String(),
		lot.ExpiryDate.String(),
		lot.ScheduleVersion,
		lot.UpdatedAt.Format(time.RFC3339),
		string(lot.ID), lot.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the lot vanished or someone got there first.
		var exists int
		if err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM grant_lots WHERE id = ?", string(lot.ID),
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrLotNotFound
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *Store) UpdateLot(ctx context.Context, lot ledger.GrantLot) error {
	return updateLot(ctx, s.db, lot)
}

func (s *Store) GetLot(ctx context.Context, id ledger.LotID) (*ledger.GrantLot, error) {
	return getLot(ctx, s.db, id)
}

func getLot(ctx context.Context, q querier, id ledger.LotID) (*ledger.GrantLot, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+lotColumns+" FROM grant_lots WHERE id = ?", string(id),
	)

	lot, err := scanLot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLotNotFound
	}
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func lotByGrantDate(ctx context.Context, q querier, employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+lotColumns+" FROM grant_lots WHERE employee_id = ? AND grant_date = ?",
		string(employeeID), grantDate.String(),
	)

	lot, err := scanLot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLotNotFound
	}
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func (s *Store) LotByGrantDate(ctx context.Context, employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	return lotByGrantDate(ctx, s.db, employeeID, grantDate)
}

func lotsByEmployee(ctx context.Context, q querier, employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+lotColumns+" FROM grant_lots WHERE employee_id = ? ORDER BY grant_date ASC, id ASC",
		string(employeeID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []ledger.GrantLot
	for rows.Next() {
		lot, err := scanLot(rows.Scan)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

func (s *Store) LotsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	return lotsByEmployee(ctx, s.db, employeeID)
}

func scanLot(scan func(...any) error) (*ledger.GrantLot, error) {
	var (
		lot                        ledger.GrantLot
		id, employeeID             string
		grantDate, expiryDate      string
		daysGranted, daysRemaining string
		createdAt, updatedAt       string
	)
	if err := scan(&id, &employeeID, &grantDate, &daysGranted, &daysRemaining,
		&expiryDate, &lot.ScheduleVersion, &lot.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	lot.ID = ledger.LotID(id)
	lot.EmployeeID = ledger.EmployeeID(employeeID)

	var err error
	if lot.GrantDate, err = ledger.ParseDate(grantDate); err != nil {
		return nil, fmt.Errorf("lot %s: bad grant date: %w", id, err)
	}
	if lot.ExpiryDate, err = ledger.ParseDate(expiryDate); err != nil {
		return nil, fmt.Errorf("lot %s: bad expiry date: %w", id, err)
	}
	if lot.DaysGranted, err = decimal.NewFromString(daysGranted); err != nil {
		return nil, fmt.Errorf("lot %s: bad days granted: %w", id, err)
	}
	if lot.DaysRemaining, err = decimal.NewFromString(daysRemaining); err != nil {
		return nil, fmt.Errorf("lot %s: bad days remaining: %w", id, err)
	}
	lot.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	lot.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &lot, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, employee_id, start_date, end_date, unit, hours, hours_per_day,
	status, total_days, breakdown_json, reason, decided_by, decided_at, created_at, updated_at`

func insertRequest(ctx context.Context, q querier, r ledger.Request) error {
	query := `
		INSERT INTO leave_requests
		(id, employee_id, start_date, end_date, unit, hours, hours_per_day,
		 status, total_days, breakdown_json, reason, decided_by, decided_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args, err := requestArgs(r)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *Store) InsertRequest(ctx context.Context, r ledger.Request) error {
	return insertRequest(ctx, s.db, r)
}

func updateRequest(ctx context.Context, q querier, r ledger.Request) error {
	query := `
		UPDATE leave_requests SET
			status = ?,
			total_days = ?,
			breakdown_json = ?,
			decided_by = ?,
			decided_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	var totalDays, decidedAt, breakdownJSON any
	if r.TotalDays != nil {
		totalDays = r.TotalDays.String()
	}
	if r.DecidedAt != nil {
		decidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	if len(r.Breakdown) > 0 {
		b, err := json.Marshal(r.Breakdown)
		if err != nil {
			return err
		}
		breakdownJSON = string(b)
	}

	res, err := q.ExecContext(ctx, query,
		string(r.Status), totalDays, breakdownJSON,
		r.DecidedBy, decidedAt,
		r.UpdatedAt.Format(time.RFC3339),
		string(r.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrRequestNotFound
	}
	return nil
}

func (s *Store) UpdateRequest(ctx context.Context, r ledger.Request) error {
	return updateRequest(ctx, s.db, r)
}

func getRequest(ctx context.Context, q querier, id ledger.RequestID) (*ledger.Request, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", string(id),
	)

	r, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(ctx, s.db, id)
}

func requestsByEmployee(ctx context.Context, q querier, employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	return queryRequests(ctx, q,
		"SELECT "+requestColumns+" FROM leave_requests WHERE employee_id = ? ORDER BY created_at ASC",
		string(employeeID),
	)
}

func (s *Store) RequestsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	return requestsByEmployee(ctx, s.db, employeeID)
}

func pendingRequests(ctx context.Context, q querier) ([]ledger.Request, error) {
	return queryRequests(ctx, q,
		"SELECT "+requestColumns+" FROM leave_requests WHERE status = ? ORDER BY created_at ASC",
		string(ledger.StatusPending),
	)
}

func (s *Store) PendingRequests(ctx context.Context) ([]ledger.Request, error) {
	return pendingRequests(ctx, s.db)
}

func queryRequests(ctx context.Context, q querier, query string, args ...any) ([]ledger.Request, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []ledger.Request
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func requestArgs(r ledger.Request) ([]any, error) {
	var totalDays, decidedAt, breakdownJSON any
	if r.TotalDays != nil {
		totalDays = r.TotalDays.String()
	}
	if r.DecidedAt != nil {
		decidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	if len(r.Breakdown) > 0 {
		b, err := json.Marshal(r.Breakdown)
		if err != nil {
			return nil, err
		}
		breakdownJSON = string(b)
	}

	return []any{
		string(r.ID), string(r.EmployeeID),
		r.StartDate.String(), r.EndDate.String(),
		string(r.Unit),
		r.Hours.String(), r.HoursPerDay.String(),
		string(r.Status),
		totalDays, breakdownJSON,
		r.Reason, r.DecidedBy, decidedAt,
		r.CreatedAt.Format(time.RFC3339),
		r.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func scanRequest(scan func(...any) error) (*ledger.Request, error) {
	var (
		r                        ledger.Request
		id, employeeID           string
		startDate, endDate       string
		unit, status             string
		hours, hoursPerDay       string
		totalDays, breakdownJSON sql.NullString
		reason, decidedBy        sql.NullString
		decidedAt                sql.NullString
		createdAt, updatedAt     string
	)
	if err := scan(&id, &employeeID, &startDate, &endDate, &unit, &hours, &hoursPerDay,
		&status, &totalDays, &breakdownJSON, &reason, &decidedBy, &decidedAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.ID = ledger.RequestID(id)
	r.EmployeeID = ledger.EmployeeID(employeeID)
	r.Unit = ledger.Unit(unit)
	r.Status = ledger.RequestStatus(status)
	r.Reason = reason.String
	r.DecidedBy = decidedBy.String

	var err error
	if r.StartDate, err = ledger.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("request %s: bad start date: %w", id, err)
	}
	if r.EndDate, err = ledger.ParseDate(endDate); err != nil {
		return nil, fmt.Errorf("request %s: bad end date: %w", id, err)
	}
	if r.Hours, err = decimal.NewFromString(hours); err != nil {
		return nil, fmt.Errorf("request %s: bad hours: %w", id, err)
	}
	if r.HoursPerDay, err = decimal.NewFromString(hoursPerDay); err != nil {
		return nil, fmt.Errorf("request %s: bad hours per day: %w", id, err)
	}
	if totalDays.Valid {
		d, err := decimal.NewFromString(totalDays.String)
		if err != nil {
			return nil, fmt.Errorf("request %s: bad total days: %w", id, err)
		}
		r.TotalDays = &d
	}
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &r.Breakdown); err != nil {
			return nil, fmt.Errorf("request %s: bad breakdown: %w", id, err)
		}
	}
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		r.DecidedAt = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// CONSUMPTIONS (insert-only)
// =============================================================================

func insertConsumptions(ctx context.Context, q querier, cs []ledger.Consumption) error {
	query := `
		INSERT INTO consumptions (id, request_id, lot_id, date, days, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	for _, c := range cs {
		_, err := q.ExecContext(ctx, query,
			c.ID, string(c.RequestID), string(c.LotID),
			c.Date.String(), c.Days.String(),
			c.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert consumption: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertConsumptions(ctx context.Context, cs []ledger.Consumption) error {
	return insertConsumptions(ctx, s.db, cs)
}

func consumptionsByLot(ctx context.Context, q querier, lotID ledger.LotID) ([]ledger.Consumption, error) {
	return queryConsumptions(ctx, q,
		"SELECT id, request_id, lot_id, date, days, created_at FROM consumptions WHERE lot_id = ? ORDER BY date ASC",
		string(lotID),
	)
}

func (s *Store) ConsumptionsByLot(ctx context.Context, lotID ledger.LotID) ([]ledger.Consumption, error) {
	return consumptionsByLot(ctx, s.db, lotID)
}

func consumptionsByEmployee(ctx context.Context, q querier, employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	return queryConsumptions(ctx, q, `
		SELECT c.id, c.request_id, c.lot_id, c.date, c.days, c.created_at
		FROM consumptions c
		JOIN grant_lots l ON l.id = c.lot_id
		WHERE l.employee_id = ?
		ORDER BY c.date ASC`,
		string(employeeID),
	)
}

func (s *Store) ConsumptionsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	return consumptionsByEmployee(ctx, s.db, employeeID)
}

func queryConsumptions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Consumption, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Consumption
	for rows.Next() {
		var (
			c                ledger.Consumption
			requestID, lotID string
			date, days       string
			createdAt        string
		)
		if err := rows.Scan(&c.ID, &requestID, &lotID, &date, &days, &createdAt); err != nil {
			return nil, err
		}
		c.RequestID = ledger.RequestID(requestID)
		c.LotID = ledger.LotID(lotID)
		if c.Date, err = ledger.ParseDate(date); err != nil {
			return nil, fmt.Errorf("consumption %s: bad date: %w", c.ID, err)
		}
		if c.Days, err = decimal.NewFromString(days); err != nil {
			return nil, fmt.Errorf("consumption %s: bad days: %w", c.ID, err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT
// =============================================================================

func appendAudit(ctx context.Context, q querier, entry ledger.AuditEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (id, timestamp, actor_id, action, employee_id, request_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp.Format(time.RFC3339),
		entry.ActorID,
		string(entry.Action),
		string(entry.EmployeeID),
		nullString(string(entry.RequestID)),
		string(payloadJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, s.db, entry)
}

// QueryAudit returns audit entries matching the filter, oldest first.
func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.EmployeeID != nil {
		conds = append(conds, "employee_id = ?")
		args = append(args, string(*filter.EmployeeID))
	}
	if filter.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.Format(time.RFC3339))
	}
	if filter.To != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.To.Format(time.RFC3339))
	}

	query := "SELECT id, timestamp, actor_id, action, employee_id, request_id, payload_json FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e                      ledger.AuditEntry
			timestamp, action      string
			employeeID             string
			requestID, payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.ActorID, &action, &employeeID, &requestID, &payloadJSON); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		e.Action = ledger.AuditAction(action)
		e.EmployeeID = ledger.EmployeeID(employeeID)
		e.RequestID = ledger.RequestID(requestID.String)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s: bad payload: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PER-EMPLOYEE TRANSACTIONS
// =============================================================================

func (s *Store) employeeLock(id ledger.EmployeeID) *sync.Mutex {
	s.empMu.Lock()
	defer s.empMu.Unlock()
	l, ok := s.empLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.empLocks[id] = l
	}
	return l
}

// WithEmployeeTx serializes on the employee's lock, then executes fn
// inside an immediate SQL transaction. On error the transaction is
// rolled back entirely.
func (s *Store) WithEmployeeTx(ctx context.Context, employeeID ledger.EmployeeID, fn func(ledger.Store) error) error {
	empLock := s.employeeLock(employeeID)
	empLock.Lock()
	defer empLock.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveEmployee(ctx context.Context, e ledger.Employee) error {
	return saveEmployee(ctx, ts.tx, e)
}
func (ts *txStore) GetEmployee(ctx context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}
func (ts *txStore) ListEmployees(ctx context.Context) ([]ledger.Employee, error) {
	return listEmployees(ctx, ts.tx)
}
func (ts *txStore) InsertLot(ctx context.Context, lot ledger.GrantLot) error {
	return insertLot(ctx, ts.tx, lot)
}
func (ts *txStore) UpdateLot(ctx context.Context, lot ledger.GrantLot) error {
	return updateLot(ctx, ts.tx, lot)
}
func (ts *txStore) GetLot(ctx context.Context, id ledger.LotID) (*ledger.GrantLot, error) {
	return getLot(ctx, ts.tx, id)
}
func (ts *txStore) LotByGrantDate(ctx context.Context, employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	return lotByGrantDate(ctx, ts.tx, employeeID, grantDate)
}
func (ts *txStore) LotsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	return lotsByEmployee(ctx, ts.tx, employeeID)
}
func (ts *txStore) InsertRequest(ctx context.Context, r ledger.Request) error {
	return insertRequest(ctx, ts.tx, r)
}
func (ts *txStore) UpdateRequest(ctx context.Context, r ledger.Request) error {
	return updateRequest(ctx, ts.tx, r)
}
func (ts *txStore) GetRequest(ctx context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return getRequest(ctx, ts.tx, id)
}
func (ts *txStore) RequestsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	return requestsByEmployee(ctx, ts.tx, employeeID)
}
func (ts *txStore) PendingRequests(ctx context.Context) ([]ledger.Request, error) {
	return pendingRequests(ctx, ts.tx)
}
func (ts *txStore) InsertConsumptions(ctx context.Context, cs []ledger.Consumption) error {
	return insertConsumptions(ctx, ts.tx, cs)
}
func (ts *txStore) ConsumptionsByLot(ctx context.Context, lotID ledger.LotID) ([]ledger.Consumption, error) {
	return consumptionsByLot(ctx, ts.tx, lotID)
}
func (ts *txStore) ConsumptionsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	return consumptionsByEmployee(ctx, ts.tx, employeeID)
}
func (ts *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"consumptions", "audit_log", "leave_requests", "grant_lots", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
