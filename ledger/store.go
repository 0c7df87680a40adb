/*
store.go - Persistence interface for the grant ledger

PURPOSE:
  Defines the interface between ledger logic and the database. Every
  component takes a Store explicitly; nothing reaches a process-wide
  client. This also makes the locking discipline testable against the
  in-memory fake (ledger/store).

MUTATION DISCIPLINE:
  - Consumption rows and audit entries are INSERT-ONLY. No update or
    delete methods exist for them.
  - Lot balance updates carry the lot Version they read; a stale version
    fails with ErrConcurrentModification.
  - Every ledger mutation for an employee runs inside WithEmployeeTx,
    which serializes writers per employee: two concurrent approvals can
    never both observe the same pre-decrement balance for a shared lot.
    Approvals for different employees proceed in parallel.

IMPLEMENTATIONS:
  - store/sqlite: production store (BEGIN IMMEDIATE + per-employee lock)
  - ledger/store: in-memory fake for tests (snapshot + rollback)

SEE ALSO:
  - approval.go: The transaction that needs all of this
  - grants.go: Upsert path for lot generation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Ledger persistence
// =============================================================================

type Store interface {
	// Employees (external collaborator records; the generator needs
	// hire date and pattern).
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	// Grant lots. InsertLot fails with ErrDuplicateLot on an existing
	// (employee, grant date); UpdateLot fails with
	// ErrConcurrentModification unless the carried Version matches.
	InsertLot(ctx context.Context, lot GrantLot) error
	UpdateLot(ctx context.Context, lot GrantLot) error
	GetLot(ctx context.Context, id LotID) (*GrantLot, error)
	LotByGrantDate(ctx context.Context, employeeID EmployeeID, grantDate Date) (*GrantLot, error)
	LotsByEmployee(ctx context.Context, employeeID EmployeeID) ([]GrantLot, error)

	// Requests.
	InsertRequest(ctx context.Context, r Request) error
	UpdateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	RequestsByEmployee(ctx context.Context, employeeID EmployeeID) ([]Request, error)
	PendingRequests(ctx context.Context) ([]Request, error)

	// Consumptions. Insert-only.
	InsertConsumptions(ctx context.Context, cs []Consumption) error
	ConsumptionsByLot(ctx context.Context, lotID LotID) ([]Consumption, error)
	ConsumptionsByEmployee(ctx context.Context, employeeID EmployeeID) ([]Consumption, error)

	// Audit log. Append-only; written inside the same transaction as the
	// ledger mutation it describes.
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// TRANSACTIONAL STORE - Per-employee serialization
// =============================================================================

// TxStore extends Store with per-employee transactions.
type TxStore interface {
	Store

	// WithEmployeeTx executes fn within a transaction that serializes
	// with every other ledger mutation for the same employee. If fn
	// returns an error the transaction is rolled back entirely.
	WithEmployeeTx(ctx context.Context, employeeID EmployeeID, fn func(Store) error) error
}

// =============================================================================
// AUDIT QUERIES - Read side, outside the mutation path
// =============================================================================

type AuditFilter struct {
	EmployeeID *EmployeeID
	ActorID    *string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
	Limit      int
}

// AuditReader is implemented by stores that support audit queries.
type AuditReader interface {
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
