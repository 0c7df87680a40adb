/*
Package store provides an in-memory ledger.TxStore for tests and dev.

The fake mirrors the production store's discipline: per-employee
transactions serialize on a per-employee lock, and a failing transaction
restores the pre-transaction snapshot so partial mutations are never
observable. Optimistic lot versioning behaves like the SQL store:
updates must carry the version they read.
*/
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type grantKey struct {
	EmployeeID ledger.EmployeeID
	GrantDate  string
}

type Memory struct {
	mu sync.Mutex

	empMu    sync.Mutex
	empLocks map[ledger.EmployeeID]*sync.Mutex

	employees    map[ledger.EmployeeID]ledger.Employee
	lots         map[ledger.LotID]ledger.GrantLot
	lotByGrant   map[grantKey]ledger.LotID
	requests     map[ledger.RequestID]ledger.Request
	consumptions []ledger.Consumption
	audit        []ledger.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		empLocks:   make(map[ledger.EmployeeID]*sync.Mutex),
		employees:  make(map[ledger.EmployeeID]ledger.Employee),
		lots:       make(map[ledger.LotID]ledger.GrantLot),
		lotByGrant: make(map[grantKey]ledger.LotID),
		requests:   make(map[ledger.RequestID]ledger.Request),
	}
}

var _ ledger.TxStore = (*Memory)(nil)
var _ ledger.AuditReader = (*Memory)(nil)

func (m *Memory) employeeLock(id ledger.EmployeeID) *sync.Mutex {
	m.empMu.Lock()
	defer m.empMu.Unlock()
	l, ok := m.empLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.empLocks[id] = l
	}
	return l
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e ledger.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveEmployeeLocked(e)
}

func (m *Memory) saveEmployeeLocked(e ledger.Employee) error {
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEmployeeLocked(id)
}

func (m *Memory) getEmployeeLocked(id ledger.EmployeeID) (*ledger.Employee, error) {
	e, ok := m.employees[id]
	if !ok {
		return nil, ledger.ErrEmployeeNotFound
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]ledger.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ledger.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// GRANT LOTS
// =============================================================================

func (m *Memory) InsertLot(_ context.Context, lot ledger.GrantLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLotLocked(lot)
}

func (m *Memory) insertLotLocked(lot ledger.GrantLot) error {
	k := grantKey{EmployeeID: lot.EmployeeID, GrantDate: lot.GrantDate.String()}
	if _, exists := m.lotByGrant[k]; exists {
		return ledger.ErrDuplicateLot
	}
	m.lots[lot.ID] = lot
	m.lotByGrant[k] = lot.ID
	return nil
}

func (m *Memory) UpdateLot(_ context.Context, lot ledger.GrantLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLotLocked(lot)
}

func (m *Memory) updateLotLocked(lot ledger.GrantLot) error {
	existing, ok := m.lots[lot.ID]
	if !ok {
		return ledger.ErrLotNotFound
	}
	if existing.Version != lot.Version {
		return ledger.ErrConcurrentModification
	}
	lot.Version++
	m.lots[lot.ID] = lot
	return nil
}

func (m *Memory) GetLot(_ context.Context, id ledger.LotID) (*ledger.GrantLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLotLocked(id)
}

func (m *Memory) getLotLocked(id ledger.LotID) (*ledger.GrantLot, error) {
	lot, ok := m.lots[id]
	if !ok {
		return nil, ledger.ErrLotNotFound
	}
	return &lot, nil
}

func (m *Memory) LotByGrantDate(_ context.Context, employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotByGrantDateLocked(employeeID, grantDate)
}

func (m *Memory) lotByGrantDateLocked(employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	id, ok := m.lotByGrant[grantKey{EmployeeID: employeeID, GrantDate: grantDate.String()}]
	if !ok {
		return nil, ledger.ErrLotNotFound
	}
	return m.getLotLocked(id)
}

func (m *Memory) LotsByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotsByEmployeeLocked(employeeID)
}

func (m *Memory) lotsByEmployeeLocked(employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	var out []ledger.GrantLot
	for _, lot := range m.lots {
		if lot.EmployeeID == employeeID {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantDate.Equal(out[j].GrantDate) {
			return out[i].GrantDate.Before(out[j].GrantDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) InsertRequest(_ context.Context, r ledger.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRequestLocked(r)
}

func (m *Memory) insertRequestLocked(r ledger.Request) error {
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) UpdateRequest(_ context.Context, r ledger.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequestLocked(r)
}

func (m *Memory) updateRequestLocked(r ledger.Request) error {
	if _, ok := m.requests[r.ID]; !ok {
		return ledger.ErrRequestNotFound
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id ledger.RequestID) (*ledger.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRequestLocked(id)
}

func (m *Memory) getRequestLocked(id ledger.RequestID) (*ledger.Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, ledger.ErrRequestNotFound
	}
	return &r, nil
}

func (m *Memory) RequestsByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestsByEmployeeLocked(employeeID)
}

func (m *Memory) requestsByEmployeeLocked(employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	var out []ledger.Request
	for _, r := range m.requests {
		if r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PendingRequests(_ context.Context) ([]ledger.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.Request
	for _, r := range m.requests {
		if r.Status == ledger.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// CONSUMPTIONS (insert-only)
// =============================================================================

func (m *Memory) InsertConsumptions(_ context.Context, cs []ledger.Consumption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertConsumptionsLocked(cs)
}

func (m *Memory) insertConsumptionsLocked(cs []ledger.Consumption) error {
	m.consumptions = append(m.consumptions, cs...)
	return nil
}

func (m *Memory) ConsumptionsByLot(_ context.Context, lotID ledger.LotID) ([]ledger.Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumptionsByLotLocked(lotID)
}

func (m *Memory) consumptionsByLotLocked(lotID ledger.LotID) ([]ledger.Consumption, error) {
	var out []ledger.Consumption
	for _, c := range m.consumptions {
		if c.LotID == lotID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ConsumptionsByEmployee(ctx context.Context, employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumptionsByEmployeeLocked(employeeID)
}

func (m *Memory) consumptionsByEmployeeLocked(employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	lotIDs := make(map[ledger.LotID]bool)
	for _, lot := range m.lots {
		if lot.EmployeeID == employeeID {
			lotIDs[lot.ID] = true
		}
	}
	var out []ledger.Consumption
	for _, c := range m.consumptions {
		if lotIDs[c.LotID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry ledger.AuditEntry) error {
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.AuditEntry
	for _, e := range m.audit {
		if filter.EmployeeID != nil && e.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func containsAction(actions []ledger.AuditAction, a ledger.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// =============================================================================
// PER-EMPLOYEE TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithEmployeeTx serializes on the employee's lock, then runs fn against
// a transactional view. On error the pre-transaction snapshot is
// restored, so a failed transaction leaves no trace.
func (m *Memory) WithEmployeeTx(_ context.Context, employeeID ledger.EmployeeID, fn func(ledger.Store) error) error {
	empLock := m.employeeLock(employeeID)
	empLock.Lock()
	defer empLock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	employees    map[ledger.EmployeeID]ledger.Employee
	lots         map[ledger.LotID]ledger.GrantLot
	lotByGrant   map[grantKey]ledger.LotID
	requests     map[ledger.RequestID]ledger.Request
	consumptions []ledger.Consumption
	audit        []ledger.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		employees:    make(map[ledger.EmployeeID]ledger.Employee, len(m.employees)),
		lots:         make(map[ledger.LotID]ledger.GrantLot, len(m.lots)),
		lotByGrant:   make(map[grantKey]ledger.LotID, len(m.lotByGrant)),
		requests:     make(map[ledger.RequestID]ledger.Request, len(m.requests)),
		consumptions: append([]ledger.Consumption(nil), m.consumptions...),
		audit:        append([]ledger.AuditEntry(nil), m.audit...),
	}
	for k, v := range m.employees {
		s.employees[k] = v
	}
	for k, v := range m.lots {
		s.lots[k] = v
	}
	for k, v := range m.lotByGrant {
		s.lotByGrant[k] = v
	}
	for k, v := range m.requests {
		s.requests[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.employees = s.employees
	m.lots = s.lots
	m.lotByGrant = s.lotByGrant
	m.requests = s.requests
	m.consumptions = s.consumptions
	m.audit = s.audit
}

// txView routes Store calls to the already-locked internals.
type txView struct {
	m *Memory
}

func (tv *txView) SaveEmployee(_ context.Context, e ledger.Employee) error {
	return tv.m.saveEmployeeLocked(e)
}
func (tv *txView) GetEmployee(_ context.Context, id ledger.EmployeeID) (*ledger.Employee, error) {
	return tv.m.getEmployeeLocked(id)
}
func (tv *txView) ListEmployees(_ context.Context) ([]ledger.Employee, error) {
	var out []ledger.Employee
	for _, e := range tv.m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (tv *txView) InsertLot(_ context.Context, lot ledger.GrantLot) error {
	return tv.m.insertLotLocked(lot)
}
func (tv *txView) UpdateLot(_ context.Context, lot ledger.GrantLot) error {
	return tv.m.updateLotLocked(lot)
}
func (tv *txView) GetLot(_ context.Context, id ledger.LotID) (*ledger.GrantLot, error) {
	return tv.m.getLotLocked(id)
}
func (tv *txView) LotByGrantDate(_ context.Context, employeeID ledger.EmployeeID, grantDate ledger.Date) (*ledger.GrantLot, error) {
	return tv.m.lotByGrantDateLocked(employeeID, grantDate)
}
func (tv *txView) LotsByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.GrantLot, error) {
	return tv.m.lotsByEmployeeLocked(employeeID)
}
func (tv *txView) InsertRequest(_ context.Context, r ledger.Request) error {
	return tv.m.insertRequestLocked(r)
}
func (tv *txView) UpdateRequest(_ context.Context, r ledger.Request) error {
	return tv.m.updateRequestLocked(r)
}
func (tv *txView) GetRequest(_ context.Context, id ledger.RequestID) (*ledger.Request, error) {
	return tv.m.getRequestLocked(id)
}
func (tv *txView) RequestsByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.Request, error) {
	return tv.m.requestsByEmployeeLocked(employeeID)
}
func (tv *txView) PendingRequests(_ context.Context) ([]ledger.Request, error) {
	var out []ledger.Request
	for _, r := range tv.m.requests {
		if r.Status == ledger.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
func (tv *txView) InsertConsumptions(_ context.Context, cs []ledger.Consumption) error {
	return tv.m.insertConsumptionsLocked(cs)
}
func (tv *txView) ConsumptionsByLot(_ context.Context, lotID ledger.LotID) ([]ledger.Consumption, error) {
	return tv.m.consumptionsByLotLocked(lotID)
}
func (tv *txView) ConsumptionsByEmployee(_ context.Context, employeeID ledger.EmployeeID) ([]ledger.Consumption, error) {
	return tv.m.consumptionsByEmployeeLocked(employeeID)
}
func (tv *txView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	return tv.m.appendAuditLocked(entry)
}
