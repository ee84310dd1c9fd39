// Package store provides in-memory payroll.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[payroll.RecordID]payroll.PayrollRecord
	audit   []payroll.AuditEntry
	seq     int64
}

func NewMemory() *Memory {
	return &Memory{records: make(map[payroll.RecordID]payroll.PayrollRecord)}
}

func (m *Memory) SaveRecord(_ context.Context, rec payroll.PayrollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(rec)
}

func (m *Memory) GetRecord(_ context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) FinalizedFor(_ context.Context, key payroll.RecordKey) (*payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finalizedLocked(key), nil
}

func (m *Memory) MarkSuperseded(_ context.Context, id, by payroll.RecordID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supersedeLocked(id, by, at)
}

func (m *Memory) ListRecords(_ context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) SetJournalRef(_ context.Context, id payroll.RecordID, ref string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.journalLocked(id, ref, at)
}

func (m *Memory) AppendAudit(_ context.Context, entry payroll.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) ListAudit(_ context.Context, filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, total := m.listAuditLocked(filter, offset, limit)
	return page, total, nil
}

func (m *Memory) GetAudit(_ context.Context, id string) (payroll.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAuditLocked(id)
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (m *Memory) saveLocked(rec payroll.PayrollRecord) error {
	if rec.ID == "" {
		return &payroll.InputError{Field: "id", Reason: "required"}
	}
	if existing, ok := m.records[rec.ID]; ok && !existing.Status.Mutable() {
		return &payroll.StateError{RecordID: rec.ID, Status: existing.Status, Op: "save"}
	}
	if rec.Status == payroll.StatusFinalized {
		if cur := m.finalizedLocked(rec.Key()); cur != nil && cur.ID != rec.ID {
			return fmt.Errorf("%w: %s already finalized as %s", payroll.ErrConcurrentFinalization, rec.Key(), cur.ID)
		}
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) getLocked(id payroll.RecordID) (payroll.PayrollRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return payroll.PayrollRecord{}, fmt.Errorf("%w: record %s", payroll.ErrRecordNotFound, id)
	}
	return rec, nil
}

func (m *Memory) finalizedLocked(key payroll.RecordKey) *payroll.PayrollRecord {
	for _, rec := range m.records {
		if rec.Status == payroll.StatusFinalized && rec.Key() == key {
			out := rec
			return &out
		}
	}
	return nil
}

func (m *Memory) supersedeLocked(id, by payroll.RecordID, at time.Time) error {
	rec, err := m.getLocked(id)
	if err != nil {
		return err
	}
	if rec.Status != payroll.StatusFinalized {
		return fmt.Errorf("%w: record %s is %s", payroll.ErrConcurrentFinalization, id, rec.Status)
	}
	rec.Status = payroll.StatusSuperseded
	rec.SupersededBy = by
	rec.SupersededAt = &at
	m.records[id] = rec
	return nil
}

func (m *Memory) listLocked(filter payroll.RecordFilter) []payroll.PayrollRecord {
	var out []payroll.PayrollRecord
	for _, rec := range m.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		return a.ID < b.ID
	})
	return out
}

func (m *Memory) journalLocked(id payroll.RecordID, ref string, at time.Time) error {
	rec, err := m.getLocked(id)
	if err != nil {
		return err
	}
	if rec.Status != payroll.StatusFinalized && rec.Status != payroll.StatusSuperseded {
		return &payroll.StateError{RecordID: id, Status: rec.Status, Op: "attach journal reference"}
	}
	rec.JournalRef = ref
	rec.SyncedAt = &at
	m.records[id] = rec
	return nil
}

func (m *Memory) appendAuditLocked(entry payroll.AuditEntry) error {
	for _, e := range m.audit {
		if e.ID == entry.ID {
			return fmt.Errorf("audit entry %s already exists", entry.ID)
		}
	}
	m.seq++
	entry.Seq = m.seq
	m.audit = append(m.audit, entry)
	return nil
}

// listAuditLocked walks newest-first; entries are kept in seq order.
func (m *Memory) listAuditLocked(filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int) {
	page := []payroll.AuditEntry{}
	total := 0
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if !filter.Matches(e) {
			continue
		}
		if total >= offset && len(page) < limit {
			page = append(page, e)
		}
		total++
	}
	return page, total
}

func (m *Memory) getAuditLocked(id string) (payroll.AuditEntry, error) {
	for _, e := range m.audit {
		if e.ID == id {
			return e, nil
		}
	}
	return payroll.AuditEntry{}, fmt.Errorf("%w: audit entry %s", payroll.ErrRecordNotFound, id)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn while holding the write lock. Writes go straight to the
// maps and are rolled back from a snapshot if fn fails, so concurrent
// finalizes are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records map[payroll.RecordID]payroll.PayrollRecord
	audit   []payroll.AuditEntry
	seq     int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	records := make(map[payroll.RecordID]payroll.PayrollRecord, len(tm.records))
	for k, v := range tm.records {
		records[k] = v
	}
	return memorySnapshot{
		records: records,
		audit:   append([]payroll.AuditEntry(nil), tm.audit...),
		seq:     tm.seq,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.records = s.records
	tm.audit = s.audit
	tm.seq = s.seq
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so every method goes through the locked helpers.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveRecord(_ context.Context, rec payroll.PayrollRecord) error {
	return tv.parent.saveLocked(rec)
}

func (tv *txMemoryView) GetRecord(_ context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) FinalizedFor(_ context.Context, key payroll.RecordKey) (*payroll.PayrollRecord, error) {
	return tv.parent.finalizedLocked(key), nil
}

func (tv *txMemoryView) MarkSuperseded(_ context.Context, id, by payroll.RecordID, at time.Time) error {
	return tv.parent.supersedeLocked(id, by, at)
}

func (tv *txMemoryView) ListRecords(_ context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) SetJournalRef(_ context.Context, id payroll.RecordID, ref string, at time.Time) error {
	return tv.parent.journalLocked(id, ref, at)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry payroll.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txMemoryView) ListAudit(_ context.Context, filter payroll.AuditFilter, offset, limit int) ([]payroll.AuditEntry, int, error) {
	page, total := tv.parent.listAuditLocked(filter, offset, limit)
	return page, total, nil
}

func (tv *txMemoryView) GetAudit(_ context.Context, id string) (payroll.AuditEntry, error) {
	return tv.parent.getAuditLocked(id)
}
