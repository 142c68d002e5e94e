// Package store provides Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
//
// Memory is NOT a TxStore: every method is individually atomic
// but there is no multi-call transaction, so units of work run through
// saga compensation. Values are copied in and out; callers never share
// memory with the store.

type Memory struct {
	mu sync.RWMutex

	items    map[inventory.ItemID]inventory.Item
	partners map[inventory.PartnerID]inventory.Partner

	history    []inventory.StockHistory
	historyKey map[string]int // idempotency key -> index in history

	transactions map[inventory.TransactionID]inventory.Transaction
	documents    map[string]inventory.TransactionID

	edges      map[inventory.EdgeID]inventory.BOMEdge
	deductions []inventory.BOMDeductionLog

	operations map[inventory.OperationID]inventory.ProcessOperation
	lots       map[string]inventory.OperationID

	serials map[string]int64
	runs    []inventory.ReconciliationRun

	nextID int64
}

func NewMemory() *Memory {
	return &Memory{
		items:        make(map[inventory.ItemID]inventory.Item),
		partners:     make(map[inventory.PartnerID]inventory.Partner),
		historyKey:   make(map[string]int),
		transactions: make(map[inventory.TransactionID]inventory.Transaction),
		documents:    make(map[string]inventory.TransactionID),
		edges:        make(map[inventory.EdgeID]inventory.BOMEdge),
		operations:   make(map[inventory.OperationID]inventory.ProcessOperation),
		lots:         make(map[string]inventory.OperationID),
		serials:      make(map[string]int64),
	}
}

var _ inventory.Store = (*Memory)(nil)

// id hands out one monotonic sequence shared by all tables. Callers hold mu.
func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// ITEMS / PARTNERS
// =============================================================================

func (m *Memory) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "item", ID: int64(id)}
	}
	return &item, nil
}

func (m *Memory) SaveItem(_ context.Context, item *inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.items {
		if other.Code == item.Code && id != item.ID {
			return &inventory.ValidationError{Field: "item_code", Message: "이미 존재하는 품목 코드입니다: " + item.Code}
		}
	}
	if item.ID == 0 {
		item.ID = inventory.ItemID(m.id())
		m.items[item.ID] = *item
		return nil
	}
	existing, ok := m.items[item.ID]
	if !ok {
		return &inventory.NotFoundError{Kind: "item", ID: int64(item.ID)}
	}
	next := *item
	next.CurrentStock = existing.CurrentStock
	next.Version = existing.Version
	next.CreatedAt = existing.CreatedAt
	m.items[item.ID] = next
	item.CurrentStock = existing.CurrentStock
	item.Version = existing.Version
	return nil
}

func (m *Memory) ListItems(_ context.Context) ([]inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CompareAndSwapStock(_ context.Context, id inventory.ItemID, expectedVersion int64, newStock decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return false, &inventory.NotFoundError{Kind: "item", ID: int64(id)}
	}
	if item.Version != expectedVersion {
		return false, nil
	}
	item.CurrentStock = newStock
	item.Version++
	m.items[id] = item
	return true, nil
}

func (m *Memory) GetPartner(_ context.Context, id inventory.PartnerID) (*inventory.Partner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "partner", ID: int64(id)}
	}
	return &p, nil
}

func (m *Memory) SavePartner(_ context.Context, p *inventory.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = inventory.PartnerID(m.id())
	}
	m.partners[p.ID] = *p
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (m *Memory) AppendHistory(_ context.Context, h *inventory.StockHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.historyKey[h.IdempotencyKey]; dup {
		return errors.New("duplicate history idempotency key")
	}
	h.ID = inventory.HistoryID(m.id())
	m.historyKey[h.IdempotencyKey] = len(m.history)
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) DeleteHistory(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.historyKey[key]
	if !ok {
		return false, nil
	}
	m.history = append(m.history[:idx], m.history[idx+1:]...)
	delete(m.historyKey, key)
	for k, i := range m.historyKey {
		if i > idx {
			m.historyKey[k] = i - 1
		}
	}
	return true, nil
}

// ListHistory returns matching rows newest first.
func (m *Memory) ListHistory(_ context.Context, f inventory.HistoryFilter) ([]inventory.StockHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.StockHistory
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if f.ItemID != 0 && h.ItemID != f.ItemID {
			continue
		}
		if f.TransactionID != 0 && (h.TransactionID == nil || *h.TransactionID != f.TransactionID) {
			continue
		}
		if f.OperationID != 0 && (h.OperationID == nil || *h.OperationID != f.OperationID) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SumHistory(_ context.Context, itemID inventory.ItemID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumHistory(itemID), nil
}

func (m *Memory) StockSnapshot(_ context.Context, itemID inventory.ItemID) (*inventory.Item, decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, decimal.Zero, &inventory.NotFoundError{Kind: "item", ID: int64(itemID)}
	}
	return &item, m.sumHistory(itemID), nil
}

func (m *Memory) sumHistory(itemID inventory.ItemID) decimal.Decimal {
	sum := decimal.Zero
	for _, h := range m.history {
		if h.ItemID == itemID {
			sum = sum.Add(h.QuantityChange)
		}
	}
	return sum
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, t *inventory.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.documents[t.DocumentNumber]; dup {
		return inventory.ErrDuplicateSerial
	}
	t.ID = inventory.TransactionID(m.id())
	m.transactions[t.ID] = *t
	m.documents[t.DocumentNumber] = t.ID
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id inventory.TransactionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return false, nil
	}
	delete(m.transactions, id)
	delete(m.documents, t.DocumentNumber)
	return true, nil
}

func (m *Memory) GetTransaction(_ context.Context, id inventory.TransactionID) (*inventory.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "transaction", ID: int64(id)}
	}
	return &t, nil
}

// filtered returns matching rows in list order. Callers hold mu.
func (m *Memory) filtered(f inventory.TransactionFilter) []inventory.Transaction {
	out := make([]inventory.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.ItemID != 0 && t.ItemID != f.ItemID {
			continue
		}
		if f.DateFrom != nil && t.TransactionDate.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && t.TransactionDate.After(*f.DateTo) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return ledgerKey(out[i]).Less(ledgerKey(out[j]))
	})
	return out
}

func ledgerKey(t inventory.Transaction) inventory.LedgerKey {
	return inventory.LedgerKey{Date: t.TransactionDate, ID: t.ID}
}

func (m *Memory) QueryTransactions(_ context.Context, q inventory.TransactionQuery) ([]inventory.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.filtered(q.TransactionFilter)

	switch {
	case q.After != nil:
		i := sort.Search(len(rows), func(i int) bool { return q.After.Less(ledgerKey(rows[i])) })
		rows = rows[i:]
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[:q.Limit]
		}
	case q.Before != nil:
		i := sort.Search(len(rows), func(i int) bool { return !ledgerKey(rows[i]).Less(*q.Before) })
		rows = rows[:i]
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[len(rows)-q.Limit:]
		}
	default:
		if q.Offset >= len(rows) {
			return []inventory.Transaction{}, nil
		}
		if q.Offset > 0 {
			rows = rows[q.Offset:]
		}
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[:q.Limit]
		}
	}
	return append([]inventory.Transaction(nil), rows...), nil
}

func (m *Memory) CountTransactions(_ context.Context, f inventory.TransactionFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered(f)), nil
}

// =============================================================================
// BOM
// =============================================================================

func (m *Memory) ActiveBOMEdges(_ context.Context, parent inventory.ItemID) ([]inventory.BOMEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.BOMEdge
	for _, e := range m.edges {
		if e.IsActive && e.ParentItemID == parent {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListBOMEdges(_ context.Context, activeOnly bool) ([]inventory.BOMEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.BOMEdge
	for _, e := range m.edges {
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveBOMEdge(_ context.Context, e *inventory.BOMEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = inventory.EdgeID(m.id())
	} else if _, ok := m.edges[e.ID]; !ok {
		return &inventory.NotFoundError{Kind: "bom", ID: int64(e.ID)}
	}
	m.edges[e.ID] = *e
	return nil
}

func (m *Memory) AppendDeductionLog(_ context.Context, l *inventory.BOMDeductionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.id()
	m.deductions = append(m.deductions, *l)
	return nil
}

func (m *Memory) DeleteDeductionLogs(_ context.Context, txID inventory.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.deductions[:0]
	for _, l := range m.deductions {
		if l.TransactionID != txID {
			kept = append(kept, l)
		}
	}
	m.deductions = kept
	return nil
}

func (m *Memory) ListDeductionLogs(_ context.Context, txID inventory.TransactionID) ([]inventory.BOMDeductionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.BOMDeductionLog
	for _, l := range m.deductions {
		if l.TransactionID == txID {
			out = append(out, l)
		}
	}
	return out, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (m *Memory) InsertOperation(_ context.Context, op *inventory.ProcessOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.ID = inventory.OperationID(m.id())
	m.operations[op.ID] = *op
	return nil
}

func (m *Memory) GetOperation(_ context.Context, id inventory.OperationID) (*inventory.ProcessOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "operation", ID: int64(id)}
	}
	return &op, nil
}

func (m *Memory) TransitionOperation(_ context.Context, op *inventory.ProcessOperation, from ...inventory.OperationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.operations[op.ID]
	if !ok {
		return false, &inventory.NotFoundError{Kind: "operation", ID: int64(op.ID)}
	}
	allowed := false
	for _, s := range from {
		if current.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	if op.LotNumber != "" {
		if owner, taken := m.lots[op.LotNumber]; taken && owner != op.ID {
			return false, inventory.ErrDuplicateSerial
		}
		m.lots[op.LotNumber] = op.ID
	}
	m.operations[op.ID] = *op
	return true, nil
}

func (m *Memory) ListOperations(_ context.Context, f inventory.OperationFilter) ([]inventory.ProcessOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.ProcessOperation
	for _, op := range m.operations {
		if f.Status != "" && op.Status != f.Status {
			continue
		}
		if f.OperationType != "" && op.OperationType != f.OperationType {
			continue
		}
		if f.ChainID != "" && op.ChainID != f.ChainID {
			continue
		}
		if f.ItemID != 0 && op.InputItemID != f.ItemID && op.OutputItemID != f.ItemID {
			continue
		}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// =============================================================================
// SERIALS / RECONCILIATION
// =============================================================================

func (m *Memory) IncrementSerial(_ context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serials[scope]++
	return m.serials[scope], nil
}

func (m *Memory) SaveReconciliationRun(_ context.Context, run *inventory.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = m.id()
	cp := *run
	cp.Drifts = append([]inventory.StockDrift(nil), run.Drifts...)
	m.runs = append(m.runs, cp)
	return nil
}

func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]inventory.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.ReconciliationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
