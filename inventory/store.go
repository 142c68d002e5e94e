/*
store.go - Persistence interfaces for the stock engine

PURPOSE:
  Defines the boundary between engine logic and storage. Implementations:
  - inventory/store/memory.go: in-memory, NOT transactional (saga path)
  - store/sqlstore: SQLite/PostgreSQL, transactional (TxStore)
  - store/redisstore: SerialStore only

KEY INTERFACES:
  ItemStore:        item/partner master lookups + stock compare-and-swap
  HistoryStore:     append-only stock history
  LedgerStore:      transaction rows + keyset/offset reads
  BOMStore:         BOM edges and deduction logs
  OperationStore:   process operations with status compare-and-swap
  SerialStore:      atomic increment-and-read counters
  Store:            all of the above
  TxStore:          Store that can run a function in one storage transaction

DELETE METHODS:
  DeleteHistory, DeleteTransaction and DeleteDeductionLogs exist ONLY for
  saga compensation of rows written by a unit of work that then failed.
  Nothing else may call them. Committed rows are never deleted.

SEE ALSO:
  - unit.go: picks transaction vs. compensation based on TxStore
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ItemStore interface {
	// GetItem returns NotFoundError when the item does not exist.
	GetItem(ctx context.Context, id ItemID) (*Item, error)

	// SaveItem inserts (ID == 0) or updates master fields. It never touches
	// CurrentStock or Version of an existing item.
	SaveItem(ctx context.Context, item *Item) error

	ListItems(ctx context.Context) ([]Item, error)

	// CompareAndSwapStock writes newStock and bumps Version only if the
	// stored Version equals expectedVersion. Returns false on a lost race.
	CompareAndSwapStock(ctx context.Context, id ItemID, expectedVersion int64, newStock decimal.Decimal) (bool, error)

	GetPartner(ctx context.Context, id PartnerID) (*Partner, error)
	SavePartner(ctx context.Context, p *Partner) error
}

type HistoryStore interface {
	// AppendHistory assigns h.ID. Duplicate IdempotencyKey is rejected.
	AppendHistory(ctx context.Context, h *StockHistory) error

	// DeleteHistory is compensation-only. Returns false if the row was
	// already gone, which makes compensations idempotent.
	DeleteHistory(ctx context.Context, idempotencyKey string) (bool, error)

	ListHistory(ctx context.Context, f HistoryFilter) ([]StockHistory, error)

	// SumHistory returns the sum of QuantityChange for the item.
	SumHistory(ctx context.Context, itemID ItemID) (decimal.Decimal, error)

	// StockSnapshot reads the item and its history sum in one consistent
	// read. A concurrent writer is seen either entirely or not at all.
	StockSnapshot(ctx context.Context, itemID ItemID) (*Item, decimal.Decimal, error)
}

type LedgerStore interface {
	// InsertTransaction assigns t.ID from a monotonic sequence.
	// Duplicate DocumentNumber returns ErrDuplicateSerial.
	InsertTransaction(ctx context.Context, t *Transaction) error

	// DeleteTransaction is compensation-only.
	DeleteTransaction(ctx context.Context, id TransactionID) (bool, error)

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// QueryTransactions returns rows ordered by (TransactionDate DESC, ID DESC).
	// When q.After/q.Before is set the keyset bound applies; otherwise Offset.
	QueryTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, error)

	CountTransactions(ctx context.Context, f TransactionFilter) (int, error)
}

type BOMStore interface {
	// ActiveBOMEdges returns active edges of parent ordered by edge ID.
	ActiveBOMEdges(ctx context.Context, parent ItemID) ([]BOMEdge, error)
	ListBOMEdges(ctx context.Context, activeOnly bool) ([]BOMEdge, error)
	SaveBOMEdge(ctx context.Context, e *BOMEdge) error

	AppendDeductionLog(ctx context.Context, l *BOMDeductionLog) error
	DeleteDeductionLogs(ctx context.Context, txID TransactionID) error
	ListDeductionLogs(ctx context.Context, txID TransactionID) ([]BOMDeductionLog, error)
}

type OperationStore interface {
	InsertOperation(ctx context.Context, op *ProcessOperation) error
	GetOperation(ctx context.Context, id OperationID) (*ProcessOperation, error)

	// TransitionOperation writes op (status and the fields a transition
	// sets) only if the stored status is one of from. The status check and
	// the write are one atomic step. Returns false when the guard failed.
	TransitionOperation(ctx context.Context, op *ProcessOperation, from ...OperationStatus) (bool, error)

	ListOperations(ctx context.Context, f OperationFilter) ([]ProcessOperation, error)
}

type SerialStore interface {
	// IncrementSerial atomically increments the counter for scope and
	// returns the new value. The first call for a scope returns 1.
	IncrementSerial(ctx context.Context, scope string) (int64, error)
}

type ReconciliationStore interface {
	SaveReconciliationRun(ctx context.Context, run *ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}

// Store is everything the engine needs from one backing database.
type Store interface {
	ItemStore
	HistoryStore
	LedgerStore
	BOMStore
	OperationStore
	SerialStore
	ReconciliationStore
}

// TxStore runs fn inside one storage transaction. If fn returns an error
// the transaction is rolled back, otherwise committed.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// TransactionFilter narrows ledger reads. Zero values mean "any".
type TransactionFilter struct {
	Type     TransactionType
	ItemID   ItemID
	DateFrom *time.Time
	DateTo   *time.Time
}

// LedgerKey is the (TransactionDate, ID) ordering tuple.
type LedgerKey struct {
	Date time.Time
	ID   TransactionID
}

// Less orders keys the way the ledger is listed (newest first), i.e. a is
// "before" b in list order when a is the greater tuple.
func (a LedgerKey) Less(b LedgerKey) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.ID > b.ID
}

// TransactionQuery is a filtered page request against the ledger.
//
// After returns rows strictly after the key in list order (older rows).
// Before returns the Limit rows nearest to and strictly before the key in
// list order (newer rows), still returned in list order.
type TransactionQuery struct {
	TransactionFilter
	After  *LedgerKey
	Before *LedgerKey
	Offset int
	Limit  int
}
