/*
Package inventory provides the stock consistency engine.

PURPOSE:
  This package keeps per-item stock counters consistent with an append-only
  ledger. Every stock-affecting business event (receipt, shipment, production,
  transfer, adjustment, scrap) is recorded as a Transaction and applied to the
  item counter through a single Mutator that also writes a StockHistory row.
  Manufacturing process operations consume input stock and produce output
  stock through the same path.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: master record carrying the mutable CurrentStock counter
  - TransactionType: closed set of movement kinds with a dispatch table
  - Transaction: immutable ledger row
  - StockHistory: append-only audit row, one per stock delta
  - BOMEdge / BOMDeductionLog: component consumption on production receipts
  - ProcessOperation: a manufacturing step (coil -> blanked sheet, ...)

DESIGN PRINCIPLES:
  1. Precision: every quantity is a decimal.Decimal
  2. Closed enums: movement kinds are dispatched through movementRules, never
     through free-form strings
  3. Reconstructable: Item.CurrentStock == sum of StockHistory.QuantityChange
  4. Immutability: ledger rows are never edited; corrections are new rows

SEE ALSO:
  - mutator.go: The only writer of Item.CurrentStock
  - ledger.go: Records transactions
  - process.go: Process operation state machine
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID int64
type PartnerID int64
type TransactionID int64
type OperationID int64
type EdgeID int64
type HistoryID int64

// =============================================================================
// ITEM - Master record with the stock counter
// =============================================================================

// Item is owned by master-data CRUD except for CurrentStock and Version,
// which only the Mutator writes.
type Item struct {
	ID           ItemID
	Code         string
	Name         string
	Unit         string
	Spec         string
	CurrentStock decimal.Decimal
	SafetyStock  decimal.Decimal
	IsActive     bool

	// Version is bumped on every stock write and used for compare-and-swap.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BelowSafetyStock reports whether the counter dropped under the safety level.
func (i Item) BelowSafetyStock() bool {
	return i.SafetyStock.IsPositive() && i.CurrentStock.LessThan(i.SafetyStock)
}

// Partner is a trading partner (customer or supplier).
type Partner struct {
	ID       PartnerID
	Code     string
	Name     string
	IsActive bool
}

// =============================================================================
// TRANSACTION TYPES - Dispatch table
// =============================================================================

type TransactionType string

const (
	TxReceipt       TransactionType = "RECEIPT"
	TxShipment      TransactionType = "SHIPMENT"
	TxProductionIn  TransactionType = "PRODUCTION_IN"
	TxProductionOut TransactionType = "PRODUCTION_OUT"
	TxTransfer      TransactionType = "TRANSFER"
	TxAdjustment    TransactionType = "ADJUSTMENT"
	TxScrap         TransactionType = "SCRAP"
)

// MovementType tags StockHistory rows. Ledger movements reuse the
// transaction type names; process operations add their own.
type MovementType string

const (
	MoveReceipt       MovementType = "RECEIPT"
	MoveShipment      MovementType = "SHIPMENT"
	MoveProductionIn  MovementType = "PRODUCTION_IN"
	MoveProductionOut MovementType = "PRODUCTION_OUT"
	MoveTransfer      MovementType = "TRANSFER"
	MoveAdjustment    MovementType = "ADJUSTMENT"
	MoveScrap         MovementType = "SCRAP"
	MoveBOMDeduction  MovementType = "BOM_DEDUCTION"
	MoveProcessInput  MovementType = "PROCESS_INPUT"
	MoveProcessOutput MovementType = "PROCESS_OUTPUT"
)

// AdjustmentDirection selects the sign of an ADJUSTMENT, since the API only
// accepts positive magnitudes.
type AdjustmentDirection string

const (
	AdjustIncrease AdjustmentDirection = "INCREASE"
	AdjustDecrease AdjustmentDirection = "DECREASE"
)

type movementRule struct {
	sign          int64 // +1 adds stock, -1 removes it, 0 leaves the counter
	consuming     bool  // must not drive stock negative
	allowNegative bool  // explicit negative correction permitted
	prefix        string
	label         string
	movement      MovementType
}

var movementRules = map[TransactionType]movementRule{
	TxReceipt:       {sign: 1, prefix: "RCV", label: "입고", movement: MoveReceipt},
	TxShipment:      {sign: -1, consuming: true, prefix: "SHP", label: "출고", movement: MoveShipment},
	TxProductionIn:  {sign: 1, prefix: "PIN", label: "생산입고", movement: MoveProductionIn},
	TxProductionOut: {sign: -1, consuming: true, prefix: "POT", label: "생산출고", movement: MoveProductionOut},
	TxTransfer:      {sign: 0, prefix: "TRF", label: "이동", movement: MoveTransfer},
	TxAdjustment:    {sign: 1, allowNegative: true, prefix: "ADJ", label: "재고조정", movement: MoveAdjustment},
	TxScrap:         {sign: -1, consuming: true, prefix: "SCR", label: "폐기", movement: MoveScrap},
}

// TransactionTypes lists every valid type in a stable order.
func TransactionTypes() []TransactionType {
	return []TransactionType{
		TxReceipt, TxShipment, TxProductionIn, TxProductionOut,
		TxTransfer, TxAdjustment, TxScrap,
	}
}

// Valid reports whether t is one of the closed set of types.
func (t TransactionType) Valid() bool {
	_, ok := movementRules[t]
	return ok
}

// Label returns the Korean display label.
func (t TransactionType) Label() string {
	return movementRules[t].label
}

// DocumentPrefix returns the serial prefix for document numbers.
func (t TransactionType) DocumentPrefix() string {
	return movementRules[t].prefix
}

// Consuming reports whether the type removes stock and must be checked
// against availability.
func (t TransactionType) Consuming() bool {
	return movementRules[t].consuming
}

// SignedDelta converts a positive magnitude into the counter delta for t.
func (t TransactionType) SignedDelta(magnitude decimal.Decimal, dir AdjustmentDirection) decimal.Decimal {
	rule := movementRules[t]
	if t == TxAdjustment && dir == AdjustDecrease {
		return magnitude.Neg()
	}
	return magnitude.Mul(decimal.NewFromInt(rule.sign))
}

// =============================================================================
// TRANSACTION - Immutable ledger row
// =============================================================================

type TransactionStatus string

const (
	TxStatusCompleted TransactionStatus = "COMPLETED"
)

// Transaction is immutable once Record returns it.
type Transaction struct {
	ID              TransactionID
	Type            TransactionType
	ItemID          ItemID
	Quantity        decimal.Decimal // signed
	UnitPrice       decimal.Decimal
	SupplyAmount    decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	DocumentNumber  string
	TransactionDate time.Time // day precision
	PartnerID       *PartnerID
	WarehouseID     *int64
	ToWarehouseID   *int64
	LotNumber       string
	ReferenceNumber string
	Notes           string
	Status          TransactionStatus
	CreatedBy       string
	CreatedAt       time.Time
}

// =============================================================================
// STOCK HISTORY - Append-only audit of every delta
// =============================================================================

type StockHistory struct {
	ID             HistoryID
	IdempotencyKey string
	ItemID         ItemID
	MovementType   MovementType
	QuantityChange decimal.Decimal
	StockBefore    decimal.Decimal
	StockAfter     decimal.Decimal
	TransactionID  *TransactionID
	OperationID    *OperationID
	Reason         string
	CreatedAt      time.Time
}

// HistoryFilter narrows ListHistory. Zero values mean "any".
type HistoryFilter struct {
	ItemID        ItemID
	TransactionID TransactionID
	OperationID   OperationID
	Limit         int
}

// =============================================================================
// BOM
// =============================================================================

// BOMEdge says one unit of Parent consumes QuantityRequired*UsageRate of Child.
type BOMEdge struct {
	ID               EdgeID
	ParentItemID     ItemID
	ChildItemID      ItemID
	QuantityRequired decimal.Decimal
	UsageRate        decimal.Decimal
	IsActive         bool
}

// DeductPer returns the child quantity consumed when producing qty parents.
func (e BOMEdge) DeductPer(qty decimal.Decimal) decimal.Decimal {
	rate := e.UsageRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	return e.QuantityRequired.Mul(qty).Mul(rate)
}

type BOMDeductionLog struct {
	ID               int64
	TransactionID    TransactionID
	ParentItemID     ItemID
	ChildItemID      ItemID
	QuantityRequired decimal.Decimal
	DeductedQuantity decimal.Decimal
	UsageRate        decimal.Decimal
	StockBefore      decimal.Decimal
	StockAfter       decimal.Decimal
	CreatedAt        time.Time
}

// =============================================================================
// PROCESS OPERATION
// =============================================================================

type OperationType string

const (
	OpBlanking OperationType = "BLANKING"
	OpPress    OperationType = "PRESS"
	OpAssembly OperationType = "ASSEMBLY"
)

// LotPrefix returns the lot number prefix for the operation type.
func (t OperationType) LotPrefix() string {
	switch t {
	case OpBlanking:
		return "BLK"
	case OpPress:
		return "PRS"
	case OpAssembly:
		return "ASM"
	default:
		return "OPR"
	}
}

// Label returns the Korean display label.
func (t OperationType) Label() string {
	switch t {
	case OpBlanking:
		return "블랭킹 공정"
	case OpPress:
		return "프레스 공정"
	case OpAssembly:
		return "조립 공정"
	default:
		return string(t) + " 공정"
	}
}

type OperationStatus string

const (
	OpPending    OperationStatus = "PENDING"
	OpInProgress OperationStatus = "IN_PROGRESS"
	OpCompleted  OperationStatus = "COMPLETED"
	OpCancelled  OperationStatus = "CANCELLED"
)

// Label returns the Korean display label.
func (s OperationStatus) Label() string {
	switch s {
	case OpPending:
		return "대기"
	case OpInProgress:
		return "진행중"
	case OpCompleted:
		return "완료"
	case OpCancelled:
		return "취소"
	}
	return string(s)
}

// Terminal reports whether no transition leaves s.
func (s OperationStatus) Terminal() bool {
	return s == OpCompleted || s == OpCancelled
}

type ProcessOperation struct {
	ID             OperationID
	OperationType  OperationType
	InputItemID    ItemID
	OutputItemID   ItemID
	InputQuantity  decimal.Decimal
	OutputQuantity decimal.Decimal
	ScrapQuantity  decimal.Decimal
	Status         OperationStatus
	LotNumber      string           // empty until COMPLETED
	Efficiency     *decimal.Decimal // nil until COMPLETED
	QualityStatus  string
	OperatorID     string
	Notes          string

	// Chain management
	ChainID           string
	ChainSequence     int
	ParentOperationID *OperationID
	ParentLotNumber   string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OperationFilter narrows ListOperations. Zero values mean "any".
type OperationFilter struct {
	Status        OperationStatus
	OperationType OperationType
	ChainID       string
	ItemID        ItemID // matches input or output
	Limit         int
	Offset        int
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// StockDrift is a violation of "CurrentStock == sum of history".
type StockDrift struct {
	ItemID       ItemID
	ItemCode     string
	CurrentStock decimal.Decimal
	HistorySum   decimal.Decimal
	Difference   decimal.Decimal
}

type ReconciliationRun struct {
	ID           int64
	StartedAt    time.Time
	CompletedAt  time.Time
	ItemsChecked int
	Drifts       []StockDrift
	Error        string
}
