/*
ledger.go - Transaction Ledger

PURPOSE:
  Records stock-affecting business events. One Record call is one unit of
  work: insert the ledger row, apply its signed delta through the Mutator,
  and for PRODUCTION_IN deduct BOM components. Either all of it commits or
  none of it does.

CRITICAL INVARIANTS:
  1. No committed ledger row without its committed stock mutation
  2. Exactly one primary StockHistory row per ledger row, plus one per
     consumed BOM child for PRODUCTION_IN
  3. Rows are immutable. There is no update path. Corrections are new
     ADJUSTMENT rows

SIGN RULES:
  The API accepts positive magnitudes only. The dispatch table in types.go
  turns them into signed deltas:
    RECEIPT, PRODUCTION_IN          +qty
    SHIPMENT, PRODUCTION_OUT, SCRAP -qty (checked against availability)
    ADJUSTMENT                      +qty or -qty by Direction (may go negative)
    TRANSFER                        0 (warehouse move of the same item)

BATCHES:
  RecordProductionBatch runs several production receipts in one unit, so
  the batch commits or rolls back as a whole.

SEE ALSO:
  - mutator.go: applies the delta
  - bom.go: production receipt component deduction
  - pagination.go: List
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RecordRequest is the input of Ledger.Record. Quantity is a positive
// magnitude regardless of type.
type RecordRequest struct {
	Type            TransactionType
	ItemID          ItemID
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	TaxRate         *decimal.Decimal
	Direction       AdjustmentDirection
	PartnerID       *PartnerID
	WarehouseID     *int64
	ToWarehouseID   *int64
	LotNumber       string
	TransactionDate time.Time
	ReferenceNumber string
	Notes           string
	CreatedBy       string
}

// Validate checks the request shape. It never touches storage.
func (r RecordRequest) Validate() error {
	if !r.Type.Valid() {
		return invalid("transaction_type", fmt.Sprintf("유효하지 않은 거래 유형입니다: %s", r.Type))
	}
	if r.ItemID <= 0 {
		return invalid("item_id", "품목 ID는 필수 항목입니다.")
	}
	if !r.Quantity.IsPositive() {
		return invalid("quantity", "수량은 0보다 커야 합니다.")
	}
	if r.UnitPrice.IsNegative() {
		return invalid("unit_price", "단가는 0 이상이어야 합니다.")
	}
	if r.TaxRate != nil && (r.TaxRate.IsNegative() || r.TaxRate.GreaterThan(decimal.NewFromInt(100))) {
		return invalid("tax_rate", "세율은 0에서 100 사이여야 합니다.")
	}
	if r.Type == TxAdjustment && r.Direction != AdjustIncrease && r.Direction != AdjustDecrease {
		return invalid("direction", "재고조정 방향(INCREASE/DECREASE)을 지정해야 합니다.")
	}
	if r.Type == TxTransfer {
		if r.WarehouseID == nil || r.ToWarehouseID == nil {
			return invalid("warehouse_id", "이동 거래는 출발 창고와 도착 창고가 필요합니다.")
		}
		if *r.WarehouseID == *r.ToWarehouseID {
			return invalid("to_warehouse_id", "출발 창고와 도착 창고가 같을 수 없습니다.")
		}
	}
	return nil
}

// RecordResult is a recorded transaction with every stock move it caused.
type RecordResult struct {
	Transaction Transaction
	Movements   []StockResult
	Deductions  []BOMDeductionLog
}

type Ledger struct {
	Store   Store
	Mutator *Mutator
	BOM     *BOMDeductor
	Serials *SerialGenerator

	// ExternalSerials, when set, issues document numbers outside the
	// unit's storage transaction (e.g. Redis).
	ExternalSerials bool

	Events  EventSink
	Clock   func() time.Time
	Log     logrus.FieldLogger
	TaxRate decimal.Decimal
}

// NewLedger wires a ledger around store with default collaborators.
func NewLedger(store Store, mutator *Mutator, bom *BOMDeductor, serials *SerialGenerator, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		Store:   store,
		Mutator: mutator,
		BOM:     bom,
		Serials: serials,
		Events:  NopSink,
		Clock:   time.Now,
		Log:     log,
		TaxRate: DefaultTaxRate,
	}
}

// Record validates req, persists the ledger row and applies its stock
// effects as one unit of work.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *RecordResult
	err := RunUnit(ctx, l.Store, l.log(), func(ctx context.Context, s Store, comp *Compensation) error {
		var err error
		result, err = l.record(ctx, s, comp, req)
		return err
	})
	if err != nil {
		l.log().WithFields(logrus.Fields{
			"module":   "inventory",
			"funcName": "Ledger.Record",
			"type":     req.Type,
			"item_id":  req.ItemID,
			"quantity": req.Quantity.String(),
		}).WithError(err).Warn("ledger record rejected")
		return nil, err
	}

	l.publish(ctx, result)
	return result, nil
}

// BatchLine is one product of a batch production receipt.
type BatchLine struct {
	ItemID    ItemID
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// BatchProductionRequest registers several PRODUCTION_IN rows that share a
// date, reference and note.
type BatchProductionRequest struct {
	TransactionDate time.Time
	Lines           []BatchLine
	ReferenceNumber string
	Notes           string
	CreatedBy       string
}

// RecordProductionBatch records every line as PRODUCTION_IN, with BOM
// deduction, in one unit of work. One short component rejects the batch.
func (l *Ledger) RecordProductionBatch(ctx context.Context, req BatchProductionRequest) ([]RecordResult, error) {
	if len(req.Lines) == 0 {
		return nil, invalid("items", "생산 품목 목록이 비어 있습니다.")
	}
	reqs := make([]RecordRequest, len(req.Lines))
	for i, line := range req.Lines {
		reqs[i] = RecordRequest{
			Type:            TxProductionIn,
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			TransactionDate: req.TransactionDate,
			ReferenceNumber: req.ReferenceNumber,
			Notes:           req.Notes,
			CreatedBy:       req.CreatedBy,
		}
		if err := reqs[i].Validate(); err != nil {
			var v *ValidationError
			if errors.As(err, &v) {
				return nil, invalid(fmt.Sprintf("items[%d].%s", i, v.Field), v.Message)
			}
			return nil, err
		}
	}

	var results []RecordResult
	err := RunUnit(ctx, l.Store, l.log(), func(ctx context.Context, s Store, comp *Compensation) error {
		results = results[:0]
		for i, r := range reqs {
			res, err := l.record(ctx, s, comp, r)
			if err != nil {
				return fmt.Errorf("items[%d]: %w", i, err)
			}
			results = append(results, *res)
		}
		return nil
	})
	if err != nil {
		l.log().WithFields(logrus.Fields{
			"module":   "inventory",
			"funcName": "Ledger.RecordProductionBatch",
			"lines":    len(reqs),
		}).WithError(err).Warn("production batch rejected")
		return nil, err
	}

	for i := range results {
		l.publish(ctx, &results[i])
	}
	return results, nil
}

// record is the body of one ledger unit: row, primary mutation, and BOM
// deduction for production receipts.
func (l *Ledger) record(ctx context.Context, s Store, comp *Compensation, req RecordRequest) (*RecordResult, error) {
	result := &RecordResult{}

	item, err := s.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, Storage("get item", err, true)
	}
	if !item.IsActive {
		return nil, invalid("item_id", "비활성화된 품목입니다: "+item.Name)
	}
	if req.PartnerID != nil {
		p, err := s.GetPartner(ctx, *req.PartnerID)
		if err != nil {
			return nil, Storage("get partner", err, true)
		}
		if !p.IsActive {
			return nil, invalid("partner_id", "비활성화된 거래처입니다: "+p.Name)
		}
	}

	t := l.buildTransaction(req)
	serials := l.Serials
	if !l.ExternalSerials {
		serials = serials.Bind(s)
	}
	err = serials.WithSerial(ctx, req.Type.DocumentPrefix(), func(doc string) error {
		t.DocumentNumber = doc
		return s.InsertTransaction(ctx, &t)
	})
	if err != nil {
		return nil, Storage("insert transaction", err, false)
	}
	txID := t.ID
	comp.Defer("delete transaction", func(ctx context.Context) error {
		_, err := s.DeleteTransaction(ctx, txID)
		return err
	})

	rule := movementRules[req.Type]
	mutator := l.Mutator.Bind(s)
	moved, err := mutator.Apply(ctx, comp, Mutation{
		ItemID:        item.ID,
		Delta:         t.Quantity,
		Movement:      rule.movement,
		AllowNegative: rule.allowNegative,
		Reason:        fmt.Sprintf("%s %s", req.Type.Label(), t.DocumentNumber),
		TransactionID: &txID,
	})
	if err != nil {
		return nil, err
	}
	result.Movements = append(result.Movements, *moved)

	if req.Type == TxProductionIn && l.BOM != nil {
		ded, err := l.BOM.Bind(s, mutator).Deduct(ctx, comp, txID, item.ID, req.Quantity)
		if err != nil {
			return nil, err
		}
		for _, d := range ded {
			result.Movements = append(result.Movements, d.Movement)
			result.Deductions = append(result.Deductions, d.Log)
		}
	}

	result.Transaction = t
	return result, nil
}

func (l *Ledger) buildTransaction(req RecordRequest) Transaction {
	rate := l.TaxRate
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	totals := ComputeTotals(req.Quantity, req.UnitPrice, rate)

	date := req.TransactionDate
	if date.IsZero() {
		date = l.now()
	}
	return Transaction{
		Type:            req.Type,
		ItemID:          req.ItemID,
		Quantity:        req.Type.SignedDelta(req.Quantity, req.Direction),
		UnitPrice:       req.UnitPrice,
		SupplyAmount:    totals.Supply,
		TaxAmount:       totals.Tax,
		TotalAmount:     totals.Total,
		TransactionDate: truncateDay(date),
		PartnerID:       req.PartnerID,
		WarehouseID:     req.WarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		LotNumber:       req.LotNumber,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		Status:          TxStatusCompleted,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       l.now(),
	}
}

func (l *Ledger) publish(ctx context.Context, r *RecordResult) {
	if l.Events == nil {
		return
	}
	at := l.now()
	key := strconv.FormatInt(int64(r.Transaction.ItemID), 10)
	l.Events.Publish(ctx, newEvent(EventTransactionRecorded, key, r.Transaction, at))
	for _, m := range r.Movements {
		l.Events.Publish(ctx, newEvent(EventStockMoved, strconv.FormatInt(int64(m.Item.ID), 10), m.History, at))
		if m.Item.BelowSafetyStock() {
			l.Events.Publish(ctx, newEvent(EventSafetyStockBreached, strconv.FormatInt(int64(m.Item.ID), 10), m.Item, at))
		}
	}
}

// Get returns one ledger row.
func (l *Ledger) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	t, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, Storage("get transaction", err, true)
	}
	return t, nil
}

// Deductions returns the BOM deduction logs written for a production receipt.
func (l *Ledger) Deductions(ctx context.Context, id TransactionID) ([]BOMDeductionLog, error) {
	logs, err := l.Store.ListDeductionLogs(ctx, id)
	if err != nil {
		return nil, Storage("list deduction logs", err, true)
	}
	return logs, nil
}

func (l *Ledger) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC()
	}
	return l.Clock().UTC()
}

func (l *Ledger) log() logrus.FieldLogger {
	if l.Log == nil {
		return discardLogger()
	}
	return l.Log
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
