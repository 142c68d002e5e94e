/*
engine.go - Component wiring

PURPOSE:
  Builds the engine components around one Store and hands them out to the
  transport layer. Every collaborator (store, serial counters, locker, event
  sink, logger, clock) is injected; nothing is package-global.

COMPONENTS:
  Mutator      single writer of Item.CurrentStock
  Ledger       records transactions (+ BOM deduction)
  BOM          edges, preview, cycle guard
  Process      process-operation state machine
  Reconciler   stock-vs-history audit

MASTER DATA:
  Items and partners are owned by master-data CRUD. The engine exposes the
  minimum needed to seed and look them up: create/update without ever
  touching CurrentStock of an existing item.
*/
package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Options configures New. Store is required.
type Options struct {
	Store Store

	// SerialStore overrides where document and lot counters live. When nil
	// the Store's own counters are used inside each unit of work.
	SerialStore SerialStore

	Locker Locker
	Events EventSink
	Log    logrus.FieldLogger
	Clock  func() time.Time

	TaxRate        *decimal.Decimal
	Yields         map[OperationType]decimal.Decimal
	AllowSkipStart bool
	MaxRetries     int
}

type Engine struct {
	Store      Store
	Mutator    *Mutator
	Ledger     *Ledger
	BOM        *BOMDeductor
	Process    *ProcessMachine
	Serials    *SerialGenerator
	Reconciler *Reconciler

	log   logrus.FieldLogger
	clock func() time.Time
}

// New wires an engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, invalid("store", "저장소가 설정되지 않았습니다.")
	}
	log := opts.Log
	if log == nil {
		log = discardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	events := opts.Events
	if events == nil {
		events = NopSink
	}

	external := opts.SerialStore != nil
	serialStore := opts.SerialStore
	if !external {
		serialStore = opts.Store
	}
	serials := NewSerialGenerator(serialStore)
	serials.Clock = clock

	mutator := NewMutator(opts.Store, log.WithField("component", "mutator"))
	mutator.Locker = opts.Locker
	mutator.Clock = clock
	if opts.MaxRetries > 0 {
		mutator.MaxRetries = opts.MaxRetries
	}

	bom := NewBOMDeductor(opts.Store, mutator, log.WithField("component", "bom"))
	bom.Clock = clock

	ledger := NewLedger(opts.Store, mutator, bom, serials, log.WithField("component", "ledger"))
	ledger.ExternalSerials = external
	ledger.Events = events
	ledger.Clock = clock
	if opts.TaxRate != nil {
		ledger.TaxRate = *opts.TaxRate
	}

	process := NewProcessMachine(opts.Store, mutator, serials, log.WithField("component", "process"))
	process.ExternalSerials = external
	process.Yields = opts.Yields
	process.AllowSkipStart = opts.AllowSkipStart
	process.Events = events
	process.Clock = clock

	rec := NewReconciler(opts.Store, log.WithField("component", "reconciler"))
	rec.Events = events
	rec.Clock = clock

	return &Engine{
		Store:      opts.Store,
		Mutator:    mutator,
		Ledger:     ledger,
		BOM:        bom,
		Process:    process,
		Serials:    serials,
		Reconciler: rec,
		log:        log,
		clock:      clock,
	}, nil
}

// =============================================================================
// MASTER DATA
// =============================================================================

// CreateItem inserts a new item with zero stock. Opening balances are
// recorded as RECEIPT or ADJUSTMENT so the history stays complete.
func (e *Engine) CreateItem(ctx context.Context, item *Item) error {
	item.Code = strings.TrimSpace(item.Code)
	item.Name = strings.TrimSpace(item.Name)
	if item.Code == "" {
		return invalid("item_code", "품목 코드는 필수 항목입니다.")
	}
	if item.Name == "" {
		return invalid("item_name", "품목명은 필수 항목입니다.")
	}
	if item.SafetyStock.IsNegative() {
		return invalid("safety_stock", "안전재고는 0 이상이어야 합니다.")
	}
	now := e.clock().UTC()
	item.ID = 0
	item.CurrentStock = decimal.Zero
	item.Version = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := e.Store.SaveItem(ctx, item); err != nil {
		return Storage("save item", err, false)
	}
	return nil
}

// SetItemActive toggles an item. Items are never deleted.
func (e *Engine) SetItemActive(ctx context.Context, id ItemID, active bool) (*Item, error) {
	item, err := e.Store.GetItem(ctx, id)
	if err != nil {
		return nil, Storage("get item", err, true)
	}
	item.IsActive = active
	item.UpdatedAt = e.clock().UTC()
	if err := e.Store.SaveItem(ctx, item); err != nil {
		return nil, Storage("save item", err, false)
	}
	return item, nil
}

func (e *Engine) GetItem(ctx context.Context, id ItemID) (*Item, error) {
	item, err := e.Store.GetItem(ctx, id)
	if err != nil {
		return nil, Storage("get item", err, true)
	}
	return item, nil
}

func (e *Engine) ListItems(ctx context.Context) ([]Item, error) {
	items, err := e.Store.ListItems(ctx)
	if err != nil {
		return nil, Storage("list items", err, true)
	}
	return items, nil
}

// History returns the newest stock history rows of an item.
func (e *Engine) History(ctx context.Context, id ItemID, limit int) ([]StockHistory, error) {
	if _, err := e.Store.GetItem(ctx, id); err != nil {
		return nil, Storage("get item", err, true)
	}
	rows, err := e.Store.ListHistory(ctx, HistoryFilter{ItemID: id, Limit: clampLimit(limit)})
	if err != nil {
		return nil, Storage("list history", err, true)
	}
	return rows, nil
}

// CreatePartner inserts a trading partner.
func (e *Engine) CreatePartner(ctx context.Context, p *Partner) error {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" {
		return invalid("partner_code", "거래처 코드는 필수 항목입니다.")
	}
	if p.Name == "" {
		return invalid("partner_name", "거래처명은 필수 항목입니다.")
	}
	p.ID = 0
	if err := e.Store.SavePartner(ctx, p); err != nil {
		return Storage("save partner", err, false)
	}
	return nil
}
