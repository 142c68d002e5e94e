/*
mutator.go - The single writer of Item.CurrentStock

PURPOSE:
  Applies one signed delta to one item and appends exactly one StockHistory
  row for it. Nothing else in the system writes the stock counter.

ALGORITHM (per Apply):
  1. Optional distributed lock on the item (Locker, Redis in production)
  2. Read item (must exist and be active)
  3. Negative deltas are rejected with InsufficientStockError when they
     would drive stock below zero, unless AllowNegative (adjustments)
  4. Compare-and-swap the counter on Item.Version; retry on a lost race
  5. Append the StockHistory row
  6. In saga mode: if 5 fails, undo 4 immediately and surface the error;
     if 5 succeeds, register a reversal gated on the history row

CONCURRENCY:
  Same-item mutators serialise through the version CAS. Different items
  never contend. No in-process state is shared between calls. The item
  lock, when configured, belongs to the enclosing unit and is released
  after it commits or compensates.
*/
package inventory

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Locker serialises work on one key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Mutation is one signed stock delta and the entity that caused it.
type Mutation struct {
	ItemID        ItemID
	Delta         decimal.Decimal
	Movement      MovementType
	AllowNegative bool
	Reason        string
	TransactionID *TransactionID
	OperationID   *OperationID
}

// StockResult reports the counter around one applied mutation.
type StockResult struct {
	Item    Item
	Before  decimal.Decimal
	After   decimal.Decimal
	History StockHistory
}

type Mutator struct {
	Store      Store
	Locker     Locker
	Clock      func() time.Time
	MaxRetries int
	Log        logrus.FieldLogger
}

// NewMutator returns a mutator with sane retry defaults.
func NewMutator(store Store, log logrus.FieldLogger) *Mutator {
	return &Mutator{Store: store, Clock: time.Now, MaxRetries: 8, Log: log}
}

// Bind returns a copy writing through s.
func (m *Mutator) Bind(s Store) *Mutator {
	cp := *m
	cp.Store = s
	return &cp
}

// Mutate applies delta to itemID as its own unit of work and returns the
// new stock.
func (m *Mutator) Mutate(ctx context.Context, itemID ItemID, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := RunUnit(ctx, m.Store, m.log(), func(ctx context.Context, s Store, comp *Compensation) error {
		res, err := m.Bind(s).Apply(ctx, comp, Mutation{
			ItemID:   itemID,
			Delta:    delta,
			Movement: MoveAdjustment,
			Reason:   reason,
		})
		if err != nil {
			return err
		}
		after = res.After
		return nil
	})
	return after, err
}

// Apply performs one mutation inside the caller's unit of work.
func (m *Mutator) Apply(ctx context.Context, comp *Compensation, mu Mutation) (*StockResult, error) {
	if mu.ItemID == 0 {
		return nil, invalid("item_id", "품목 ID는 필수 항목입니다.")
	}

	if err := m.lock(ctx, comp, mu.ItemID); err != nil {
		return nil, err
	}

	retries := m.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		item, err := m.Store.GetItem(ctx, mu.ItemID)
		if err != nil {
			return nil, Storage("get item", err, true)
		}
		if !item.IsActive {
			return nil, invalid("item_id", "비활성화된 품목입니다: "+item.Name)
		}

		before := item.CurrentStock
		after := before.Add(mu.Delta)
		if mu.Delta.IsNegative() && !mu.AllowNegative && after.IsNegative() {
			return nil, &InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Required:  mu.Delta.Abs(),
				Available: before,
			}
		}

		swapped, err := m.Store.CompareAndSwapStock(ctx, item.ID, item.Version, after)
		if err != nil {
			return nil, Storage("update stock", err, true)
		}
		if !swapped {
			m.log().WithFields(logrus.Fields{
				"item_id": item.ID,
				"attempt": attempt + 1,
			}).Debug("stock compare-and-swap lost, retrying")
			continue
		}

		h := StockHistory{
			IdempotencyKey: uuid.NewString(),
			ItemID:         item.ID,
			MovementType:   mu.Movement,
			QuantityChange: mu.Delta,
			StockBefore:    before,
			StockAfter:     after,
			TransactionID:  mu.TransactionID,
			OperationID:    mu.OperationID,
			Reason:         mu.Reason,
			CreatedAt:      m.now(),
		}
		if err := m.Store.AppendHistory(ctx, &h); err != nil {
			if cerr := comp.Now(ctx, "revert stock without history", func(ctx context.Context) error {
				return m.adjustRaw(ctx, item.ID, mu.Delta.Neg())
			}); cerr != nil {
				m.log().WithError(cerr).WithField("item_id", item.ID).Error("stock left without history row")
			}
			return nil, Storage("append history", err, false)
		}

		delta := mu.Delta
		key := h.IdempotencyKey
		comp.Defer("revert stock mutation", func(ctx context.Context) error {
			return m.revert(ctx, comp, key, item.ID, delta)
		})

		item.CurrentStock = after
		item.Version++
		return &StockResult{Item: *item, Before: before, After: after, History: h}, nil
	}

	return nil, Storage("update stock", ErrConcurrentModification, true)
}

// revert undoes one applied mutation. Deleting the history row is the
// idempotency gate: a second call finds no row and does nothing.
func (m *Mutator) revert(ctx context.Context, comp *Compensation, historyKey string, itemID ItemID, delta decimal.Decimal) error {
	deleted, err := m.Store.DeleteHistory(ctx, historyKey)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	if err := m.lock(ctx, comp, itemID); err != nil {
		return err
	}
	return m.adjustRaw(ctx, itemID, delta.Neg())
}

// adjustRaw moves the counter without guards or history. Compensation only.
func (m *Mutator) adjustRaw(ctx context.Context, itemID ItemID, delta decimal.Decimal) error {
	retries := m.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		item, err := m.Store.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		after := item.CurrentStock.Add(delta)
		if after.IsNegative() {
			m.log().WithFields(logrus.Fields{
				"item_id": itemID,
				"stock":   after.String(),
			}).Warn("compensation drove stock negative")
		}
		ok, err := m.Store.CompareAndSwapStock(ctx, itemID, item.Version, after)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrConcurrentModification
}

// lock takes the item lock for the unit behind comp, once per unit.
func (m *Mutator) lock(ctx context.Context, comp *Compensation, id ItemID) error {
	key := itemLockKey(id)
	if m.Locker == nil || comp.Holds(key) {
		return nil
	}
	unlock, err := m.Locker.Lock(ctx, key)
	if err != nil {
		return Storage("lock item", err, true)
	}
	comp.Hold(key, unlock)
	return nil
}

func itemLockKey(id ItemID) string {
	return "inventory:item:" + strconv.FormatInt(int64(id), 10)
}

func (m *Mutator) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock().UTC()
}

func (m *Mutator) log() logrus.FieldLogger {
	if m.Log == nil {
		return discardLogger()
	}
	return m.Log
}
