package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler audits "CurrentStock == sum of StockHistory" per item.
//
// Without a storage transaction the mutator swaps the counter before it
// writes the history row, so a snapshot can land between the two. A drift
// is only reported once it has been seen at the same item version twice,
// or on every one of ConfirmAttempts reads.
type Reconciler struct {
	Store  Store
	Events EventSink
	Clock  func() time.Time
	Log    logrus.FieldLogger

	ConfirmAttempts int
	ConfirmDelay    time.Duration
}

func NewReconciler(store Store, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		Store:           store,
		Events:          NopSink,
		Clock:           time.Now,
		Log:             log,
		ConfirmAttempts: 3,
		ConfirmDelay:    5 * time.Millisecond,
	}
}

// Check returns the drift of one item, or nil when it is consistent.
func (r *Reconciler) Check(ctx context.Context, id ItemID) (*StockDrift, error) {
	attempts := r.ConfirmAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last *StockDrift
	lastVersion := int64(-1)
	for i := 0; i < attempts; i++ {
		if i > 0 && r.ConfirmDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.ConfirmDelay):
			}
		}
		item, sum, err := r.Store.StockSnapshot(ctx, id)
		if err != nil {
			return nil, Storage("stock snapshot", err, true)
		}
		if sum.Equal(item.CurrentStock) {
			return nil, nil
		}
		d := &StockDrift{
			ItemID:       item.ID,
			ItemCode:     item.Code,
			CurrentStock: item.CurrentStock,
			HistorySum:   sum,
			Difference:   item.CurrentStock.Sub(sum),
		}
		if last != nil && item.Version == lastVersion && d.Difference.Equal(last.Difference) {
			return d, nil
		}
		last, lastVersion = d, item.Version
	}
	return last, nil
}

// CheckAll audits every item and records the run. The run is saved even
// when the audit itself fails part-way.
func (r *Reconciler) CheckAll(ctx context.Context) (*ReconciliationRun, error) {
	run := &ReconciliationRun{StartedAt: r.now()}
	auditErr := r.audit(ctx, run)
	if auditErr != nil {
		run.Error = auditErr.Error()
	}
	run.CompletedAt = r.now()

	if err := r.Store.SaveReconciliationRun(context.WithoutCancel(ctx), run); err != nil {
		return run, Storage("save reconciliation run", err, true)
	}

	entry := r.log().WithFields(logrus.Fields{
		"module":        "inventory",
		"funcName":      "Reconciler.CheckAll",
		"items_checked": run.ItemsChecked,
		"drifts":        len(run.Drifts),
	})
	if len(run.Drifts) > 0 {
		entry.Warn("stock drift detected")
	} else {
		entry.Info("stock reconciliation clean")
	}
	return run, auditErr
}

func (r *Reconciler) audit(ctx context.Context, run *ReconciliationRun) error {
	items, err := r.Store.ListItems(ctx)
	if err != nil {
		return Storage("list items", err, true)
	}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := r.Check(ctx, items[i].ID)
		if err != nil {
			return fmt.Errorf("item %d: %w", items[i].ID, err)
		}
		run.ItemsChecked++
		if d == nil {
			continue
		}
		run.Drifts = append(run.Drifts, *d)
		if r.Events != nil {
			r.Events.Publish(ctx, newEvent(EventStockDrift, strconv.FormatInt(int64(d.ItemID), 10), *d, r.now()))
		}
	}
	return nil
}

// Runs returns the most recent reconciliation runs, newest first.
func (r *Reconciler) Runs(ctx context.Context, limit int) ([]ReconciliationRun, error) {
	runs, err := r.Store.ListReconciliationRuns(ctx, clampLimit(limit))
	if err != nil {
		return nil, Storage("list reconciliation runs", err, true)
	}
	return runs, nil
}

func (r *Reconciler) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock().UTC()
}

func (r *Reconciler) log() logrus.FieldLogger {
	if r.Log == nil {
		return discardLogger()
	}
	return r.Log
}
