/*
unit.go - Unit of work with saga compensation

PURPOSE:
  A ledger record or a process completion touches several rows (transaction,
  item counters, history, deduction logs, operation status). They must apply
  all-or-nothing.

  If the store implements TxStore, the whole unit runs in one storage
  transaction and rollback does the work. Otherwise every write registers a
  compensating step, and on failure the steps run in reverse order.

CANCELLATION:
  Compensations run with context.WithoutCancel. A caller that aborts
  mid-operation must not leave input consumed without output produced.

LOCKS:
  Item locks taken inside a unit are held until the unit has committed, or
  until its compensations have run. A key already held by the unit is not
  locked again.

IDEMPOTENCY:
  Stock reversals are gated on deleting the StockHistory row by its
  idempotency key. Only the call that actually deletes the row applies the
  inverse delta, so re-running a compensation is harmless.
*/
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Compensation collects undo steps for a unit of work. In transactional
// mode it is inert.
type Compensation struct {
	transactional bool
	steps         []compensationStep

	held     map[string]bool
	releases []func()
}

type compensationStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Transactional reports whether the unit runs inside a storage transaction.
func (c *Compensation) Transactional() bool { return c.transactional }

// Defer registers fn to run if the unit fails later.
func (c *Compensation) Defer(name string, fn func(ctx context.Context) error) {
	if c.transactional {
		return
	}
	c.steps = append(c.steps, compensationStep{name: name, fn: fn})
}

// Now runs fn immediately in saga mode. Used when a step fails half-way and
// its own first half must be undone before the error is surfaced.
func (c *Compensation) Now(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if c.transactional {
		return nil
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("compensate %s: %w", name, err)
	}
	return nil
}

// Hold keeps unlock pending until the unit ends.
func (c *Compensation) Hold(key string, unlock func()) {
	if c.held == nil {
		c.held = make(map[string]bool)
	}
	c.held[key] = true
	c.releases = append(c.releases, unlock)
}

// Holds reports whether the unit already holds key.
func (c *Compensation) Holds(key string) bool { return c.held[key] }

func (c *Compensation) release() {
	for i := len(c.releases) - 1; i >= 0; i-- {
		c.releases[i]()
	}
	c.releases = nil
	c.held = nil
}

func (c *Compensation) run(ctx context.Context, log logrus.FieldLogger) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.fn(ctx); err != nil {
			log.WithFields(logrus.Fields{
				"module":   "inventory",
				"funcName": "Compensation.run",
				"step":     step.name,
			}).WithError(err).Error("compensation step failed")
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.name, err))
		}
	}
	c.steps = nil
	return errors.Join(errs...)
}

// RunUnit executes fn as one logical unit of work against s.
func RunUnit(ctx context.Context, s Store, log logrus.FieldLogger, fn func(ctx context.Context, s Store, comp *Compensation) error) error {
	if ts, ok := s.(TxStore); ok {
		comp := &Compensation{transactional: true}
		defer comp.release()
		return ts.WithTx(ctx, func(tx Store) error {
			return fn(ctx, tx, comp)
		})
	}

	comp := &Compensation{}
	defer comp.release()
	err := fn(ctx, s, comp)
	if err == nil {
		return nil
	}
	if cerr := comp.run(ctx, log); cerr != nil {
		// The original error stays first so errors.Is/As classify by it.
		return errors.Join(err, cerr)
	}
	return err
}
