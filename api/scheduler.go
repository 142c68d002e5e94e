/*
scheduler.go - Scheduled stock reconciliation

PURPOSE:
  Runs Reconciler.CheckAll on a cron schedule so drift between item
  counters and their history is caught even when nobody asks for it.

DESIGN:
  - robfig/cron with the standard 5-field parser
  - Overlapping runs are skipped, panics are recovered and logged
  - Each run gets its own timeout; an empty schedule disables the job

USAGE:
  s := NewAuditScheduler(engine.Reconciler, "0 3 * * *", log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation (manual trigger)
  - inventory/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
)

type AuditScheduler struct {
	Reconciler *inventory.Reconciler
	Schedule   string
	Timeout    time.Duration
	Log        logrus.FieldLogger

	cron *cron.Cron
}

func NewAuditScheduler(rec *inventory.Reconciler, schedule string, log logrus.FieldLogger) *AuditScheduler {
	return &AuditScheduler{
		Reconciler: rec,
		Schedule:   schedule,
		Timeout:    10 * time.Minute,
		Log:        log,
	}
}

// Start registers the audit job and starts the cron loop. It is a no-op
// when Schedule is empty.
func (s *AuditScheduler) Start() error {
	if s.Schedule == "" {
		s.Log.Info("stock audit schedule disabled")
		return nil
	}
	logger := cronLogger{log: s.Log}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := s.cron.AddFunc(s.Schedule, s.run); err != nil {
		return fmt.Errorf("schedule stock audit %q: %w", s.Schedule, err)
	}
	s.cron.Start()
	s.Log.WithField("schedule", s.Schedule).Info("stock audit scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("stock audit scheduler stopped")
}

// RunOnce audits every item now.
func (s *AuditScheduler) RunOnce(ctx context.Context) (*inventory.ReconciliationRun, error) {
	return s.Reconciler.CheckAll(ctx)
}

func (s *AuditScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	run, err := s.RunOnce(ctx)
	if err != nil {
		s.Log.WithError(err).Error("scheduled stock audit failed")
		return
	}
	s.Log.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"items_checked": run.ItemsChecked,
		"drifts":        len(run.Drifts),
	}).Info("scheduled stock audit finished")
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
