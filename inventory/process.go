/*
process.go - Process-chain state machine

PURPOSE:
  Drives manufacturing operations (coil -> blanked sheet -> pressed part ->
  assembly) through PENDING -> IN_PROGRESS -> COMPLETED, with CANCELLED
  reachable from either non-terminal state.

TRANSITIONS:
  PENDING      -> IN_PROGRESS, CANCELLED, COMPLETED (only with AllowSkipStart)
  IN_PROGRESS  -> COMPLETED, CANCELLED
  COMPLETED    -> (none)
  CANCELLED    -> (none)

COMPLETION (one unit of work):
  a. consume InputQuantity of the input item
  b. produce OutputQuantity of the output item
  c. mint a lot number PREFIX-YYYYMMDD-NNN
  d. efficiency = output / (input x yield ratio) x 100, 2 decimals
  e. compare-and-swap status to COMPLETED with lot, efficiency, completed_at
  f. both history rows carry the operation ID (done by a and b)

  If b fails, a is reversed and the status stays where it was. If e loses
  to a concurrent completion, a and b are reversed and the caller gets
  InvalidTransitionError. The status swap is the exactly-once gate.

CHAINS:
  Operations sharing a ChainID form a chain ordered by ChainSequence. A
  child (ParentOperationID set) inherits ParentLotNumber from its parent
  once the parent is completed.
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// errLostRace aborts a unit whose status swap found the operation moved on.
var errLostRace = errors.New("operation status changed concurrently")

// LotWidth is the digit count of the lot sequence.
const LotWidth = 3

type ProcessMachine struct {
	Store   Store
	Mutator *Mutator
	Lots    *SerialGenerator

	// ExternalSerials, when set, mints lots outside the unit's transaction.
	ExternalSerials bool

	// Yields maps an operation type to its theoretical output per input.
	// Missing types use 1.
	Yields map[OperationType]decimal.Decimal

	// AllowSkipStart permits PENDING -> COMPLETED.
	AllowSkipStart bool

	Events EventSink
	Clock  func() time.Time
	Log    logrus.FieldLogger
}

// NewProcessMachine builds a machine whose lot numbers come from serials
// with LotWidth digits.
func NewProcessMachine(store Store, mutator *Mutator, serials *SerialGenerator, log logrus.FieldLogger) *ProcessMachine {
	lots := *serials
	lots.Width = LotWidth
	return &ProcessMachine{
		Store:   store,
		Mutator: mutator,
		Lots:    &lots,
		Events:  NopSink,
		Clock:   time.Now,
		Log:     log,
	}
}

// YieldRatio returns the theoretical output per unit of input for t.
func (pm *ProcessMachine) YieldRatio(t OperationType) decimal.Decimal {
	if r, ok := pm.Yields[t]; ok && r.IsPositive() {
		return r
	}
	return decimal.NewFromInt(1)
}

// Efficiency is output / (input x ratio) x 100 rounded to 2 decimals.
func Efficiency(input, output, ratio decimal.Decimal) decimal.Decimal {
	theoretical := input.Mul(ratio)
	if !theoretical.IsPositive() {
		return decimal.Zero
	}
	return output.Div(theoretical).Mul(decimal.NewFromInt(100)).Round(2)
}

// =============================================================================
// CREATE
// =============================================================================

type CreateOperationRequest struct {
	OperationType     OperationType
	InputItemID       ItemID
	OutputItemID      ItemID
	InputQuantity     decimal.Decimal
	OutputQuantity    decimal.Decimal
	QualityStatus     string
	OperatorID        string
	Notes             string
	ChainID           string
	ChainSequence     int
	ParentOperationID *OperationID
}

func (r CreateOperationRequest) Validate() error {
	if strings.TrimSpace(string(r.OperationType)) == "" {
		return invalid("operation_type", "공정 유형은 필수 항목입니다.")
	}
	if r.InputItemID <= 0 {
		return invalid("input_item_id", "투입 품목은 필수 항목입니다.")
	}
	if r.OutputItemID <= 0 {
		return invalid("output_item_id", "산출 품목은 필수 항목입니다.")
	}
	if r.InputItemID == r.OutputItemID {
		return invalid("output_item_id", "투입 품목과 산출 품목이 같을 수 없습니다.")
	}
	if !r.InputQuantity.IsPositive() {
		return invalid("input_quantity", "투입 수량은 0보다 커야 합니다.")
	}
	if !r.OutputQuantity.IsPositive() {
		return invalid("output_quantity", "산출 수량은 0보다 커야 합니다.")
	}
	if r.ChainSequence < 0 {
		return invalid("chain_sequence", "체인 순번은 0 이상이어야 합니다.")
	}
	return nil
}

// Create stores a new PENDING operation.
func (pm *ProcessMachine) Create(ctx context.Context, req CreateOperationRequest) (*ProcessOperation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	for _, id := range []ItemID{req.InputItemID, req.OutputItemID} {
		item, err := pm.Store.GetItem(ctx, id)
		if err != nil {
			return nil, Storage("get item", err, true)
		}
		if !item.IsActive {
			return nil, invalid("item_id", "비활성화된 품목입니다: "+item.Name)
		}
	}

	now := pm.now()
	op := &ProcessOperation{
		OperationType:     req.OperationType,
		InputItemID:       req.InputItemID,
		OutputItemID:      req.OutputItemID,
		InputQuantity:     req.InputQuantity,
		OutputQuantity:    req.OutputQuantity,
		ScrapQuantity:     decimal.Zero,
		Status:            OpPending,
		QualityStatus:     req.QualityStatus,
		OperatorID:        req.OperatorID,
		Notes:             req.Notes,
		ChainID:           req.ChainID,
		ChainSequence:     req.ChainSequence,
		ParentOperationID: req.ParentOperationID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if req.ParentOperationID != nil {
		parent, err := pm.Store.GetOperation(ctx, *req.ParentOperationID)
		if err != nil {
			return nil, Storage("get parent operation", err, true)
		}
		if parent.Status == OpCancelled {
			return nil, invalid("parent_operation_id", "취소된 작업을 상위 작업으로 지정할 수 없습니다.")
		}
		if op.ChainID == "" {
			op.ChainID = parent.ChainID
		}
		if op.ChainSequence == 0 {
			op.ChainSequence = parent.ChainSequence + 1
		}
		if parent.Status == OpCompleted {
			op.ParentLotNumber = parent.LotNumber
		}
	}

	if err := pm.Store.InsertOperation(ctx, op); err != nil {
		return nil, Storage("insert operation", err, false)
	}
	return op, nil
}

// =============================================================================
// START / CANCEL
// =============================================================================

// Start moves a PENDING operation to IN_PROGRESS.
func (pm *ProcessMachine) Start(ctx context.Context, id OperationID) (*ProcessOperation, error) {
	op, err := pm.transition(ctx, id, OpInProgress, func(op *ProcessOperation, now time.Time) {
		op.StartedAt = &now
	}, OpPending)
	if err != nil {
		return nil, err
	}
	pm.publish(ctx, EventOperationStarted, op)
	return op, nil
}

// Cancel moves a non-terminal operation to CANCELLED. Nothing has been
// consumed before completion, so no stock is touched.
func (pm *ProcessMachine) Cancel(ctx context.Context, id OperationID, reason string) (*ProcessOperation, error) {
	op, err := pm.transition(ctx, id, OpCancelled, func(op *ProcessOperation, _ time.Time) {
		if reason = strings.TrimSpace(reason); reason != "" {
			if op.Notes != "" {
				op.Notes += "\n"
			}
			op.Notes += "취소 사유: " + reason
		}
	}, OpPending, OpInProgress)
	if err != nil {
		return nil, err
	}
	pm.publish(ctx, EventOperationCancelled, op)
	return op, nil
}

func (pm *ProcessMachine) transition(ctx context.Context, id OperationID, to OperationStatus, mutate func(*ProcessOperation, time.Time), from ...OperationStatus) (*ProcessOperation, error) {
	op, err := pm.Store.GetOperation(ctx, id)
	if err != nil {
		return nil, Storage("get operation", err, true)
	}
	if !statusIn(op.Status, from) {
		return nil, &InvalidTransitionError{OperationID: id, From: op.Status, To: to}
	}
	now := pm.now()
	next := *op
	next.Status = to
	next.UpdatedAt = now
	mutate(&next, now)

	ok, err := pm.Store.TransitionOperation(ctx, &next, op.Status)
	if err != nil {
		return nil, Storage("transition operation", err, true)
	}
	if !ok {
		current, err := pm.Store.GetOperation(ctx, id)
		if err != nil {
			return nil, Storage("get operation", err, true)
		}
		return nil, &InvalidTransitionError{OperationID: id, From: current.Status, To: to}
	}
	return &next, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// CompleteRequest overrides the planned figures at completion time. Nil
// fields keep the planned values.
type CompleteRequest struct {
	InputQuantity  *decimal.Decimal
	OutputQuantity *decimal.Decimal
	ScrapQuantity  *decimal.Decimal
	QualityStatus  *string
	Notes          *string
}

// Complete runs the completion side effects exactly once.
func (pm *ProcessMachine) Complete(ctx context.Context, id OperationID, req CompleteRequest) (*ProcessOperation, error) {
	return pm.complete(ctx, id, req, pm.AllowSkipStart)
}

func (pm *ProcessMachine) complete(ctx context.Context, id OperationID, req CompleteRequest, skipStart bool) (*ProcessOperation, error) {
	from := []OperationStatus{OpInProgress}
	if skipStart {
		from = append(from, OpPending)
	}

	var done ProcessOperation
	err := RunUnit(ctx, pm.Store, pm.log(), func(ctx context.Context, s Store, comp *Compensation) error {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			return Storage("get operation", err, true)
		}
		if !statusIn(op.Status, from) {
			return &InvalidTransitionError{OperationID: id, From: op.Status, To: OpCompleted}
		}
		observed := op.Status

		next := *op
		if err := applyOverrides(&next, req); err != nil {
			return err
		}
		if next.ParentOperationID != nil && next.ParentLotNumber == "" {
			parent, err := s.GetOperation(ctx, *next.ParentOperationID)
			if err != nil {
				return Storage("get parent operation", err, true)
			}
			if parent.Status == OpCompleted {
				next.ParentLotNumber = parent.LotNumber
			}
		}

		opID := op.ID
		mutator := pm.Mutator.Bind(s)
		reason := fmt.Sprintf("%s (작업 %d)", next.OperationType.Label(), opID)

		// a. consume
		if _, err := mutator.Apply(ctx, comp, Mutation{
			ItemID:      next.InputItemID,
			Delta:       next.InputQuantity.Neg(),
			Movement:    MoveProcessInput,
			Reason:      reason,
			OperationID: &opID,
		}); err != nil {
			return err
		}

		// b. produce
		if _, err := mutator.Apply(ctx, comp, Mutation{
			ItemID:      next.OutputItemID,
			Delta:       next.OutputQuantity,
			Movement:    MoveProcessOutput,
			Reason:      reason,
			OperationID: &opID,
		}); err != nil {
			return err
		}

		// d.
		eff := Efficiency(next.InputQuantity, next.OutputQuantity, pm.YieldRatio(next.OperationType))
		now := pm.now()
		next.Efficiency = &eff
		next.Status = OpCompleted
		next.CompletedAt = &now
		next.UpdatedAt = now
		if next.StartedAt == nil {
			next.StartedAt = &now
		}

		// c + e. The lot is written by the status swap, so a duplicate lot
		// surfaces there and is retried with a fresh serial.
		lots := pm.Lots
		if !pm.ExternalSerials {
			lots = lots.Bind(s)
		}
		err = lots.WithSerial(ctx, next.OperationType.LotPrefix(), func(lot string) error {
			next.LotNumber = lot
			ok, err := s.TransitionOperation(ctx, &next, observed)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}
			return nil
		})
		if errors.Is(err, errLostRace) {
			current, gerr := s.GetOperation(ctx, id)
			if gerr != nil {
				return Storage("get operation", gerr, true)
			}
			return &InvalidTransitionError{OperationID: id, From: current.Status, To: OpCompleted}
		}
		if err != nil {
			return Storage("complete operation", err, true)
		}

		done = next
		return nil
	})
	if err != nil {
		pm.log().WithFields(logrus.Fields{
			"module":       "inventory",
			"funcName":     "ProcessMachine.Complete",
			"operation_id": id,
		}).WithError(err).Warn("operation completion rejected")
		return nil, err
	}

	pm.publish(ctx, EventOperationCompleted, &done)
	return &done, nil
}

func applyOverrides(op *ProcessOperation, req CompleteRequest) error {
	if req.InputQuantity != nil {
		if !req.InputQuantity.IsPositive() {
			return invalid("input_quantity", "투입 수량은 0보다 커야 합니다.")
		}
		op.InputQuantity = *req.InputQuantity
	}
	if req.OutputQuantity != nil {
		if !req.OutputQuantity.IsPositive() {
			return invalid("output_quantity", "산출 수량은 0보다 커야 합니다.")
		}
		op.OutputQuantity = *req.OutputQuantity
	}
	if req.ScrapQuantity != nil {
		if req.ScrapQuantity.IsNegative() {
			return invalid("scrap_quantity", "불량 수량은 0 이상이어야 합니다.")
		}
		op.ScrapQuantity = *req.ScrapQuantity
	}
	if req.QualityStatus != nil {
		op.QualityStatus = *req.QualityStatus
	}
	if req.Notes != nil {
		op.Notes = *req.Notes
	}
	return nil
}

// =============================================================================
// QUICK
// =============================================================================

// Quick creates an operation and completes it in one call. If completion
// fails the created operation is cancelled with the failure as its reason,
// so no PENDING leftovers remain.
func (pm *ProcessMachine) Quick(ctx context.Context, req CreateOperationRequest, done CompleteRequest) (*ProcessOperation, error) {
	op, err := pm.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	completed, err := pm.complete(ctx, op.ID, done, true)
	if err == nil {
		return completed, nil
	}
	if _, cerr := pm.Cancel(context.WithoutCancel(ctx), op.ID, "빠른 처리 실패: "+err.Error()); cerr != nil {
		pm.log().WithError(cerr).WithField("operation_id", op.ID).Error("cancel after failed quick completion")
	}
	return nil, err
}

// =============================================================================
// READS
// =============================================================================

func (pm *ProcessMachine) Get(ctx context.Context, id OperationID) (*ProcessOperation, error) {
	op, err := pm.Store.GetOperation(ctx, id)
	if err != nil {
		return nil, Storage("get operation", err, true)
	}
	return op, nil
}

func (pm *ProcessMachine) List(ctx context.Context, f OperationFilter) ([]ProcessOperation, error) {
	if f.Limit <= 0 || f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	ops, err := pm.Store.ListOperations(ctx, f)
	if err != nil {
		return nil, Storage("list operations", err, true)
	}
	return ops, nil
}

// Chain returns the operations of chainID ordered by sequence.
func (pm *ProcessMachine) Chain(ctx context.Context, chainID string) ([]ProcessOperation, error) {
	if strings.TrimSpace(chainID) == "" {
		return nil, invalid("chain_id", "체인 ID는 필수 항목입니다.")
	}
	ops, err := pm.Store.ListOperations(ctx, OperationFilter{ChainID: chainID})
	if err != nil {
		return nil, Storage("list operations", err, true)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].ChainSequence != ops[j].ChainSequence {
			return ops[i].ChainSequence < ops[j].ChainSequence
		}
		return ops[i].ID < ops[j].ID
	})
	return ops, nil
}

func (pm *ProcessMachine) publish(ctx context.Context, t EventType, op *ProcessOperation) {
	if pm.Events == nil {
		return
	}
	pm.Events.Publish(ctx, newEvent(t, strconv.FormatInt(int64(op.ID), 10), *op, pm.now()))
}

func statusIn(s OperationStatus, set []OperationStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (pm *ProcessMachine) now() time.Time {
	if pm.Clock == nil {
		return time.Now().UTC()
	}
	return pm.Clock().UTC()
}

func (pm *ProcessMachine) log() logrus.FieldLogger {
	if pm.Log == nil {
		return discardLogger()
	}
	return pm.Log
}
