package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// PROCESS OPERATIONS
// =============================================================================

const operationColumns = `id, operation_type, input_item_id, output_item_id, input_quantity, output_quantity,
	scrap_quantity, status, lot_number, efficiency, quality_status, operator_id, notes, chain_id, chain_sequence,
	parent_operation_id, parent_lot_number, started_at, completed_at, created_at, updated_at`

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decimalPtrArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanOperation(r rowScanner) (*inventory.ProcessOperation, error) {
	var (
		op                   inventory.ProcessOperation
		id, input, output    int64
		opType, status       string
		lot, efficiency      *string
		parent               *int64
		started, completed   *string
		createdAt, updatedAt string
	)
	err := r.Scan(&id, &opType, &input, &output, &op.InputQuantity, &op.OutputQuantity, &op.ScrapQuantity,
		&status, &lot, &efficiency, &op.QualityStatus, &op.OperatorID, &op.Notes, &op.ChainID, &op.ChainSequence,
		&parent, &op.ParentLotNumber, &started, &completed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	op.ID = inventory.OperationID(id)
	op.OperationType = inventory.OperationType(opType)
	op.InputItemID = inventory.ItemID(input)
	op.OutputItemID = inventory.ItemID(output)
	op.Status = inventory.OperationStatus(status)
	if lot != nil {
		op.LotNumber = *lot
	}
	if efficiency != nil {
		d, err := decimal.NewFromString(*efficiency)
		if err != nil {
			return nil, fmt.Errorf("operation %d efficiency: %w", id, err)
		}
		op.Efficiency = &d
	}
	if parent != nil {
		p := inventory.OperationID(*parent)
		op.ParentOperationID = &p
	}
	op.StartedAt = parseTimePtr(started)
	op.CompletedAt = parseTimePtr(completed)
	op.CreatedAt = parseTime(createdAt)
	op.UpdatedAt = parseTime(updatedAt)
	return &op, nil
}

func (s *Store) InsertOperation(ctx context.Context, op *inventory.ProcessOperation) error {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO process_operations (operation_type, input_item_id, output_item_id, input_quantity,
			output_quantity, scrap_quantity, status, lot_number, efficiency, quality_status, operator_id, notes,
			chain_id, chain_sequence, parent_operation_id, parent_lot_number, started_at, completed_at,
			created_at, updated_at)
		VALUES (`+placeholders(20)+`)
		RETURNING id`,
		string(op.OperationType), int64(op.InputItemID), int64(op.OutputItemID), op.InputQuantity.String(),
		op.OutputQuantity.String(), op.ScrapQuantity.String(), string(op.Status), nullString(op.LotNumber),
		decimalPtrArg(op.Efficiency), op.QualityStatus, op.OperatorID, op.Notes, op.ChainID, op.ChainSequence,
		opIDArg(op.ParentOperationID), op.ParentLotNumber, timePtrString(op.StartedAt),
		timePtrString(op.CompletedAt), fmtTime(op.CreatedAt), fmtTime(op.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return classify(err)
	}
	op.ID = inventory.OperationID(id)
	return nil
}

func (s *Store) GetOperation(ctx context.Context, id inventory.OperationID) (*inventory.ProcessOperation, error) {
	op, err := scanOperation(s.queryRow(ctx, `SELECT `+operationColumns+` FROM process_operations WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound("operation", int64(id), err)
	}
	return op, nil
}

// TransitionOperation is a single guarded UPDATE; the status predicate in
// the WHERE clause is the compare-and-swap.
func (s *Store) TransitionOperation(ctx context.Context, op *inventory.ProcessOperation, from ...inventory.OperationStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	if op.LotNumber != "" {
		var owner int64
		err := s.queryRow(ctx, `SELECT id FROM process_operations WHERE lot_number = ? AND id <> ?`,
			op.LotNumber, int64(op.ID)).Scan(&owner)
		if err == nil {
			return false, inventory.ErrDuplicateSerial
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, classify(err)
		}
	}

	args := []any{
		string(op.Status), nullString(op.LotNumber), decimalPtrArg(op.Efficiency), op.InputQuantity.String(),
		op.OutputQuantity.String(), op.ScrapQuantity.String(), op.QualityStatus, op.OperatorID, op.Notes,
		op.ChainID, op.ChainSequence, op.ParentLotNumber, timePtrString(op.StartedAt),
		timePtrString(op.CompletedAt), fmtTime(op.UpdatedAt), int64(op.ID),
	}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.exec(ctx, `
		UPDATE process_operations SET status = ?, lot_number = ?, efficiency = ?, input_quantity = ?,
			output_quantity = ?, scrap_quantity = ?, quality_status = ?, operator_id = ?, notes = ?, chain_id = ?,
			chain_sequence = ?, parent_lot_number = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		if errors.Is(err, errUnique) {
			return false, inventory.ErrDuplicateSerial
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (s *Store) ListOperations(ctx context.Context, f inventory.OperationFilter) ([]inventory.ProcessOperation, error) {
	q := `SELECT ` + operationColumns + ` FROM process_operations WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.OperationType != "" {
		q += ` AND operation_type = ?`
		args = append(args, string(f.OperationType))
	}
	if f.ChainID != "" {
		q += ` AND chain_id = ?`
		args = append(args, f.ChainID)
	}
	if f.ItemID != 0 {
		q += ` AND (input_item_id = ? OR output_item_id = ?)`
		args = append(args, int64(f.ItemID), int64(f.ItemID))
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.ProcessOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *op)
	}
	return out, classify(rows.Err())
}

// =============================================================================
// SERIAL COUNTERS
// =============================================================================

func (s *Store) IncrementSerial(ctx context.Context, scope string) (int64, error) {
	var v int64
	err := s.queryRow(ctx, `
		INSERT INTO serial_counters (scope, value) VALUES (?, 1)
		ON CONFLICT (scope) DO UPDATE SET value = serial_counters.value + 1
		RETURNING value`, scope).Scan(&v)
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type driftJSON struct {
	ItemID       int64  `json:"item_id"`
	ItemCode     string `json:"item_code"`
	CurrentStock string `json:"current_stock"`
	HistorySum   string `json:"history_sum"`
	Difference   string `json:"difference"`
}

func (s *Store) SaveReconciliationRun(ctx context.Context, run *inventory.ReconciliationRun) error {
	drifts := make([]driftJSON, 0, len(run.Drifts))
	for _, d := range run.Drifts {
		drifts = append(drifts, driftJSON{
			ItemID:       int64(d.ItemID),
			ItemCode:     d.ItemCode,
			CurrentStock: d.CurrentStock.String(),
			HistorySum:   d.HistorySum.String(),
			Difference:   d.Difference.String(),
		})
	}
	raw, err := json.Marshal(drifts)
	if err != nil {
		return fmt.Errorf("marshal drifts: %w", err)
	}
	err = s.queryRow(ctx, `
		INSERT INTO reconciliation_runs (started_at, completed_at, items_checked, drift_count, drifts_json, error)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		fmtTime(run.StartedAt), fmtTime(run.CompletedAt), run.ItemsChecked, len(run.Drifts), string(raw), run.Error,
	).Scan(&run.ID)
	return classify(err)
}

func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]inventory.ReconciliationRun, error) {
	q := `SELECT id, started_at, completed_at, items_checked, drifts_json, error FROM reconciliation_runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.ReconciliationRun
	for rows.Next() {
		var (
			run                inventory.ReconciliationRun
			started, completed string
			raw                string
		)
		if err := rows.Scan(&run.ID, &started, &completed, &run.ItemsChecked, &raw, &run.Error); err != nil {
			return nil, classify(err)
		}
		run.StartedAt = parseTime(started)
		run.CompletedAt = parseTime(completed)
		var drifts []driftJSON
		if err := json.Unmarshal([]byte(raw), &drifts); err != nil {
			return nil, fmt.Errorf("run %d drifts: %w", run.ID, err)
		}
		for _, d := range drifts {
			run.Drifts = append(run.Drifts, inventory.StockDrift{
				ItemID:       inventory.ItemID(d.ItemID),
				ItemCode:     d.ItemCode,
				CurrentStock: decimal.RequireFromString(d.CurrentStock),
				HistorySum:   decimal.RequireFromString(d.HistorySum),
				Difference:   decimal.RequireFromString(d.Difference),
			})
		}
		out = append(out, run)
	}
	return out, classify(rows.Err())
}
