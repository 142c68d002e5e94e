package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// TRANSACTIONS - Immutable ledger rows
// =============================================================================

const transactionColumns = `id, transaction_type, item_id, quantity, unit_price, supply_amount, tax_amount,
	total_amount, document_number, transaction_date, partner_id, warehouse_id, to_warehouse_id, lot_number,
	reference_number, notes, status, created_by, created_at`

// InsertTransaction returns inventory.ErrDuplicateSerial when the document
// number is taken. ON CONFLICT DO NOTHING keeps a PostgreSQL transaction
// usable for the retry.
func (s *Store) InsertTransaction(ctx context.Context, t *inventory.Transaction) error {
	var partner any
	if t.PartnerID != nil {
		partner = int64(*t.PartnerID)
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO transactions (transaction_type, item_id, quantity, unit_price, supply_amount, tax_amount,
			total_amount, document_number, transaction_date, partner_id, warehouse_id, to_warehouse_id,
			lot_number, reference_number, notes, status, created_by, created_at)
		VALUES (`+placeholders(18)+`)
		ON CONFLICT (document_number) DO NOTHING
		RETURNING id`,
		string(t.Type), int64(t.ItemID), t.Quantity.String(), t.UnitPrice.String(), t.SupplyAmount.String(),
		t.TaxAmount.String(), t.TotalAmount.String(), t.DocumentNumber, fmtDate(t.TransactionDate),
		partner, t.WarehouseID, t.ToWarehouseID, t.LotNumber, t.ReferenceNumber, t.Notes,
		string(t.Status), t.CreatedBy, fmtTime(t.CreatedAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.ErrDuplicateSerial
	}
	if err != nil {
		return classify(err)
	}
	t.ID = inventory.TransactionID(id)
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id inventory.TransactionID) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM transactions WHERE id = ?`, int64(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, classify(err)
}

func scanTransaction(r rowScanner) (*inventory.Transaction, error) {
	var (
		t               inventory.Transaction
		id, itemID      int64
		txType, status  string
		date, createdAt string
		partner         *int64
	)
	err := r.Scan(&id, &txType, &itemID, &t.Quantity, &t.UnitPrice, &t.SupplyAmount, &t.TaxAmount,
		&t.TotalAmount, &t.DocumentNumber, &date, &partner, &t.WarehouseID, &t.ToWarehouseID, &t.LotNumber,
		&t.ReferenceNumber, &t.Notes, &status, &t.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	t.ID = inventory.TransactionID(id)
	t.Type = inventory.TransactionType(txType)
	t.ItemID = inventory.ItemID(itemID)
	t.Status = inventory.TransactionStatus(status)
	t.TransactionDate = parseTime(date)
	t.CreatedAt = parseTime(createdAt)
	if partner != nil {
		p := inventory.PartnerID(*partner)
		t.PartnerID = &p
	}
	return &t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id inventory.TransactionID) (*inventory.Transaction, error) {
	t, err := scanTransaction(s.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound("transaction", int64(id), err)
	}
	return t, nil
}

func filterClause(f inventory.TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Type != "" {
		conds = append(conds, "transaction_type = ?")
		args = append(args, string(f.Type))
	}
	if f.ItemID != 0 {
		conds = append(conds, "item_id = ?")
		args = append(args, int64(f.ItemID))
	}
	if f.DateFrom != nil {
		conds = append(conds, "transaction_date >= ?")
		args = append(args, fmtDate(*f.DateFrom))
	}
	if f.DateTo != nil {
		conds = append(conds, "transaction_date <= ?")
		args = append(args, fmtDate(*f.DateTo))
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// QueryTransactions lists by (transaction_date DESC, id DESC).
func (s *Store) QueryTransactions(ctx context.Context, q inventory.TransactionQuery) ([]inventory.Transaction, error) {
	where, args := filterClause(q.TransactionFilter)
	order := "transaction_date DESC, id DESC"
	reverse := false

	switch {
	case q.After != nil:
		where += " AND (transaction_date < ? OR (transaction_date = ? AND id < ?))"
		d := fmtDate(q.After.Date)
		args = append(args, d, d, int64(q.After.ID))
	case q.Before != nil:
		// Walk upwards from the key, then flip back to list order.
		where += " AND (transaction_date > ? OR (transaction_date = ? AND id > ?))"
		d := fmtDate(q.Before.Date)
		args = append(args, d, d, int64(q.Before.ID))
		order = "transaction_date ASC, id ASC"
		reverse = true
	}

	stmt := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` ORDER BY ` + order
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
		if q.After == nil && q.Before == nil && q.Offset > 0 {
			stmt += ` OFFSET ?`
			args = append(args, q.Offset)
		}
	}

	rows, err := s.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []inventory.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *Store) CountTransactions(ctx context.Context, f inventory.TransactionFilter) (int, error) {
	where, args := filterClause(f)
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// =============================================================================
// BOM
// =============================================================================

const edgeColumns = `id, parent_item_id, child_item_id, quantity_required, usage_rate, is_active`

func (s *Store) scanEdges(ctx context.Context, query string, args ...any) ([]inventory.BOMEdge, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.BOMEdge
	for rows.Next() {
		var (
			e                 inventory.BOMEdge
			id, parent, child int64
		)
		if err := rows.Scan(&id, &parent, &child, &e.QuantityRequired, &e.UsageRate, &e.IsActive); err != nil {
			return nil, classify(err)
		}
		e.ID = inventory.EdgeID(id)
		e.ParentItemID = inventory.ItemID(parent)
		e.ChildItemID = inventory.ItemID(child)
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

func (s *Store) ActiveBOMEdges(ctx context.Context, parent inventory.ItemID) ([]inventory.BOMEdge, error) {
	return s.scanEdges(ctx, `SELECT `+edgeColumns+` FROM bom_edges WHERE parent_item_id = ? AND is_active = ? ORDER BY id`,
		int64(parent), true)
}

func (s *Store) ListBOMEdges(ctx context.Context, activeOnly bool) ([]inventory.BOMEdge, error) {
	if activeOnly {
		return s.scanEdges(ctx, `SELECT `+edgeColumns+` FROM bom_edges WHERE is_active = ? ORDER BY id`, true)
	}
	return s.scanEdges(ctx, `SELECT `+edgeColumns+` FROM bom_edges ORDER BY id`)
}

func (s *Store) SaveBOMEdge(ctx context.Context, e *inventory.BOMEdge) error {
	if e.ID == 0 {
		var id int64
		err := s.queryRow(ctx, `
			INSERT INTO bom_edges (parent_item_id, child_item_id, quantity_required, usage_rate, is_active)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id`,
			int64(e.ParentItemID), int64(e.ChildItemID), e.QuantityRequired.String(), e.UsageRate.String(), e.IsActive,
		).Scan(&id)
		if err != nil {
			return classify(err)
		}
		e.ID = inventory.EdgeID(id)
		return nil
	}
	res, err := s.exec(ctx, `
		UPDATE bom_edges SET parent_item_id = ?, child_item_id = ?, quantity_required = ?, usage_rate = ?, is_active = ?
		WHERE id = ?`,
		int64(e.ParentItemID), int64(e.ChildItemID), e.QuantityRequired.String(), e.UsageRate.String(), e.IsActive, int64(e.ID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &inventory.NotFoundError{Kind: "bom", ID: int64(e.ID)}
	}
	return nil
}

func (s *Store) AppendDeductionLog(ctx context.Context, l *inventory.BOMDeductionLog) error {
	err := s.queryRow(ctx, `
		INSERT INTO bom_deduction_logs (transaction_id, parent_item_id, child_item_id, quantity_required,
			deducted_quantity, usage_rate, stock_before, stock_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		int64(l.TransactionID), int64(l.ParentItemID), int64(l.ChildItemID), l.QuantityRequired.String(),
		l.DeductedQuantity.String(), l.UsageRate.String(), l.StockBefore.String(), l.StockAfter.String(),
		fmtTime(l.CreatedAt),
	).Scan(&l.ID)
	return classify(err)
}

func (s *Store) DeleteDeductionLogs(ctx context.Context, txID inventory.TransactionID) error {
	_, err := s.exec(ctx, `DELETE FROM bom_deduction_logs WHERE transaction_id = ?`, int64(txID))
	return err
}

func (s *Store) ListDeductionLogs(ctx context.Context, txID inventory.TransactionID) ([]inventory.BOMDeductionLog, error) {
	rows, err := s.query(ctx, `
		SELECT id, transaction_id, parent_item_id, child_item_id, quantity_required, deducted_quantity,
			usage_rate, stock_before, stock_after, created_at
		FROM bom_deduction_logs WHERE transaction_id = ? ORDER BY id`, int64(txID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.BOMDeductionLog
	for rows.Next() {
		var (
			l                 inventory.BOMDeductionLog
			tx, parent, child int64
			createdAt         string
		)
		if err := rows.Scan(&l.ID, &tx, &parent, &child, &l.QuantityRequired, &l.DeductedQuantity,
			&l.UsageRate, &l.StockBefore, &l.StockAfter, &createdAt); err != nil {
			return nil, classify(err)
		}
		l.TransactionID = inventory.TransactionID(tx)
		l.ParentItemID = inventory.ItemID(parent)
		l.ChildItemID = inventory.ItemID(child)
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	return out, classify(rows.Err())
}
