package sqlstore

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, code, name, unit, spec, current_stock, safety_stock, is_active, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*inventory.Item, error) {
	var (
		it                   inventory.Item
		id                   int64
		createdAt, updatedAt string
	)
	err := r.Scan(&id, &it.Code, &it.Name, &it.Unit, &it.Spec, &it.CurrentStock, &it.SafetyStock,
		&it.IsActive, &it.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	it.ID = inventory.ItemID(id)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return &it, nil
}

func (s *Store) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	it, err := scanItem(s.queryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound("item", int64(id), err)
	}
	return it, nil
}

func (s *Store) SaveItem(ctx context.Context, it *inventory.Item) error {
	if it.ID == 0 {
		var id int64
		err := s.queryRow(ctx, `
			INSERT INTO items (code, name, unit, spec, current_stock, safety_stock, is_active, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			RETURNING id`,
			it.Code, it.Name, it.Unit, it.Spec, it.CurrentStock.String(), it.SafetyStock.String(),
			it.IsActive, fmtTime(it.CreatedAt), fmtTime(it.UpdatedAt),
		).Scan(&id)
		if err != nil {
			return itemWriteError(it, classify(err))
		}
		it.ID = inventory.ItemID(id)
		it.Version = 0
		return nil
	}

	// Stock and version belong to the Mutator and are left untouched.
	res, err := s.exec(ctx, `
		UPDATE items SET code = ?, name = ?, unit = ?, spec = ?, safety_stock = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		it.Code, it.Name, it.Unit, it.Spec, it.SafetyStock.String(), it.IsActive, fmtTime(it.UpdatedAt), int64(it.ID))
	if err != nil {
		return itemWriteError(it, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &inventory.NotFoundError{Kind: "item", ID: int64(it.ID)}
	}
	current, err := s.GetItem(ctx, it.ID)
	if err != nil {
		return err
	}
	it.CurrentStock = current.CurrentStock
	it.Version = current.Version
	return nil
}

func itemWriteError(it *inventory.Item, err error) error {
	if errors.Is(err, errUnique) {
		return &inventory.ValidationError{Field: "item_code", Message: "이미 존재하는 품목 코드입니다: " + it.Code}
	}
	return err
}

func (s *Store) ListItems(ctx context.Context) ([]inventory.Item, error) {
	rows, err := s.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *it)
	}
	return out, classify(rows.Err())
}

// CompareAndSwapStock is the only statement that writes current_stock.
func (s *Store) CompareAndSwapStock(ctx context.Context, id inventory.ItemID, expectedVersion int64, newStock decimal.Decimal) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE items SET current_stock = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		newStock.String(), int64(id), expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

// =============================================================================
// PARTNERS
// =============================================================================

func (s *Store) GetPartner(ctx context.Context, id inventory.PartnerID) (*inventory.Partner, error) {
	var p inventory.Partner
	var pid int64
	err := s.queryRow(ctx, `SELECT id, code, name, is_active FROM partners WHERE id = ?`, int64(id)).
		Scan(&pid, &p.Code, &p.Name, &p.IsActive)
	if err != nil {
		return nil, notFound("partner", int64(id), err)
	}
	p.ID = inventory.PartnerID(pid)
	return &p, nil
}

func (s *Store) SavePartner(ctx context.Context, p *inventory.Partner) error {
	if p.ID == 0 {
		var id int64
		err := s.queryRow(ctx, `INSERT INTO partners (code, name, is_active) VALUES (?, ?, ?) RETURNING id`,
			p.Code, p.Name, p.IsActive).Scan(&id)
		if err != nil {
			return classify(err)
		}
		p.ID = inventory.PartnerID(id)
		return nil
	}
	res, err := s.exec(ctx, `UPDATE partners SET code = ?, name = ?, is_active = ? WHERE id = ?`,
		p.Code, p.Name, p.IsActive, int64(p.ID))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &inventory.NotFoundError{Kind: "partner", ID: int64(p.ID)}
	}
	return nil
}

// =============================================================================
// STOCK HISTORY
// =============================================================================

const historyColumns = `id, idempotency_key, item_id, movement_type, quantity_change, stock_before, stock_after,
	transaction_id, operation_id, reason, created_at`

func (s *Store) AppendHistory(ctx context.Context, h *inventory.StockHistory) error {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO stock_history (idempotency_key, item_id, movement_type, quantity_change, stock_before,
			stock_after, transaction_id, operation_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		h.IdempotencyKey, int64(h.ItemID), string(h.MovementType), h.QuantityChange.String(),
		h.StockBefore.String(), h.StockAfter.String(), txIDArg(h.TransactionID), opIDArg(h.OperationID),
		h.Reason, fmtTime(h.CreatedAt),
	).Scan(&id)
	if err != nil {
		return classify(err)
	}
	h.ID = inventory.HistoryID(id)
	return nil
}

func (s *Store) DeleteHistory(ctx context.Context, key string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM stock_history WHERE idempotency_key = ?`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, classify(err)
}

// ListHistory returns matching rows newest first.
func (s *Store) ListHistory(ctx context.Context, f inventory.HistoryFilter) ([]inventory.StockHistory, error) {
	q := `SELECT ` + historyColumns + ` FROM stock_history WHERE 1 = 1`
	var args []any
	if f.ItemID != 0 {
		q += ` AND item_id = ?`
		args = append(args, int64(f.ItemID))
	}
	if f.TransactionID != 0 {
		q += ` AND transaction_id = ?`
		args = append(args, int64(f.TransactionID))
	}
	if f.OperationID != 0 {
		q += ` AND operation_id = ?`
		args = append(args, int64(f.OperationID))
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.StockHistory
	for rows.Next() {
		var (
			h            inventory.StockHistory
			id, itemID   int64
			movement, at string
			txID, opID   *int64
		)
		if err := rows.Scan(&id, &h.IdempotencyKey, &itemID, &movement, &h.QuantityChange, &h.StockBefore,
			&h.StockAfter, &txID, &opID, &h.Reason, &at); err != nil {
			return nil, classify(err)
		}
		h.ID = inventory.HistoryID(id)
		h.ItemID = inventory.ItemID(itemID)
		h.MovementType = inventory.MovementType(movement)
		h.CreatedAt = parseTime(at)
		if txID != nil {
			t := inventory.TransactionID(*txID)
			h.TransactionID = &t
		}
		if opID != nil {
			o := inventory.OperationID(*opID)
			h.OperationID = &o
		}
		out = append(out, h)
	}
	return out, classify(rows.Err())
}

// SumHistory adds the stored decimal strings in Go so no precision is lost
// to SQL numeric coercion.
func (s *Store) SumHistory(ctx context.Context, itemID inventory.ItemID) (decimal.Decimal, error) {
	rows, err := s.query(ctx, `SELECT quantity_change FROM stock_history WHERE item_id = ?`, int64(itemID))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return decimal.Zero, classify(err)
		}
		sum = sum.Add(d)
	}
	return sum, classify(rows.Err())
}

// StockSnapshot joins the item with its history rows so both come from one
// statement and therefore one snapshot, even under READ COMMITTED.
func (s *Store) StockSnapshot(ctx context.Context, itemID inventory.ItemID) (*inventory.Item, decimal.Decimal, error) {
	rows, err := s.query(ctx, `
		SELECT i.id, i.code, i.name, i.unit, i.spec, i.current_stock, i.safety_stock,
		       i.is_active, i.version, i.created_at, i.updated_at, h.quantity_change
		FROM items i
		LEFT JOIN stock_history h ON h.item_id = i.id
		WHERE i.id = ?`, int64(itemID))
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer rows.Close()

	var (
		item *inventory.Item
		sum  = decimal.Zero
	)
	for rows.Next() {
		var (
			it                   inventory.Item
			id                   int64
			createdAt, updatedAt string
			change               decimal.NullDecimal
		)
		err := rows.Scan(&id, &it.Code, &it.Name, &it.Unit, &it.Spec, &it.CurrentStock, &it.SafetyStock,
			&it.IsActive, &it.Version, &createdAt, &updatedAt, &change)
		if err != nil {
			return nil, decimal.Zero, classify(err)
		}
		if item == nil {
			it.ID = inventory.ItemID(id)
			it.CreatedAt = parseTime(createdAt)
			it.UpdatedAt = parseTime(updatedAt)
			item = &it
		}
		if change.Valid {
			sum = sum.Add(change.Decimal)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, decimal.Zero, classify(err)
	}
	if item == nil {
		return nil, decimal.Zero, &inventory.NotFoundError{Kind: "item", ID: int64(itemID)}
	}
	return item, sum, nil
}

func txIDArg(id *inventory.TransactionID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func opIDArg(id *inventory.OperationID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}
