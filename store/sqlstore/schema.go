package sqlstore

import "fmt"

// schema returns the DDL for d. Quantities and money are TEXT holding
// decimal strings; sums are computed with decimal arithmetic in Go.
func schema(d Dialect) []string {
	pk, big, boolean := d.AutoIncrementPK(), d.BigInt(), d.BoolType()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS items (
			id %s,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			spec TEXT NOT NULL DEFAULT '',
			current_stock TEXT NOT NULL DEFAULT '0',
			safety_stock TEXT NOT NULL DEFAULT '0',
			is_active %s NOT NULL,
			version %s NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, pk, boolean, big),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS partners (
			id %s,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active %s NOT NULL
		)`, pk, boolean),

		// Append-only. Rows are removed only by compensation of a failed unit.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stock_history (
			id %s,
			idempotency_key TEXT NOT NULL UNIQUE,
			item_id %s NOT NULL REFERENCES items(id),
			movement_type TEXT NOT NULL,
			quantity_change TEXT NOT NULL,
			stock_before TEXT NOT NULL,
			stock_after TEXT NOT NULL,
			transaction_id %s,
			operation_id %s,
			reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`, pk, big, big, big),
		`CREATE INDEX IF NOT EXISTS idx_stock_history_item ON stock_history(item_id, id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transactions (
			id %s,
			transaction_type TEXT NOT NULL,
			item_id %s NOT NULL REFERENCES items(id),
			quantity TEXT NOT NULL,
			unit_price TEXT NOT NULL,
			supply_amount TEXT NOT NULL,
			tax_amount TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			document_number TEXT NOT NULL UNIQUE,
			transaction_date TEXT NOT NULL,
			partner_id %s,
			warehouse_id %s,
			to_warehouse_id %s,
			lot_number TEXT NOT NULL DEFAULT '',
			reference_number TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`, pk, big, big, big, big),
		`CREATE INDEX IF NOT EXISTS idx_transactions_date_id ON transactions(transaction_date, id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_item ON transactions(item_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bom_edges (
			id %s,
			parent_item_id %s NOT NULL REFERENCES items(id),
			child_item_id %s NOT NULL REFERENCES items(id),
			quantity_required TEXT NOT NULL,
			usage_rate TEXT NOT NULL DEFAULT '1',
			is_active %s NOT NULL
		)`, pk, big, big, boolean),
		`CREATE INDEX IF NOT EXISTS idx_bom_edges_parent ON bom_edges(parent_item_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bom_deduction_logs (
			id %s,
			transaction_id %s NOT NULL,
			parent_item_id %s NOT NULL,
			child_item_id %s NOT NULL,
			quantity_required TEXT NOT NULL,
			deducted_quantity TEXT NOT NULL,
			usage_rate TEXT NOT NULL,
			stock_before TEXT NOT NULL,
			stock_after TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, pk, big, big, big),
		`CREATE INDEX IF NOT EXISTS idx_bom_deduction_logs_tx ON bom_deduction_logs(transaction_id)`,

		// lot_number is NULL until COMPLETED; UNIQUE ignores NULLs.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS process_operations (
			id %s,
			operation_type TEXT NOT NULL,
			input_item_id %s NOT NULL REFERENCES items(id),
			output_item_id %s NOT NULL REFERENCES items(id),
			input_quantity TEXT NOT NULL,
			output_quantity TEXT NOT NULL,
			scrap_quantity TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			lot_number TEXT UNIQUE,
			efficiency TEXT,
			quality_status TEXT NOT NULL DEFAULT '',
			operator_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			chain_id TEXT NOT NULL DEFAULT '',
			chain_sequence %s NOT NULL DEFAULT 0,
			parent_operation_id %s,
			parent_lot_number TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, pk, big, big, big, big),
		`CREATE INDEX IF NOT EXISTS idx_process_operations_chain ON process_operations(chain_id, chain_sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_process_operations_status ON process_operations(status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS serial_counters (
			scope TEXT PRIMARY KEY,
			value %s NOT NULL
		)`, big),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			id %s,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			items_checked %s NOT NULL,
			drift_count %s NOT NULL,
			drifts_json TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`, pk, big, big),
	}
}
