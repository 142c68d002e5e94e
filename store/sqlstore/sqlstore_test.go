package sqlstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// openPostgresTest connects to INVENTORY_TEST_POSTGRES_DSN or skips.
func openPostgresTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("INVENTORY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INVENTORY_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), Config{Driver: "postgres", DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s *Store, code string) *inventory.Item {
	t.Helper()
	now := time.Now().UTC()
	it := &inventory.Item{Code: code, Name: code, Unit: "EA", IsActive: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveItem(context.Background(), it))
	return it
}

func txFor(item inventory.ItemID, doc string) *inventory.Transaction {
	return &inventory.Transaction{
		Type:            inventory.TxReceipt,
		ItemID:          item,
		Quantity:        decimal.NewFromInt(1),
		DocumentNumber:  doc,
		TransactionDate: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Status:          inventory.TxStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}
}

// =============================================================================
// DIALECT
// =============================================================================

func TestRebind(t *testing.T) {
	got := Rebind(`SELECT * FROM items WHERE id = ? AND code IN (?, ?)`)

	assert.Equal(t, `SELECT * FROM items WHERE id = $1 AND code IN ($2, $3)`, got)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestTimeFormatsSortLexically(t *testing.T) {
	early := time.Date(2025, 3, 14, 9, 0, 0, 5, time.UTC)
	late := time.Date(2025, 3, 14, 10, 0, 0, 0, time.FixedZone("KST", 9*3600))

	assert.Less(t, fmtTime(late), fmtTime(early))
	assert.True(t, parseTime(fmtTime(early)).Equal(early))
	assert.Equal(t, "2025-03-14", fmtDate(early))
	assert.True(t, parseTime("").IsZero())
	assert.Nil(t, parseTimePtr(nil))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})

	assert.ErrorContains(t, err, "unsupported database driver")
}

// =============================================================================
// ITEMS / STOCK
// =============================================================================

func TestSaveItem_DuplicateCodeIsValidation(t *testing.T) {
	s := openTest(t)
	seedItem(t, s, "DUP")

	err := s.SaveItem(context.Background(), &inventory.Item{Code: "DUP", Name: "again"})

	var invalid *inventory.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "item_code", invalid.Field)
}

func TestSaveItem_UpdateLeavesStock(t *testing.T) {
	// GIVEN: An item with stock written through the CAS
	s := openTest(t)
	ctx := context.Background()
	it := seedItem(t, s, "KEEP")
	ok, err := s.CompareAndSwapStock(ctx, it.ID, 0, decimal.RequireFromString("7.25"))
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: Updating master fields with a stale stock value
	it.Name = "renamed"
	it.CurrentStock = decimal.NewFromInt(999)
	require.NoError(t, s.SaveItem(ctx, it))

	// THEN: The stored counter and version are reported back
	got, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.CurrentStock.Equal(decimal.RequireFromString("7.25")))
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, it.CurrentStock.Equal(got.CurrentStock))
}

func TestCompareAndSwapStock_StaleVersionLoses(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	it := seedItem(t, s, "CAS")

	first, err := s.CompareAndSwapStock(ctx, it.ID, 0, decimal.NewFromInt(5))
	require.NoError(t, err)
	second, err := s.CompareAndSwapStock(ctx, it.ID, 0, decimal.NewFromInt(9))
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	got, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentStock.Equal(decimal.NewFromInt(5)))
}

func TestGetItem_NotFound(t *testing.T) {
	s := openTest(t)

	_, err := s.GetItem(context.Background(), 42)

	assert.True(t, inventory.IsNotFound(err))
}

// =============================================================================
// HISTORY / LEDGER
// =============================================================================

func TestDeleteHistory_IsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	it := seedItem(t, s, "HIST")
	h := &inventory.StockHistory{
		IdempotencyKey: "k-1",
		ItemID:         it.ID,
		MovementType:   inventory.MoveReceipt,
		QuantityChange: decimal.RequireFromString("2.5"),
		StockAfter:     decimal.RequireFromString("2.5"),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.AppendHistory(ctx, h))
	sum, err := s.SumHistory(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("2.5")))

	first, err := s.DeleteHistory(ctx, "k-1")
	require.NoError(t, err)
	second, err := s.DeleteHistory(ctx, "k-1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	sum, err = s.SumHistory(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestStockSnapshot(t *testing.T) {
	// GIVEN: An item with two history rows and one without any
	s := openTest(t)
	ctx := context.Background()
	it := seedItem(t, s, "SNAP")
	empty := seedItem(t, s, "EMPTY")
	for i, q := range []string{"3.5", "-1.25"} {
		require.NoError(t, s.AppendHistory(ctx, &inventory.StockHistory{
			IdempotencyKey: "snap-" + string(rune('a'+i)),
			ItemID:         it.ID,
			MovementType:   inventory.MoveReceipt,
			QuantityChange: decimal.RequireFromString(q),
			StockAfter:     decimal.Zero,
			CreatedAt:      time.Now().UTC(),
		}))
	}

	// WHEN: Taking snapshots
	got, sum, err := s.StockSnapshot(ctx, it.ID)
	require.NoError(t, err)
	gotEmpty, emptySum, err := s.StockSnapshot(ctx, empty.ID)
	require.NoError(t, err)
	_, _, missingErr := s.StockSnapshot(ctx, 999)

	// THEN: Item fields and history sums come back together
	assert.Equal(t, "SNAP", got.Code)
	assert.True(t, sum.Equal(decimal.RequireFromString("2.25")))
	assert.Equal(t, "EMPTY", gotEmpty.Code)
	assert.True(t, emptySum.IsZero())
	assert.True(t, inventory.IsNotFound(missingErr))
}

func TestInsertTransaction_DuplicateDocument(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	it := seedItem(t, s, "DOC")
	require.NoError(t, s.InsertTransaction(ctx, txFor(it.ID, "RCV-20250314-0001")))

	err := s.InsertTransaction(ctx, txFor(it.ID, "RCV-20250314-0001"))

	assert.ErrorIs(t, err, inventory.ErrDuplicateSerial)
	n, err := s.CountTransactions(ctx, inventory.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIncrementSerial_PerScope(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	a1, err := s.IncrementSerial(ctx, "RCV-20250314")
	require.NoError(t, err)
	a2, err := s.IncrementSerial(ctx, "RCV-20250314")
	require.NoError(t, err)
	b1, err := s.IncrementSerial(ctx, "SHP-20250314")
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 1}, []int64{a1, a2, b1})
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestTransitionOperation_Guarded(t *testing.T) {
	// GIVEN: A pending operation
	s := openTest(t)
	ctx := context.Background()
	in := seedItem(t, s, "IN")
	out := seedItem(t, s, "OUT")
	now := time.Now().UTC()
	op := &inventory.ProcessOperation{
		OperationType: inventory.OpBlanking, InputItemID: in.ID, OutputItemID: out.ID,
		InputQuantity: decimal.NewFromInt(10), OutputQuantity: decimal.NewFromInt(8),
		ScrapQuantity: decimal.Zero, Status: inventory.OpPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.InsertOperation(ctx, op))

	// WHEN: Swapping from the wrong status, then the right one
	next := *op
	next.Status = inventory.OpCompleted
	next.LotNumber = "BLK-20250314-001"
	wrong, err := s.TransitionOperation(ctx, &next, inventory.OpInProgress)
	require.NoError(t, err)
	right, err := s.TransitionOperation(ctx, &next, inventory.OpPending, inventory.OpInProgress)
	require.NoError(t, err)

	// THEN: Only the matching guard writes
	assert.False(t, wrong)
	assert.True(t, right)
	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.OpCompleted, got.Status)
	assert.Equal(t, "BLK-20250314-001", got.LotNumber)

	// AND: Another operation cannot take the same lot
	other := *op
	other.ID = 0
	require.NoError(t, s.InsertOperation(ctx, &other))
	other.Status = inventory.OpCompleted
	other.LotNumber = "BLK-20250314-001"
	_, err = s.TransitionOperation(ctx, &other, inventory.OpPending)
	assert.ErrorIs(t, err, inventory.ErrDuplicateSerial)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackAndNesting(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx inventory.Store) error {
		require.NoError(t, tx.SaveItem(ctx, &inventory.Item{Code: "ROLL", Name: "roll"}))
		// Nested units reuse the open transaction.
		return tx.(inventory.TxStore).WithTx(ctx, func(inner inventory.Store) error {
			items, err := inner.ListItems(ctx)
			require.NoError(t, err)
			assert.Len(t, items, 1)
			return boom
		})
	})

	assert.ErrorIs(t, err, boom)
	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWithTx_Commit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx inventory.Store) error {
		return tx.SaveItem(ctx, &inventory.Item{Code: "KEEP", Name: "keep"})
	})

	require.NoError(t, err)
	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPostgres_Smoke(t *testing.T) {
	s := openPostgresTest(t)
	ctx := context.Background()
	assert.Equal(t, "postgres", s.Driver())
	require.NoError(t, s.Ping(ctx))

	v, err := s.IncrementSerial(ctx, "PG-"+time.Now().Format("150405.000000000"))

	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
