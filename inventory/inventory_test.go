package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
	"github.com/warp/inventory-engine/logging"
	"github.com/warp/inventory-engine/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testDay = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testDay }

type backend struct {
	name string
	open func(t *testing.T) inventory.Store
}

// backends covers both unit-of-work paths: saga compensation (memory) and
// storage transactions (SQLite).
var backends = []backend{
	{name: "memory", open: func(t *testing.T) inventory.Store { return store.NewMemory() }},
	{name: "sqlite", open: func(t *testing.T) inventory.Store {
		s, err := sqlstore.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, st inventory.Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func newEngine(t *testing.T, st inventory.Store, mods ...func(*inventory.Options)) *inventory.Engine {
	t.Helper()
	opts := inventory.Options{
		Store:      st,
		Log:        logging.Discard(),
		Clock:      fixedClock,
		MaxRetries: 200,
	}
	for _, m := range mods {
		m(&opts)
	}
	e, err := inventory.New(opts)
	require.NoError(t, err)
	return e
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func mustItem(t *testing.T, e *inventory.Engine, code string) inventory.ItemID {
	t.Helper()
	item := &inventory.Item{Code: code, Name: code + " 품목", Unit: "EA", IsActive: true}
	require.NoError(t, e.CreateItem(context.Background(), item))
	return item.ID
}

func record(t *testing.T, e *inventory.Engine, typ inventory.TransactionType, id inventory.ItemID, qty string) *inventory.RecordResult {
	t.Helper()
	res, err := e.Ledger.Record(context.Background(), inventory.RecordRequest{
		Type:     typ,
		ItemID:   id,
		Quantity: dec(qty),
	})
	require.NoError(t, err)
	return res
}

func stockOf(t *testing.T, e *inventory.Engine, id inventory.ItemID) decimal.Decimal {
	t.Helper()
	item, err := e.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.CurrentStock
}

// assertConsistent checks CurrentStock against the history sum.
func assertConsistent(t *testing.T, e *inventory.Engine, ids ...inventory.ItemID) {
	t.Helper()
	for _, id := range ids {
		drift, err := e.Reconciler.Check(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, drift, "item %d drifted: %+v", id, drift)
	}
}

// =============================================================================
// ENGINE / MASTER DATA
// =============================================================================

func TestNew_RequiresStore(t *testing.T) {
	_, err := inventory.New(inventory.Options{})

	var invalid *inventory.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "store", invalid.Field)
}

func TestCreateItem_StartsAtZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		// GIVEN: An item submitted with a stock value
		e := newEngine(t, st)
		item := &inventory.Item{Code: " COIL-01 ", Name: "코일", CurrentStock: dec("500"), IsActive: true}

		// WHEN: Creating it
		require.NoError(t, e.CreateItem(context.Background(), item))

		// THEN: The code is trimmed and stock starts at zero
		got, err := e.GetItem(context.Background(), item.ID)
		require.NoError(t, err)
		assert.Equal(t, "COIL-01", got.Code)
		assert.True(t, got.CurrentStock.IsZero())
	})
}

func TestCreateItem_DuplicateCode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		e := newEngine(t, st)
		mustItem(t, e, "DUP")

		err := e.CreateItem(context.Background(), &inventory.Item{Code: "DUP", Name: "again", IsActive: true})

		assert.True(t, inventory.IsClientError(err), "got %v", err)
	})
}

func TestSetItemActive_KeepsStock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		// GIVEN: An item with stock 10
		e := newEngine(t, st)
		id := mustItem(t, e, "ACT")
		record(t, e, inventory.TxReceipt, id, "10")

		// WHEN: Deactivating it
		item, err := e.SetItemActive(context.Background(), id, false)

		// THEN: Stock is untouched and further moves are rejected
		require.NoError(t, err)
		assert.False(t, item.IsActive)
		assertDecimal(t, "10", stockOf(t, e, id))
		_, err = e.Ledger.Record(context.Background(), inventory.RecordRequest{
			Type: inventory.TxShipment, ItemID: id, Quantity: dec("1"),
		})
		assert.ErrorIs(t, err, inventory.ErrValidation)
	})
}

func TestGetItem_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		e := newEngine(t, st)

		_, err := e.GetItem(context.Background(), 424242)

		var nf *inventory.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "item", nf.Kind)
		assert.True(t, inventory.IsNotFound(err))
	})
}

func TestHistory_NewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		e := newEngine(t, st)
		id := mustItem(t, e, "HIST")
		record(t, e, inventory.TxReceipt, id, "10")
		record(t, e, inventory.TxShipment, id, "4")

		rows, err := e.History(context.Background(), id, 0)

		require.NoError(t, err)
		require.Len(t, rows, 2)
		assertDecimal(t, "-4", rows[0].QuantityChange)
		assertDecimal(t, "10", rows[0].StockBefore)
		assertDecimal(t, "6", rows[0].StockAfter)
		assert.Equal(t, inventory.MoveShipment, rows[0].MovementType)
		require.NotNil(t, rows[0].TransactionID)
	})
}

func TestCreatePartner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st inventory.Store) {
		e := newEngine(t, st)

		p := &inventory.Partner{Code: "P-01", Name: "한빛정밀", IsActive: true}
		require.NoError(t, e.CreatePartner(context.Background(), p))
		assert.NotZero(t, p.ID)

		err := e.CreatePartner(context.Background(), &inventory.Partner{Code: "P-02"})
		assert.ErrorIs(t, err, inventory.ErrValidation)
	})
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, inventory.IsClientError(&inventory.InsufficientStockError{}))
	assert.True(t, inventory.IsClientError(&inventory.BOMCycleError{}))
	assert.False(t, inventory.IsRetryable(&inventory.ValidationError{}))
	assert.True(t, inventory.IsRetryable(&inventory.StorageError{Op: "x", Err: errors.New("busy"), Retryable: true}))
	assert.True(t, inventory.IsRetryable(inventory.ErrConcurrentModification))
	assert.Nil(t, inventory.Storage("x", nil, true))

	wrapped := inventory.Storage("get item", &inventory.NotFoundError{Kind: "item", ID: 1}, true)
	assert.True(t, inventory.IsNotFound(wrapped))
}
