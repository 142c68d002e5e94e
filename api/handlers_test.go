/*
handlers_test.go - HTTP tests for the inventory API

Tests run the full router (middleware included) over httptest against the
in-memory store, and the main flows again against SQLite.
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
	"github.com/warp/inventory-engine/logging"
	"github.com/warp/inventory-engine/store/sqlstore"
)

type response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Field      string          `json:"field"`
	Details    any             `json:"details"`
	Pagination *PaginationDTO  `json:"pagination"`
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	engine *inventory.Engine
}

func newTestServer(t *testing.T, s inventory.Store, opts RouterOptions) *testServer {
	t.Helper()
	eng, err := inventory.New(inventory.Options{Store: s, Log: logging.Discard()})
	require.NoError(t, err)
	h := NewHandler(eng, logging.Discard())
	srv := httptest.NewServer(NewRouter(h, opts))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, engine: eng}
}

func memoryServer(t *testing.T) *testServer {
	return newTestServer(t, store.NewMemory(), RouterOptions{})
}

func sqliteServer(t *testing.T) *testServer {
	s, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newTestServer(t, s, RouterOptions{})
}

func (ts *testServer) do(method, path string, body []byte) (int, response) {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer res.Body.Close()
	var out response
	require.NoError(ts.t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func (ts *testServer) post(path string, body any) (int, response) {
	raw, err := json.Marshal(body)
	require.NoError(ts.t, err)
	return ts.do(http.MethodPost, path, raw)
}

func (ts *testServer) get(path string) (int, response) {
	return ts.do(http.MethodGet, path, nil)
}

func decodeData[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func (ts *testServer) createItem(code, name string) ItemDTO {
	status, res := ts.post("/api/items", map[string]any{"item_code": code, "item_name": name, "unit": "EA"})
	require.Equal(ts.t, http.StatusCreated, status, "create item: %+v", res.Error)
	return decodeData[ItemDTO](ts.t, res)
}

func (ts *testServer) record(body map[string]any) (int, response) {
	return ts.post("/api/transactions", body)
}

func (ts *testServer) receive(itemID int64, qty string) {
	status, res := ts.record(map[string]any{
		"transaction_type": "RECEIPT", "item_id": itemID, "quantity": qty, "unit_price": "1000",
	})
	require.Equal(ts.t, http.StatusCreated, status, "receipt: %+v", res.Error)
}

func (ts *testServer) stock(itemID int64) decimal.Decimal {
	status, res := ts.get(fmt.Sprintf("/api/items/%d", itemID))
	require.Equal(ts.t, http.StatusOK, status)
	return decodeData[ItemDTO](ts.t, res).CurrentStock
}

// =============================================================================
// BODY DECODING
// =============================================================================

func TestCreateItem_KoreanBodyRoundTrips(t *testing.T) {
	// GIVEN: A server
	ts := memoryServer(t)

	// WHEN: Creating an item whose name is Korean
	item := ts.createItem("COIL-01", "SPCC 코일 1.2t")

	// THEN: The name comes back unchanged and stock starts at zero
	assert.Equal(t, "SPCC 코일 1.2t", item.ItemName)
	assert.True(t, item.CurrentStock.IsZero())
	assert.True(t, item.IsActive)
}

func TestCreateItem_InvalidUTF8Rejected(t *testing.T) {
	// GIVEN: A body that is not valid UTF-8
	ts := memoryServer(t)
	body := []byte("{\"item_code\":\"X\",\"item_name\":\"\xff\xfe\"}")

	// WHEN: Posting it
	status, res := ts.do(http.MethodPost, "/api/items", body)

	// THEN: 400 with a Korean validation message on the body field
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, res.Error)
	assert.Equal(t, "VALIDATION_ERROR", res.Code)
	assert.Equal(t, "body", res.Field)
	assert.Contains(t, res.Error, "UTF-8")
}

func TestCreateItem_ValidationUsesJSONFieldNames(t *testing.T) {
	// GIVEN: A request missing item_name
	ts := memoryServer(t)

	// WHEN: Posting it
	status, res := ts.post("/api/items", map[string]any{"item_code": "X"})

	// THEN: The rejected field is reported by its JSON name
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, res.Error)
	assert.Equal(t, "item_name", res.Field)
	assert.Equal(t, "필수 항목입니다.", res.Error)
}

func TestCreateItem_EmptyBodyRejected(t *testing.T) {
	ts := memoryServer(t)

	status, res := ts.do(http.MethodPost, "/api/items", []byte("   "))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "body", res.Field)
}

func TestErrorEnvelope_MessageIsPlainString(t *testing.T) {
	// GIVEN: A request the validator rejects
	ts := memoryServer(t)
	item := ts.createItem("ITEM-ENV", "품목")
	body, err := json.Marshal(map[string]any{"transaction_type": "BOGUS", "item_id": item.ID, "quantity": "1"})
	require.NoError(t, err)

	// WHEN: Posting it and reading the raw JSON
	res, err := http.Post(ts.srv.URL+"/api/transactions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var raw map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&raw))

	// THEN: error is the message itself, code and field sit beside it
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, false, raw["success"])
	msg, ok := raw["error"].(string)
	require.True(t, ok, "error should be a string, got %T", raw["error"])
	assert.NotEmpty(t, msg)
	assert.Equal(t, "VALIDATION_ERROR", raw["code"])
	assert.Equal(t, "transaction_type", raw["field"])
}

func TestCreateItem_DuplicateCodeRejected(t *testing.T) {
	// GIVEN: An existing item code
	ts := memoryServer(t)
	ts.createItem("DUP-01", "첫 번째")

	// WHEN: Creating another item with the same code
	status, res := ts.post("/api/items", map[string]any{"item_code": "DUP-01", "item_name": "두 번째"})

	// THEN: Validation error, not a server error
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", res.Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestCreateTransaction_ReceiptComputesTotalsAndDocument(t *testing.T) {
	// GIVEN: An item
	ts := memoryServer(t)
	item := ts.createItem("ITEM-A", "품목 A")

	// WHEN: Receiving 3 units at 1234.56
	status, res := ts.record(map[string]any{
		"transaction_type": "RECEIPT",
		"item_id":          item.ID,
		"quantity":         3,
		"unit_price":       "1234.56",
		"transaction_date": "2025-03-14",
	})

	// THEN: Supply 3703.68, tax 370.37, total 4074.05, RCV serial
	require.Equal(t, http.StatusCreated, status, "%+v", res.Error)
	out := decodeData[RecordResultDTO](t, res)
	tx := out.Transaction
	assert.True(t, tx.SupplyAmount.Equal(decimal.RequireFromString("3703.68")), tx.SupplyAmount.String())
	assert.True(t, tx.TaxAmount.Equal(decimal.RequireFromString("370.37")), tx.TaxAmount.String())
	assert.True(t, tx.TotalAmount.Equal(decimal.RequireFromString("4074.05")), tx.TotalAmount.String())
	assert.Regexp(t, regexp.MustCompile(`^RCV-\d{8}-0001$`), tx.DocumentNumber)
	assert.Equal(t, "2025-03-14", tx.TransactionDate)
	assert.Equal(t, "입고", tx.TypeLabel)
	require.Len(t, out.Movements, 1)
	assert.True(t, out.Movements[0].StockAfter.Equal(decimal.NewFromInt(3)))
}

func TestCreateTransaction_ShipmentBeyondStockIsConflict(t *testing.T) {
	// GIVEN: 5 units in stock
	ts := memoryServer(t)
	item := ts.createItem("ITEM-B", "품목 B")
	ts.receive(item.ID, "5")

	// WHEN: Shipping 8
	status, res := ts.record(map[string]any{
		"transaction_type": "SHIPMENT", "item_id": item.ID, "quantity": "8", "unit_price": "0",
	})

	// THEN: 409 with the shortfall, and stock untouched
	assert.Equal(t, http.StatusConflict, status)
	require.NotEmpty(t, res.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", res.Code)
	details := res.Details.(map[string]any)
	assert.Equal(t, "3", details["shortage"])
	assert.True(t, ts.stock(item.ID).Equal(decimal.NewFromInt(5)))
}

func TestCreateTransaction_AdjustmentRequiresDirection(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("ITEM-C", "품목 C")

	status, res := ts.record(map[string]any{
		"transaction_type": "ADJUSTMENT", "item_id": item.ID, "quantity": "2",
	})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "direction", res.Field)
}

func TestCreateTransaction_UnknownItemIsNotFound(t *testing.T) {
	ts := memoryServer(t)

	status, res := ts.record(map[string]any{
		"transaction_type": "RECEIPT", "item_id": 9999, "quantity": "1",
	})

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", res.Code)
}

func TestCreateTransaction_ProductionInDeductsBOM(t *testing.T) {
	for name, ts := range map[string]*testServer{"memory": memoryServer(t), "sqlite": sqliteServer(t)} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Parent P with child C (2 per unit), C stock 10
			parent := ts.createItem("P-"+name, "완제품")
			child := ts.createItem("C-"+name, "부품")
			ts.receive(child.ID, "10")
			status, res := ts.post("/api/bom", map[string]any{
				"parent_item_id": parent.ID, "child_item_id": child.ID, "quantity_required": "2",
			})
			require.Equal(t, http.StatusCreated, status, "%+v", res.Error)

			// WHEN: Producing 3 parents
			status, res = ts.record(map[string]any{
				"transaction_type": "PRODUCTION_IN", "item_id": parent.ID, "quantity": "3",
			})

			// THEN: Parent +3, child -6, and the ledger row lists the deduction
			require.Equal(t, http.StatusCreated, status, "%+v", res.Error)
			out := decodeData[RecordResultDTO](t, res)
			assert.Len(t, out.Movements, 2)
			assert.True(t, ts.stock(parent.ID).Equal(decimal.NewFromInt(3)))
			assert.True(t, ts.stock(child.ID).Equal(decimal.NewFromInt(4)))

			status, res = ts.get(fmt.Sprintf("/api/transactions/%d", out.Transaction.ID))
			require.Equal(t, http.StatusOK, status)
			tx := decodeData[TransactionDTO](t, res)
			require.Len(t, tx.Deductions, 1)
			assert.True(t, tx.Deductions[0].DeductedQuantity.Equal(decimal.NewFromInt(6)))
		})
	}
}

func TestCreateTransaction_ProductionInShortComponentRollsBack(t *testing.T) {
	for name, ts := range map[string]*testServer{"memory": memoryServer(t), "sqlite": sqliteServer(t)} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Two children, the second one short
			parent := ts.createItem("P2-"+name, "완제품")
			c1 := ts.createItem("C1-"+name, "부품1")
			c2 := ts.createItem("C2-"+name, "부품2")
			ts.receive(c1.ID, "100")
			ts.receive(c2.ID, "1")
			for _, c := range []ItemDTO{c1, c2} {
				status, _ := ts.post("/api/bom", map[string]any{
					"parent_item_id": parent.ID, "child_item_id": c.ID, "quantity_required": "1",
				})
				require.Equal(t, http.StatusCreated, status)
			}

			// WHEN: Producing 5
			status, res := ts.record(map[string]any{
				"transaction_type": "PRODUCTION_IN", "item_id": parent.ID, "quantity": "5",
			})

			// THEN: Rejected, nothing moved, no ledger row
			assert.Equal(t, http.StatusConflict, status)
			assert.Equal(t, "INSUFFICIENT_STOCK", res.Code)
			assert.True(t, ts.stock(parent.ID).IsZero())
			assert.True(t, ts.stock(c1.ID).Equal(decimal.NewFromInt(100)))
			assert.True(t, ts.stock(c2.ID).Equal(decimal.NewFromInt(1)))

			status, res = ts.get(fmt.Sprintf("/api/transactions?item_id=%d", parent.ID))
			require.Equal(t, http.StatusOK, status)
			assert.Empty(t, decodeData[[]TransactionDTO](t, res))
		})
	}
}

func TestListTransactions_LimitIsCapped(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("ITEM-L", "품목 L")
	ts.receive(item.ID, "1")

	status, res := ts.get("/api/transactions?limit=500")

	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, inventory.MaxPageLimit, res.Pagination.Limit)
	assert.Equal(t, 1, res.Pagination.TotalCount)
}

func TestListTransactions_HugePageIsValidation(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("ITEM-HP", "품목")
	ts.receive(item.ID, "1")

	status, res := ts.get("/api/transactions?page=50000000000000000&limit=200")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", res.Code)
	assert.Equal(t, "page", res.Field)
}

func TestListTransactions_CursorWalk(t *testing.T) {
	// GIVEN: 5 receipts
	ts := memoryServer(t)
	item := ts.createItem("ITEM-CUR", "품목")
	for i := 0; i < 5; i++ {
		ts.receive(item.ID, "1")
	}

	// WHEN: Walking forward two at a time
	var seen []int64
	path := "/api/transactions?direction=forward&limit=2"
	for i := 0; i < 5 && path != ""; i++ {
		status, res := ts.get(path)
		require.Equal(t, http.StatusOK, status)
		for _, tx := range decodeData[[]TransactionDTO](t, res) {
			seen = append(seen, tx.ID)
		}
		path = ""
		if res.Pagination.HasNext {
			path = "/api/transactions?direction=forward&limit=2&cursor=" + res.Pagination.NextCursor
		}
	}

	// THEN: Every row once, newest first
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i])
	}
}

func TestListTransactions_BadCursor(t *testing.T) {
	ts := memoryServer(t)

	status, res := ts.get("/api/transactions?cursor=%21%21")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "cursor", res.Field)
}

// =============================================================================
// BOM
// =============================================================================

func TestCreateBOM_CycleRejected(t *testing.T) {
	// GIVEN: A -> B
	ts := memoryServer(t)
	a := ts.createItem("A", "A")
	b := ts.createItem("B", "B")
	status, _ := ts.post("/api/bom", map[string]any{"parent_item_id": a.ID, "child_item_id": b.ID, "quantity_required": 1})
	require.Equal(t, http.StatusCreated, status)

	// WHEN: Adding B -> A
	status, res := ts.post("/api/bom", map[string]any{"parent_item_id": b.ID, "child_item_id": a.ID, "quantity_required": 1})

	// THEN: 400 BOM_CYCLE with the path
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BOM_CYCLE", res.Code)
	assert.NotEmpty(t, res.Details.(map[string]any)["path"])
}

func TestPreviewBOM_ReportsBottleneck(t *testing.T) {
	// GIVEN: Parent needs 2 of X (stock 10) and 1 of Y (stock 3)
	ts := memoryServer(t)
	p := ts.createItem("PV", "완제품")
	x := ts.createItem("PX", "X")
	y := ts.createItem("PY", "Y")
	ts.receive(x.ID, "10")
	ts.receive(y.ID, "3")
	ts.post("/api/bom", map[string]any{"parent_item_id": p.ID, "child_item_id": x.ID, "quantity_required": 2})
	ts.post("/api/bom", map[string]any{"parent_item_id": p.ID, "child_item_id": y.ID, "quantity_required": 1})

	// WHEN: Previewing 4
	status, res := ts.get(fmt.Sprintf("/api/bom/%d/preview?quantity=4", p.ID))

	// THEN: Cannot produce; Y limits to 3
	require.Equal(t, http.StatusOK, status)
	pv := decodeData[ProductionPreviewDTO](t, res)
	assert.False(t, pv.CanProduce)
	assert.True(t, pv.MaxProducible.Equal(decimal.NewFromInt(3)))
	require.NotNil(t, pv.Bottleneck)
	assert.Equal(t, y.ID, pv.Bottleneck.ChildItemID)

	status, res = ts.get(fmt.Sprintf("/api/bom/%d", p.ID))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]BOMEdgeDTO](t, res), 2)
}

// =============================================================================
// PROCESS OPERATIONS
// =============================================================================

func TestProcessOperation_Lifecycle(t *testing.T) {
	for name, ts := range map[string]*testServer{"memory": memoryServer(t), "sqlite": sqliteServer(t)} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Coil stock 1000
			coil := ts.createItem("COIL-"+name, "코일")
			blank := ts.createItem("BLANK-"+name, "블랭크")
			ts.receive(coil.ID, "1000")

			status, res := ts.post("/api/process-operations", map[string]any{
				"operation_type": "BLANKING", "input_item_id": coil.ID, "output_item_id": blank.ID,
				"input_quantity": "100", "output_quantity": "95",
			})
			require.Equal(t, http.StatusCreated, status, "%+v", res.Error)
			op := decodeData[OperationDTO](t, res)
			assert.Equal(t, "PENDING", op.Status)

			// WHEN: Started and completed
			status, _ = ts.post(fmt.Sprintf("/api/process-operations/%d/start", op.ID), map[string]any{})
			require.Equal(t, http.StatusOK, status)
			status, res = ts.do(http.MethodPost, fmt.Sprintf("/api/process-operations/%d/complete", op.ID), nil)
			require.Equal(t, http.StatusOK, status, "%+v", res.Error)
			done := decodeData[OperationDTO](t, res)

			// THEN: Lot, efficiency and stock moves
			assert.Equal(t, "COMPLETED", done.Status)
			assert.Regexp(t, regexp.MustCompile(`^BLK-\d{8}-001$`), done.LotNumber)
			require.NotNil(t, done.Efficiency)
			assert.True(t, done.Efficiency.Equal(decimal.NewFromInt(95)))
			assert.True(t, ts.stock(coil.ID).Equal(decimal.NewFromInt(900)))
			assert.True(t, ts.stock(blank.ID).Equal(decimal.NewFromInt(95)))

			// AND: A second completion is a conflict with no further moves
			status, res = ts.do(http.MethodPost, fmt.Sprintf("/api/process-operations/%d/complete", op.ID), nil)
			assert.Equal(t, http.StatusConflict, status)
			assert.Equal(t, "INVALID_STATE_TRANSITION", res.Code)
			assert.True(t, ts.stock(coil.ID).Equal(decimal.NewFromInt(900)))
		})
	}
}

func TestProcessOperation_CompleteWithoutStartIsConflict(t *testing.T) {
	ts := memoryServer(t)
	in := ts.createItem("IN", "투입")
	out := ts.createItem("OUT", "산출")
	ts.receive(in.ID, "10")
	_, res := ts.post("/api/process-operations", map[string]any{
		"operation_type": "PRESS", "input_item_id": in.ID, "output_item_id": out.ID,
		"input_quantity": "1", "output_quantity": "1",
	})
	op := decodeData[OperationDTO](t, res)

	status, res := ts.do(http.MethodPost, fmt.Sprintf("/api/process-operations/%d/complete", op.ID), nil)

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE_TRANSITION", res.Code)
}

func TestProcessOperation_CancelRecordsReason(t *testing.T) {
	ts := memoryServer(t)
	in := ts.createItem("IN2", "투입")
	out := ts.createItem("OUT2", "산출")
	_, res := ts.post("/api/process-operations", map[string]any{
		"operation_type": "PRESS", "input_item_id": in.ID, "output_item_id": out.ID,
		"input_quantity": "1", "output_quantity": "1",
	})
	op := decodeData[OperationDTO](t, res)

	status, res := ts.post(fmt.Sprintf("/api/process-operations/%d/cancel", op.ID), map[string]any{"reason": "금형 교체"})

	require.Equal(t, http.StatusOK, status)
	cancelled := decodeData[OperationDTO](t, res)
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.Contains(t, cancelled.Notes, "취소 사유: 금형 교체")
}

func TestProcessOperation_QuickShortInputIsCancelled(t *testing.T) {
	// GIVEN: Input stock 5
	ts := memoryServer(t)
	in := ts.createItem("QIN", "투입")
	out := ts.createItem("QOUT", "산출")
	ts.receive(in.ID, "5")

	// WHEN: Quick processing 10
	status, res := ts.post("/api/process-operations/quick", map[string]any{
		"operation_type": "ASSEMBLY", "input_item_id": in.ID, "output_item_id": out.ID,
		"input_quantity": "10", "output_quantity": "10",
	})

	// THEN: Conflict, and the created operation was cancelled
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INSUFFICIENT_STOCK", res.Code)
	status, res = ts.get("/api/process-operations?status=CANCELLED")
	require.Equal(t, http.StatusOK, status)
	ops := decodeData[[]OperationDTO](t, res)
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Notes, "빠른 처리 실패")
}

func TestProcessOperation_SameInputOutputRejected(t *testing.T) {
	ts := memoryServer(t)
	in := ts.createItem("SAME", "동일")

	status, res := ts.post("/api/process-operations", map[string]any{
		"operation_type": "PRESS", "input_item_id": in.ID, "output_item_id": in.ID,
		"input_quantity": "1", "output_quantity": "1",
	})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "output_item_id", res.Field)
}

func TestListOperations_InvalidStatus(t *testing.T) {
	ts := memoryServer(t)

	status, res := ts.get("/api/process-operations?status=DONE")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "status", res.Field)
}

// =============================================================================
// ITEMS / ADMIN / MIDDLEWARE
// =============================================================================

func TestItemHistoryAndReconcile(t *testing.T) {
	// GIVEN: Two receipts and a shipment
	ts := memoryServer(t)
	item := ts.createItem("H-01", "이력 품목")
	ts.receive(item.ID, "10")
	ts.receive(item.ID, "5")
	status, _ := ts.record(map[string]any{"transaction_type": "SHIPMENT", "item_id": item.ID, "quantity": "3"})
	require.Equal(t, http.StatusCreated, status)

	// WHEN: Reading history and reconciling
	status, res := ts.get(fmt.Sprintf("/api/items/%d/history", item.ID))
	require.Equal(t, http.StatusOK, status)
	history := decodeData[[]StockHistoryDTO](t, res)

	// THEN: Three rows newest first, and the item is consistent
	require.Len(t, history, 3)
	assert.True(t, history[0].QuantityChange.Equal(decimal.NewFromInt(-3)))
	assert.True(t, history[0].StockAfter.Equal(decimal.NewFromInt(12)))

	status, res = ts.get(fmt.Sprintf("/api/items/%d/reconcile", item.ID))
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[ReconcileDTO](t, res).Consistent)
}

func TestSetItemActive_InactiveItemRejectsTransactions(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("OFF-01", "비활성 품목")

	raw, _ := json.Marshal(map[string]any{"is_active": false})
	status, res := ts.do(http.MethodPut, fmt.Sprintf("/api/items/%d/active", item.ID), raw)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decodeData[ItemDTO](t, res).IsActive)

	status, res = ts.record(map[string]any{"transaction_type": "RECEIPT", "item_id": item.ID, "quantity": "1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, res.Error, "비활성화된 품목")
}

func TestRunReconciliation_RecordsRun(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("R-01", "감사 품목")
	ts.receive(item.ID, "7")

	status, res := ts.post("/api/admin/reconciliation", map[string]any{})
	require.Equal(t, http.StatusOK, status)
	run := decodeData[ReconciliationRunDTO](t, res)
	assert.Equal(t, 1, run.ItemsChecked)
	assert.Zero(t, run.DriftCount)

	status, res = ts.get("/api/admin/reconciliation/runs")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]ReconciliationRunDTO](t, res), 1)
}

// =============================================================================
// SHIPPING / BATCH / TRACEABILITY
// =============================================================================

func TestCheckStock_ReportsEachLine(t *testing.T) {
	// GIVEN: 10 of A and nothing of B
	ts := memoryServer(t)
	a := ts.createItem("SC-A", "출하 A")
	b := ts.createItem("SC-B", "출하 B")
	ts.receive(a.ID, "10")

	// WHEN: Checking 4 of A, 2 of B and an unknown item
	status, res := ts.post("/api/shipping/stock-check", map[string]any{"items": []map[string]any{
		{"item_id": a.ID, "quantity": "4"},
		{"item_id": b.ID, "quantity": "2"},
		{"item_id": 9999, "quantity": "1"},
	}})

	// THEN: A is covered, B is short, the unknown line carries an error
	require.Equal(t, http.StatusOK, status, "%+v", res.Error)
	out := decodeData[StockCheckDTO](t, res)
	assert.False(t, out.CanShipAll)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].Sufficient)
	require.NotNil(t, out.Results[1].Shortage)
	assert.True(t, out.Results[1].Shortage.Equal(decimal.NewFromInt(2)))
	assert.NotEmpty(t, out.Results[2].Error)
	assert.Nil(t, out.Results[2].CurrentStock)
	assert.Equal(t, 1, out.Summary.Errors)
	assert.True(t, out.Summary.FulfillmentRate.Equal(decimal.NewFromInt(50)))

	// AND: Stock is untouched
	assert.True(t, ts.stock(a.ID).Equal(decimal.NewFromInt(10)))
}

func TestCheckStock_Validation(t *testing.T) {
	ts := memoryServer(t)
	a := ts.createItem("SC-V", "검증")

	status, res := ts.post("/api/shipping/stock-check", map[string]any{"items": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "items", res.Field)

	status, res = ts.post("/api/shipping/stock-check", map[string]any{"items": []map[string]any{
		{"item_id": a.ID, "quantity": "1"},
		{"item_id": a.ID, "quantity": "0"},
	}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", res.Code)
	assert.Equal(t, "items[1].quantity", res.Field)
}

func TestCreateProductionBatch(t *testing.T) {
	for name, ts := range map[string]*testServer{"memory": memoryServer(t), "sqlite": sqliteServer(t)} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Parent P needs 2 of C per unit, C stock 10, and a plain item Q
			parent := ts.createItem("BP-"+name, "완제품")
			child := ts.createItem("BC-"+name, "부품")
			plain := ts.createItem("BQ-"+name, "단품")
			ts.receive(child.ID, "10")
			status, res := ts.post("/api/bom", map[string]any{
				"parent_item_id": parent.ID, "child_item_id": child.ID, "quantity_required": "2",
			})
			require.Equal(t, http.StatusCreated, status, "%+v", res.Error)

			// WHEN: A batch asks for 6 parents, which needs 12 of C
			status, res = ts.post("/api/transactions/production-batch", map[string]any{
				"transaction_date": "2025-03-14",
				"items": []map[string]any{
					{"item_id": plain.ID, "quantity": "5"},
					{"item_id": parent.ID, "quantity": "6"},
				},
			})

			// THEN: The batch is a conflict and the plain line was not kept
			require.Equal(t, http.StatusConflict, status)
			assert.Equal(t, "INSUFFICIENT_STOCK", res.Code)
			assert.True(t, ts.stock(plain.ID).IsZero())
			assert.True(t, ts.stock(child.ID).Equal(decimal.NewFromInt(10)))

			// WHEN: The batch fits
			status, res = ts.post("/api/transactions/production-batch", map[string]any{
				"transaction_date": "2025-03-14",
				"reference_number": "WO-1",
				"items": []map[string]any{
					{"item_id": plain.ID, "quantity": "5"},
					{"item_id": parent.ID, "quantity": "4"},
				},
			})

			// THEN: Both rows are created and the child is deducted
			require.Equal(t, http.StatusCreated, status, "%+v", res.Error)
			out := decodeData[BatchProductionDTO](t, res)
			assert.Equal(t, 2, out.Count)
			require.Len(t, out.Transactions, 2)
			assert.Equal(t, "PRODUCTION_IN", out.Transactions[1].Transaction.TransactionType)
			require.Len(t, out.Transactions[1].Transaction.Deductions, 1)
			assert.True(t, ts.stock(plain.ID).Equal(decimal.NewFromInt(5)))
			assert.True(t, ts.stock(parent.ID).Equal(decimal.NewFromInt(4)))
			assert.True(t, ts.stock(child.ID).Equal(decimal.NewFromInt(2)))
		})
	}
}

func TestCreateProductionBatch_RequiresDate(t *testing.T) {
	ts := memoryServer(t)
	item := ts.createItem("BD-01", "날짜")

	status, res := ts.post("/api/transactions/production-batch", map[string]any{
		"items": []map[string]any{{"item_id": item.ID, "quantity": "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "transaction_date", res.Field)
}

func TestItemTraceability(t *testing.T) {
	// GIVEN: A completed blanking run from coil to blank
	ts := memoryServer(t)
	coil := ts.createItem("TR-COIL", "코일")
	blank := ts.createItem("TR-BLANK", "블랭크")
	ts.receive(coil.ID, "100")
	status, res := ts.post("/api/process-operations/quick", map[string]any{
		"operation_type": "BLANKING", "input_item_id": coil.ID, "output_item_id": blank.ID,
		"input_quantity": "10", "output_quantity": "9",
	})
	require.Equal(t, http.StatusCreated, status, "%+v", res.Error)
	op := decodeData[OperationDTO](t, res)

	// WHEN: Tracing the blank
	status, res = ts.get(fmt.Sprintf("/api/items/%d/traceability", blank.ID))

	// THEN: The run is upstream and its lot is listed
	require.Equal(t, http.StatusOK, status, "%+v", res.Error)
	tr := decodeData[TraceabilityDTO](t, res)
	require.Len(t, tr.Upstream, 1)
	assert.Equal(t, op.ID, tr.Upstream[0].ID)
	assert.Empty(t, tr.Downstream)
	assert.Equal(t, []string{op.LotNumber}, tr.Lots)

	// AND: Bad dates are rejected
	status, res = ts.get(fmt.Sprintf("/api/items/%d/traceability?start_date=2025/01/01", blank.ID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "start_date", res.Field)
	status, res = ts.get(fmt.Sprintf("/api/items/%d/traceability?start_date=2025-02-01&end_date=2025-01-01", blank.ID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "start_date", res.Field)
}

func TestAuthorizer_DeniesRequest(t *testing.T) {
	// GIVEN: An authorizer that rejects everything but GET
	ts := newTestServer(t, store.NewMemory(), RouterOptions{
		Authorizer: AuthorizerFunc(func(r *http.Request) error {
			if r.Method != http.MethodGet {
				return errors.New("쓰기 권한이 없습니다.")
			}
			return nil
		}),
	})

	// WHEN: Creating an item
	status, res := ts.post("/api/items", map[string]any{"item_code": "X", "item_name": "X"})

	// THEN: 403, while reads still work
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", res.Code)
	status, _ = ts.get("/api/items")
	assert.Equal(t, http.StatusOK, status)
}

func TestHealth(t *testing.T) {
	ts := sqliteServer(t)

	status, res := ts.get("/api/health")

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
}

func TestPathID_Invalid(t *testing.T) {
	ts := memoryServer(t)

	status, res := ts.get("/api/items/abc")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.True(t, strings.HasPrefix(res.Error, "유효하지 않은 ID"))
}

func TestClassify_StorageErrors(t *testing.T) {
	status, body := classify(&inventory.StorageError{Op: "x", Err: errors.New("locked"), Retryable: true})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORAGE_UNAVAILABLE", body.Code)

	status, body = classify(&inventory.StorageError{Op: "x", Err: errors.New("disk full")})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
}
