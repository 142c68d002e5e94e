/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response,
  body decoding and validation, and delegates to inventory.Engine.

ENDPOINTS:
  Items:
    GET    /api/items                       List items
    POST   /api/items                       Create item (zero stock)
    GET    /api/items/{id}                  Item with current stock
    PUT    /api/items/{id}/active           Activate / deactivate
    GET    /api/items/{id}/history          Stock history, newest first
    GET    /api/items/{id}/reconcile        Stock vs. history audit
    GET    /api/items/{id}/traceability     Producing / consuming operations

  Partners:
    POST   /api/partners                    Create partner

  BOM:
    POST   /api/bom                         Add edge (cycle-checked)
    GET    /api/bom/{parentId}              Active edges of a parent
    GET    /api/bom/{parentId}/preview      Availability for ?quantity=

  Transactions:
    POST   /api/transactions                Record a ledger entry
    GET    /api/transactions                page/limit or cursor/direction
    GET    /api/transactions/{id}           Entry with BOM deductions
    POST   /api/transactions/production-batch  Several PRODUCTION_IN, one unit

  Process operations:
    POST   /api/process-operations          Create (PENDING)
    POST   /api/process-operations/quick    Create + complete
    GET    /api/process-operations          List with filters
    GET    /api/process-operations/{id}     One operation
    POST   /api/process-operations/{id}/start|complete|cancel
    GET    /api/process-chains/{chainId}    Chain in sequence order

  Shipping:
    POST   /api/shipping/stock-check        Read-only availability per line

  Admin:
    POST   /api/admin/reconciliation        Audit every item now
    GET    /api/admin/reconciliation/runs   Past audit runs

REQUEST FLOW:
  1. Read the raw body, reject invalid UTF-8
  2. Unmarshal and validate struct tags
  3. Call the engine
  4. Render the envelope, or map the error to a status

ERROR HANDLING:
  400: validation, BOM cycle
  404: record not found
  409: insufficient stock, invalid state transition
  500: storage / internal (503 when retryable)
  Server-side failures are logged with module, function, request ID and
  input before the response is written.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *inventory.Engine
	Log    logrus.FieldLogger

	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64

	validate  *validator.Validate
	startedAt time.Time
}

// NewHandler creates a handler around engine.
func NewHandler(engine *inventory.Engine, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{
		Engine:    engine,
		Log:       log,
		validate:  newValidator(),
		startedAt: time.Now(),
	}
}

// newValidator reports json field names and validates decimals by value.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if p, ok := h.Engine.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logging.LogError(h.Log, "api", "Health", middleware.GetReqID(r.Context()), nil, err)
			writeJSON(w, http.StatusServiceUnavailable, failure("STORAGE_UNAVAILABLE", "데이터베이스에 연결할 수 없습니다."))
			return
		}
	}
	writeData(w, http.StatusOK, data)
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.ListItems(r.Context())
	if err != nil {
		h.fail(w, r, "ListItems", err, nil)
		return
	}
	dtos := make([]ItemDTO, 0, len(items))
	for _, i := range items {
		dtos = append(dtos, toItemDTO(i))
	}
	writeData(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreateItem", err, nil)
		return
	}
	item := &inventory.Item{
		Code:        req.ItemCode,
		Name:        req.ItemName,
		Unit:        req.Unit,
		Spec:        req.Spec,
		SafetyStock: req.SafetyStock,
		IsActive:    true,
	}
	if err := h.Engine.CreateItem(r.Context(), item); err != nil {
		h.fail(w, r, "CreateItem", err, req)
		return
	}
	writeData(w, http.StatusCreated, toItemDTO(*item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "GetItem", err, nil)
		return
	}
	item, err := h.Engine.GetItem(r.Context(), inventory.ItemID(id))
	if err != nil {
		h.fail(w, r, "GetItem", err, id)
		return
	}
	writeData(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) SetItemActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "SetItemActive", err, nil)
		return
	}
	var req SetItemActiveRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "SetItemActive", err, nil)
		return
	}
	item, err := h.Engine.SetItemActive(r.Context(), inventory.ItemID(id), *req.IsActive)
	if err != nil {
		h.fail(w, r, "SetItemActive", err, id)
		return
	}
	writeData(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "ItemHistory", err, nil)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, "ItemHistory", err, nil)
		return
	}
	rows, err := h.Engine.History(r.Context(), inventory.ItemID(id), limit)
	if err != nil {
		h.fail(w, r, "ItemHistory", err, id)
		return
	}
	dtos := make([]StockHistoryDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, toHistoryDTO(row))
	}
	writeData(w, http.StatusOK, dtos)
}

func (h *Handler) ReconcileItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "ReconcileItem", err, nil)
		return
	}
	drift, err := h.Engine.Reconciler.Check(r.Context(), inventory.ItemID(id))
	if err != nil {
		h.fail(w, r, "ReconcileItem", err, id)
		return
	}
	dto := ReconcileDTO{ItemID: id, Consistent: drift == nil}
	if drift != nil {
		d := toDriftDTO(*drift)
		dto.Drift = &d
	}
	writeData(w, http.StatusOK, dto)
}

// =============================================================================
// PARTNER HANDLERS
// =============================================================================

func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	var req CreatePartnerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreatePartner", err, nil)
		return
	}
	p := &inventory.Partner{Code: req.PartnerCode, Name: req.PartnerName, IsActive: true}
	if err := h.Engine.CreatePartner(r.Context(), p); err != nil {
		h.fail(w, r, "CreatePartner", err, req)
		return
	}
	writeData(w, http.StatusCreated, PartnerDTO{
		ID:          int64(p.ID),
		PartnerCode: p.Code,
		PartnerName: p.Name,
		IsActive:    p.IsActive,
	})
}

// =============================================================================
// BOM HANDLERS
// =============================================================================

func (h *Handler) CreateBOM(w http.ResponseWriter, r *http.Request) {
	var req CreateBOMRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreateBOM", err, nil)
		return
	}
	e := &inventory.BOMEdge{
		ParentItemID:     inventory.ItemID(req.ParentItemID),
		ChildItemID:      inventory.ItemID(req.ChildItemID),
		QuantityRequired: req.QuantityRequired,
		IsActive:         req.IsActive == nil || *req.IsActive,
	}
	if req.UsageRate != nil {
		e.UsageRate = *req.UsageRate
	}
	if err := h.Engine.BOM.SaveEdge(r.Context(), e); err != nil {
		h.fail(w, r, "CreateBOM", err, req)
		return
	}
	writeData(w, http.StatusCreated, toEdgeDTO(*e))
}

func (h *Handler) ListBOM(w http.ResponseWriter, r *http.Request) {
	parent, err := pathID(r, "parentId")
	if err != nil {
		h.fail(w, r, "ListBOM", err, nil)
		return
	}
	edges, err := h.Engine.BOM.Edges(r.Context(), inventory.ItemID(parent))
	if err != nil {
		h.fail(w, r, "ListBOM", err, parent)
		return
	}
	dtos := make([]BOMEdgeDTO, 0, len(edges))
	for _, e := range edges {
		dtos = append(dtos, toEdgeDTO(e))
	}
	writeData(w, http.StatusOK, dtos)
}

func (h *Handler) PreviewBOM(w http.ResponseWriter, r *http.Request) {
	parent, err := pathID(r, "parentId")
	if err != nil {
		h.fail(w, r, "PreviewBOM", err, nil)
		return
	}
	qty := decimal.NewFromInt(1)
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		qty, err = decimal.NewFromString(raw)
		if err != nil {
			h.fail(w, r, "PreviewBOM", &inventory.ValidationError{Field: "quantity", Message: "수량은 숫자여야 합니다."}, raw)
			return
		}
	}
	p, err := h.Engine.BOM.Preview(r.Context(), inventory.ItemID(parent), qty)
	if err != nil {
		h.fail(w, r, "PreviewBOM", err, parent)
		return
	}
	writeData(w, http.StatusOK, toPreviewDTO(p))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreateTransaction", err, nil)
		return
	}
	rec := inventory.RecordRequest{
		Type:            inventory.TransactionType(req.TransactionType),
		ItemID:          inventory.ItemID(req.ItemID),
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		TaxRate:         req.TaxRate,
		Direction:       inventory.AdjustmentDirection(req.Direction),
		WarehouseID:     req.WarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		LotNumber:       req.LotNumber,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	}
	if req.PartnerID != nil {
		p := inventory.PartnerID(*req.PartnerID)
		rec.PartnerID = &p
	}
	if req.TransactionDate != "" {
		d, err := time.ParseInLocation(dateLayout, req.TransactionDate, time.UTC)
		if err != nil {
			h.fail(w, r, "CreateTransaction", &inventory.ValidationError{Field: "transaction_date", Message: "거래일은 YYYY-MM-DD 형식이어야 합니다."}, req)
			return
		}
		rec.TransactionDate = d
	}

	res, err := h.Engine.Ledger.Record(r.Context(), rec)
	if err != nil {
		h.fail(w, r, "CreateTransaction", err, req)
		return
	}
	dto := RecordResultDTO{
		Transaction: toTransactionDTO(res.Transaction),
		Movements:   make([]StockHistoryDTO, 0, len(res.Movements)),
	}
	dto.Transaction.Deductions = toDeductionDTOs(res.Deductions)
	for _, m := range res.Movements {
		dto.Movements = append(dto.Movements, toHistoryDTO(m.History))
	}
	writeData(w, http.StatusCreated, dto)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, p, err := parseLedgerQuery(r)
	if err != nil {
		h.fail(w, r, "ListTransactions", err, r.URL.RawQuery)
		return
	}
	page, err := h.Engine.Ledger.List(r.Context(), f, p)
	if err != nil {
		h.fail(w, r, "ListTransactions", err, r.URL.RawQuery)
		return
	}
	dtos := make([]TransactionDTO, 0, len(page.Transactions))
	for _, t := range page.Transactions {
		dtos = append(dtos, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: dtos, Pagination: toPaginationDTO(page.Page)})
}

func parseLedgerQuery(r *http.Request) (inventory.TransactionFilter, inventory.PageRequest, error) {
	q := r.URL.Query()
	var (
		f inventory.TransactionFilter
		p inventory.PageRequest
	)
	f.Type = inventory.TransactionType(strings.ToUpper(q.Get("transaction_type")))
	itemID, err := queryInt(r, "item_id")
	if err != nil {
		return f, p, err
	}
	f.ItemID = inventory.ItemID(itemID)
	for _, d := range []struct {
		key string
		dst **time.Time
	}{{"date_from", &f.DateFrom}, {"date_to", &f.DateTo}} {
		raw := q.Get(d.key)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return f, p, &inventory.ValidationError{Field: d.key, Message: "날짜는 YYYY-MM-DD 형식이어야 합니다."}
		}
		*d.dst = &t
	}
	if p.Page, err = queryInt(r, "page"); err != nil {
		return f, p, err
	}
	if p.Limit, err = queryInt(r, "limit"); err != nil {
		return f, p, err
	}
	p.Cursor = q.Get("cursor")
	p.Direction = inventory.PageDirection(strings.ToLower(q.Get("direction")))
	return f, p, nil
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "GetTransaction", err, nil)
		return
	}
	t, err := h.Engine.Ledger.Get(r.Context(), inventory.TransactionID(id))
	if err != nil {
		h.fail(w, r, "GetTransaction", err, id)
		return
	}
	dto := toTransactionDTO(*t)
	if t.Type == inventory.TxProductionIn {
		logs, err := h.Engine.Ledger.Deductions(r.Context(), t.ID)
		if err != nil {
			h.fail(w, r, "GetTransaction", err, id)
			return
		}
		dto.Deductions = toDeductionDTOs(logs)
	}
	writeData(w, http.StatusOK, dto)
}

func (h *Handler) CreateProductionBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchProductionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreateProductionBatch", err, nil)
		return
	}
	date, _ := time.ParseInLocation(dateLayout, req.TransactionDate, time.UTC)
	batch := inventory.BatchProductionRequest{
		TransactionDate: date,
		Lines:           make([]inventory.BatchLine, 0, len(req.Items)),
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	}
	for _, it := range req.Items {
		batch.Lines = append(batch.Lines, inventory.BatchLine{
			ItemID:    inventory.ItemID(it.ItemID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	results, err := h.Engine.Ledger.RecordProductionBatch(r.Context(), batch)
	if err != nil {
		h.fail(w, r, "CreateProductionBatch", err, req)
		return
	}
	dto := BatchProductionDTO{Transactions: make([]RecordResultDTO, 0, len(results)), Count: len(results)}
	for _, res := range results {
		one := RecordResultDTO{
			Transaction: toTransactionDTO(res.Transaction),
			Movements:   make([]StockHistoryDTO, 0, len(res.Movements)),
		}
		one.Transaction.Deductions = toDeductionDTOs(res.Deductions)
		for _, m := range res.Movements {
			one.Movements = append(one.Movements, toHistoryDTO(m.History))
		}
		dto.Transactions = append(dto.Transactions, one)
	}
	writeData(w, http.StatusCreated, dto)
}

// =============================================================================
// PROCESS OPERATION HANDLERS
// =============================================================================

func (req CreateOperationRequest) toEngine() inventory.CreateOperationRequest {
	out := inventory.CreateOperationRequest{
		OperationType:  inventory.OperationType(strings.ToUpper(strings.TrimSpace(req.OperationType))),
		InputItemID:    inventory.ItemID(req.InputItemID),
		OutputItemID:   inventory.ItemID(req.OutputItemID),
		InputQuantity:  req.InputQuantity,
		OutputQuantity: req.OutputQuantity,
		QualityStatus:  req.QualityStatus,
		OperatorID:     req.OperatorID,
		Notes:          req.Notes,
		ChainID:        req.ChainID,
		ChainSequence:  req.ChainSequence,
	}
	if req.ParentOperationID != nil {
		p := inventory.OperationID(*req.ParentOperationID)
		out.ParentOperationID = &p
	}
	return out
}

func (h *Handler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var req CreateOperationRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CreateOperation", err, nil)
		return
	}
	op, err := h.Engine.Process.Create(r.Context(), req.toEngine())
	if err != nil {
		h.fail(w, r, "CreateOperation", err, req)
		return
	}
	writeData(w, http.StatusCreated, toOperationDTO(*op))
}

func (h *Handler) QuickOperation(w http.ResponseWriter, r *http.Request) {
	var req QuickOperationRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "QuickOperation", err, nil)
		return
	}
	op, err := h.Engine.Process.Quick(r.Context(), req.toEngine(), inventory.CompleteRequest{
		ScrapQuantity: req.ScrapQuantity,
	})
	if err != nil {
		h.fail(w, r, "QuickOperation", err, req)
		return
	}
	writeData(w, http.StatusCreated, toOperationDTO(*op))
}

var operationStatuses = map[string]bool{
	string(inventory.OpPending):    true,
	string(inventory.OpInProgress): true,
	string(inventory.OpCompleted):  true,
	string(inventory.OpCancelled):  true,
}

func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.OperationFilter{
		OperationType: inventory.OperationType(strings.ToUpper(q.Get("operation_type"))),
		ChainID:       q.Get("chain_id"),
	}
	if s := strings.ToUpper(q.Get("status")); s != "" {
		if !operationStatuses[s] {
			h.fail(w, r, "ListOperations", &inventory.ValidationError{Field: "status", Message: "유효하지 않은 작업 상태입니다: " + s}, nil)
			return
		}
		f.Status = inventory.OperationStatus(s)
	}
	itemID, err := queryInt(r, "item_id")
	if err != nil {
		h.fail(w, r, "ListOperations", err, nil)
		return
	}
	f.ItemID = inventory.ItemID(itemID)
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, "ListOperations", err, nil)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		h.fail(w, r, "ListOperations", err, nil)
		return
	}
	ops, err := h.Engine.Process.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "ListOperations", err, r.URL.RawQuery)
		return
	}
	dtos := make([]OperationDTO, 0, len(ops))
	for _, op := range ops {
		dtos = append(dtos, toOperationDTO(op))
	}
	writeData(w, http.StatusOK, dtos)
}

func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "GetOperation", err, nil)
		return
	}
	op, err := h.Engine.Process.Get(r.Context(), inventory.OperationID(id))
	if err != nil {
		h.fail(w, r, "GetOperation", err, id)
		return
	}
	writeData(w, http.StatusOK, toOperationDTO(*op))
}

func (h *Handler) StartOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "StartOperation", err, nil)
		return
	}
	op, err := h.Engine.Process.Start(r.Context(), inventory.OperationID(id))
	if err != nil {
		h.fail(w, r, "StartOperation", err, id)
		return
	}
	writeData(w, http.StatusOK, toOperationDTO(*op))
}

func (h *Handler) CompleteOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "CompleteOperation", err, nil)
		return
	}
	var req CompleteOperationRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, "CompleteOperation", err, id)
		return
	}
	op, err := h.Engine.Process.Complete(r.Context(), inventory.OperationID(id), inventory.CompleteRequest{
		InputQuantity:  req.InputQuantity,
		OutputQuantity: req.OutputQuantity,
		ScrapQuantity:  req.ScrapQuantity,
		QualityStatus:  req.QualityStatus,
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(w, r, "CompleteOperation", err, id)
		return
	}
	writeData(w, http.StatusOK, toOperationDTO(*op))
}

func (h *Handler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "CancelOperation", err, nil)
		return
	}
	var req CancelOperationRequest
	if err := h.decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, "CancelOperation", err, id)
		return
	}
	op, err := h.Engine.Process.Cancel(r.Context(), inventory.OperationID(id), req.Reason)
	if err != nil {
		h.fail(w, r, "CancelOperation", err, id)
		return
	}
	writeData(w, http.StatusOK, toOperationDTO(*op))
}

func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainId")
	ops, err := h.Engine.Process.Chain(r.Context(), chainID)
	if err != nil {
		h.fail(w, r, "GetChain", err, chainID)
		return
	}
	if len(ops) == 0 {
		writeJSON(w, http.StatusNotFound, failure("NOT_FOUND", fmt.Sprintf("공정 체인(%s)을 찾을 수 없습니다.", chainID)))
		return
	}
	dto := ChainDTO{ChainID: chainID, Total: len(ops)}
	for _, op := range ops {
		if op.Status == inventory.OpCompleted {
			dto.Completed++
		}
		dto.Operations = append(dto.Operations, toOperationDTO(op))
	}
	writeData(w, http.StatusOK, dto)
}

// ItemTraceability accepts optional start_date and end_date (YYYY-MM-DD).
func (h *Handler) ItemTraceability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, "ItemTraceability", err, nil)
		return
	}
	var f inventory.TraceFilter
	for _, d := range []struct {
		key string
		dst **time.Time
	}{{"start_date", &f.From}, {"end_date", &f.To}} {
		raw := r.URL.Query().Get(d.key)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			h.fail(w, r, "ItemTraceability", &inventory.ValidationError{Field: d.key, Message: "날짜는 YYYY-MM-DD 형식이어야 합니다."}, raw)
			return
		}
		*d.dst = &t
	}
	tr, err := h.Engine.Process.Trace(r.Context(), inventory.ItemID(id), f)
	if err != nil {
		h.fail(w, r, "ItemTraceability", err, id)
		return
	}
	writeData(w, http.StatusOK, toTraceabilityDTO(tr))
}

// =============================================================================
// SHIPPING HANDLERS
// =============================================================================

func (h *Handler) CheckStock(w http.ResponseWriter, r *http.Request) {
	var req StockCheckRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "CheckStock", err, nil)
		return
	}
	lines := make([]inventory.StockRequest, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, inventory.StockRequest{ItemID: inventory.ItemID(it.ItemID), Quantity: it.Quantity})
	}
	rep, err := h.Engine.Ledger.CheckAvailability(r.Context(), lines)
	if err != nil {
		h.fail(w, r, "CheckStock", err, req)
		return
	}
	writeData(w, http.StatusOK, toStockCheckDTO(rep))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Reconciler.CheckAll(r.Context())
	if err != nil {
		h.fail(w, r, "RunReconciliation", err, nil)
		return
	}
	writeData(w, http.StatusOK, toRunDTO(*run))
}

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, "ListReconciliationRuns", err, nil)
		return
	}
	runs, err := h.Engine.Reconciler.Runs(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "ListReconciliationRuns", err, nil)
		return
	}
	dtos := make([]ReconciliationRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeData(w, http.StatusOK, dtos)
}

// =============================================================================
// DECODING
// =============================================================================

const defaultMaxBodyBytes = 1 << 20

// decode reads the raw body, rejects invalid UTF-8 before json sees it,
// then unmarshals and validates into dst.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return &inventory.ValidationError{Field: "body", Message: "요청 본문이 비어 있습니다."}
	}
	return h.unmarshal(body, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := h.readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return h.unmarshal(body, dst)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &inventory.ValidationError{Field: "body", Message: "요청 본문이 너무 큽니다."}
		}
		return nil, &inventory.ValidationError{Field: "body", Message: "요청 본문을 읽을 수 없습니다."}
	}
	return bytes.TrimSpace(body), nil
}

func (h *Handler) unmarshal(body []byte, dst any) error {
	if !utf8.Valid(body) {
		return &inventory.ValidationError{Field: "body", Message: "요청 본문이 올바른 UTF-8 인코딩이 아닙니다."}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &inventory.ValidationError{Field: typeErr.Field, Message: "값의 형식이 올바르지 않습니다."}
		}
		return &inventory.ValidationError{Field: "body", Message: "JSON 형식이 올바르지 않습니다."}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &inventory.ValidationError{Field: fieldPath(verrs[0]), Message: fieldMessage(verrs[0])}
		}
		return &inventory.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// fieldPath is the JSON path of fe without the request struct name, e.g.
// items[1].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "필수 항목입니다."
	case "gt":
		return fmt.Sprintf("%s보다 커야 합니다.", fe.Param())
	case "gte":
		return fmt.Sprintf("%s 이상이어야 합니다.", fe.Param())
	case "lte":
		return fmt.Sprintf("%s 이하여야 합니다.", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("최대 %s개까지 요청할 수 있습니다.", fe.Param())
		}
		return fmt.Sprintf("최대 %s자까지 입력할 수 있습니다.", fe.Param())
	case "min":
		return fmt.Sprintf("최소 %s개 이상이어야 합니다.", fe.Param())
	case "oneof":
		return fmt.Sprintf("다음 중 하나여야 합니다: %s", fe.Param())
	case "nefield":
		return "투입 품목과 산출 품목이 같을 수 없습니다."
	case "datetime":
		return "YYYY-MM-DD 형식이어야 합니다."
	}
	return "값이 올바르지 않습니다."
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &inventory.ValidationError{Field: name, Message: "유효하지 않은 ID입니다: " + raw}
	}
	return id, nil
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &inventory.ValidationError{Field: name, Message: "0 이상의 정수여야 합니다."}
	}
	return n, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// fail maps err to a status and error body. Server-side failures are
// logged with their context first.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, funcName string, err error, data any) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(h.Log, "api", funcName, middleware.GetReqID(r.Context()), data, err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, Envelope) {
	var (
		short      *inventory.InsufficientStockError
		transition *inventory.InvalidTransitionError
		cycle      *inventory.BOMCycleError
		invalid    *inventory.ValidationError
	)
	switch {
	case errors.As(err, &short):
		return http.StatusConflict, Envelope{
			Code:    "INSUFFICIENT_STOCK",
			Error:   short.Error(),
			Details: map[string]any{
				"item_id":   int64(short.ItemID),
				"item_name": short.ItemName,
				"required":  short.Required,
				"available": short.Available,
				"shortage":  short.Shortfall(),
			},
		}
	case errors.As(err, &transition):
		return http.StatusConflict, Envelope{
			Code:    "INVALID_STATE_TRANSITION",
			Error:   transition.Error(),
			Details: map[string]any{
				"operation_id": int64(transition.OperationID),
				"from":         transition.From,
				"to":           transition.To,
			},
		}
	case errors.As(err, &cycle):
		path := make([]int64, len(cycle.Path))
		for i, id := range cycle.Path {
			path[i] = int64(id)
		}
		return http.StatusBadRequest, Envelope{Code: "BOM_CYCLE", Error: cycle.Error(), Details: map[string]any{"path": path}}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, Envelope{Code: "VALIDATION_ERROR", Error: invalid.Message, Field: invalid.Field}
	case inventory.IsNotFound(err):
		var nf *inventory.NotFoundError
		msg := "요청한 데이터를 찾을 수 없습니다."
		if errors.As(err, &nf) {
			msg = nf.Error()
		}
		return http.StatusNotFound, failure("NOT_FOUND", msg)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, failure("TIMEOUT", "요청 처리 시간이 초과되었습니다.")
	case errors.Is(err, inventory.ErrDuplicateSerial), inventory.IsRetryable(err):
		return http.StatusServiceUnavailable, failure("STORAGE_UNAVAILABLE", "일시적인 저장소 오류입니다. 잠시 후 다시 시도해 주세요.")
	}
	return http.StatusInternalServerError, failure("INTERNAL_ERROR", "서버 내부 오류가 발생했습니다.")
}
