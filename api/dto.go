/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Decimals travel as strings ("12.50") and are
  accepted as either JSON strings or numbers. Times are RFC 3339 in UTC;
  transaction dates are YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO:      response bodies
  - *Request:  request bodies (validated with go-playground/validator tags)

ENVELOPE:
  Every response is {success, data?, error?, pagination?}. error is the
  Korean message as a plain string; failures also carry code, and field or
  details when the cause has them.

SEE ALSO:
  - handlers.go: decodes requests and renders these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// ENVELOPE
// =============================================================================

type Envelope struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`
	Field      string         `json:"field,omitempty"`
	Details    any            `json:"details,omitempty"`
	Pagination *PaginationDTO `json:"pagination,omitempty"`
}

func failure(code, message string) Envelope {
	return Envelope{Success: false, Error: message, Code: code}
}

// PaginationDTO carries either the offset fields or the cursor fields.
type PaginationDTO struct {
	Page       int    `json:"page,omitempty"`
	Limit      int    `json:"limit"`
	TotalCount int    `json:"total_count,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
	PrevCursor string `json:"prev_cursor,omitempty"`
	HasNext    bool   `json:"has_next"`
	HasPrev    bool   `json:"has_prev"`
}

func toPaginationDTO(p inventory.PageInfo) *PaginationDTO {
	return &PaginationDTO{
		Page:       p.Page,
		Limit:      p.Limit,
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages,
		NextCursor: p.NextCursor,
		PrevCursor: p.PrevCursor,
		HasNext:    p.HasNext,
		HasPrev:    p.HasPrev,
	}
}

// =============================================================================
// ITEMS / PARTNERS
// =============================================================================

type CreateItemRequest struct {
	ItemCode    string          `json:"item_code" validate:"required,max=50"`
	ItemName    string          `json:"item_name" validate:"required,max=200"`
	Unit        string          `json:"unit" validate:"max=20"`
	Spec        string          `json:"spec" validate:"max=500"`
	SafetyStock decimal.Decimal `json:"safety_stock" validate:"gte=0"`
}

type SetItemActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type ItemDTO struct {
	ID               int64           `json:"item_id"`
	ItemCode         string          `json:"item_code"`
	ItemName         string          `json:"item_name"`
	Unit             string          `json:"unit,omitempty"`
	Spec             string          `json:"spec,omitempty"`
	CurrentStock     decimal.Decimal `json:"current_stock"`
	SafetyStock      decimal.Decimal `json:"safety_stock"`
	BelowSafetyStock bool            `json:"below_safety_stock"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func toItemDTO(i inventory.Item) ItemDTO {
	return ItemDTO{
		ID:               int64(i.ID),
		ItemCode:         i.Code,
		ItemName:         i.Name,
		Unit:             i.Unit,
		Spec:             i.Spec,
		CurrentStock:     i.CurrentStock,
		SafetyStock:      i.SafetyStock,
		BelowSafetyStock: i.BelowSafetyStock(),
		IsActive:         i.IsActive,
		CreatedAt:        fmtTime(i.CreatedAt),
		UpdatedAt:        fmtTime(i.UpdatedAt),
	}
}

type CreatePartnerRequest struct {
	PartnerCode string `json:"partner_code" validate:"required,max=50"`
	PartnerName string `json:"partner_name" validate:"required,max=200"`
}

type PartnerDTO struct {
	ID          int64  `json:"partner_id"`
	PartnerCode string `json:"partner_code"`
	PartnerName string `json:"partner_name"`
	IsActive    bool   `json:"is_active"`
}

type StockHistoryDTO struct {
	ID             int64           `json:"history_id"`
	ItemID         int64           `json:"item_id"`
	MovementType   string          `json:"movement_type"`
	QuantityChange decimal.Decimal `json:"quantity_change"`
	StockBefore    decimal.Decimal `json:"stock_before"`
	StockAfter     decimal.Decimal `json:"stock_after"`
	TransactionID  *int64          `json:"transaction_id,omitempty"`
	OperationID    *int64          `json:"operation_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toHistoryDTO(h inventory.StockHistory) StockHistoryDTO {
	dto := StockHistoryDTO{
		ID:             int64(h.ID),
		ItemID:         int64(h.ItemID),
		MovementType:   string(h.MovementType),
		QuantityChange: h.QuantityChange,
		StockBefore:    h.StockBefore,
		StockAfter:     h.StockAfter,
		Reason:         h.Reason,
		CreatedAt:      fmtTime(h.CreatedAt),
	}
	if h.TransactionID != nil {
		v := int64(*h.TransactionID)
		dto.TransactionID = &v
	}
	if h.OperationID != nil {
		v := int64(*h.OperationID)
		dto.OperationID = &v
	}
	return dto
}

type StockDriftDTO struct {
	ItemID       int64           `json:"item_id"`
	ItemCode     string          `json:"item_code"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	HistorySum   decimal.Decimal `json:"history_sum"`
	Difference   decimal.Decimal `json:"difference"`
}

func toDriftDTO(d inventory.StockDrift) StockDriftDTO {
	return StockDriftDTO{
		ItemID:       int64(d.ItemID),
		ItemCode:     d.ItemCode,
		CurrentStock: d.CurrentStock,
		HistorySum:   d.HistorySum,
		Difference:   d.Difference,
	}
}

// ReconcileDTO is the per-item audit result.
type ReconcileDTO struct {
	ItemID     int64          `json:"item_id"`
	Consistent bool           `json:"consistent"`
	Drift      *StockDriftDTO `json:"drift,omitempty"`
}

type ReconciliationRunDTO struct {
	ID           int64           `json:"run_id"`
	StartedAt    string          `json:"started_at"`
	CompletedAt  string          `json:"completed_at"`
	ItemsChecked int             `json:"items_checked"`
	DriftCount   int             `json:"drift_count"`
	Drifts       []StockDriftDTO `json:"drifts"`
	Error        string          `json:"error,omitempty"`
}

func toRunDTO(r inventory.ReconciliationRun) ReconciliationRunDTO {
	drifts := make([]StockDriftDTO, 0, len(r.Drifts))
	for _, d := range r.Drifts {
		drifts = append(drifts, toDriftDTO(d))
	}
	return ReconciliationRunDTO{
		ID:           r.ID,
		StartedAt:    fmtTime(r.StartedAt),
		CompletedAt:  fmtTime(r.CompletedAt),
		ItemsChecked: r.ItemsChecked,
		DriftCount:   len(r.Drifts),
		Drifts:       drifts,
		Error:        r.Error,
	}
}

// =============================================================================
// BOM
// =============================================================================

type CreateBOMRequest struct {
	ParentItemID     int64            `json:"parent_item_id" validate:"required,gt=0"`
	ChildItemID      int64            `json:"child_item_id" validate:"required,gt=0"`
	QuantityRequired decimal.Decimal  `json:"quantity_required" validate:"gt=0"`
	UsageRate        *decimal.Decimal `json:"usage_rate" validate:"omitempty,gte=0"`
	IsActive         *bool            `json:"is_active"`
}

type BOMEdgeDTO struct {
	ID               int64           `json:"bom_id"`
	ParentItemID     int64           `json:"parent_item_id"`
	ChildItemID      int64           `json:"child_item_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
	UsageRate        decimal.Decimal `json:"usage_rate"`
	IsActive         bool            `json:"is_active"`
}

func toEdgeDTO(e inventory.BOMEdge) BOMEdgeDTO {
	return BOMEdgeDTO{
		ID:               int64(e.ID),
		ParentItemID:     int64(e.ParentItemID),
		ChildItemID:      int64(e.ChildItemID),
		QuantityRequired: e.QuantityRequired,
		UsageRate:        e.UsageRate,
		IsActive:         e.IsActive,
	}
}

type ComponentCheckDTO struct {
	BOMID         int64           `json:"bom_id"`
	ChildItemID   int64           `json:"child_item_id"`
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	PerUnit       decimal.Decimal `json:"per_unit"`
	Required      decimal.Decimal `json:"required"`
	Available     decimal.Decimal `json:"available"`
	Shortage      decimal.Decimal `json:"shortage"`
	Sufficient    bool            `json:"sufficient"`
	MaxProducible decimal.Decimal `json:"max_producible"`
}

type ProductionPreviewDTO struct {
	ParentItemID  int64               `json:"parent_item_id"`
	Quantity      decimal.Decimal     `json:"quantity"`
	CanProduce    bool                `json:"can_produce"`
	MaxProducible decimal.Decimal     `json:"max_producible"`
	Components    []ComponentCheckDTO `json:"components"`
	Bottleneck    *ComponentCheckDTO  `json:"bottleneck,omitempty"`
}

func toComponentDTO(c inventory.ComponentCheck) ComponentCheckDTO {
	return ComponentCheckDTO{
		BOMID:         int64(c.EdgeID),
		ChildItemID:   int64(c.ChildItemID),
		ItemCode:      c.ItemCode,
		ItemName:      c.ItemName,
		PerUnit:       c.PerUnit,
		Required:      c.Required,
		Available:     c.Available,
		Shortage:      c.Shortage,
		Sufficient:    c.Sufficient,
		MaxProducible: c.MaxProducible,
	}
}

func toPreviewDTO(p *inventory.ProductionPreview) ProductionPreviewDTO {
	dto := ProductionPreviewDTO{
		ParentItemID:  int64(p.ParentItemID),
		Quantity:      p.Quantity,
		CanProduce:    p.CanProduce,
		MaxProducible: p.MaxProducible,
		Components:    make([]ComponentCheckDTO, 0, len(p.Components)),
	}
	for _, c := range p.Components {
		dto.Components = append(dto.Components, toComponentDTO(c))
	}
	if p.Bottleneck != nil {
		b := toComponentDTO(*p.Bottleneck)
		dto.Bottleneck = &b
	}
	return dto
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type CreateTransactionRequest struct {
	TransactionType string           `json:"transaction_type" validate:"required,oneof=RECEIPT SHIPMENT PRODUCTION_IN PRODUCTION_OUT TRANSFER ADJUSTMENT SCRAP"`
	ItemID          int64            `json:"item_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"gt=0"`
	UnitPrice       decimal.Decimal  `json:"unit_price" validate:"gte=0"`
	TaxRate         *decimal.Decimal `json:"tax_rate" validate:"omitempty,gte=0,lte=100"`
	Direction       string           `json:"direction" validate:"omitempty,oneof=INCREASE DECREASE"`
	PartnerID       *int64           `json:"partner_id" validate:"omitempty,gt=0"`
	WarehouseID     *int64           `json:"warehouse_id"`
	ToWarehouseID   *int64           `json:"to_warehouse_id"`
	LotNumber       string           `json:"lot_number" validate:"max=50"`
	TransactionDate string           `json:"transaction_date" validate:"omitempty,datetime=2006-01-02"`
	ReferenceNumber string           `json:"reference_number" validate:"max=100"`
	Notes           string           `json:"notes" validate:"max=1000"`
	CreatedBy       string           `json:"created_by" validate:"max=100"`
}

type TransactionDTO struct {
	ID              int64           `json:"transaction_id"`
	TransactionType string          `json:"transaction_type"`
	TypeLabel       string          `json:"transaction_type_label"`
	ItemID          int64           `json:"item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SupplyAmount    decimal.Decimal `json:"supply_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DocumentNumber  string          `json:"document_number"`
	TransactionDate string          `json:"transaction_date"`
	PartnerID       *int64          `json:"partner_id,omitempty"`
	WarehouseID     *int64          `json:"warehouse_id,omitempty"`
	ToWarehouseID   *int64          `json:"to_warehouse_id,omitempty"`
	LotNumber       string          `json:"lot_number,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          string          `json:"status"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       string          `json:"created_at"`

	Deductions []DeductionLogDTO `json:"bom_deductions,omitempty"`
}

func toTransactionDTO(t inventory.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              int64(t.ID),
		TransactionType: string(t.Type),
		TypeLabel:       t.Type.Label(),
		ItemID:          int64(t.ItemID),
		Quantity:        t.Quantity,
		UnitPrice:       t.UnitPrice,
		SupplyAmount:    t.SupplyAmount,
		TaxAmount:       t.TaxAmount,
		TotalAmount:     t.TotalAmount,
		DocumentNumber:  t.DocumentNumber,
		TransactionDate: t.TransactionDate.Format(dateLayout),
		WarehouseID:     t.WarehouseID,
		ToWarehouseID:   t.ToWarehouseID,
		LotNumber:       t.LotNumber,
		ReferenceNumber: t.ReferenceNumber,
		Notes:           t.Notes,
		Status:          string(t.Status),
		CreatedBy:       t.CreatedBy,
		CreatedAt:       fmtTime(t.CreatedAt),
	}
	if t.PartnerID != nil {
		v := int64(*t.PartnerID)
		dto.PartnerID = &v
	}
	return dto
}

type DeductionLogDTO struct {
	ChildItemID      int64           `json:"child_item_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
	UsageRate        decimal.Decimal `json:"usage_rate"`
	DeductedQuantity decimal.Decimal `json:"deducted_quantity"`
	StockBefore      decimal.Decimal `json:"stock_before"`
	StockAfter       decimal.Decimal `json:"stock_after"`
}

func toDeductionDTOs(logs []inventory.BOMDeductionLog) []DeductionLogDTO {
	out := make([]DeductionLogDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, DeductionLogDTO{
			ChildItemID:      int64(l.ChildItemID),
			QuantityRequired: l.QuantityRequired,
			UsageRate:        l.UsageRate,
			DeductedQuantity: l.DeductedQuantity,
			StockBefore:      l.StockBefore,
			StockAfter:       l.StockAfter,
		})
	}
	return out
}

// RecordResultDTO is the response of POST /api/transactions.
type RecordResultDTO struct {
	Transaction TransactionDTO    `json:"transaction"`
	Movements   []StockHistoryDTO `json:"stock_movements"`
}

type BatchLineRequest struct {
	ItemID    int64           `json:"item_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type BatchProductionRequest struct {
	TransactionDate string             `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	Items           []BatchLineRequest `json:"items" validate:"required,min=1,max=200,dive"`
	ReferenceNumber string             `json:"reference_number" validate:"max=100"`
	Notes           string             `json:"notes" validate:"max=1000"`
	CreatedBy       string             `json:"created_by" validate:"max=100"`
}

type BatchProductionDTO struct {
	Transactions []RecordResultDTO `json:"transactions"`
	Count        int               `json:"count"`
}

// =============================================================================
// SHIPPING STOCK CHECK
// =============================================================================

type StockCheckLineRequest struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type StockCheckRequest struct {
	Items []StockCheckLineRequest `json:"items" validate:"required,min=1,max=200,dive"`
}

type StockCheckLineDTO struct {
	Index        int              `json:"index"`
	ItemID       int64            `json:"item_id"`
	ItemCode     string           `json:"item_code,omitempty"`
	ItemName     string           `json:"item_name,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	Requested    decimal.Decimal  `json:"requested_quantity"`
	CurrentStock *decimal.Decimal `json:"current_stock,omitempty"`
	Sufficient   bool             `json:"sufficient"`
	Shortage     *decimal.Decimal `json:"shortage,omitempty"`
	Availability *decimal.Decimal `json:"availability_percentage,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type StockCheckSummaryDTO struct {
	Requested       int             `json:"total_items_requested"`
	Valid           int             `json:"valid_items"`
	Errors          int             `json:"error_items"`
	Sufficient      int             `json:"sufficient_items"`
	Insufficient    int             `json:"insufficient_items"`
	FulfillmentRate decimal.Decimal `json:"fulfillment_rate"`
}

type StockCheckDTO struct {
	CanShipAll bool                 `json:"can_ship_all"`
	Results    []StockCheckLineDTO  `json:"stock_check_results"`
	Summary    StockCheckSummaryDTO `json:"summary"`
}

func toStockCheckDTO(rep *inventory.AvailabilityReport) StockCheckDTO {
	dto := StockCheckDTO{
		CanShipAll: rep.CanShipAll,
		Results:    make([]StockCheckLineDTO, 0, len(rep.Lines)),
		Summary: StockCheckSummaryDTO{
			Requested:       rep.Summary.Requested,
			Valid:           rep.Summary.Valid,
			Errors:          rep.Summary.Errors,
			Sufficient:      rep.Summary.Sufficient,
			Insufficient:    rep.Summary.Insufficient,
			FulfillmentRate: rep.Summary.FulfillmentRate,
		},
	}
	for _, l := range rep.Lines {
		line := StockCheckLineDTO{
			Index:      l.Index,
			ItemID:     int64(l.ItemID),
			ItemCode:   l.ItemCode,
			ItemName:   l.ItemName,
			Unit:       l.Unit,
			Requested:  l.Requested,
			Sufficient: l.Sufficient,
			Error:      l.Error,
		}
		if l.Error == "" {
			stock, short, pct := l.CurrentStock, l.Shortage, l.Availability
			line.CurrentStock, line.Shortage, line.Availability = &stock, &short, &pct
		}
		dto.Results = append(dto.Results, line)
	}
	return dto
}

// =============================================================================
// PROCESS OPERATIONS
// =============================================================================

type CreateOperationRequest struct {
	OperationType     string          `json:"operation_type" validate:"required,max=30"`
	InputItemID       int64           `json:"input_item_id" validate:"required,gt=0"`
	OutputItemID      int64           `json:"output_item_id" validate:"required,gt=0,nefield=InputItemID"`
	InputQuantity     decimal.Decimal `json:"input_quantity" validate:"gt=0"`
	OutputQuantity    decimal.Decimal `json:"output_quantity" validate:"gt=0"`
	QualityStatus     string          `json:"quality_status" validate:"max=30"`
	OperatorID        string          `json:"operator_id" validate:"max=100"`
	Notes             string          `json:"notes" validate:"max=1000"`
	ChainID           string          `json:"chain_id" validate:"max=100"`
	ChainSequence     int             `json:"chain_sequence" validate:"gte=0"`
	ParentOperationID *int64          `json:"parent_operation_id" validate:"omitempty,gt=0"`
}

type CompleteOperationRequest struct {
	InputQuantity  *decimal.Decimal `json:"input_quantity" validate:"omitempty,gt=0"`
	OutputQuantity *decimal.Decimal `json:"output_quantity" validate:"omitempty,gt=0"`
	ScrapQuantity  *decimal.Decimal `json:"scrap_quantity" validate:"omitempty,gte=0"`
	QualityStatus  *string          `json:"quality_status" validate:"omitempty,max=30"`
	Notes          *string          `json:"notes" validate:"omitempty,max=1000"`
}

type CancelOperationRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// QuickOperationRequest is a create request plus optional completion
// overrides.
type QuickOperationRequest struct {
	CreateOperationRequest
	ScrapQuantity *decimal.Decimal `json:"scrap_quantity" validate:"omitempty,gte=0"`
}

type OperationDTO struct {
	ID                int64            `json:"operation_id"`
	OperationType     string           `json:"operation_type"`
	OperationLabel    string           `json:"operation_type_label"`
	InputItemID       int64            `json:"input_item_id"`
	OutputItemID      int64            `json:"output_item_id"`
	InputQuantity     decimal.Decimal  `json:"input_quantity"`
	OutputQuantity    decimal.Decimal  `json:"output_quantity"`
	ScrapQuantity     decimal.Decimal  `json:"scrap_quantity"`
	Status            string           `json:"status"`
	StatusLabel       string           `json:"status_label"`
	LotNumber         string           `json:"lot_number,omitempty"`
	Efficiency        *decimal.Decimal `json:"efficiency,omitempty"`
	QualityStatus     string           `json:"quality_status,omitempty"`
	OperatorID        string           `json:"operator_id,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	ChainID           string           `json:"chain_id,omitempty"`
	ChainSequence     int              `json:"chain_sequence"`
	ParentOperationID *int64           `json:"parent_operation_id,omitempty"`
	ParentLotNumber   string           `json:"parent_lot_number,omitempty"`
	StartedAt         string           `json:"started_at,omitempty"`
	CompletedAt       string           `json:"completed_at,omitempty"`
	CreatedAt         string           `json:"created_at"`
	UpdatedAt         string           `json:"updated_at"`
}

func toOperationDTO(op inventory.ProcessOperation) OperationDTO {
	dto := OperationDTO{
		ID:              int64(op.ID),
		OperationType:   string(op.OperationType),
		OperationLabel:  op.OperationType.Label(),
		InputItemID:     int64(op.InputItemID),
		OutputItemID:    int64(op.OutputItemID),
		InputQuantity:   op.InputQuantity,
		OutputQuantity:  op.OutputQuantity,
		ScrapQuantity:   op.ScrapQuantity,
		Status:          string(op.Status),
		StatusLabel:     op.Status.Label(),
		LotNumber:       op.LotNumber,
		Efficiency:      op.Efficiency,
		QualityStatus:   op.QualityStatus,
		OperatorID:      op.OperatorID,
		Notes:           op.Notes,
		ChainID:         op.ChainID,
		ChainSequence:   op.ChainSequence,
		ParentLotNumber: op.ParentLotNumber,
		CreatedAt:       fmtTime(op.CreatedAt),
		UpdatedAt:       fmtTime(op.UpdatedAt),
	}
	if op.ParentOperationID != nil {
		v := int64(*op.ParentOperationID)
		dto.ParentOperationID = &v
	}
	if op.StartedAt != nil {
		dto.StartedAt = fmtTime(*op.StartedAt)
	}
	if op.CompletedAt != nil {
		dto.CompletedAt = fmtTime(*op.CompletedAt)
	}
	return dto
}

// ChainDTO is a process chain in sequence order.
type ChainDTO struct {
	ChainID    string         `json:"chain_id"`
	Operations []OperationDTO `json:"operations"`
	Completed  int            `json:"completed"`
	Total      int            `json:"total"`
}

// TraceabilityDTO is the lot trace of one item.
type TraceabilityDTO struct {
	ItemID     int64          `json:"item_id"`
	ItemCode   string         `json:"item_code"`
	ItemName   string         `json:"item_name"`
	Upstream   []OperationDTO `json:"upstream"`
	Downstream []OperationDTO `json:"downstream"`
	Lots       []string       `json:"lot_numbers"`
}

func toTraceabilityDTO(t *inventory.Traceability) TraceabilityDTO {
	dto := TraceabilityDTO{
		ItemID:     int64(t.Item.ID),
		ItemCode:   t.Item.Code,
		ItemName:   t.Item.Name,
		Upstream:   make([]OperationDTO, 0, len(t.Upstream)),
		Downstream: make([]OperationDTO, 0, len(t.Downstream)),
		Lots:       t.Lots,
	}
	for _, op := range t.Upstream {
		dto.Upstream = append(dto.Upstream, toOperationDTO(op))
	}
	for _, op := range t.Downstream {
		dto.Downstream = append(dto.Downstream, toOperationDTO(op))
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// FORMATTING
// =============================================================================

const dateLayout = "2006-01-02"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
