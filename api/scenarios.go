/*
scenarios.go - Demo data loaders

PURPOSE:
  Populates an empty (or partially filled) database with realistic master
  data and opening stock for demos and manual testing.

AVAILABLE SCENARIOS:
  press-line:    coil -> blanked sheet -> pressed part, with an open chain
  assembly-bom:  bracket assembly with a three-component BOM

HOW SCENARIOS WORK:
  1. Look up items by code; create the missing ones
  2. Add BOM edges that are not there yet
  3. Record opening balances as RECEIPT transactions
  4. Optionally create PENDING process operations

  Loading is additive. Nothing is reset, since ledger rows are never
  deleted. Loading twice adds a second set of opening receipts.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "press-line"}
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "press-line",
		Name:        "프레스 라인",
		Description: "코일 입고 후 블랭킹 → 프레스 공정 체인 (대기 상태)",
	},
	{
		ID:          "assembly-bom",
		Name:        "조립 BOM",
		Description: "브래킷 조립품 BOM과 자재 기초재고, 생산 가능 수량 확인용",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) (any, error){
	"press-line":   (*Handler).loadPressLine,
	"assembly-bom": (*Handler).loadAssemblyBOM,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "LoadScenario", err, nil)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.fail(w, r, "LoadScenario", &inventory.ValidationError{
			Field:   "scenario_id",
			Message: "알 수 없는 시나리오입니다: " + req.ScenarioID,
		}, nil)
		return
	}
	result, err := load(h, r.Context())
	if err != nil {
		h.fail(w, r, "LoadScenario", err, req)
		return
	}
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeData(w, http.StatusOK, result)
}

// =============================================================================
// LOADERS
// =============================================================================

type seedItem struct {
	code, name, unit string
	safety           int64
	opening          int64
	price            int64
}

func (h *Handler) loadPressLine(ctx context.Context) (any, error) {
	ids, err := h.seedItems(ctx, []seedItem{
		{code: "COIL-SPCC-1.2", name: "SPCC 코일 1.2t", unit: "KG", safety: 500, opening: 2000, price: 1200},
		{code: "BLK-BRKT-01", name: "브래킷 블랭크", unit: "EA", safety: 100},
		{code: "PRS-BRKT-01", name: "브래킷 프레스품", unit: "EA", safety: 100},
	})
	if err != nil {
		return nil, err
	}

	chainID := "CHAIN-" + uuid.NewString()[:8]
	blank, err := h.Engine.Process.Create(ctx, inventory.CreateOperationRequest{
		OperationType:  inventory.OpBlanking,
		InputItemID:    ids["COIL-SPCC-1.2"],
		OutputItemID:   ids["BLK-BRKT-01"],
		InputQuantity:  decimal.NewFromInt(100),
		OutputQuantity: decimal.NewFromInt(95),
		ChainID:        chainID,
		ChainSequence:  1,
	})
	if err != nil {
		return nil, err
	}
	parent := blank.ID
	press, err := h.Engine.Process.Create(ctx, inventory.CreateOperationRequest{
		OperationType:     inventory.OpPress,
		InputItemID:       ids["BLK-BRKT-01"],
		OutputItemID:      ids["PRS-BRKT-01"],
		InputQuantity:     decimal.NewFromInt(95),
		OutputQuantity:    decimal.NewFromInt(93),
		ParentOperationID: &parent,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":      ids,
		"chain_id":   chainID,
		"operations": []OperationDTO{toOperationDTO(*blank), toOperationDTO(*press)},
	}, nil
}

func (h *Handler) loadAssemblyBOM(ctx context.Context) (any, error) {
	ids, err := h.seedItems(ctx, []seedItem{
		{code: "ASSY-BRKT-01", name: "브래킷 조립품", unit: "EA", safety: 20},
		{code: "PRS-BRKT-01", name: "브래킷 프레스품", unit: "EA", safety: 100, opening: 120, price: 850},
		{code: "BOLT-M8", name: "볼트 M8", unit: "EA", safety: 1000, opening: 1000, price: 35},
		{code: "NUT-M8", name: "너트 M8", unit: "EA", safety: 1000, opening: 150, price: 20},
	})
	if err != nil {
		return nil, err
	}
	parent := ids["ASSY-BRKT-01"]
	edges := []struct {
		child string
		qty   int64
	}{
		{"PRS-BRKT-01", 1},
		{"BOLT-M8", 4},
		{"NUT-M8", 4},
	}
	existing, err := h.Engine.BOM.Edges(ctx, parent)
	if err != nil {
		return nil, err
	}
	have := make(map[inventory.ItemID]bool, len(existing))
	for _, e := range existing {
		have[e.ChildItemID] = true
	}
	for _, e := range edges {
		child := ids[e.child]
		if have[child] {
			continue
		}
		edge := &inventory.BOMEdge{
			ParentItemID:     parent,
			ChildItemID:      child,
			QuantityRequired: decimal.NewFromInt(e.qty),
			UsageRate:        decimal.NewFromInt(1),
			IsActive:         true,
		}
		if err := h.Engine.BOM.SaveEdge(ctx, edge); err != nil {
			return nil, err
		}
	}
	preview, err := h.Engine.BOM.Preview(ctx, parent, decimal.NewFromInt(50))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":   ids,
		"preview": toPreviewDTO(preview),
	}, nil
}

// seedItems creates missing items and records their opening receipts.
func (h *Handler) seedItems(ctx context.Context, seeds []seedItem) (map[string]inventory.ItemID, error) {
	items, err := h.Engine.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]inventory.ItemID, len(items))
	for _, it := range items {
		byCode[it.Code] = it.ID
	}

	ids := make(map[string]inventory.ItemID, len(seeds))
	for _, s := range seeds {
		id, ok := byCode[s.code]
		if !ok {
			item := &inventory.Item{
				Code:        s.code,
				Name:        s.name,
				Unit:        s.unit,
				SafetyStock: decimal.NewFromInt(s.safety),
				IsActive:    true,
			}
			if err := h.Engine.CreateItem(ctx, item); err != nil {
				return nil, fmt.Errorf("seed item %s: %w", s.code, err)
			}
			id = item.ID
		}
		ids[s.code] = id
		if s.opening <= 0 {
			continue
		}
		if _, err := h.Engine.Ledger.Record(ctx, inventory.RecordRequest{
			Type:      inventory.TxReceipt,
			ItemID:    id,
			Quantity:  decimal.NewFromInt(s.opening),
			UnitPrice: decimal.NewFromInt(s.price),
			Notes:     "기초재고",
			CreatedBy: "scenario",
		}); err != nil {
			return nil, fmt.Errorf("seed opening stock %s: %w", s.code, err)
		}
	}
	return ids, nil
}
