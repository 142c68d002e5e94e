/*
bom.go - Bill-of-Materials auto-deduction

PURPOSE:
  When a PRODUCTION_IN receipt adds N units of a parent item, every active
  child edge consumes quantity_required x N x usage_rate of its child.
  Deduction is part of the producing unit of work: if any child is short,
  the whole production event is rejected and earlier children are restored.

ORDERING:
  Edges are processed in edge-ID order so two concurrent production events
  on overlapping components always touch items in the same sequence.

CYCLES:
  Deduction is single-level and never recurses. Cycles are rejected when
  an edge is saved (CheckCycle).
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BOMDeductor struct {
	Store   Store
	Mutator *Mutator
	Clock   func() time.Time
	Log     logrus.FieldLogger
}

func NewBOMDeductor(store Store, mutator *Mutator, log logrus.FieldLogger) *BOMDeductor {
	return &BOMDeductor{Store: store, Mutator: mutator, Clock: time.Now, Log: log}
}

// Bind returns a copy writing through s with mutator m.
func (b *BOMDeductor) Bind(s Store, m *Mutator) *BOMDeductor {
	cp := *b
	cp.Store = s
	cp.Mutator = m
	return &cp
}

// Deduction is one consumed child.
type Deduction struct {
	Edge     BOMEdge
	Movement StockResult
	Log      BOMDeductionLog
}

// Deduct consumes the children of parent for producedQty units inside the
// caller's unit of work.
func (b *BOMDeductor) Deduct(ctx context.Context, comp *Compensation, txID TransactionID, parent ItemID, producedQty decimal.Decimal) ([]Deduction, error) {
	if !producedQty.IsPositive() {
		return nil, invalid("quantity", "생산 수량은 0보다 커야 합니다.")
	}
	edges, err := b.Store.ActiveBOMEdges(ctx, parent)
	if err != nil {
		return nil, Storage("load bom", err, true)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	comp.Defer("delete deduction logs", func(ctx context.Context) error {
		return b.Store.DeleteDeductionLogs(ctx, txID)
	})

	out := make([]Deduction, 0, len(edges))
	for _, e := range edges {
		qty := e.DeductPer(producedQty)
		if !qty.IsPositive() {
			continue
		}
		moved, err := b.Mutator.Apply(ctx, comp, Mutation{
			ItemID:        e.ChildItemID,
			Delta:         qty.Neg(),
			Movement:      MoveBOMDeduction,
			Reason:        fmt.Sprintf("BOM 자동차감 (모품목 %d)", parent),
			TransactionID: &txID,
		})
		if err != nil {
			b.log().WithFields(logrus.Fields{
				"module":   "inventory",
				"funcName": "BOMDeductor.Deduct",
				"parent":   parent,
				"child":    e.ChildItemID,
				"required": qty.String(),
			}).WithError(err).Info("bom deduction rejected")
			return nil, err
		}

		rate := e.UsageRate
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		l := BOMDeductionLog{
			TransactionID:    txID,
			ParentItemID:     parent,
			ChildItemID:      e.ChildItemID,
			QuantityRequired: e.QuantityRequired,
			DeductedQuantity: qty,
			UsageRate:        rate,
			StockBefore:      moved.Before,
			StockAfter:       moved.After,
			CreatedAt:        b.now(),
		}
		if err := b.Store.AppendDeductionLog(ctx, &l); err != nil {
			return nil, Storage("append deduction log", err, false)
		}
		out = append(out, Deduction{Edge: e, Movement: *moved, Log: l})
	}
	return out, nil
}

// =============================================================================
// PREVIEW - Read-only availability check
// =============================================================================

// ComponentCheck is the availability of one child for a planned production.
type ComponentCheck struct {
	EdgeID        EdgeID
	ChildItemID   ItemID
	ItemCode      string
	ItemName      string
	PerUnit       decimal.Decimal
	Required      decimal.Decimal
	Available     decimal.Decimal
	Shortage      decimal.Decimal
	Sufficient    bool
	MaxProducible decimal.Decimal
}

// ProductionPreview summarises whether quantity parents can be produced now.
type ProductionPreview struct {
	ParentItemID  ItemID
	Quantity      decimal.Decimal
	CanProduce    bool
	Components    []ComponentCheck
	MaxProducible decimal.Decimal

	// Bottleneck is the child limiting MaxProducible. Nil without edges.
	Bottleneck *ComponentCheck
}

// Preview reports shortages for producing quantity of parent. It never
// mutates.
func (b *BOMDeductor) Preview(ctx context.Context, parent ItemID, quantity decimal.Decimal) (*ProductionPreview, error) {
	if !quantity.IsPositive() {
		return nil, invalid("quantity", "생산 수량은 0보다 커야 합니다.")
	}
	if _, err := b.Store.GetItem(ctx, parent); err != nil {
		return nil, Storage("get item", err, true)
	}
	edges, err := b.Store.ActiveBOMEdges(ctx, parent)
	if err != nil {
		return nil, Storage("load bom", err, true)
	}

	p := &ProductionPreview{
		ParentItemID:  parent,
		Quantity:      quantity,
		CanProduce:    true,
		MaxProducible: quantity,
	}
	bottleneck := -1
	for _, e := range edges {
		child, err := b.Store.GetItem(ctx, e.ChildItemID)
		if err != nil {
			return nil, Storage("get item", err, true)
		}
		per := e.DeductPer(decimal.NewFromInt(1))
		required := e.DeductPer(quantity)
		c := ComponentCheck{
			EdgeID:      e.ID,
			ChildItemID: child.ID,
			ItemCode:    child.Code,
			ItemName:    child.Name,
			PerUnit:     per,
			Required:    required,
			Available:   child.CurrentStock,
			Shortage:    decimal.Max(decimal.Zero, required.Sub(child.CurrentStock)),
			Sufficient:  child.CurrentStock.GreaterThanOrEqual(required),
		}
		if per.IsPositive() {
			c.MaxProducible = decimal.Max(decimal.Zero, child.CurrentStock.Div(per).Floor())
		} else {
			c.MaxProducible = quantity
		}
		if !c.Sufficient {
			p.CanProduce = false
		}
		p.Components = append(p.Components, c)
		if bottleneck < 0 || c.MaxProducible.LessThan(p.Components[bottleneck].MaxProducible) {
			bottleneck = len(p.Components) - 1
		}
	}
	if bottleneck >= 0 {
		bc := p.Components[bottleneck]
		p.Bottleneck = &bc
		p.MaxProducible = bc.MaxProducible
	}
	return p, nil
}

// =============================================================================
// EDGES + CYCLE GUARD
// =============================================================================

// SaveEdge validates e and persists it. Adding an edge that closes a cycle
// is rejected with BOMCycleError.
func (b *BOMDeductor) SaveEdge(ctx context.Context, e *BOMEdge) error {
	if e.ParentItemID <= 0 || e.ChildItemID <= 0 {
		return invalid("item_id", "모품목과 자품목은 필수 항목입니다.")
	}
	if !e.QuantityRequired.IsPositive() {
		return invalid("quantity_required", "소요량은 0보다 커야 합니다.")
	}
	if e.UsageRate.IsNegative() {
		return invalid("usage_rate", "사용률은 0 이상이어야 합니다.")
	}
	if e.UsageRate.IsZero() {
		e.UsageRate = decimal.NewFromInt(1)
	}
	for _, id := range []ItemID{e.ParentItemID, e.ChildItemID} {
		if _, err := b.Store.GetItem(ctx, id); err != nil {
			return Storage("get item", err, true)
		}
	}
	if e.IsActive {
		if err := b.CheckCycle(ctx, e.ParentItemID, e.ChildItemID); err != nil {
			return err
		}
	}
	if err := b.Store.SaveBOMEdge(ctx, e); err != nil {
		return Storage("save bom edge", err, false)
	}
	return nil
}

// Edges returns the active edges of parent in deduction order.
func (b *BOMDeductor) Edges(ctx context.Context, parent ItemID) ([]BOMEdge, error) {
	if _, err := b.Store.GetItem(ctx, parent); err != nil {
		return nil, Storage("get item", err, true)
	}
	edges, err := b.Store.ActiveBOMEdges(ctx, parent)
	if err != nil {
		return nil, Storage("load bom", err, true)
	}
	return edges, nil
}

// CheckCycle reports a BOMCycleError if adding parent -> child would make
// parent reachable from itself.
func (b *BOMDeductor) CheckCycle(ctx context.Context, parent, child ItemID) error {
	if parent == child {
		return &BOMCycleError{Path: []ItemID{parent, child}}
	}
	edges, err := b.Store.ListBOMEdges(ctx, true)
	if err != nil {
		return Storage("list bom", err, true)
	}
	adj := make(map[ItemID][]ItemID)
	for _, e := range edges {
		adj[e.ParentItemID] = append(adj[e.ParentItemID], e.ChildItemID)
	}
	adj[parent] = append(adj[parent], child)

	visited := make(map[ItemID]bool)
	if path := findPath(child, parent, adj, visited, []ItemID{parent}); path != nil {
		return &BOMCycleError{Path: path}
	}
	return nil
}

// findPath runs a DFS from cur looking for target and returns the path
// prefix+...+target, or nil.
func findPath(cur, target ItemID, adj map[ItemID][]ItemID, visited map[ItemID]bool, prefix []ItemID) []ItemID {
	path := append(append([]ItemID(nil), prefix...), cur)
	if cur == target {
		return path
	}
	if visited[cur] {
		return nil
	}
	visited[cur] = true
	for _, next := range adj[cur] {
		if p := findPath(next, target, adj, visited, path); p != nil {
			return p
		}
	}
	return nil
}

func (b *BOMDeductor) now() time.Time {
	if b.Clock == nil {
		return time.Now().UTC()
	}
	return b.Clock().UTC()
}

func (b *BOMDeductor) log() logrus.FieldLogger {
	if b.Log == nil {
		return discardLogger()
	}
	return b.Log
}
