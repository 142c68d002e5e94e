package inventory

import (
	"context"
	"sort"
	"time"
)

// Traceability lists the process operations around one item. Upstream
// operations produced it, downstream operations consumed it.
type Traceability struct {
	Item       Item
	Upstream   []ProcessOperation
	Downstream []ProcessOperation

	// Lots are the distinct lot numbers minted for this item, newest first.
	Lots []string
}

// TraceFilter bounds the operations by their process date: CompletedAt
// when set, CreatedAt otherwise. Both ends are inclusive days.
type TraceFilter struct {
	From *time.Time
	To   *time.Time
}

func (f TraceFilter) match(op ProcessOperation) bool {
	day := truncateDay(processDate(op))
	if f.From != nil && day.Before(truncateDay(*f.From)) {
		return false
	}
	if f.To != nil && day.After(truncateDay(*f.To)) {
		return false
	}
	return true
}

func processDate(op ProcessOperation) time.Time {
	if op.CompletedAt != nil {
		return *op.CompletedAt
	}
	return op.CreatedAt
}

// Trace returns the upstream and downstream operations of itemID.
func (pm *ProcessMachine) Trace(ctx context.Context, itemID ItemID, f TraceFilter) (*Traceability, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, invalid("start_date", "시작일이 종료일보다 늦을 수 없습니다.")
	}
	item, err := pm.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, Storage("get item", err, true)
	}
	ops, err := pm.Store.ListOperations(ctx, OperationFilter{ItemID: itemID})
	if err != nil {
		return nil, Storage("list operations", err, true)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		di, dj := processDate(ops[i]), processDate(ops[j])
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return ops[i].ID > ops[j].ID
	})

	tr := &Traceability{Item: *item, Upstream: []ProcessOperation{}, Downstream: []ProcessOperation{}, Lots: []string{}}
	seen := make(map[string]bool)
	for _, op := range ops {
		if !f.match(op) {
			continue
		}
		if op.OutputItemID == itemID {
			tr.Upstream = append(tr.Upstream, op)
			if op.LotNumber != "" && !seen[op.LotNumber] {
				seen[op.LotNumber] = true
				tr.Lots = append(tr.Lots, op.LotNumber)
			}
		}
		if op.InputItemID == itemID {
			tr.Downstream = append(tr.Downstream, op)
		}
	}
	return tr, nil
}
