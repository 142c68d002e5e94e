package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AVAILABILITY - Read-only shipment stock check
// =============================================================================
//
// Lines are checked independently against the current counter; nothing is
// reserved. Unknown and inactive items are reported per line instead of
// failing the whole check.

type StockRequest struct {
	ItemID   ItemID
	Quantity decimal.Decimal
}

type AvailabilityLine struct {
	Index        int
	ItemID       ItemID
	ItemCode     string
	ItemName     string
	Unit         string
	Requested    decimal.Decimal
	CurrentStock decimal.Decimal
	Sufficient   bool
	Shortage     decimal.Decimal
	Availability decimal.Decimal // percent of Requested on hand, 2 decimals
	Error        string
}

type AvailabilitySummary struct {
	Requested       int
	Valid           int
	Errors          int
	Sufficient      int
	Insufficient    int
	FulfillmentRate decimal.Decimal // percent of valid lines that are sufficient
}

type AvailabilityReport struct {
	CanShipAll bool
	Lines      []AvailabilityLine
	Summary    AvailabilitySummary
}

var hundred = decimal.NewFromInt(100)

// CheckAvailability reports, per line, whether current stock covers the
// requested quantity.
func (l *Ledger) CheckAvailability(ctx context.Context, reqs []StockRequest) (*AvailabilityReport, error) {
	if len(reqs) == 0 {
		return nil, invalid("items", "확인할 품목 목록이 비어 있습니다.")
	}
	for i, r := range reqs {
		if r.ItemID <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].item_id", i), "품목 ID는 필수 항목입니다.")
		}
		if !r.Quantity.IsPositive() {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "수량은 0보다 커야 합니다.")
		}
	}

	rep := &AvailabilityReport{Lines: make([]AvailabilityLine, 0, len(reqs))}
	for i, r := range reqs {
		line := AvailabilityLine{Index: i, ItemID: r.ItemID, Requested: r.Quantity}
		item, err := l.Store.GetItem(ctx, r.ItemID)
		switch {
		case IsNotFound(err):
			line.Error = fmt.Sprintf("품목(ID: %d)을 찾을 수 없습니다.", r.ItemID)
		case err != nil:
			return nil, Storage("get item", err, true)
		case !item.IsActive:
			line.ItemCode, line.ItemName = item.Code, item.Name
			line.Error = "비활성화된 품목입니다: " + item.Name
		default:
			line.ItemCode, line.ItemName, line.Unit = item.Code, item.Name, item.Unit
			line.CurrentStock = item.CurrentStock
			line.Sufficient = !item.CurrentStock.LessThan(r.Quantity)
			line.Shortage = decimal.Max(decimal.Zero, r.Quantity.Sub(item.CurrentStock))
			line.Availability = decimal.Zero
			if item.CurrentStock.IsPositive() {
				line.Availability = decimal.Min(r.Quantity, item.CurrentStock).
					Div(r.Quantity).Mul(hundred).Round(2)
			}
		}
		rep.Lines = append(rep.Lines, line)
	}

	s := &rep.Summary
	s.Requested = len(reqs)
	for _, line := range rep.Lines {
		switch {
		case line.Error != "":
			s.Errors++
		case line.Sufficient:
			s.Valid++
			s.Sufficient++
		default:
			s.Valid++
			s.Insufficient++
		}
	}
	s.FulfillmentRate = decimal.Zero
	if s.Valid > 0 {
		s.FulfillmentRate = decimal.NewFromInt(int64(s.Sufficient)).
			Div(decimal.NewFromInt(int64(s.Valid))).Mul(hundred).Round(2)
	}
	rep.CanShipAll = s.Errors == 0 && s.Insufficient == 0
	return rep, nil
}
