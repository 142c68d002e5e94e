package inventory

import "github.com/shopspring/decimal"

// DefaultTaxRate is the Korean VAT rate in percent.
var DefaultTaxRate = decimal.NewFromInt(10)

// Totals are the derived money fields of a ledger row.
type Totals struct {
	Supply decimal.Decimal // 공급가액: quantity x unit price
	Tax    decimal.Decimal // 부가세
	Total  decimal.Decimal // 합계
}

// ComputeTotals rounds supply and tax to 2 places independently, then sums.
// ratePercent is e.g. 10 for 10%.
func ComputeTotals(quantity, unitPrice, ratePercent decimal.Decimal) Totals {
	supply := quantity.Abs().Mul(unitPrice).Round(2)
	tax := supply.Mul(ratePercent).Div(decimal.NewFromInt(100)).Round(2)
	return Totals{Supply: supply, Tax: tax, Total: supply.Add(tax)}
}
