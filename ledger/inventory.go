/*
inventory.go - Weighted-average cost valuation

PURPOSE:
  Implements the moving-average cost model for inventory items.

  Purchase:  newQty = Q0 + Qp
             newAvg = (Q0*C0 + Qp*Cp) / newQty
  Sale:      quantity decreases, average cost is untouched.

  C0 may be undefined on the very first purchase; the prior basis is
  then treated as zero quantity at zero cost, so newAvg = Cp.

INVARIANTS:
  - Quantity never goes negative; a sale that would do so is rejected
    and leaves the item unchanged.
  - Average cost is always denominated in the reference currency. A
    basis in any other currency is a data-integrity failure and is
    rejected, never coerced.
  - Items with ManagesStock == false reject both paths.
*/
package ledger

import "github.com/shopspring/decimal"

// ApplyPurchase increases quantity and recomputes the weighted-average
// cost. unitCost must already be converted to the reference currency by
// the caller.
func (i *Item) ApplyPurchase(quantity decimal.Decimal, unitCost Money) error {
	if !i.ManagesStock {
		return ErrStockNotManaged
	}
	if !quantity.IsPositive() {
		return &InputError{Field: "quantity", Reason: "must be positive"}
	}
	if i.AverageCost != nil && i.AverageCost.Currency != unitCost.Currency {
		return &CostBasisError{ItemID: i.ID, Reference: unitCost.Currency, Got: i.AverageCost.Currency}
	}

	priorQty := i.Quantity
	priorCost := decimal.Zero
	if i.AverageCost != nil {
		priorCost = i.AverageCost.Amount
	}

	newQty := priorQty.Add(quantity)
	newAvg := priorQty.Mul(priorCost).Add(quantity.Mul(unitCost.Amount)).Div(newQty)

	i.Quantity = newQty
	i.AverageCost = &Money{Amount: newAvg, Currency: unitCost.Currency}
	return nil
}

// ApplySale decreases quantity and returns the cost of goods sold
// (quantity * average cost, in the reference currency). The cost basis
// is read-only on this path.
func (i *Item) ApplySale(quantity decimal.Decimal, reference Currency) (Money, error) {
	if !i.ManagesStock {
		return Money{}, ErrStockNotManaged
	}
	if !quantity.IsPositive() {
		return Money{}, &InputError{Field: "quantity", Reason: "must be positive"}
	}
	if i.Quantity.LessThan(quantity) {
		return Money{}, &InsufficientStockError{
			ItemID:    i.ID,
			Available: i.Quantity,
			Requested: quantity,
		}
	}
	if i.AverageCost == nil {
		return Money{}, &CostBasisError{ItemID: i.ID, Reference: reference}
	}
	if i.AverageCost.Currency != reference {
		return Money{}, &CostBasisError{ItemID: i.ID, Reference: reference, Got: i.AverageCost.Currency}
	}

	i.Quantity = i.Quantity.Sub(quantity)
	return Money{Amount: i.AverageCost.Amount.Mul(quantity), Currency: reference}, nil
}
