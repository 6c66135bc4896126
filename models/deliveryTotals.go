package models

import (
	"context"

	"github.com/ahjam-taoufik/gestion-stock-backend/config"
	"github.com/ahjam-taoufik/gestion-stock-backend/utils"
	"github.com/shopspring/decimal"
)

// DeliveryTotals is the full set of derived financial/weight fields of a
// delivery note. These fields are never hand-entered: they are recomputed in
// full from the lines plus the discount/adjustment inputs, so calling the
// calculator any number of times yields the same result.
type DeliveryTotals struct {
	Total              decimal.Decimal `json:"total"`
	TotalWeight        decimal.Decimal `json:"total_weight"`
	CashDiscountAmount decimal.Decimal `json:"cash_discount_amount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
	DocumentTotal      decimal.Decimal `json:"document_total"`
}

var decimalOneHundred = decimal.NewFromInt(100)

// CalculateLineTotal recomputes a line's amount on every line create/update.
func CalculateLineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity)
}

// CalculateLineWeight derives a line's shipping weight from the product's
// unit weight.
func CalculateLineWeight(quantity, unitWeight decimal.Decimal) decimal.Decimal {
	return unitWeight.Mul(quantity)
}

// CalculateDeliveryTotals is a pure function of a delivery and its current
// lines:
//
//	total          = sum of line totals
//	total_weight   = sum of line weights
//	cash_discount  = total * cash_discount_percent / 100
//	final          = total - cash_discount - special_discount
//	                       - quarterly_discount + value_adjustment + return_adjustment
//	document_total = final (duplicated column, kept equal by contract)
//
// No rounding here: amounts stay exact decimals and are only rounded at the
// formatting boundary (utils.FormatAmount).
func CalculateDeliveryTotals(delivery *Delivery, lines []DeliveryDetail) DeliveryTotals {
	var total, totalWeight decimal.Decimal
	for _, line := range lines {
		total = total.Add(line.LineTotal)
		totalWeight = totalWeight.Add(line.LineWeight)
	}

	var cashDiscountAmount decimal.Decimal
	if delivery.CashDiscountPercent.GreaterThan(decimal.Zero) {
		cashDiscountAmount = total.Mul(delivery.CashDiscountPercent).Div(decimalOneHundred)
	}

	finalAmount := total.
		Sub(cashDiscountAmount).
		Sub(delivery.SpecialDiscount).
		Sub(delivery.QuarterlyDiscount).
		Add(delivery.ValueAdjustment).
		Add(delivery.ReturnAdjustment)

	return DeliveryTotals{
		Total:              total,
		TotalWeight:        totalWeight,
		CashDiscountAmount: cashDiscountAmount,
		FinalAmount:        finalAmount,
		DocumentTotal:      finalAmount,
	}
}

// applyTotals overwrites the delivery's derived columns from the calculator
// output. Always a full overwrite, never an incremental patch.
func (d *Delivery) applyTotals(t DeliveryTotals) {
	d.Total = t.Total
	d.TotalWeight = t.TotalWeight
	d.CashDiscountAmount = t.CashDiscountAmount
	d.FinalAmount = t.FinalAmount
	d.DocumentTotal = t.DocumentTotal
}

// RecalculateDeliveryTotals reloads the delivery with its lines, recomputes
// the derived fields and persists them. Idempotent; safe to call any time
// lines change.
func RecalculateDeliveryTotals(ctx context.Context, deliveryId int) (*Delivery, error) {
	delivery, err := utils.FetchModel[Delivery](ctx, deliveryId, "Details")
	if err != nil {
		return nil, err
	}

	totals := CalculateDeliveryTotals(delivery, delivery.Details)
	delivery.applyTotals(totals)

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(delivery).Updates(map[string]interface{}{
		"Total":              totals.Total,
		"TotalWeight":        totals.TotalWeight,
		"CashDiscountAmount": totals.CashDiscountAmount,
		"FinalAmount":        totals.FinalAmount,
		"DocumentTotal":      totals.DocumentTotal,
	}).Error; err != nil {
		return nil, err
	}
	return delivery, nil
}
