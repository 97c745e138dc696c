package manufacturing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ComputeBOMItemCost is quantity × current material unit price.
func ComputeBOMItemCost(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price)
}

// RecalculateBOMTotal sums quantity × current price over items. priceOf is
// consulted for every item so stale UnitCost values are ignored.
func RecalculateBOMTotal(items []BOMItem, priceOf func(materialID int64) (decimal.Decimal, error)) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, item := range items {
		price, err := priceOf(item.MaterialID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(ComputeBOMItemCost(item.Quantity, price))
	}
	return total, nil
}

// PlanWorkOrders lays stages out back to back from start, each lasting
// durationDays. Stages with zero quantity are skipped.
func PlanWorkOrders(order ProductionOrder, quantities map[Stage]decimal.Decimal, start time.Time, durationDays int, now time.Time) ([]WorkOrder, error) {
	if durationDays < 1 {
		return nil, ErrInvalidDuration
	}
	sum := decimal.Zero
	for stage, qty := range quantities {
		if !stage.Valid() {
			return nil, ErrInvalidStage
		}
		if qty.IsNegative() {
			return nil, ErrInvalidQuantity
		}
		sum = sum.Add(qty)
	}
	if !sum.Equal(order.Quantity) {
		return nil, ErrQuantityMismatch
	}
	cursor := dateOf(start)
	stamp := now.Format("150405")
	out := []WorkOrder{}
	for _, stage := range Stages {
		qty := quantities[stage]
		if !qty.IsPositive() {
			continue
		}
		end := cursor.AddDate(0, 0, durationDays-1)
		out = append(out, WorkOrder{
			Number:             workOrderNumber(order.Number, stage, stamp),
			ProductionOrderID:  order.ID,
			Stage:              stage,
			Quantity:           qty,
			Status:             WorkPending,
			PlannedStart:       cursor,
			PlannedEnd:         end,
			ProgressPercentage: decimal.Zero,
		})
		cursor = end.AddDate(0, 0, 1)
	}
	return out, nil
}

func workOrderNumber(orderNumber string, stage Stage, stamp string) string {
	code := string(stage)
	if len(code) > 3 {
		code = code[:3]
	}
	return fmt.Sprintf("WO-%s-%s-%s", orderNumber, strings.ToUpper(code), stamp)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
