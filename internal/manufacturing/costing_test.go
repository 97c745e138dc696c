package manufacturing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestRecalculateBOMTotalUsesCurrentPrices(t *testing.T) {
	items := []BOMItem{
		{MaterialID: 1, Quantity: dec("2"), UnitCost: dec("999")},
		{MaterialID: 2, Quantity: dec("0.5"), UnitCost: dec("999")},
	}
	prices := map[int64]decimal.Decimal{1: dec("10"), 2: dec("4")}
	total, err := RecalculateBOMTotal(items, func(id int64) (decimal.Decimal, error) { return prices[id], nil })
	require.NoError(t, err)
	require.True(t, dec("22").Equal(total))

	prices[1] = dec("12")
	total, err = RecalculateBOMTotal(items, func(id int64) (decimal.Decimal, error) { return prices[id], nil })
	require.NoError(t, err)
	require.True(t, dec("26").Equal(total))

	boom := errors.New("boom")
	_, err = RecalculateBOMTotal(items, func(int64) (decimal.Decimal, error) { return decimal.Zero, boom })
	require.ErrorIs(t, err, boom)
}

func TestBOMFullCost(t *testing.T) {
	bom := BOM{TotalCost: dec("22"), LaborCost: dec("5"), OverheadCost: dec("1.50")}
	require.True(t, dec("28.50").Equal(bom.FullCost()))
	require.True(t, dec("6").Equal(ComputeBOMItemCost(dec("1.5"), dec("4"))))
}

func TestPlanWorkOrdersLaysStagesSequentially(t *testing.T) {
	order := ProductionOrder{ID: 3, Number: "PRD-1", Quantity: dec("100")}
	start := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 28, 9, 5, 7, 0, time.UTC)
	plan, err := PlanWorkOrders(order, map[Stage]decimal.Decimal{
		StageFinishing: dec("40"),
		StageGurat:     dec("60"),
		StagePress:     dec("0"),
	}, start, 3, now)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	require.Equal(t, StageGurat, plan[0].Stage)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), plan[0].PlannedStart)
	require.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), plan[0].PlannedEnd)
	require.Equal(t, "WO-PRD-1-GUR-090507", plan[0].Number)

	require.Equal(t, StageFinishing, plan[1].Stage)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), plan[1].PlannedStart)
	require.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), plan[1].PlannedEnd)
	require.Equal(t, "WO-PRD-1-FIN-090507", plan[1].Number)
	require.Equal(t, WorkPending, plan[1].Status)
}

func TestPlanWorkOrdersValidation(t *testing.T) {
	order := ProductionOrder{Quantity: dec("10")}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := PlanWorkOrders(order, map[Stage]decimal.Decimal{StageGurat: dec("9")}, start, 1, start)
	require.ErrorIs(t, err, ErrQuantityMismatch)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = PlanWorkOrders(order, map[Stage]decimal.Decimal{StageGurat: dec("10")}, start, 0, start)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = PlanWorkOrders(order, map[Stage]decimal.Decimal{StageGurat: dec("12"), StagePress: dec("-2")}, start, 1, start)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = PlanWorkOrders(order, map[Stage]decimal.Decimal{"cutting": dec("10")}, start, 1, start)
	require.ErrorIs(t, err, ErrInvalidStage)
}

func TestProductionOrderProgress(t *testing.T) {
	wos := []WorkOrder{{Status: WorkCompleted}, {Status: WorkInProgress}, {Status: WorkPending}}
	order := ProductionOrder{Status: OrderInProgress}
	require.Equal(t, "33.33", order.Progress(wos).StringFixed(2))

	order.Status = OrderCompleted
	require.True(t, dec("100").Equal(order.Progress(wos)))

	order.Status = OrderApproved
	require.True(t, order.Progress(wos).IsZero())

	order.Status = OrderInProgress
	require.True(t, order.Progress(nil).IsZero())
}

func TestProductionOrderOverdue(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, -1)
	order := ProductionOrder{Status: OrderInProgress, PlannedEnd: &end}
	require.True(t, order.IsOverdue(now))
	order.Status = OrderCompleted
	require.False(t, order.IsOverdue(now))
	order.Status = OrderApproved
	order.PlannedEnd = nil
	require.False(t, order.IsOverdue(now))
}
