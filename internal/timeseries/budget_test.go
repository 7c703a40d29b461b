package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendcast/internal/core"
)

func budget(id int64, cents int64, period core.Period, start time.Time, category *int64) core.BudgetDefinition {
	return core.BudgetDefinition{
		ID:         id,
		Amount:     core.Money{Cents: cents},
		Period:     period,
		StartDate:  core.DateOf(start),
		CategoryID: category,
		UserID:     "u1",
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func TestMonthlyBudgetSumsToAmountForEveryMonthLength(t *testing.T) {
	months := []time.Time{
		day(2023, 2, 1),  // 28 days
		day(2024, 2, 1),  // 29 days
		day(2024, 4, 1),  // 30 days
		day(2024, 7, 1),  // 31 days
		day(2024, 12, 1), // 31 days, year boundary
	}
	for _, start := range months {
		t.Run(start.Format("2006-01"), func(t *testing.T) {
			end := start.AddDate(0, 1, -1)
			series, err := AllocateBudgets(
				[]core.BudgetDefinition{budget(1, 30000, core.Monthly, start, nil)},
				start, end, OverlapSum)
			require.NoError(t, err)
			assert.Equal(t, core.DaysInMonth(start), series.Len())
			assert.InDelta(t, 300, sum(series.Total), 1e-9)
		})
	}
}

func TestMonthlyBudgetPartialFirstMonth(t *testing.T) {
	// Starting on the 16th of a 30-day month leaves 15 days at 300/30.
	start := day(2024, 4, 16)
	series, err := AllocateBudgets(
		[]core.BudgetDefinition{budget(1, 30000, core.Monthly, start, nil)},
		day(2024, 4, 1), day(2024, 5, 31), OverlapSum)
	require.NoError(t, err)

	assert.Zero(t, series.Total[0])
	assert.InDelta(t, 10, series.Total[15], 1e-9)
	assert.InDelta(t, 150, sum(series.Total[:30]), 1e-9)
	assert.InDelta(t, 300, sum(series.Total[30:]), 1e-9)
}

func TestWeeklyAndYearlyBudgets(t *testing.T) {
	t.Run("weekly", func(t *testing.T) {
		start := day(2024, 3, 1)
		series, err := AllocateBudgets(
			[]core.BudgetDefinition{budget(1, 7000, core.Weekly, start, nil)},
			start, start.AddDate(0, 0, 20), OverlapSum)
		require.NoError(t, err)
		for i, v := range series.Total {
			assert.InDelta(t, 10, v, 1e-9, "day %d", i)
		}
	})

	t.Run("yearly leap year", func(t *testing.T) {
		start := day(2024, 1, 1)
		series, err := AllocateBudgets(
			[]core.BudgetDefinition{budget(1, 366000, core.Yearly, start, nil)},
			day(2024, 2, 28), day(2024, 3, 1), OverlapSum)
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 10, 10}, roundAll(series.Total))
	})

	t.Run("yearly continues into next year", func(t *testing.T) {
		series, err := AllocateBudgets(
			[]core.BudgetDefinition{budget(1, 365000, core.Yearly, day(2022, 6, 1), nil)},
			day(2022, 12, 31), day(2023, 1, 1), OverlapSum)
		require.NoError(t, err)
		assert.InDelta(t, 10, series.Total[0], 1e-9)
		assert.InDelta(t, 10, series.Total[1], 1e-9)
	})
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(int64(v*1e6+0.5)) / 1e6
	}
	return out
}

func TestCategoryChannelsSumIntoTotal(t *testing.T) {
	food, rent := int64(1), int64(2)
	defs := []core.BudgetDefinition{
		budget(1, 31000, core.Monthly, day(2024, 1, 1), &food),
		budget(2, 70000, core.Weekly, day(2024, 1, 10), &rent),
		budget(3, 3100, core.Monthly, day(2024, 1, 5), &food),
	}
	series, err := AllocateBudgets(defs, day(2024, 1, 1), day(2024, 2, 29), OverlapSum)
	require.NoError(t, err)
	require.Len(t, series.ByCategory, 2)

	for i := range series.Total {
		var cats float64
		for _, ch := range series.ByCategory {
			cats += ch[i]
		}
		assert.InDelta(t, series.Total[i], cats, 1e-9, "day %d", i)
	}
	assert.Equal(t, 3, series.Contributing)
}

func TestOverlapPolicies(t *testing.T) {
	defs := []core.BudgetDefinition{
		budget(1, 3100, core.Monthly, day(2024, 1, 1), nil),
		budget(2, 700, core.Weekly, day(2024, 1, 15), nil),
	}

	summed, err := AllocateBudgets(defs, day(2024, 1, 1), day(2024, 1, 31), OverlapSum)
	require.NoError(t, err)
	assert.InDelta(t, 1, summed.Total[0], 1e-9)
	assert.InDelta(t, 2, summed.Total[20], 1e-9)

	_, err = AllocateBudgets(defs, day(2024, 1, 1), day(2024, 1, 31), OverlapReject)
	require.ErrorIs(t, err, core.ErrOverlappingBudgets)

	// different scopes never conflict
	cat := int64(9)
	defs[1].CategoryID = &cat
	_, err = AllocateBudgets(defs, day(2024, 1, 1), day(2024, 1, 31), OverlapReject)
	require.NoError(t, err)
}

func TestNoBudgetsVersusZeroBudget(t *testing.T) {
	none, err := AllocateBudgets(nil, day(2024, 1, 1), day(2024, 1, 10), OverlapSum)
	require.NoError(t, err)
	assert.False(t, none.HasData())
	assert.Equal(t, 10, none.Len())
	assert.Zero(t, sum(none.Total))

	zero, err := AllocateBudgets(
		[]core.BudgetDefinition{budget(1, 0, core.Monthly, day(2024, 1, 1), nil)},
		day(2024, 1, 1), day(2024, 1, 10), OverlapSum)
	require.NoError(t, err)
	assert.True(t, zero.HasData())
	assert.Zero(t, sum(zero.Total))

	outside, err := AllocateBudgets(
		[]core.BudgetDefinition{budget(1, 1000, core.Monthly, day(2025, 1, 1), nil)},
		day(2024, 1, 1), day(2024, 1, 10), OverlapSum)
	require.NoError(t, err)
	assert.False(t, outside.HasData())
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	_, err := AllocateBudgets(nil, day(2024, 2, 1), day(2024, 1, 1), OverlapSum)
	assert.Error(t, err)

	_, err = AllocateBudgets(nil, day(2024, 1, 1), day(2024, 1, 2), "prioritize")
	assert.Error(t, err)

	bad := budget(1, 100, "daily", day(2024, 1, 1), nil)
	_, err = AllocateBudgets([]core.BudgetDefinition{bad}, day(2024, 1, 1), day(2024, 1, 2), OverlapSum)
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}
