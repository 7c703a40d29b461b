package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendcast/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAggregateFillsGaps(t *testing.T) {
	points := []Point{
		{Date: day(2024, 1, 5), Amount: 3},
		{Date: day(2024, 1, 1), Amount: 10},
		{Date: day(2024, 1, 1).Add(15 * time.Hour), Amount: 2.5},
		{Date: day(2024, 1, 3), Amount: 4},
	}

	series, err := Aggregate(points)
	require.NoError(t, err)

	assert.Equal(t, day(2024, 1, 1), series.Start)
	assert.Equal(t, day(2024, 1, 5), series.End())
	assert.Equal(t, []float64{12.5, 0, 4, 0, 3}, series.Values)

	dates := series.Dates()
	for i := 1; i < len(dates); i++ {
		assert.Equal(t, 24*time.Hour, dates[i].Sub(dates[i-1]), "dates must advance by one day")
	}
}

func TestAggregateEmpty(t *testing.T) {
	_, err := Aggregate(nil)
	require.ErrorIs(t, err, core.ErrDataUnavailable)
}

func TestPointsFromExpenses(t *testing.T) {
	records := []core.ExpenseRecord{
		{Date: core.NewDate(2024, 2, 1), Amount: core.Money{Cents: 1250}, UserID: "u"},
	}
	points := PointsFromExpenses(records)
	require.Len(t, points, 1)
	assert.InDelta(t, 12.5, points[0].Amount, 1e-9)
}

func TestSeriesSlice(t *testing.T) {
	s := DailySeries{Start: day(2024, 1, 1), Values: []float64{1, 2, 3, 4}}
	sub := s.Slice(1, 3)
	assert.Equal(t, day(2024, 1, 2), sub.Start)
	assert.Equal(t, []float64{2, 3}, sub.Values)

	sub.Values[0] = 99
	assert.Equal(t, 2.0, s.Values[1], "slice must not alias the source")

	assert.Empty(t, s.Slice(5, 9).Values)
}

func TestRollup(t *testing.T) {
	// 2024-01-29 is a Monday; the range crosses into February.
	s := DailySeries{Start: day(2024, 1, 29), Values: []float64{1, 1, 1, 1, 1, 1, 1, 2, 2}}

	weeks := Rollup(s, Weekly)
	require.Len(t, weeks, 2)
	assert.Equal(t, Bucket{Start: day(2024, 1, 29), Days: 7, Total: 7}, weeks[0])
	assert.Equal(t, Bucket{Start: day(2024, 2, 5), Days: 2, Total: 4}, weeks[1])

	months := Rollup(s, Monthly)
	require.Len(t, months, 2)
	assert.Equal(t, 3, months[0].Days)
	assert.InDelta(t, 3, months[0].Total, 1e-9)
	assert.Equal(t, day(2024, 2, 1), months[1].Start)
	assert.InDelta(t, 10, months[1].Total, 1e-9)
}

func TestRollupFromAmounts(t *testing.T) {
	days := []core.DailyAmount{
		{Date: day(2024, 2, 28), Amount: 4},
		{Date: day(2024, 3, 2), Amount: 6},
	}
	s, err := Aggregate(PointsFromAmounts(days))
	require.NoError(t, err)
	require.Equal(t, 4, s.Len())

	months := Rollup(s, Monthly)
	require.Len(t, months, 2)
	assert.Equal(t, Bucket{Start: day(2024, 2, 1), Days: 2, Total: 4}, months[0])
	assert.Equal(t, Bucket{Start: day(2024, 3, 1), Days: 2, Total: 6}, months[1])
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, g)

	_, err = ParseGranularity("daily")
	assert.Error(t, err)
}
