package forecast

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendcast/internal/core"
	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// persistence predicts that tomorrow's expense equals today's.
type persistence struct {
	width   int
	windows [][][]float64
}

func (p *persistence) InputWidth() int { return p.width }

func (p *persistence) Predict(window [][]float64) (float64, error) {
	copied := make([][]float64, len(window))
	for i, row := range window {
		copied[i] = slices.Clone(row)
	}
	p.windows = append(p.windows, copied)
	return window[len(window)-1][0], nil
}

func series(values ...float64) timeseries.DailySeries {
	return timeseries.DailySeries{Start: day(2024, 1, 1), Values: values}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func budgetFrame(t *testing.T, expenses []float64) timeseries.FeatureFrame {
	t.Helper()
	s := series(expenses...)
	b, err := timeseries.AllocateBudgets([]core.BudgetDefinition{{
		ID: 1, Amount: core.Money{Cents: 31000}, Period: core.Monthly,
		StartDate: core.NewDate(2024, 1, 1), UserID: "u",
	}}, s.Start, s.End(), timeseries.OverlapSum)
	require.NoError(t, err)
	return timeseries.Compose(s, b)
}

func TestAutoregressReturnsRequestedSteps(t *testing.T) {
	expenses := make([]float64, 40)
	for i := range expenses {
		expenses[i] = 5 + float64(i%7)
	}
	frame := budgetFrame(t, expenses)
	scaler, err := timeseries.FitScaler(frame)
	require.NoError(t, err)

	for _, v := range []nn.Variant{nn.Univariate, nn.Multivariate} {
		t.Run(string(v), func(t *testing.T) {
			cfg := nn.DefaultConfig(v)
			cfg.HiddenSize = 8
			model, err := nn.New(cfg, 1)
			require.NoError(t, err)

			history := frame
			if v == nn.Univariate {
				history, err = frame.Select(timeseries.ExpenseChannels...)
				require.NoError(t, err)
			}
			out, err := Autoregress(model, scaler, history, 7, 30)
			require.NoError(t, err)
			require.Len(t, out, 30)
			for i, x := range out {
				assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "step %d is %v", i, x)
			}
		})
	}
}

func TestAutoregressShapeMismatch(t *testing.T) {
	frame := timeseries.Compose(series(repeat(3, 20)...), timeseries.BudgetSeries{})
	scaler, err := timeseries.FitScaler(frame)
	require.NoError(t, err)

	cfg := nn.DefaultConfig(nn.Multivariate)
	cfg.HiddenSize = 4
	model, err := nn.New(cfg, 1)
	require.NoError(t, err)

	_, err = Autoregress(model, scaler, frame, 7, 30)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestAutoregressHoldsAuxiliaryChannels(t *testing.T) {
	frame := budgetFrame(t, []float64{4, 8, 6, 2, 10, 3, 7, 9, 1, 5})
	scaler, err := timeseries.FitScaler(frame)
	require.NoError(t, err)
	model := &persistence{width: 4}

	out, err := Autoregress(model, scaler, frame, 3, 4)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, v := range out {
		assert.InDelta(t, 5, v, 1e-9, "persistence forecast repeats the last expense")
	}

	norm, err := scaler.Normalize(frame)
	require.NoError(t, err)
	last := norm.Rows[len(norm.Rows)-1]

	require.Len(t, model.windows, 4)
	second := model.windows[1]
	assert.Equal(t, norm.Rows[len(norm.Rows)-2], second[0], "window slides by one row")
	appended := second[2]
	assert.InDelta(t, last[0], appended[0], 1e-12)
	assert.Equal(t, last[1:], appended[1:], "auxiliary channels stay at their last values")
}

func TestAutoregressFailures(t *testing.T) {
	frame := timeseries.Compose(series(repeat(3, 5)...), timeseries.BudgetSeries{})
	scaler, err := timeseries.FitScaler(frame)
	require.NoError(t, err)

	_, err = Autoregress(&persistence{width: 1}, scaler, frame, 7, 3)
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)

	_, err = Autoregress(&persistence{width: 1}, timeseries.NewScaler(nil), frame, 3, 3)
	assert.ErrorIs(t, err, core.ErrScalerMismatch)

	empty, err := Autoregress(&persistence{width: 1}, scaler, frame, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestForecastDates(t *testing.T) {
	frame := timeseries.Compose(series(repeat(3, 10)...), timeseries.BudgetSeries{})
	scaler, err := timeseries.FitScaler(frame)
	require.NoError(t, err)

	points, err := Forecast(&persistence{width: 1}, scaler, frame, 7, 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, day(2024, 1, 11), points[0].Date)
	assert.Equal(t, day(2024, 1, 13), points[2].Date)
}
