// Package forecast produces multi-step forecasts from a trained regressor and
// measures how well it predicts held-out history.
package forecast

import (
	"fmt"
	"math"
	"slices"

	"spendcast/internal/core"
	"spendcast/internal/timeseries"
)

// Predictor is the part of a trained model the forecaster needs.
type Predictor interface {
	InputWidth() int
	Predict(window [][]float64) (float64, error)
}

// checkInputs validates a model, scaler and frame against each other in the
// order callers rely on: width first, then scaler coverage, then length.
func checkInputs(model Predictor, scaler timeseries.Scaler, history timeseries.FeatureFrame, length, need int) error {
	if model.InputWidth() != history.Width() {
		return fmt.Errorf("model expects %d channels, history has %d: %w",
			model.InputWidth(), history.Width(), core.ErrShapeMismatch)
	}
	if history.Index(timeseries.ChannelExpense) < 0 {
		return fmt.Errorf("history has no %s channel: %w", timeseries.ChannelExpense, core.ErrShapeMismatch)
	}
	if err := scaler.Covers(history.Channels); err != nil {
		return err
	}
	if length < 1 {
		return fmt.Errorf("sequence length %d must be positive", length)
	}
	if history.Len() < need {
		return fmt.Errorf("%d rows of history, need %d: %w", history.Len(), need, core.ErrInsufficientHistory)
	}
	return nil
}

// Autoregress forecasts the next steps days of expense. Each prediction is fed
// back as the expense channel of the next input row while the other channels
// keep their last observed values. Results are in currency units, oldest first.
func Autoregress(model Predictor, scaler timeseries.Scaler, history timeseries.FeatureFrame, length, steps int) ([]float64, error) {
	if err := checkInputs(model, scaler, history, length, length); err != nil {
		return nil, err
	}
	if steps < 0 {
		return nil, fmt.Errorf("step count %d must not be negative", steps)
	}

	norm, err := scaler.Normalize(history.Tail(length))
	if err != nil {
		return nil, err
	}
	expense := norm.Index(timeseries.ChannelExpense)
	last := slices.Clone(norm.Rows[len(norm.Rows)-1])

	window := norm.Rows
	predicted := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		y, err := model.Predict(window)
		if err != nil {
			return nil, fmt.Errorf("forecast step %d: %w", i+1, err)
		}
		predicted = append(predicted, y)

		next := slices.Clone(last)
		next[expense] = y
		window = append(window[1:len(window):len(window)], next)
	}

	out := make([]float64, len(predicted))
	for i, y := range predicted {
		v, err := scaler.Inverse(timeseries.ChannelExpense, y)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("forecast step %d is %v: %w", i+1, v, core.ErrNumericalFailure)
		}
		out[i] = v
	}
	return out, nil
}

// Forecast runs Autoregress and dates the results starting the day after the
// last row of history.
func Forecast(model Predictor, scaler timeseries.Scaler, history timeseries.FeatureFrame, length, steps int) ([]core.DailyAmount, error) {
	values, err := Autoregress(model, scaler, history, length, steps)
	if err != nil {
		return nil, err
	}
	lastDate := history.Dates[len(history.Dates)-1]
	out := make([]core.DailyAmount, len(values))
	for i, v := range values {
		out[i] = core.DailyAmount{Date: lastDate.AddDate(0, 0, i+1), Amount: v}
	}
	return out, nil
}
