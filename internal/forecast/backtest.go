package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"spendcast/internal/core"
	"spendcast/internal/timeseries"
)

const (
	// MaxHoldOut caps the number of held-out backtest days.
	MaxHoldOut = 30
	// mapeFloor keeps percentage errors finite on zero-spend days.
	mapeFloor = 1e-10
)

// Rating buckets overall accuracy by MAPE.
type Rating string

const (
	Excellent Rating = "Excellent"
	Good      Rating = "Good"
	Fair      Rating = "Fair"
	Poor      Rating = "Poor"
)

// RatingFor classifies a MAPE percentage.
func RatingFor(mape float64) Rating {
	switch {
	case mape < 10:
		return Excellent
	case mape < 20:
		return Good
	case mape < 30:
		return Fair
	default:
		return Poor
	}
}

// Metrics are the accuracy figures of a set of one-step-ahead predictions.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
	R2   float64 `json:"r2"`
	// WeeklyErrorPct is only meaningful when HasWeekly is set, i.e. when at
	// least one complete 7-day bucket was compared.
	WeeklyErrorPct float64 `json:"weekly_error_pct"`
	HasWeekly      bool    `json:"has_weekly"`
}

// Report is the outcome of a walk-forward backtest.
type Report struct {
	Metrics
	Rating    Rating      `json:"rating"`
	HoldOut   int         `json:"hold_out"`
	Dates     []time.Time `json:"dates"`
	Actual    []float64   `json:"actual"`
	Predicted []float64   `json:"predicted"`
}

// HoldOutSize is min(30, round(0.2*n)).
func HoldOutSize(n int) int {
	return min(MaxHoldOut, int(math.Round(0.2*float64(n))))
}

// Backtest holds out the last HoldOutSize days of history and predicts each
// of them from the true values of the preceding length days. Predictions are
// never fed back. Series of length+30 rows or fewer are rejected.
func Backtest(model Predictor, scaler timeseries.Scaler, history timeseries.FeatureFrame, length int) (Report, error) {
	if err := checkInputs(model, scaler, history, length, 1); err != nil {
		return Report{}, err
	}
	n := history.Len()
	if n <= length+MaxHoldOut {
		return Report{}, fmt.Errorf("backtest needs more than %d rows, have %d: %w",
			length+MaxHoldOut, n, core.ErrInsufficientHistory)
	}
	return WalkForward(model, scaler, history, length, n-HoldOutSize(n), n)
}

// WalkForward predicts rows [from, to) of history one step ahead, each from
// the true values of the preceding length rows.
func WalkForward(model Predictor, scaler timeseries.Scaler, history timeseries.FeatureFrame, length, from, to int) (Report, error) {
	if err := checkInputs(model, scaler, history, length, to); err != nil {
		return Report{}, err
	}
	if from < length || from >= to {
		return Report{}, fmt.Errorf("evaluated rows [%d, %d) need a full window of %d before them: %w",
			from, to, length, core.ErrInsufficientHistory)
	}
	norm, err := scaler.Normalize(history)
	if err != nil {
		return Report{}, err
	}
	expense := history.Index(timeseries.ChannelExpense)

	report := Report{HoldOut: to - from}
	for t := from; t < to; t++ {
		y, err := model.Predict(norm.Rows[t-length : t])
		if err != nil {
			return Report{}, fmt.Errorf("backtest %s: %w", history.Dates[t].Format(time.DateOnly), err)
		}
		pred, err := scaler.Inverse(timeseries.ChannelExpense, y)
		if err != nil {
			return Report{}, err
		}
		report.Dates = append(report.Dates, history.Dates[t])
		report.Actual = append(report.Actual, history.Rows[t][expense])
		report.Predicted = append(report.Predicted, pred)
	}

	report.Metrics = ComputeMetrics(report.Actual, report.Predicted)
	report.Rating = RatingFor(report.MAPE)
	return report, nil
}

// ComputeMetrics compares equally long actual and predicted series.
func ComputeMetrics(actual, predicted []float64) Metrics {
	n := len(actual)
	if n == 0 || n != len(predicted) {
		return Metrics{}
	}

	residual := make([]float64, n)
	floats.SubTo(residual, actual, predicted)

	var absSum, sqSum, pctSum float64
	for i, r := range residual {
		absSum += math.Abs(r)
		sqSum += r * r
		pctSum += math.Abs(r) / math.Max(mapeFloor, math.Abs(actual[i]))
	}

	m := Metrics{
		MAE:  absSum / float64(n),
		RMSE: math.Sqrt(sqSum / float64(n)),
		MAPE: pctSum / float64(n) * 100,
		R2:   rSquared(actual, predicted, sqSum),
	}
	m.WeeklyErrorPct, m.HasWeekly = WeeklyErrorPct(actual, predicted)
	return m
}

// rSquared is 1 - SSres/SStot. For constant actuals SStot is zero; a perfect
// prediction then scores 1 and anything else 0.
func rSquared(actual, predicted []float64, ssRes float64) float64 {
	mean := stat.Mean(actual, nil)
	var ssTot float64
	for _, a := range actual {
		ssTot += (a - mean) * (a - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// WeeklyErrorPct sums both series into consecutive complete 7-day buckets and
// returns the mean absolute percentage error across buckets. The second
// result is false when fewer than 7 values are given.
func WeeklyErrorPct(actual, predicted []float64) (float64, bool) {
	weeks := min(len(actual), len(predicted)) / 7
	if weeks == 0 {
		return 0, false
	}
	var total float64
	for w := 0; w < weeks; w++ {
		a := floats.Sum(actual[w*7 : (w+1)*7])
		p := floats.Sum(predicted[w*7 : (w+1)*7])
		total += math.Abs(a-p) / math.Max(mapeFloor, math.Abs(a))
	}
	return total / float64(weeks) * 100, true
}

// EvaluateSplit scores normalised test samples, such as the tail produced by
// timeseries.BuildSequences, in currency units.
func EvaluateSplit(model Predictor, scaler timeseries.Scaler, test []timeseries.Sample) (Metrics, error) {
	if len(test) == 0 {
		return Metrics{}, fmt.Errorf("evaluate: no test samples: %w", core.ErrInsufficientHistory)
	}
	actual := make([]float64, len(test))
	predicted := make([]float64, len(test))
	for i, s := range test {
		y, err := model.Predict(s.Window)
		if err != nil {
			return Metrics{}, fmt.Errorf("evaluate sample %d: %w", i, err)
		}
		if predicted[i], err = scaler.Inverse(timeseries.ChannelExpense, y); err != nil {
			return Metrics{}, err
		}
		if actual[i], err = scaler.Inverse(timeseries.ChannelExpense, s.Target); err != nil {
			return Metrics{}, err
		}
	}
	return ComputeMetrics(actual, predicted), nil
}
