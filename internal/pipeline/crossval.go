package pipeline

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"spendcast/internal/core"
	"spendcast/internal/forecast"
	"spendcast/internal/log"
	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

// Fold is the outcome of one cross-validation split.
type Fold struct {
	Index     int              `json:"index"`
	TrainDays int              `json:"train_days"`
	TestDays  int              `json:"test_days"`
	TestStart time.Time        `json:"test_start"`
	Metrics   forecast.Metrics `json:"metrics"`
}

// CrossValidation averages walk-forward metrics over expanding-window folds.
type CrossValidation struct {
	Variant nn.Variant       `json:"variant"`
	Folds   []Fold           `json:"folds"`
	Mean    forecast.Metrics `json:"mean"`
}

// CrossValidate splits the history into folds+1 equal blocks. Fold k trains a
// fresh model on blocks [0, k), with a scaler fitted on those rows only, and
// walks forward over block k. Nothing is persisted.
func (m *Manager) CrossValidate(ctx context.Context, req RunRequest) (CrossValidation, error) {
	frame, err := m.prepare(ctx, req.UserID)
	if err != nil {
		return CrossValidation{}, err
	}
	if frame.Len() < m.cfg.CrossValMinDays {
		return CrossValidation{}, fmt.Errorf("cross validation needs %d days, have %d: %w",
			m.cfg.CrossValMinDays, frame.Len(), core.ErrInsufficientHistory)
	}
	variant, frame, err := selectVariant(frame, req.UseBudgetFeatures)
	if err != nil {
		return CrossValidation{}, err
	}
	cfg := m.cfg.modelConfig(variant)
	length := m.cfg.SequenceLength
	k := m.cfg.CrossValFolds
	block := frame.Len() / (k + 1)
	logger := m.logger.With(log.FieldUserID, req.UserID, log.FieldVariant, string(variant))

	cv := CrossValidation{Variant: variant}
	for f := 1; f <= k; f++ {
		trainEnd := f * block
		testEnd := trainEnd + block
		if f == k {
			testEnd = frame.Len()
		}

		train := frame.Slice(0, trainEnd)
		scaler, err := timeseries.FitScaler(train)
		if err != nil {
			return CrossValidation{}, err
		}
		norm, err := scaler.Normalize(train)
		if err != nil {
			return CrossValidation{}, err
		}
		samples, err := timeseries.Windows(norm, length)
		if err != nil {
			return CrossValidation{}, fmt.Errorf("fold %d: %w", f, err)
		}

		model, err := nn.New(cfg, m.cfg.Train.Seed)
		if err != nil {
			return CrossValidation{}, err
		}
		opts := m.cfg.Train
		opts.Epochs = m.cfg.CrossValEpochs
		if _, err := model.Train(ctx, samples, opts); err != nil {
			return CrossValidation{}, fmt.Errorf("fold %d: train: %w", f, err)
		}

		report, err := forecast.WalkForward(model, scaler, frame.Slice(0, testEnd), length, trainEnd, testEnd)
		if err != nil {
			return CrossValidation{}, fmt.Errorf("fold %d: %w", f, err)
		}
		cv.Folds = append(cv.Folds, Fold{
			Index:     f,
			TrainDays: trainEnd,
			TestDays:  testEnd - trainEnd,
			TestStart: frame.Dates[trainEnd],
			Metrics:   report.Metrics,
		})
		logger.InfoContext(ctx, "Cross-validation fold finished",
			"fold", f, log.FieldMAPE, report.MAPE, log.FieldRMSE, report.RMSE)
	}
	cv.Mean = meanMetrics(cv.Folds)
	return cv, nil
}

func meanMetrics(folds []Fold) forecast.Metrics {
	var mae, rmse, mape, r2, weekly []float64
	for _, f := range folds {
		mae = append(mae, f.Metrics.MAE)
		rmse = append(rmse, f.Metrics.RMSE)
		mape = append(mape, f.Metrics.MAPE)
		r2 = append(r2, f.Metrics.R2)
		if f.Metrics.HasWeekly {
			weekly = append(weekly, f.Metrics.WeeklyErrorPct)
		}
	}
	if len(folds) == 0 {
		return forecast.Metrics{}
	}
	m := forecast.Metrics{
		MAE:  stat.Mean(mae, nil),
		RMSE: stat.Mean(rmse, nil),
		MAPE: stat.Mean(mape, nil),
		R2:   stat.Mean(r2, nil),
	}
	if len(weekly) > 0 {
		m.WeeklyErrorPct, m.HasWeekly = stat.Mean(weekly, nil), true
	}
	return m
}
