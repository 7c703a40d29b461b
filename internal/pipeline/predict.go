package pipeline

import (
	"context"
	"fmt"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/forecast"
	"spendcast/internal/log"
	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

// Prediction is the inference-only answer for one user.
type Prediction struct {
	UserID   string             `json:"user_id"`
	Variant  nn.Variant         `json:"variant"`
	History  []core.DailyAmount `json:"history"`
	Forecast []core.DailyAmount `json:"forecast"`
	Summary  forecast.Summary   `json:"summary"`
	// ModelRunID names the pass that produced the weights.
	ModelRunID     string    `json:"model_run_id"`
	TrainedThrough time.Time `json:"trained_through"`
}

// Predict forecasts horizon days from the stored artifact without training.
// The artifact is only read, so Predict does not wait for a running pass.
func (m *Manager) Predict(ctx context.Context, userID string, horizon int) (Prediction, error) {
	if horizon <= 0 {
		horizon = m.cfg.DefaultHorizon
	}
	model, artifact, frame, err := m.loadTrained(ctx, userID)
	if err != nil {
		return Prediction{}, err
	}

	points, err := forecast.Forecast(model, artifact.Scaler, frame, artifact.SequenceLength, horizon)
	if err != nil {
		return Prediction{}, fmt.Errorf("forecast: %w", err)
	}
	meta := artifact.Checkpoint.Meta
	m.logger.DebugContext(ctx, "Prediction served",
		log.FieldUserID, userID, log.FieldVariant, string(meta.Variant), log.FieldHorizon, horizon)

	history := frame.Expenses()
	return Prediction{
		UserID:         userID,
		Variant:        meta.Variant,
		History:        history.Amounts(),
		Forecast:       points,
		Summary:        forecast.Summarize(history, points, m.now()),
		ModelRunID:     artifact.RunID,
		TrainedThrough: artifact.LastDate,
	}, nil
}

// Backtest evaluates the stored model on the current history without
// training or persisting anything.
func (m *Manager) Backtest(ctx context.Context, userID string) (forecast.Report, error) {
	model, artifact, frame, err := m.loadTrained(ctx, userID)
	if err != nil {
		return forecast.Report{}, err
	}
	report, err := forecast.Backtest(model, artifact.Scaler, frame, artifact.SequenceLength)
	if err != nil {
		return forecast.Report{}, fmt.Errorf("backtest: %w", err)
	}
	m.logger.InfoContext(ctx, "Backtest completed",
		log.FieldUserID, userID, log.FieldMAPE, report.MAPE, "rating", string(report.Rating))
	return report, nil
}

// loadTrained restores the user's model and rebuilds the feature frame its
// variant expects.
func (m *Manager) loadTrained(ctx context.Context, userID string) (*nn.Regressor, Artifact, timeseries.FeatureFrame, error) {
	artifact, err := m.store.LoadArtifact(ctx, userID)
	if err != nil {
		return nil, Artifact{}, timeseries.FeatureFrame{}, fmt.Errorf("load checkpoint for %s: %w", userID, err)
	}
	meta := artifact.Checkpoint.Meta
	model, err := nn.Restore(artifact.Checkpoint, nn.Config{
		Variant:    meta.Variant,
		InputWidth: meta.InputWidth,
		HiddenSize: meta.HiddenSize,
		NumLayers:  meta.NumLayers,
	})
	if err != nil {
		return nil, Artifact{}, timeseries.FeatureFrame{}, err
	}

	frame, err := m.prepare(ctx, userID)
	if err != nil {
		return nil, Artifact{}, timeseries.FeatureFrame{}, err
	}
	if meta.Variant == nn.Univariate {
		if frame, err = frame.Select(timeseries.ExpenseChannels...); err != nil {
			return nil, Artifact{}, timeseries.FeatureFrame{}, err
		}
	}
	return model, artifact, frame, nil
}
