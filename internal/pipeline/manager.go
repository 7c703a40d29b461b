// Package pipeline runs the continuous learning pass: prepare features,
// choose a model variant, resume or initialise weights, train, evaluate,
// forecast and persist the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendcast/internal/core"
	"spendcast/internal/events"
	"spendcast/internal/forecast"
	"spendcast/internal/log"
	"spendcast/internal/nn"
	"spendcast/internal/observability"
	"spendcast/internal/timeseries"
)

// State is a step of the pass state machine.
type State string

const (
	StatePrepare       State = "prepare"
	StateSelectVariant State = "select_variant"
	StateResumeOrInit  State = "resume_or_init"
	StateTrain         State = "train"
	StateEvaluate      State = "evaluate"
	StateForecast      State = "forecast"
	StatePersist       State = "persist"
	// StateDone follows a successful Persist.
	StateDone   State = "done"
	StateFailed State = "failed"
)

// RunRequest is the caller's policy for one pass.
type RunRequest struct {
	UserID string
	// UseBudgetFeatures allows the multivariate variant when budget data exists.
	UseBudgetFeatures bool
	// ContinuousLearning resumes from a compatible stored checkpoint.
	ContinuousLearning bool
	// Horizon is the number of days to forecast. Zero uses the configured default.
	Horizon int
	// AsOf anchors the period summary. Zero uses the manager's clock.
	AsOf time.Time
}

// Status is what a caller needs to decide on retries.
type Status struct {
	RunID       string
	UserID      string
	State       State
	FailedStage State
	Variant     nn.Variant
	Resumed     bool
	// CheckpointWarning explains why a stored checkpoint was not resumed.
	CheckpointWarning string
	Err               error
	StartedAt         time.Time
	FinishedAt        time.Time
}

func (s Status) Succeeded() bool {
	return s.State == StateDone && s.Err == nil
}

// RunResult is everything a pass produced.
type RunResult struct {
	Status   Status
	Training nn.TrainReport
	// Split holds the metrics on the held-out sequence windows, when any.
	Split *forecast.Metrics
	// Backtest is nil when history was too short; BacktestSkipped says why.
	Backtest        *forecast.Report
	BacktestSkipped string
	History         []core.DailyAmount
	Forecast        []core.DailyAmount
	Summary         forecast.Summary
}

// Manager runs passes against one Source and one Store. Passes for the same
// user are serialised; passes for different users may run concurrently.
type Manager struct {
	source    Source
	store     Store
	cfg       Config
	publisher events.Publisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// Option customises a Manager.
type Option func(*Manager)

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l.WithComponent(log.ComponentPipeline) }
}

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(source Source, store Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		source:    source,
		store:     store,
		cfg:       cfg,
		publisher: events.Nop{},
		logger:    log.Discard(),
		now:       time.Now,
		newID:     uuid.NewString,
		slots:     make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// acquire blocks until the user's slot is free or ctx ends.
func (m *Manager) acquire(ctx context.Context, userID string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.slots[userID]
	if !ok {
		slot = make(chan struct{}, 1)
		m.slots[userID] = slot
	}
	m.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes one pass. The returned error is also recorded in
// RunResult.Status; a failed pass never touches the stored artifact.
func (m *Manager) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	if req.Horizon <= 0 {
		req.Horizon = m.cfg.DefaultHorizon
	}
	if req.AsOf.IsZero() {
		req.AsOf = m.now()
	}

	res := RunResult{Status: Status{
		RunID:     m.newID(),
		UserID:    req.UserID,
		State:     StatePrepare,
		StartedAt: m.now(),
	}}
	logger := m.logger.WithFields(log.NewFields().WithRun(res.Status.RunID, req.UserID))

	release, err := m.acquire(ctx, req.UserID)
	if err == nil {
		defer release()
		logger.InfoContext(ctx, "Pipeline pass started",
			"budget_features", req.UseBudgetFeatures,
			"continuous_learning", req.ContinuousLearning,
			log.FieldHorizon, req.Horizon)
		err = m.run(ctx, req, &res, logger)
	}

	res.Status.FinishedAt = m.now()
	if err != nil {
		res.Status.FailedStage = res.Status.State
		res.Status.State = StateFailed
		res.Status.Err = err
	} else {
		res.Status.State = StateDone
	}
	m.finish(ctx, &res, logger)
	return res, err
}

func (m *Manager) run(ctx context.Context, req RunRequest, res *RunResult, logger *log.Logger) error {
	length := m.cfg.SequenceLength

	frame, err := m.prepare(ctx, req.UserID)
	if err != nil {
		return err
	}
	res.History = frame.Expenses().Amounts()

	res.Status.State = StateSelectVariant
	variant, frame, err := selectVariant(frame, req.UseBudgetFeatures)
	if err != nil {
		return err
	}
	res.Status.Variant = variant
	cfg := m.cfg.modelConfig(variant)
	logger = logger.With(log.FieldVariant, string(variant))

	res.Status.State = StateResumeOrInit
	model, err := m.resumeOrInit(ctx, req, cfg, &res.Status, logger)
	if err != nil {
		return err
	}

	res.Status.State = StateTrain
	scaler, err := timeseries.FitScaler(frame)
	if err != nil {
		return err
	}
	norm, err := scaler.Normalize(frame)
	if err != nil {
		return err
	}
	ds, err := timeseries.BuildSequences(norm, length, m.cfg.TestRatio)
	if err != nil {
		return err
	}
	if ds.Duplicated {
		logger.WarnContext(ctx, "Only one training window available, duplicated it",
			log.FieldRows, frame.Len())
	}
	opts := m.cfg.Train
	opts.Progress = func(epoch int, loss float64) {
		if epoch%10 == 0 {
			logger.DebugContext(ctx, "Training progress", log.FieldEpoch, epoch, log.FieldLoss, loss)
		}
	}
	res.Training, err = model.Train(ctx, ds.Train, opts)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	logger.InfoContext(ctx, "Training finished",
		log.FieldSamples, len(ds.Train), log.FieldLoss, res.Training.FinalLoss())

	res.Status.State = StateEvaluate
	if len(ds.Test) > 0 {
		split, err := forecast.EvaluateSplit(model, scaler, ds.Test)
		if err != nil {
			return fmt.Errorf("evaluate split: %w", err)
		}
		res.Split = &split
	}
	report, err := forecast.Backtest(model, scaler, frame, length)
	switch {
	case errors.Is(err, core.ErrInsufficientHistory):
		res.BacktestSkipped = err.Error()
		logger.InfoContext(ctx, "Backtest skipped", log.FieldError, err.Error())
	case err != nil:
		return fmt.Errorf("backtest: %w", err)
	default:
		res.Backtest = &report
		logger.InfoContext(ctx, "Backtest finished",
			log.FieldMAPE, report.MAPE, log.FieldRMSE, report.RMSE, "rating", string(report.Rating))
	}

	res.Status.State = StateForecast
	res.Forecast, err = forecast.Forecast(model, scaler, frame, length, req.Horizon)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	res.Summary = forecast.Summarize(frame.Expenses(), res.Forecast, req.AsOf)

	res.Status.State = StatePersist
	if err := ctx.Err(); err != nil {
		return err
	}
	artifact := Artifact{
		UserID:         req.UserID,
		RunID:          res.Status.RunID,
		Checkpoint:     model.Snapshot(),
		Scaler:         scaler,
		SequenceLength: length,
		LastDate:       frame.Dates[frame.Len()-1],
		CreatedAt:      m.now(),
	}
	if err := m.store.ReplaceArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}
	return nil
}

// prepare aggregates, allocates and composes the user's full feature frame.
func (m *Manager) prepare(ctx context.Context, userID string) (timeseries.FeatureFrame, error) {
	if userID == "" {
		return timeseries.FeatureFrame{}, core.ErrEmptyUser
	}
	records, err := m.source.ListExpenses(ctx, userID)
	if err != nil {
		return timeseries.FeatureFrame{}, fmt.Errorf("load expenses: %w", err)
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return timeseries.FeatureFrame{}, fmt.Errorf("expense on %s: %w", r.Date.Format(time.DateOnly), err)
		}
	}
	series, err := timeseries.Aggregate(timeseries.PointsFromExpenses(records))
	if err != nil {
		return timeseries.FeatureFrame{}, fmt.Errorf("user %s: %w", userID, err)
	}

	defs, err := m.source.ListBudgets(ctx, userID)
	if err != nil {
		return timeseries.FeatureFrame{}, fmt.Errorf("load budgets: %w", err)
	}
	budget, err := timeseries.AllocateBudgets(defs, series.Start, series.End(), m.cfg.Overlap)
	if err != nil {
		return timeseries.FeatureFrame{}, err
	}
	return timeseries.Compose(series, budget), nil
}

// selectVariant picks multivariate only when budget channels exist and the
// caller allows them, and projects the frame to the variant's channels.
func selectVariant(frame timeseries.FeatureFrame, useBudget bool) (nn.Variant, timeseries.FeatureFrame, error) {
	if useBudget && frame.HasBudget() {
		return nn.Multivariate, frame, nil
	}
	univariate, err := frame.Select(timeseries.ExpenseChannels...)
	return nn.Univariate, univariate, err
}

// resumeOrInit loads a stored checkpoint only if it decodes and its metadata
// matches cfg exactly. Anything else starts from fresh weights.
func (m *Manager) resumeOrInit(ctx context.Context, req RunRequest, cfg nn.Config, status *Status, logger *log.Logger) (*nn.Regressor, error) {
	fresh := func() (*nn.Regressor, error) {
		return nn.New(cfg, m.cfg.Train.Seed)
	}
	if !req.ContinuousLearning {
		return fresh()
	}

	artifact, err := m.store.LoadArtifact(ctx, req.UserID)
	if errors.Is(err, core.ErrCheckpointNotFound) {
		logger.InfoContext(ctx, "No stored checkpoint, initialising fresh weights")
		return fresh()
	}
	if errors.Is(err, core.ErrCheckpointIncompatible) || errors.Is(err, core.ErrScalerMismatch) {
		status.CheckpointWarning = err.Error()
		logger.WarnContext(ctx, "Stored checkpoint unreadable, initialising fresh weights",
			log.FieldError, err.Error())
		return fresh()
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	model, err := nn.Restore(artifact.Checkpoint, cfg)
	if errors.Is(err, core.ErrCheckpointIncompatible) {
		status.CheckpointWarning = err.Error()
		logger.WarnContext(ctx, "Stored checkpoint incompatible, initialising fresh weights",
			log.FieldError, err.Error())
		return fresh()
	}
	if err != nil {
		return nil, err
	}
	status.Resumed = true
	logger.InfoContext(ctx, "Resumed from stored checkpoint", "checkpoint_run_id", artifact.RunID)
	return model, nil
}

// finish records history, metrics and the completion event. These side
// channels never change the outcome of the pass.
func (m *Manager) finish(ctx context.Context, res *RunResult, logger *log.Logger) {
	ctx = context.WithoutCancel(ctx)
	st := res.Status

	record := RunRecord{
		RunID:       st.RunID,
		UserID:      st.UserID,
		Variant:     st.Variant,
		State:       st.State,
		FailedStage: st.FailedStage,
		Resumed:     st.Resumed,
		StartedAt:   st.StartedAt,
		FinishedAt:  st.FinishedAt,
	}
	if st.Err != nil {
		record.Error = st.Err.Error()
	}
	if len(res.Training.Losses) > 0 {
		loss := res.Training.FinalLoss()
		record.FinalLoss = &loss
	}
	if res.Backtest != nil {
		mape := res.Backtest.MAPE
		record.BacktestMAPE = &mape
	}
	if err := m.store.RecordRun(ctx, record); err != nil {
		logger.WarnContext(ctx, "Failed to record run history", log.FieldError, err.Error())
	}

	variant := string(st.Variant)
	if variant == "" {
		variant = "unknown"
	}
	observability.RecordRun(variant, string(st.State), string(st.FailedStage), st.FinishedAt.Sub(st.StartedAt))
	if record.FinalLoss != nil {
		observability.RecordTraining(variant, *record.FinalLoss)
	}
	if record.BacktestMAPE != nil {
		observability.RecordBacktest(variant, *record.BacktestMAPE)
	}
	if st.Succeeded() {
		observability.RecordPersisted(st.FinishedAt)
	}

	event := events.RunCompleted{
		RunID:           st.RunID,
		UserID:          st.UserID,
		Variant:         string(st.Variant),
		State:           string(st.State),
		FailedStage:     string(st.FailedStage),
		Resumed:         st.Resumed,
		BacktestMAPE:    record.BacktestMAPE,
		NextPeriodTotal: res.Summary.NextPeriodTotal,
		Error:           record.Error,
		StartedAt:       st.StartedAt,
		FinishedAt:      st.FinishedAt,
	}
	if err := m.publisher.PublishRunCompleted(ctx, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish run event", log.FieldError, err.Error())
	}

	fields := log.NewFields().
		WithStage(string(st.FailedStage)).
		WithDuration(st.FinishedAt.Sub(st.StartedAt)).
		WithError(st.Err)
	if st.Succeeded() {
		logger.InfoContext(ctx, "Pipeline pass completed", fields.ToSlice()...)
	} else {
		logger.ErrorContext(ctx, "Pipeline pass failed", fields.ToSlice()...)
	}
}
