package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendcast/internal/core"
	"spendcast/internal/events"
	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

type staticSource struct {
	mu       sync.Mutex
	expenses []core.ExpenseRecord
	budgets  []core.BudgetDefinition
	err      error
}

func (s *staticSource) ListExpenses(context.Context, string) ([]core.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expenses, s.err
}

func (s *staticSource) ListBudgets(context.Context, string) ([]core.BudgetDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgets, s.err
}

type capture struct {
	events []events.RunCompleted
	err    error
}

func (c *capture) PublishRunCompleted(_ context.Context, e events.RunCompleted) error {
	c.events = append(c.events, e)
	return c.err
}

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func dailyExpenses(start time.Time, days int, cents int64) []core.ExpenseRecord {
	out := make([]core.ExpenseRecord, days)
	for i := range out {
		out[i] = core.ExpenseRecord{
			Date:       core.DateOf(start.AddDate(0, 0, i)),
			Amount:     core.Money{Cents: cents},
			CategoryID: 1,
			UserID:     "u",
		}
	}
	return out
}

func monthlyBudget(cents int64) []core.BudgetDefinition {
	return []core.BudgetDefinition{{
		ID: 1, Amount: core.Money{Cents: cents}, Period: core.Monthly,
		StartDate: core.DateOf(jan1), UserID: "u",
	}}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.HiddenSize = 8
	cfg.NumLayers = 1
	cfg.Train.Epochs = 5
	cfg.Train.Lanes = 1
	cfg.CrossValEpochs = 2
	return cfg
}

func newTestManager(src Source, store Store, cfg Config, opts ...Option) *Manager {
	opts = append([]Option{WithClock(func() time.Time { return mar1 })}, opts...)
	return NewManager(src, store, cfg, opts...)
}

func TestRunEndToEnd(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 60, 1000), budgets: monthlyBudget(31000)}
	store := NewMemoryStore()
	pub := &capture{}

	cfg := DefaultConfig()
	cfg.HiddenSize = 16
	cfg.Train.Epochs = 60
	cfg.Train.LearningRate = 0.005
	cfg.Train.Lanes = 1
	m := newTestManager(src, store, cfg, WithPublisher(pub))

	res, err := m.Run(context.Background(), RunRequest{UserID: "u", UseBudgetFeatures: true})
	require.NoError(t, err)

	st := res.Status
	assert.True(t, st.Succeeded())
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, nn.Multivariate, st.Variant)
	assert.False(t, st.Resumed)
	assert.NotEmpty(t, st.RunID)

	require.Len(t, res.History, 60)
	require.Len(t, res.Training.Losses, 60)
	require.NotNil(t, res.Split)

	require.NotNil(t, res.Backtest)
	assert.Equal(t, 12, res.Backtest.HoldOut)
	assert.Less(t, res.Backtest.MAPE, 10.0, "constant spending should be easy to predict")

	require.Len(t, res.Forecast, 30)
	assert.Equal(t, mar1, res.Forecast[0].Date)
	for _, p := range res.Forecast {
		assert.False(t, math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0))
	}
	assert.InDelta(t, 300, res.Summary.NextPeriodTotal, 60)
	assert.InDelta(t, 290, res.Summary.CurrentPeriodTotal, 1e-6)

	artifact, err := store.LoadArtifact(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, st.RunID, artifact.RunID)
	assert.Equal(t, nn.Multivariate, artifact.Checkpoint.Meta.Variant)
	assert.Equal(t, 7, artifact.SequenceLength)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), artifact.LastDate)
	assert.NoError(t, artifact.Scaler.Covers(timeseries.BudgetChannels))

	runs, err := store.ListRuns(context.Background(), "u", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StateDone, runs[0].State)
	require.NotNil(t, runs[0].BacktestMAPE)

	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].Succeeded())
	assert.Equal(t, "multivariate", pub.events[0].Variant)
}

func TestRunResumesCompatibleCheckpoint(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 20, 1000)}
	store := NewMemoryStore()
	m := newTestManager(src, store, fastConfig())
	ctx := context.Background()

	first, err := m.Run(ctx, RunRequest{UserID: "u", ContinuousLearning: true})
	require.NoError(t, err)
	assert.False(t, first.Status.Resumed)
	before, err := store.LoadArtifact(ctx, "u")
	require.NoError(t, err)

	second, err := m.Run(ctx, RunRequest{UserID: "u", ContinuousLearning: true})
	require.NoError(t, err)
	assert.True(t, second.Status.Resumed)
	assert.Empty(t, second.Status.CheckpointWarning)

	after, err := store.LoadArtifact(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, second.Status.RunID, after.RunID)
	assert.NotEqual(t, before.Checkpoint.Weights, after.Checkpoint.Weights, "resumed weights keep training")
}

func TestRunIgnoresIncompatibleCheckpoint(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 20, 1000), budgets: monthlyBudget(31000)}
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := fastConfig()

	old, err := nn.New(cfg.modelConfig(nn.Univariate), 1)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceArtifact(ctx, Artifact{UserID: "u", RunID: "old", Checkpoint: old.Snapshot()}))

	m := newTestManager(src, store, cfg)
	res, err := m.Run(ctx, RunRequest{UserID: "u", UseBudgetFeatures: true, ContinuousLearning: true})
	require.NoError(t, err)
	assert.Equal(t, nn.Multivariate, res.Status.Variant)
	assert.False(t, res.Status.Resumed)
	assert.Contains(t, res.Status.CheckpointWarning, core.ErrCheckpointIncompatible.Error())

	replaced, err := store.LoadArtifact(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, nn.Multivariate, replaced.Checkpoint.Meta.Variant)
}

// unreadableStore fails every load with loadErr until an artifact is replaced.
type unreadableStore struct {
	*MemoryStore
	loadErr error
}

func (s *unreadableStore) LoadArtifact(ctx context.Context, userID string) (Artifact, error) {
	if s.loadErr != nil {
		return Artifact{}, s.loadErr
	}
	return s.MemoryStore.LoadArtifact(ctx, userID)
}

func (s *unreadableStore) ReplaceArtifact(ctx context.Context, a Artifact) error {
	s.loadErr = nil
	return s.MemoryStore.ReplaceArtifact(ctx, a)
}

func TestRunReplacesUnreadableCheckpoint(t *testing.T) {
	_, decodeErr := nn.DecodeWeights([]byte("junk"))
	require.ErrorIs(t, decodeErr, core.ErrCheckpointIncompatible)

	cases := []struct {
		name    string
		loadErr error
	}{
		{name: "undecodable weights", loadErr: decodeErr},
		{name: "bad scaler", loadErr: fmt.Errorf("decode scaler: %w", core.ErrScalerMismatch)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := &unreadableStore{MemoryStore: NewMemoryStore(), loadErr: tc.loadErr}
			m := newTestManager(&staticSource{expenses: dailyExpenses(jan1, 20, 1000)}, store, fastConfig())

			res, err := m.Run(ctx, RunRequest{UserID: "u", ContinuousLearning: true})
			require.NoError(t, err)
			assert.Equal(t, StateDone, res.Status.State)
			assert.False(t, res.Status.Resumed)
			assert.NotEmpty(t, res.Status.CheckpointWarning)

			next, err := m.Run(ctx, RunRequest{UserID: "u", ContinuousLearning: true})
			require.NoError(t, err)
			assert.True(t, next.Status.Resumed)
			assert.Empty(t, next.Status.CheckpointWarning)
		})
	}
}

func TestSelectVariant(t *testing.T) {
	cases := []struct {
		name      string
		budgets   []core.BudgetDefinition
		useBudget bool
		want      nn.Variant
	}{
		{name: "budget enabled", budgets: monthlyBudget(31000), useBudget: true, want: nn.Multivariate},
		{name: "budget disabled by policy", budgets: monthlyBudget(31000), useBudget: false, want: nn.Univariate},
		{name: "no budget data", useBudget: true, want: nn.Univariate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &staticSource{expenses: dailyExpenses(jan1, 15, 500), budgets: tc.budgets}
			m := newTestManager(src, NewMemoryStore(), fastConfig())
			res, err := m.Run(context.Background(), RunRequest{UserID: "u", UseBudgetFeatures: tc.useBudget})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status.Variant)
		})
	}
}

func TestRunFailuresLeaveCheckpointUntouched(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		src     *staticSource
		wantErr error
		stage   State
	}{
		{name: "no expenses", src: &staticSource{}, wantErr: core.ErrDataUnavailable, stage: StatePrepare},
		{name: "too few days", src: &staticSource{expenses: dailyExpenses(jan1, 5, 1000)}, wantErr: core.ErrInsufficientHistory, stage: StateTrain},
		{
			name: "overlapping budgets rejected",
			src: &staticSource{
				expenses: dailyExpenses(jan1, 20, 1000),
				budgets:  append(monthlyBudget(31000), monthlyBudget(1000)...),
			},
			wantErr: core.ErrOverlappingBudgets,
			stage:   StatePrepare,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			require.NoError(t, store.ReplaceArtifact(ctx, Artifact{UserID: "u", RunID: "previous"}))
			pub := &capture{}
			cfg := fastConfig()
			cfg.Overlap = timeseries.OverlapReject
			m := newTestManager(tc.src, store, cfg, WithPublisher(pub))

			res, err := m.Run(ctx, RunRequest{UserID: "u", UseBudgetFeatures: true})
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, StateFailed, res.Status.State)
			assert.Equal(t, tc.stage, res.Status.FailedStage)
			assert.ErrorIs(t, res.Status.Err, tc.wantErr)

			kept, err := store.LoadArtifact(ctx, "u")
			require.NoError(t, err)
			assert.Equal(t, "previous", kept.RunID)

			runs, _ := store.ListRuns(ctx, "u", 0)
			require.Len(t, runs, 1)
			assert.Equal(t, tc.stage, runs[0].FailedStage)
			require.Len(t, pub.events, 1)
			assert.False(t, pub.events[0].Succeeded())
		})
	}
}

func TestRunSourceError(t *testing.T) {
	boom := errors.New("database is locked")
	m := newTestManager(&staticSource{err: boom}, NewMemoryStore(), fastConfig())
	res, err := m.Run(context.Background(), RunRequest{UserID: "u"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatePrepare, res.Status.FailedStage)
}

func TestRunShortHistorySkipsBacktest(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 20, 1000)}
	m := newTestManager(src, NewMemoryStore(), fastConfig())

	res, err := m.Run(context.Background(), RunRequest{UserID: "u", Horizon: 5})
	require.NoError(t, err)
	assert.Nil(t, res.Backtest)
	assert.Contains(t, res.BacktestSkipped, core.ErrInsufficientHistory.Error())
	assert.Len(t, res.Forecast, 5)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 15, 1000)}
	pub := &capture{err: errors.New("broker unavailable")}
	m := newTestManager(src, NewMemoryStore(), fastConfig(), WithPublisher(pub))

	res, err := m.Run(context.Background(), RunRequest{UserID: "u"})
	require.NoError(t, err)
	assert.True(t, res.Status.Succeeded())
	assert.Len(t, pub.events, 1)
}

func TestRunWaitsForSlot(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 15, 1000)}
	m := newTestManager(src, NewMemoryStore(), fastConfig())

	release, err := m.acquire(context.Background(), "u")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := m.Run(ctx, RunRequest{UserID: "u"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePrepare, res.Status.FailedStage)

	// another user is not blocked
	_, err = m.Run(context.Background(), RunRequest{UserID: "v"})
	assert.NoError(t, err)

	release()
	_, err = m.Run(context.Background(), RunRequest{UserID: "u"})
	assert.NoError(t, err)
}

func TestPredict(t *testing.T) {
	src := &staticSource{expenses: dailyExpenses(jan1, 20, 1000), budgets: monthlyBudget(31000)}
	store := NewMemoryStore()
	m := newTestManager(src, store, fastConfig())
	ctx := context.Background()

	_, err := m.Predict(ctx, "u", 10)
	require.ErrorIs(t, err, core.ErrCheckpointNotFound)

	res, err := m.Run(ctx, RunRequest{UserID: "u", UseBudgetFeatures: true})
	require.NoError(t, err)

	p, err := m.Predict(ctx, "u", 10)
	require.NoError(t, err)
	assert.Equal(t, nn.Multivariate, p.Variant)
	assert.Len(t, p.Forecast, 10)
	assert.Len(t, p.History, 20)
	assert.Equal(t, res.Status.RunID, p.ModelRunID)
	assert.Equal(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), p.TrainedThrough)

	// the budget disappeared: a multivariate model cannot be fed one channel
	src.mu.Lock()
	src.budgets = nil
	src.mu.Unlock()
	_, err = m.Predict(ctx, "u", 10)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestBacktestStoredModel(t *testing.T) {
	ctx := context.Background()
	src := &staticSource{expenses: dailyExpenses(jan1, 60, 1000)}
	m := newTestManager(src, NewMemoryStore(), fastConfig())

	_, err := m.Backtest(ctx, "u")
	require.ErrorIs(t, err, core.ErrCheckpointNotFound)

	_, err = m.Run(ctx, RunRequest{UserID: "u"})
	require.NoError(t, err)

	report, err := m.Backtest(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 12, report.HoldOut)
	assert.Len(t, report.Predicted, 12)
	assert.Equal(t, time.Date(2024, 2, 18, 0, 0, 0, 0, time.UTC), report.Dates[0])

	src.mu.Lock()
	src.expenses = src.expenses[:20]
	src.mu.Unlock()
	_, err = m.Backtest(ctx, "u")
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)
}

func TestCrossValidate(t *testing.T) {
	ctx := context.Background()

	short := newTestManager(&staticSource{expenses: dailyExpenses(jan1, 60, 1000)}, NewMemoryStore(), fastConfig())
	_, err := short.CrossValidate(ctx, RunRequest{UserID: "u"})
	require.ErrorIs(t, err, core.ErrInsufficientHistory)

	expenses := dailyExpenses(jan1, 97, 1000)
	for i := range expenses {
		expenses[i].Amount.Cents += int64(i%7) * 100
	}
	store := NewMemoryStore()
	m := newTestManager(&staticSource{expenses: expenses}, store, fastConfig())
	cv, err := m.CrossValidate(ctx, RunRequest{UserID: "u"})
	require.NoError(t, err)

	assert.Equal(t, nn.Univariate, cv.Variant)
	require.Len(t, cv.Folds, 3)
	assert.Equal(t, 24, cv.Folds[0].TrainDays)
	assert.Equal(t, 24, cv.Folds[0].TestDays)
	assert.Equal(t, 72, cv.Folds[2].TrainDays)
	assert.Equal(t, 25, cv.Folds[2].TestDays)
	assert.Equal(t, jan1.AddDate(0, 0, 24), cv.Folds[0].TestStart)

	var mae float64
	for _, f := range cv.Folds {
		mae += f.Metrics.MAE
	}
	assert.InDelta(t, mae/3, cv.Mean.MAE, 1e-9)
	assert.True(t, cv.Mean.HasWeekly)

	_, err = store.LoadArtifact(ctx, "u")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound, "cross validation persists nothing")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.SequenceLength = 0
	cfg.TestRatio = 1
	cfg.Overlap = "priority"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence length")
	assert.Contains(t, err.Error(), "test ratio")
	assert.Contains(t, err.Error(), "overlap policy")
}
