package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendcast/internal/core"
	"spendcast/internal/nn"
	"spendcast/internal/pipeline"
	"spendcast/internal/timeseries"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "spendcast.db")
	repo, err := NewSQLiteRepository(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func testArtifact(t *testing.T, userID, runID string, seed int64) pipeline.Artifact {
	t.Helper()
	cfg := nn.DefaultConfig(nn.Univariate)
	cfg.HiddenSize = 4
	cfg.NumLayers = 1
	model, err := nn.New(cfg, seed)
	require.NoError(t, err)
	return pipeline.Artifact{
		UserID:     userID,
		RunID:      runID,
		Checkpoint: model.Snapshot(),
		Scaler: timeseries.NewScaler(map[string]timeseries.Range{
			timeseries.ChannelExpense: {Min: 0, Max: 120.5},
		}),
		SequenceLength: 7,
		LastDate:       time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		CreatedAt:      time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC),
	}
}

func TestMigrationsApplied(t *testing.T) {
	_, path := newTestRepo(t)

	version, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// re-running is a no-op
	require.NoError(t, RunMigrations(path))
}

func TestExpensesRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.AddExpense(ctx, core.ExpenseRecord{
		Date: core.NewDate(2024, 1, 2), Amount: core.Money{Cents: 1250}, CategoryID: 3, UserID: "u1",
	}, "groceries")
	require.NoError(t, err)

	n, err := repo.ImportExpenses(ctx, []core.ExpenseRecord{
		{Date: core.NewDate(2024, 1, 1), Amount: core.Money{Cents: 500}, CategoryID: 1, UserID: "u1"},
		{Date: core.NewDate(2024, 1, 1), Amount: core.Money{Cents: 700}, CategoryID: 1, UserID: "u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Date.Equal(core.NewDate(2024, 1, 1).Time))
	assert.Equal(t, int64(500), got[0].Amount.Cents)
	assert.Equal(t, int64(1250), got[1].Amount.Cents)
	assert.Equal(t, int64(3), got[1].CategoryID)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	none, err := repo.ListExpenses(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestImportExpensesIsAtomic(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.ImportExpenses(ctx, []core.ExpenseRecord{
		{Date: core.NewDate(2024, 1, 1), Amount: core.Money{Cents: 500}, UserID: "u1"},
		{Date: core.NewDate(2024, 1, 2), Amount: core.Money{Cents: 500}, UserID: ""},
	})
	require.ErrorIs(t, err, core.ErrEmptyUser)

	got, err := repo.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBudgetsRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	category := int64(4)

	_, err := repo.AddBudget(ctx, core.BudgetDefinition{
		Amount: core.Money{Cents: 31000}, Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1), UserID: "u1",
	})
	require.NoError(t, err)
	_, err = repo.AddBudget(ctx, core.BudgetDefinition{
		Amount: core.Money{Cents: 7000}, Period: core.Weekly, StartDate: core.NewDate(2024, 1, 1),
		CategoryID: &category, UserID: "u1",
	})
	require.NoError(t, err)

	_, err = repo.AddBudget(ctx, core.BudgetDefinition{
		Amount: core.Money{Cents: -1}, Period: core.Weekly, StartDate: core.NewDate(2024, 1, 1), UserID: "u1",
	})
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	got, err := repo.ListBudgets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.Monthly, got[0].Period)
	assert.Nil(t, got[0].CategoryID)
	require.NotNil(t, got[1].CategoryID)
	assert.Equal(t, category, *got[1].CategoryID)
	assert.NotZero(t, got[1].ID)
}

func TestArtifactReplaceAndLoad(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LoadArtifact(ctx, "u1")
	require.ErrorIs(t, err, core.ErrCheckpointNotFound)

	first := testArtifact(t, "u1", "run-1", 1)
	require.NoError(t, repo.ReplaceArtifact(ctx, first))

	second := testArtifact(t, "u1", "run-2", 2)
	require.NoError(t, repo.ReplaceArtifact(ctx, second))

	got, err := repo.LoadArtifact(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, second.Checkpoint.Meta, got.Checkpoint.Meta)
	assert.Equal(t, second.Checkpoint.Weights, got.Checkpoint.Weights)
	assert.Equal(t, 7, got.SequenceLength)
	assert.True(t, got.LastDate.Equal(second.LastDate))
	assert.True(t, got.CreatedAt.Equal(second.CreatedAt))

	r, ok := got.Scaler.Range(timeseries.ChannelExpense)
	require.True(t, ok)
	assert.Equal(t, 120.5, r.Max)

	cfg := nn.DefaultConfig(nn.Univariate)
	cfg.HiddenSize = 4
	cfg.NumLayers = 1
	_, err = nn.Restore(got.Checkpoint, cfg)
	require.NoError(t, err)
}

func TestRunHistoryNewestFirst(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	loss := 0.012
	mape := 8.5

	require.NoError(t, repo.RecordRun(ctx, pipeline.RunRecord{
		RunID: "a", UserID: "u1", Variant: nn.Multivariate, State: pipeline.StateFailed,
		FailedStage: pipeline.StateTrain, Error: "numerical failure",
		StartedAt: start, FinishedAt: start.Add(time.Second),
	}))
	require.NoError(t, repo.RecordRun(ctx, pipeline.RunRecord{
		RunID: "b", UserID: "u1", Variant: nn.Univariate, State: pipeline.StateDone, Resumed: true,
		FinalLoss: &loss, BacktestMAPE: &mape,
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + 500*time.Millisecond),
	}))

	runs, err := repo.ListRuns(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "b", runs[0].RunID)
	assert.True(t, runs[0].Resumed)
	require.NotNil(t, runs[0].FinalLoss)
	assert.InDelta(t, loss, *runs[0].FinalLoss, 1e-12)
	require.NotNil(t, runs[0].BacktestMAPE)
	assert.True(t, runs[0].FinishedAt.Equal(start.Add(time.Hour+500*time.Millisecond)))

	assert.Equal(t, "a", runs[1].RunID)
	assert.Equal(t, pipeline.StateTrain, runs[1].FailedStage)
	assert.Nil(t, runs[1].FinalLoss)
	assert.Nil(t, runs[1].BacktestMAPE)

	limited, err := repo.ListRuns(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].RunID)
}
