package pipeline

import (
	"context"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

// Source reads the raw facts of one user. Implementations return an empty
// slice, not an error, when the user has no rows.
type Source interface {
	ListExpenses(ctx context.Context, userID string) ([]core.ExpenseRecord, error)
	ListBudgets(ctx context.Context, userID string) ([]core.BudgetDefinition, error)
}

// Artifact is everything a later forecast needs from a run: the weights with
// their architecture, the scaler fitted on the training frame and the window
// length. The three are written and replaced together.
type Artifact struct {
	UserID         string
	RunID          string
	Checkpoint     nn.Checkpoint
	Scaler         timeseries.Scaler
	SequenceLength int
	// LastDate is the final day of the history the model was trained on.
	LastDate  time.Time
	CreatedAt time.Time
}

// RunRecord is one line of run history.
type RunRecord struct {
	RunID        string
	UserID       string
	Variant      nn.Variant
	State        State
	FailedStage  State
	Resumed      bool
	FinalLoss    *float64
	BacktestMAPE *float64
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Store keeps one artifact slot per user plus the run history.
type Store interface {
	// LoadArtifact returns core.ErrCheckpointNotFound when the slot is empty.
	LoadArtifact(ctx context.Context, userID string) (Artifact, error)
	// ReplaceArtifact atomically swaps the user's slot. A failed replace
	// leaves the previous artifact intact.
	ReplaceArtifact(ctx context.Context, a Artifact) error
	RecordRun(ctx context.Context, r RunRecord) error
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error)
}
