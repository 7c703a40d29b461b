package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/log"
	"spendcast/internal/nn"
	"spendcast/internal/pipeline"
	"spendcast/internal/timeseries"

	_ "modernc.org/sqlite"
)

const (
	dayLayout = time.DateOnly
	// fixed width so that text order is time order
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository stores expenses, budgets, checkpoints and run history.
// It serves as both pipeline.Source and pipeline.Store.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by health checks.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// AddExpense validates and stores one expense.
func (r *SQLiteRepository) AddExpense(ctx context.Context, e core.ExpenseRecord, description string) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	return r.queries.CreateExpense(ctx, CreateExpenseParams{
		UserID:      e.UserID,
		Day:         e.Date.Format(dayLayout),
		AmountCents: e.Amount.Cents,
		CategoryID:  e.CategoryID,
		Description: description,
	})
}

// ImportExpenses stores all records in one transaction.
func (r *SQLiteRepository) ImportExpenses(ctx context.Context, records []core.ExpenseRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for i, e := range records {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := q.CreateExpense(ctx, CreateExpenseParams{
			UserID:      e.UserID,
			Day:         e.Date.Format(dayLayout),
			AmountCents: e.Amount.Cents,
			CategoryID:  e.CategoryID,
		}); err != nil {
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	r.logger.InfoContext(ctx, "Expenses imported", log.FieldRows, len(records))
	return len(records), nil
}

func (r *SQLiteRepository) AddBudget(ctx context.Context, b core.BudgetDefinition) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	var category sql.NullInt64
	if b.CategoryID != nil {
		category = sql.NullInt64{Int64: *b.CategoryID, Valid: true}
	}
	return r.queries.CreateBudget(ctx, CreateBudgetParams{
		UserID:      b.UserID,
		AmountCents: b.Amount.Cents,
		Period:      string(b.Period),
		StartDate:   b.StartDate.Format(dayLayout),
		CategoryID:  category,
	})
}

// ListExpenses implements pipeline.Source
func (r *SQLiteRepository) ListExpenses(ctx context.Context, userID string) ([]core.ExpenseRecord, error) {
	rows, err := r.queries.ListExpensesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out := make([]core.ExpenseRecord, 0, len(rows))
	for _, row := range rows {
		day, err := time.Parse(dayLayout, row.Day)
		if err != nil {
			return nil, fmt.Errorf("expense %d: bad day %q: %w", row.ID, row.Day, err)
		}
		out = append(out, core.ExpenseRecord{
			Date:       core.Date{Time: day},
			Amount:     core.Money{Cents: row.AmountCents},
			CategoryID: row.CategoryID,
			UserID:     row.UserID,
		})
	}
	return out, nil
}

// ListBudgets implements pipeline.Source
func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]core.BudgetDefinition, error) {
	rows, err := r.queries.ListBudgetsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	out := make([]core.BudgetDefinition, 0, len(rows))
	for _, row := range rows {
		start, err := time.Parse(dayLayout, row.StartDate)
		if err != nil {
			return nil, fmt.Errorf("budget %d: bad start date %q: %w", row.ID, row.StartDate, err)
		}
		def := core.BudgetDefinition{
			ID:        row.ID,
			Amount:    core.Money{Cents: row.AmountCents},
			Period:    core.Period(row.Period),
			StartDate: core.Date{Time: start},
			UserID:    row.UserID,
		}
		if row.CategoryID.Valid {
			id := row.CategoryID.Int64
			def.CategoryID = &id
		}
		out = append(out, def)
	}
	return out, nil
}

// ListUsers returns every user with at least one expense.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]string, error) {
	return r.queries.ListUserIDs(ctx)
}

// LoadArtifact implements pipeline.Store
func (r *SQLiteRepository) LoadArtifact(ctx context.Context, userID string) (pipeline.Artifact, error) {
	row, err := r.queries.GetCheckpoint(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Artifact{}, core.ErrCheckpointNotFound
	}
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("get checkpoint: %w", err)
	}

	weights, err := nn.DecodeWeights(row.Weights)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	var scaler timeseries.Scaler
	if err := json.Unmarshal([]byte(row.Scaler), &scaler); err != nil {
		return pipeline.Artifact{}, fmt.Errorf("decode scaler: %w: %w", err, core.ErrScalerMismatch)
	}
	lastDay, err := time.Parse(dayLayout, row.LastDay)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("checkpoint last day %q: %w", row.LastDay, err)
	}
	created, err := time.Parse(timestampLayout, row.CreatedAt)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("checkpoint created_at %q: %w", row.CreatedAt, err)
	}

	return pipeline.Artifact{
		UserID: row.UserID,
		RunID:  row.RunID,
		Checkpoint: nn.Checkpoint{
			Meta: nn.Meta{
				Variant:    nn.Variant(row.Variant),
				InputWidth: int(row.InputWidth),
				HiddenSize: int(row.HiddenSize),
				NumLayers:  int(row.NumLayers),
			},
			Weights: weights,
		},
		Scaler:         scaler,
		SequenceLength: int(row.SequenceLength),
		LastDate:       lastDay,
		CreatedAt:      created,
	}, nil
}

// ReplaceArtifact implements pipeline.Store. Weights, scaler and metadata
// are written by a single upsert inside a transaction.
func (r *SQLiteRepository) ReplaceArtifact(ctx context.Context, a pipeline.Artifact) error {
	weights, err := nn.EncodeWeights(a.Checkpoint.Weights)
	if err != nil {
		return err
	}
	scaler, err := json.Marshal(a.Scaler)
	if err != nil {
		return fmt.Errorf("encode scaler: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint replace: %w", err)
	}
	defer tx.Rollback()

	meta := a.Checkpoint.Meta
	if err := r.queries.WithTx(tx).UpsertCheckpoint(ctx, Checkpoint{
		UserID:         a.UserID,
		RunID:          a.RunID,
		Variant:        string(meta.Variant),
		InputWidth:     int64(meta.InputWidth),
		HiddenSize:     int64(meta.HiddenSize),
		NumLayers:      int64(meta.NumLayers),
		Weights:        weights,
		Scaler:         string(scaler),
		SequenceLength: int64(a.SequenceLength),
		LastDay:        a.LastDate.Format(dayLayout),
		CreatedAt:      a.CreatedAt.UTC().Format(timestampLayout),
	}); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	r.logger.InfoContext(ctx, "Checkpoint replaced",
		log.FieldUserID, a.UserID, log.FieldRunID, a.RunID, log.FieldVariant, string(meta.Variant))
	return nil
}

// RecordRun implements pipeline.Store
func (r *SQLiteRepository) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	run := TrainingRun{
		RunID:       rec.RunID,
		UserID:      rec.UserID,
		Variant:     string(rec.Variant),
		State:       string(rec.State),
		FailedStage: string(rec.FailedStage),
		Resumed:     rec.Resumed,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt.UTC().Format(timestampLayout),
		FinishedAt:  rec.FinishedAt.UTC().Format(timestampLayout),
	}
	if rec.FinalLoss != nil {
		run.FinalLoss = sql.NullFloat64{Float64: *rec.FinalLoss, Valid: true}
	}
	if rec.BacktestMAPE != nil {
		run.BacktestMape = sql.NullFloat64{Float64: *rec.BacktestMAPE, Valid: true}
	}
	if err := r.queries.InsertTrainingRun(ctx, run); err != nil {
		return fmt.Errorf("insert training run: %w", err)
	}
	return nil
}

// ListRuns implements pipeline.Store
func (r *SQLiteRepository) ListRuns(ctx context.Context, userID string, limit int) ([]pipeline.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.queries.ListTrainingRuns(ctx, userID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	out := make([]pipeline.RunRecord, 0, len(rows))
	for _, row := range rows {
		rec := pipeline.RunRecord{
			RunID:       row.RunID,
			UserID:      row.UserID,
			Variant:     nn.Variant(row.Variant),
			State:       pipeline.State(row.State),
			FailedStage: pipeline.State(row.FailedStage),
			Resumed:     row.Resumed,
			Error:       row.Error,
		}
		if row.FinalLoss.Valid {
			v := row.FinalLoss.Float64
			rec.FinalLoss = &v
		}
		if row.BacktestMape.Valid {
			v := row.BacktestMape.Float64
			rec.BacktestMAPE = &v
		}
		if rec.StartedAt, err = time.Parse(timestampLayout, row.StartedAt); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", row.RunID, err)
		}
		if rec.FinishedAt, err = time.Parse(timestampLayout, row.FinishedAt); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", row.RunID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
