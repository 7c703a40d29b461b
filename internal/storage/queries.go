package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL of the repository, one method per statement.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Expense struct {
	ID          int64
	UserID      string
	Day         string
	AmountCents int64
	CategoryID  int64
	Description string
}

type Budget struct {
	ID          int64
	UserID      string
	AmountCents int64
	Period      string
	StartDate   string
	CategoryID  sql.NullInt64
}

type Checkpoint struct {
	UserID         string
	RunID          string
	Variant        string
	InputWidth     int64
	HiddenSize     int64
	NumLayers      int64
	Weights        []byte
	Scaler         string
	SequenceLength int64
	LastDay        string
	CreatedAt      string
}

type TrainingRun struct {
	RunID        string
	UserID       string
	Variant      string
	State        string
	FailedStage  string
	Resumed      bool
	FinalLoss    sql.NullFloat64
	BacktestMape sql.NullFloat64
	Error        string
	StartedAt    string
	FinishedAt   string
}

const createExpense = `INSERT INTO expenses (user_id, day, amount_cents, category_id, description)
VALUES (?, ?, ?, ?, ?) RETURNING id`

type CreateExpenseParams struct {
	UserID      string
	Day         string
	AmountCents int64
	CategoryID  int64
	Description string
}

func (q *Queries) CreateExpense(ctx context.Context, arg CreateExpenseParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createExpense,
		arg.UserID, arg.Day, arg.AmountCents, arg.CategoryID, arg.Description).Scan(&id)
	return id, err
}

const listExpensesByUser = `SELECT id, user_id, day, amount_cents, category_id, description
FROM expenses WHERE user_id = ? ORDER BY day, id`

func (q *Queries) ListExpensesByUser(ctx context.Context, userID string) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		var i Expense
		if err := rows.Scan(&i.ID, &i.UserID, &i.Day, &i.AmountCents, &i.CategoryID, &i.Description); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createBudget = `INSERT INTO budgets (user_id, amount_cents, period, start_date, category_id)
VALUES (?, ?, ?, ?, ?) RETURNING id`

type CreateBudgetParams struct {
	UserID      string
	AmountCents int64
	Period      string
	StartDate   string
	CategoryID  sql.NullInt64
}

func (q *Queries) CreateBudget(ctx context.Context, arg CreateBudgetParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createBudget,
		arg.UserID, arg.AmountCents, arg.Period, arg.StartDate, arg.CategoryID).Scan(&id)
	return id, err
}

const listBudgetsByUser = `SELECT id, user_id, amount_cents, period, start_date, category_id
FROM budgets WHERE user_id = ? ORDER BY start_date, id`

func (q *Queries) ListBudgetsByUser(ctx context.Context, userID string) ([]Budget, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Budget
	for rows.Next() {
		var i Budget
		if err := rows.Scan(&i.ID, &i.UserID, &i.AmountCents, &i.Period, &i.StartDate, &i.CategoryID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listUserIDs = `SELECT DISTINCT user_id FROM expenses ORDER BY user_id`

func (q *Queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUserIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

const upsertCheckpoint = `INSERT INTO checkpoints (
    user_id, run_id, variant, input_width, hidden_size, num_layers,
    weights, scaler, sequence_length, last_day, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    run_id = excluded.run_id,
    variant = excluded.variant,
    input_width = excluded.input_width,
    hidden_size = excluded.hidden_size,
    num_layers = excluded.num_layers,
    weights = excluded.weights,
    scaler = excluded.scaler,
    sequence_length = excluded.sequence_length,
    last_day = excluded.last_day,
    created_at = excluded.created_at`

func (q *Queries) UpsertCheckpoint(ctx context.Context, arg Checkpoint) error {
	_, err := q.db.ExecContext(ctx, upsertCheckpoint,
		arg.UserID, arg.RunID, arg.Variant, arg.InputWidth, arg.HiddenSize, arg.NumLayers,
		arg.Weights, arg.Scaler, arg.SequenceLength, arg.LastDay, arg.CreatedAt)
	return err
}

const getCheckpoint = `SELECT user_id, run_id, variant, input_width, hidden_size, num_layers,
    weights, scaler, sequence_length, last_day, created_at
FROM checkpoints WHERE user_id = ?`

func (q *Queries) GetCheckpoint(ctx context.Context, userID string) (Checkpoint, error) {
	var i Checkpoint
	err := q.db.QueryRowContext(ctx, getCheckpoint, userID).Scan(
		&i.UserID, &i.RunID, &i.Variant, &i.InputWidth, &i.HiddenSize, &i.NumLayers,
		&i.Weights, &i.Scaler, &i.SequenceLength, &i.LastDay, &i.CreatedAt)
	return i, err
}

const insertTrainingRun = `INSERT INTO training_runs (
    run_id, user_id, variant, state, failed_stage, resumed,
    final_loss, backtest_mape, error, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTrainingRun(ctx context.Context, arg TrainingRun) error {
	_, err := q.db.ExecContext(ctx, insertTrainingRun,
		arg.RunID, arg.UserID, arg.Variant, arg.State, arg.FailedStage, arg.Resumed,
		arg.FinalLoss, arg.BacktestMape, arg.Error, arg.StartedAt, arg.FinishedAt)
	return err
}

const listTrainingRuns = `SELECT run_id, user_id, variant, state, failed_stage, resumed,
    final_loss, backtest_mape, error, started_at, finished_at
FROM training_runs WHERE user_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`

func (q *Queries) ListTrainingRuns(ctx context.Context, userID string, limit int64) ([]TrainingRun, error) {
	rows, err := q.db.QueryContext(ctx, listTrainingRuns, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TrainingRun
	for rows.Next() {
		var i TrainingRun
		if err := rows.Scan(&i.RunID, &i.UserID, &i.Variant, &i.State, &i.FailedStage, &i.Resumed,
			&i.FinalLoss, &i.BacktestMape, &i.Error, &i.StartedAt, &i.FinishedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
