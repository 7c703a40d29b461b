// Package postgres reads expenses and budgets from the application's
// Postgres database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spendcast/internal/core"
)

// Source implements pipeline.Source over the expenses and budgets tables.
// Amounts are read as text and parsed to cents so NUMERIC columns keep
// their exact value.
type Source struct {
	pool *pgxpool.Pool
}

func NewSource(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// Connect opens a pool and checks that the expenses table is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Source) ListExpenses(ctx context.Context, userID string) ([]core.ExpenseRecord, error) {
	const query = `SELECT date::date, amount::text, COALESCE(category_id, 0), user_id::text
        FROM expenses WHERE user_id::text = $1 ORDER BY date ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w: %w", err, core.ErrDataUnavailable)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ExpenseRecord, error) {
		var (
			day    time.Time
			amount string
			rec    core.ExpenseRecord
		)
		if err := row.Scan(&day, &amount, &rec.CategoryID, &rec.UserID); err != nil {
			return rec, err
		}
		cents, err := core.ParseDecimalToCents(amount)
		if err != nil {
			return rec, fmt.Errorf("expense amount %q: %w", amount, err)
		}
		rec.Date = core.DateOf(day)
		rec.Amount = core.Money{Cents: cents}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read expenses: %w", err)
	}
	return records, nil
}

func (s *Source) ListBudgets(ctx context.Context, userID string) ([]core.BudgetDefinition, error) {
	const query = `SELECT id, amount::text, period, start_date::date, category_id, user_id::text
        FROM budgets WHERE user_id::text = $1 ORDER BY start_date ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w: %w", err, core.ErrDataUnavailable)
	}
	budgets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.BudgetDefinition, error) {
		var (
			b        core.BudgetDefinition
			amount   string
			period   string
			start    time.Time
			category *int64
		)
		if err := row.Scan(&b.ID, &amount, &period, &start, &category, &b.UserID); err != nil {
			return b, err
		}
		cents, err := core.ParseDecimalToCents(amount)
		if err != nil {
			return b, fmt.Errorf("budget %d amount %q: %w", b.ID, amount, err)
		}
		if b.Period, err = core.ParsePeriod(period); err != nil {
			return b, fmt.Errorf("budget %d: %w", b.ID, err)
		}
		b.Amount = core.Money{Cents: cents}
		b.StartDate = core.DateOf(start)
		b.CategoryID = category
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read budgets: %w", err)
	}
	return budgets, nil
}

// ListUsers returns the distinct users that have expenses.
func (s *Source) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id::text FROM expenses ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return users, nil
}
