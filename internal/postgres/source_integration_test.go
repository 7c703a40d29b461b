//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"spendcast/internal/core"
)

const schema = `
CREATE TABLE expenses (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    amount NUMERIC(12, 2) NOT NULL,
    category_id INTEGER
);
CREATE TABLE budgets (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount NUMERIC(12, 2) NOT NULL,
    period TEXT NOT NULL,
    start_date DATE NOT NULL,
    category_id INTEGER
);
INSERT INTO expenses (user_id, date, amount, category_id) VALUES
    ('u1', '2024-01-02 18:30:00', 12.35, 2),
    ('u1', '2024-01-01 09:00:00', 0.10, NULL),
    ('u2', '2024-01-01 09:00:00', 99.99, 1);
INSERT INTO budgets (user_id, amount, period, start_date, category_id) VALUES
    ('u1', 310.00, 'Monthly', '2024-01-01', NULL),
    ('u1', 70.00, 'weekly', '2024-01-08', 2);
`

func TestSourceReadsExpensesAndBudgets(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("spendcast"),
		postgrescontainer.WithUsername("spendcast"),
		postgrescontainer.WithPassword("spendcast"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool := waitForPool(t, ctx, connStr)
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	src := NewSource(pool)

	expenses, err := src.ListExpenses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	require.Equal(t, core.NewDate(2024, 1, 1), expenses[0].Date)
	require.Equal(t, int64(10), expenses[0].Amount.Cents)
	require.Equal(t, int64(0), expenses[0].CategoryID)
	require.Equal(t, int64(1235), expenses[1].Amount.Cents)

	budgets, err := src.ListBudgets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, budgets, 2)
	require.Equal(t, core.Monthly, budgets[0].Period)
	require.Nil(t, budgets[0].CategoryID)
	require.Equal(t, int64(31000), budgets[0].Amount.Cents)
	require.NotNil(t, budgets[1].CategoryID)
	require.Equal(t, int64(2), *budgets[1].CategoryID)

	users, err := src.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, users)

	none, err := src.ListExpenses(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func waitForPool(t *testing.T, ctx context.Context, connStr string) *pgxpool.Pool {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := Connect(ctx, connStr)
		if err == nil {
			t.Cleanup(pool.Close)
			return pool
		}
		if time.Now().After(deadline) {
			require.NoError(t, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
