package sheets

import (
	"context"

	"spendcast/internal/core"
)

// Ports for spreadsheet-shaped sources. Both adapters satisfy
// pipeline.Source through ExpenseReader and BudgetReader.
type (
	ExpenseReader interface {
		// ListExpenses returns the user's expenses ordered by date.
		ListExpenses(ctx context.Context, userID string) ([]core.ExpenseRecord, error)
	}

	BudgetReader interface {
		ListBudgets(ctx context.Context, userID string) ([]core.BudgetDefinition, error)
	}

	// UserLister enumerates the users present in the expense data.
	UserLister interface {
		ListUsers(ctx context.Context) ([]string, error)
	}
)
