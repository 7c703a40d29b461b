package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendcast/internal/cli"
	"spendcast/internal/log"
	"spendcast/internal/sheets/memory"
	"spendcast/internal/storage"
)

var flagImportDir string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load expenses.csv and budgets.csv into the SQLite database",
	Long: "Reads expenses.csv (date,amount,category_id,user_id) and budgets.csv\n" +
		"(amount,period,start_date,category_id,user_id) from --dir and appends them\n" +
		"to SQLITE_DB_PATH. Expenses of one user are imported in one transaction.",
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&flagImportDir, "dir", "data", "Directory holding the CSV files")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := cli.SetupLogger(log.ComponentCLI)
	cfg := cli.LoadAndValidateConfig(logger)

	src, err := memory.NewFromFiles(flagImportDir)
	if err != nil {
		return err
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	users, err := src.ListUsers(ctx)
	if err != nil {
		return err
	}
	if flagUser != "" {
		users = []string{flagUser}
	}

	var totalExpenses, totalBudgets int
	for _, user := range users {
		expenses, err := src.ListExpenses(ctx, user)
		if err != nil {
			return err
		}
		n, err := repo.ImportExpenses(ctx, expenses)
		if err != nil {
			return fmt.Errorf("import expenses of %s: %w", user, err)
		}
		totalExpenses += n

		budgets, err := src.ListBudgets(ctx, user)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if _, err := repo.AddBudget(ctx, b); err != nil {
				return fmt.Errorf("import budget of %s: %w", user, err)
			}
		}
		totalBudgets += len(budgets)
	}

	fmt.Printf("\n  Imported %s expenses and %s budgets for %d users into %s\n",
		cli.FormatNumber(int64(totalExpenses)), cli.FormatNumber(int64(totalBudgets)), len(users), cfg.SQLiteDBPath)
	return nil
}
