package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendcast/internal/cli"
	"spendcast/internal/pipeline"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Score the stored model on the most recent days of history",
	RunE:  runBacktest,
}

var crossvalCmd = &cobra.Command{
	Use:   "crossval",
	Short: "Expanding-window cross validation with fresh models; nothing is stored",
	RunE:  runCrossVal,
}

func init() {
	crossvalCmd.Flags().BoolVar(&flagNoBudget, "no-budget", false, "Validate the univariate model even when budgets exist")
	rootCmd.AddCommand(backtestCmd, crossvalCmd)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := loadApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.manager.Backtest(cmd.Context(), flagUser)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(report)
	}
	fmt.Print(cli.RenderBacktest(report))
	return nil
}

func runCrossVal(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := loadApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	cv, err := a.manager.CrossValidate(cmd.Context(), pipeline.RunRequest{
		UserID:            flagUser,
		UseBudgetFeatures: a.cfg.UseBudgetFeatures && !flagNoBudget,
	})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cv)
	}
	fmt.Print(cli.RenderCrossValidation(cv))
	return nil
}
