package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendcast/internal/cli"
	"spendcast/internal/pipeline"
)

var (
	flagHorizon  int
	flagNoBudget bool
	flagFresh    bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one learning pass: train, backtest, forecast and persist",
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().IntVar(&flagHorizon, "horizon", 0, "Days to forecast (default from FORECAST_HORIZON)")
	trainCmd.Flags().BoolVar(&flagNoBudget, "no-budget", false, "Train the univariate model even when budgets exist")
	trainCmd.Flags().BoolVar(&flagFresh, "fresh", false, "Ignore the stored checkpoint and start from new weights")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	horizon := flagHorizon
	if horizon <= 0 {
		horizon = a.cfg.ForecastHorizon
	}
	res, err := a.manager.Run(ctx, pipeline.RunRequest{
		UserID:             flagUser,
		UseBudgetFeatures:  a.cfg.UseBudgetFeatures && !flagNoBudget,
		ContinuousLearning: a.cfg.ContinuousLearning && !flagFresh,
		Horizon:            horizon,
	})
	if flagJSON {
		if jerr := printJSON(runJSON(res)); jerr != nil {
			return jerr
		}
	} else {
		fmt.Print(cli.RenderRun(res))
	}
	if err != nil {
		return fmt.Errorf("pass failed in %s: %w", res.Status.FailedStage, err)
	}
	return nil
}
