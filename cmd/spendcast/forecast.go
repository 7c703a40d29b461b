package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendcast/internal/cli"
	"spendcast/internal/timeseries"
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast from the stored model without training",
	RunE:  runForecast,
}

var (
	flagDays    int
	flagRollup  string
	flagPeriods int
)

func init() {
	forecastCmd.Flags().IntVarP(&flagDays, "days", "n", 30, "Days to forecast")
	forecastCmd.Flags().StringVar(&flagRollup, "rollup", string(timeseries.Monthly), "History roll-up: weekly or monthly")
	forecastCmd.Flags().IntVar(&flagPeriods, "periods", 6, "Roll-up periods to show (0 for all)")
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	granularity, err := timeseries.ParseGranularity(flagRollup)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.manager.Predict(cmd.Context(), flagUser, flagDays)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(p)
	}
	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("FORECAST  %s  %s model, trained through %s",
		p.UserID, p.Variant, p.TrainedThrough.Format("2006-01-02"))))
	if len(p.History) > 0 {
		history, err := timeseries.Aggregate(timeseries.PointsFromAmounts(p.History))
		if err != nil {
			return err
		}
		fmt.Print(cli.RenderRollup(timeseries.Rollup(history, granularity), granularity, flagPeriods))
		fmt.Println()
	}
	fmt.Print(cli.RenderForecast(p.Forecast, p.Summary))
	return nil
}
