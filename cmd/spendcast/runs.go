package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendcast/internal/cli"
)

var flagLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the run history of a user, newest first",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "Maximum number of runs; 0 shows all")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := loadApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.backend.Store.ListRuns(cmd.Context(), flagUser, flagLimit)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("\n  No runs recorded.")
		return nil
	}
	fmt.Println()
	fmt.Println(cli.RenderTitle("RUN HISTORY  " + flagUser))
	fmt.Print(cli.RenderRuns(runs))
	return nil
}
