package main

import (
	"encoding/json"
	"os"

	"spendcast/internal/core"
	"spendcast/internal/forecast"
	"spendcast/internal/pipeline"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type runOutput struct {
	RunID           string             `json:"run_id"`
	UserID          string             `json:"user_id"`
	State           pipeline.State     `json:"state"`
	FailedStage     pipeline.State     `json:"failed_stage,omitempty"`
	Variant         string             `json:"variant"`
	Resumed         bool               `json:"resumed"`
	Warning         string             `json:"checkpoint_warning,omitempty"`
	Error           string             `json:"error,omitempty"`
	FinalLoss       float64            `json:"final_loss"`
	Split           *forecast.Metrics  `json:"split,omitempty"`
	Backtest        *forecast.Report   `json:"backtest,omitempty"`
	BacktestSkipped string             `json:"backtest_skipped,omitempty"`
	Forecast        []core.DailyAmount `json:"forecast"`
	Summary         forecast.Summary   `json:"summary"`
}

func runJSON(res pipeline.RunResult) runOutput {
	st := res.Status
	out := runOutput{
		RunID:           st.RunID,
		UserID:          st.UserID,
		State:           st.State,
		FailedStage:     st.FailedStage,
		Variant:         string(st.Variant),
		Resumed:         st.Resumed,
		Warning:         st.CheckpointWarning,
		FinalLoss:       res.Training.FinalLoss(),
		Split:           res.Split,
		Backtest:        res.Backtest,
		BacktestSkipped: res.BacktestSkipped,
		Forecast:        res.Forecast,
		Summary:         res.Summary,
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}
