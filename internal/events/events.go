// Package events announces finished pipeline passes to downstream systems.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RunCompleted describes one finished pipeline pass, successful or not.
type RunCompleted struct {
	RunID           string    `json:"run_id"`
	UserID          string    `json:"user_id"`
	Variant         string    `json:"variant"`
	State           string    `json:"state"`
	FailedStage     string    `json:"failed_stage,omitempty"`
	Resumed         bool      `json:"resumed"`
	BacktestMAPE    *float64  `json:"backtest_mape,omitempty"`
	NextPeriodTotal float64   `json:"next_period_total"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Succeeded reports whether the pass reached its terminal success state.
func (e RunCompleted) Succeeded() bool {
	return e.Error == "" && e.FailedStage == ""
}

func (e RunCompleted) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func RunCompletedFromJSON(data []byte) (RunCompleted, error) {
	var e RunCompleted
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers RunCompleted events.
type Publisher interface {
	PublishRunCompleted(ctx context.Context, e RunCompleted) error
}

// Fanout publishes to every publisher in order and joins their errors.
type Fanout []Publisher

func (f Fanout) PublishRunCompleted(ctx context.Context, e RunCompleted) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishRunCompleted(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishRunCompleted(context.Context, RunCompleted) error { return nil }
