package timeseries

import (
	"fmt"
	"math"
	"slices"
	"time"

	"spendcast/internal/core"
)

// Channel names, in the fixed order the model sees them.
const (
	ChannelExpense   = "expense"
	ChannelBudget    = "budget_amount"
	ChannelRemaining = "remaining_budget"
	ChannelVariance  = "budget_variance_pct"
)

var (
	ExpenseChannels = []string{ChannelExpense}
	BudgetChannels  = []string{ChannelExpense, ChannelBudget, ChannelRemaining, ChannelVariance}
)

// FeatureFrame is a per-day matrix of named channels. Rows[i][j] is the value
// of Channels[j] on Dates[i].
type FeatureFrame struct {
	Dates    []time.Time
	Channels []string
	Rows     [][]float64
}

// Compose joins the budget signal onto the expense range and derives the
// remaining-budget and variance channels. The four-channel layout is used only
// when budget data exists; otherwise the frame carries the expense channel alone.
func Compose(expenses DailySeries, budget BudgetSeries) FeatureFrame {
	if !budget.HasData() {
		frame := FeatureFrame{Channels: slices.Clone(ExpenseChannels)}
		for i, v := range expenses.Values {
			frame.Dates = append(frame.Dates, expenses.DateAt(i))
			frame.Rows = append(frame.Rows, []float64{v})
		}
		return frame
	}

	frame := FeatureFrame{Channels: slices.Clone(BudgetChannels)}
	for i, spent := range expenses.Values {
		d := expenses.DateAt(i)
		var allowance float64
		if j := core.DaysBetween(budget.Start, d); j >= 0 && j < budget.Len() {
			allowance = budget.Total[j]
		}
		frame.Dates = append(frame.Dates, d)
		frame.Rows = append(frame.Rows, []float64{
			spent,
			allowance,
			allowance - spent,
			variancePct(spent, allowance),
		})
	}
	return frame
}

func variancePct(spent, allowance float64) float64 {
	if allowance == 0 {
		return 0
	}
	v := spent / allowance * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (f FeatureFrame) Len() int   { return len(f.Rows) }
func (f FeatureFrame) Width() int { return len(f.Channels) }

// HasBudget reports whether the frame carries the budget-derived channels.
func (f FeatureFrame) HasBudget() bool {
	return slices.Equal(f.Channels, BudgetChannels)
}

// Index returns the column of a channel, or -1.
func (f FeatureFrame) Index(channel string) int {
	return slices.Index(f.Channels, channel)
}

// Column copies out one channel.
func (f FeatureFrame) Column(channel string) ([]float64, bool) {
	j := f.Index(channel)
	if j < 0 {
		return nil, false
	}
	col := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		col[i] = row[j]
	}
	return col, true
}

// Expenses returns the expense channel as a DailySeries.
func (f FeatureFrame) Expenses() DailySeries {
	col, _ := f.Column(ChannelExpense)
	if len(f.Dates) == 0 {
		return DailySeries{}
	}
	return DailySeries{Start: f.Dates[0], Values: col}
}

// Select projects the frame onto the given channels, in that order.
func (f FeatureFrame) Select(channels ...string) (FeatureFrame, error) {
	idx := make([]int, len(channels))
	for k, ch := range channels {
		idx[k] = f.Index(ch)
		if idx[k] < 0 {
			return FeatureFrame{}, fmt.Errorf("select channel %q: %w", ch, core.ErrShapeMismatch)
		}
	}
	out := FeatureFrame{
		Dates:    slices.Clone(f.Dates),
		Channels: slices.Clone(channels),
		Rows:     make([][]float64, len(f.Rows)),
	}
	for i, row := range f.Rows {
		r := make([]float64, len(idx))
		for k, j := range idx {
			r[k] = row[j]
		}
		out.Rows[i] = r
	}
	return out, nil
}

// Slice returns rows [from, to) sharing no memory with f.
func (f FeatureFrame) Slice(from, to int) FeatureFrame {
	from = max(0, min(from, len(f.Rows)))
	to = max(from, min(to, len(f.Rows)))
	out := FeatureFrame{
		Dates:    slices.Clone(f.Dates[from:to]),
		Channels: slices.Clone(f.Channels),
		Rows:     make([][]float64, 0, to-from),
	}
	for _, row := range f.Rows[from:to] {
		out.Rows = append(out.Rows, slices.Clone(row))
	}
	return out
}

// Tail returns the last n rows.
func (f FeatureFrame) Tail(n int) FeatureFrame {
	return f.Slice(len(f.Rows)-n, len(f.Rows))
}
