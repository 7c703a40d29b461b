package forecast

import (
	"fmt"
	"math"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/timeseries"
)

// Baseline names where the current-period figure of a Summary came from.
type Baseline string

const (
	BaselineMonthToDate Baseline = "month_to_date"
	BaselineLastMonth   Baseline = "last_month"
	BaselineAverage     Baseline = "average"
)

// Summary compares a forecast total with the spending of the current period.
type Summary struct {
	NextPeriodTotal    float64  `json:"next_period_total"`
	CurrentPeriodTotal float64  `json:"current_period_total"`
	Baseline           Baseline `json:"baseline"`
	// ChangePct is the signed percentage change from current to next. It is
	// zero and Comparable is false when the current total is zero.
	ChangePct  float64 `json:"change_pct"`
	Comparable bool    `json:"comparable"`
}

// Summarize totals the forecast and compares it with spending in the month
// containing asOf, up to and including the day of asOf. Without such days it
// falls back to the whole previous month, then to 30 times the daily mean.
func Summarize(history timeseries.DailySeries, predicted []core.DailyAmount, asOf time.Time) Summary {
	var s Summary
	for _, p := range predicted {
		s.NextPeriodTotal += p.Amount
	}

	asOf = core.Day(asOf)
	end := asOf.AddDate(0, 0, 1)
	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	var current, previous, all float64
	var inCurrent, inPrevious bool
	for i, v := range history.Values {
		d := history.DateAt(i)
		all += v
		switch {
		case !d.Before(monthStart) && d.Before(end):
			current += v
			inCurrent = true
		case !d.Before(lastMonthStart) && d.Before(monthStart):
			previous += v
			inPrevious = true
		}
	}

	switch {
	case inCurrent:
		s.CurrentPeriodTotal, s.Baseline = current, BaselineMonthToDate
	case inPrevious:
		s.CurrentPeriodTotal, s.Baseline = previous, BaselineLastMonth
	case history.Len() > 0:
		s.CurrentPeriodTotal, s.Baseline = all/float64(history.Len())*30, BaselineAverage
	}

	if s.CurrentPeriodTotal != 0 {
		s.ChangePct = (s.NextPeriodTotal - s.CurrentPeriodTotal) / s.CurrentPeriodTotal * 100
		s.Comparable = !math.IsInf(s.ChangePct, 0) && !math.IsNaN(s.ChangePct)
	}
	return s
}

// Text renders the user-facing sentence, rounding the projection to the
// nearest 10.
func (s Summary) Text() string {
	rounded := math.Round(s.NextPeriodTotal/10) * 10
	if !s.Comparable {
		return fmt.Sprintf("Spending Forecast\nBased on your history, you're projected to spend $%s next month.",
			groupThousands(rounded))
	}
	trend := "higher"
	if s.ChangePct < 0 {
		trend = "lower"
	}
	return fmt.Sprintf("Spending Forecast\nBased on your history, you're projected to spend $%s next month, which is %.0f%% %s than this month.",
		groupThousands(rounded), math.Abs(s.ChangePct), trend)
}

func groupThousands(v float64) string {
	digits := fmt.Sprintf("%.0f", math.Abs(v))
	var out []byte
	for i := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	if v < 0 {
		return "-" + string(out)
	}
	return string(out)
}
