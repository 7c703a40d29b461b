package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"spendcast/internal/core"
	"spendcast/internal/forecast"
	"spendcast/internal/pipeline"
	"spendcast/internal/timeseries"
)

// Theme colors (Flexoki Dark)
var (
	ColorBorder    = lipgloss.Color("#282726")
	ColorTextDim   = lipgloss.Color("#575653")
	ColorTextMuted = lipgloss.Color("#6F6E69")
	ColorText      = lipgloss.Color("#FFFCF0")
	ColorAccent    = lipgloss.Color("#3AA99F")
	ColorGreen     = lipgloss.Color("#879A39")
	ColorOrange    = lipgloss.Color("#DA702C")
	ColorRed       = lipgloss.Color("#D14D41")
	ColorYellow    = lipgloss.Color("#D0A215")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorText).Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	valueStyle  = lipgloss.NewStyle().Foreground(ColorText)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorTextMuted)
	dimStyle    = lipgloss.NewStyle().Foreground(ColorTextDim)
	goodStyle   = lipgloss.NewStyle().Foreground(ColorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorOrange)
	badStyle    = lipgloss.NewStyle().Foreground(ColorRed)
)

// Table represents a bordered text table for CLI output.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// RenderTitle renders a centered title bar in a bordered box.
func RenderTitle(title string) string {
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Width(55).
		Align(lipgloss.Center).
		Padding(0, 1)
	return border.Render(titleStyle.Render(title))
}

// RenderTable renders a bordered table. The first column is left aligned,
// the others right aligned.
func RenderTable(t Table) string {
	numCols := len(t.Headers)
	if numCols == 0 && len(t.Rows) > 0 {
		numCols = len(t.Rows[0])
	}
	if numCols == 0 {
		return ""
	}

	widths := make([]int, numCols)
	for i, h := range t.Headers {
		widths[i] = max(widths[i], lipgloss.Width(h))
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < numCols {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	rule := func(left, mid, right string) string {
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat("─", w+2))
			if i < numCols-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right)
		return dimStyle.Render(b.String()) + "\n"
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString("  " + headerStyle.Render(t.Title) + "\n")
	}
	b.WriteString(rule("╭", "┬", "╮"))
	if len(t.Headers) > 0 {
		b.WriteString(dimStyle.Render("│"))
		for i, h := range t.Headers {
			b.WriteString(headerStyle.Render(fmt.Sprintf(" %-*s ", widths[i], h)))
			b.WriteString(dimStyle.Render("│"))
		}
		b.WriteString("\n")
		b.WriteString(rule("├", "┼", "┤"))
	}
	for _, row := range t.Rows {
		b.WriteString(dimStyle.Render("│"))
		for i := 0; i < numCols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if i == 0 {
				b.WriteString(valueStyle.Render(" " + cell + pad + " "))
			} else {
				b.WriteString(valueStyle.Render(" " + pad + cell + " "))
			}
			b.WriteString(dimStyle.Render("│"))
		}
		b.WriteString("\n")
	}
	b.WriteString(rule("╰", "┴", "╯"))
	return b.String()
}

// RenderSparkline generates a unicode block sparkline from a series of values.
func RenderSparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	hi := values[0]
	for _, v := range values[1:] {
		hi = max(hi, v)
	}
	if hi <= 0 {
		hi = 1
	}

	var b strings.Builder
	for _, v := range values {
		idx := int(v / hi * float64(len(blocks)-1))
		idx = min(max(idx, 0), len(blocks)-1)
		b.WriteRune(blocks[idx])
	}
	return b.String()
}

func ratingStyle(r forecast.Rating) lipgloss.Style {
	switch r {
	case forecast.Excellent, forecast.Good:
		return goodStyle
	case forecast.Fair:
		return warnStyle
	default:
		return badStyle
	}
}

// RenderMetrics renders accuracy figures as a two column table.
func RenderMetrics(title string, m forecast.Metrics) string {
	rows := [][]string{
		{"MAE", FormatMoney(m.MAE)},
		{"RMSE", FormatMoney(m.RMSE)},
		{"MAPE", FormatPct(m.MAPE)},
		{"R²", fmt.Sprintf("%.4f", m.R2)},
	}
	if m.HasWeekly {
		rows = append(rows, []string{"Weekly error", FormatPct(m.WeeklyErrorPct)})
	}
	return RenderTable(Table{Title: title, Headers: []string{"Metric", "Value"}, Rows: rows})
}

// RenderBacktest renders a backtest report with its rating and
// recommendations.
func RenderBacktest(r forecast.Report) string {
	var b strings.Builder
	b.WriteString(RenderMetrics(fmt.Sprintf("Backtest (last %d days)", r.HoldOut), r.Metrics))
	b.WriteString("  Rating: " + ratingStyle(r.Rating).Render(string(r.Rating)) + "\n")
	for _, rec := range r.Recommendations() {
		b.WriteString(mutedStyle.Render("  - "+rec) + "\n")
	}
	return b.String()
}

// RenderForecast renders the forecast days, a sparkline and the summary.
func RenderForecast(days []core.DailyAmount, summary forecast.Summary) string {
	rows := make([][]string, 0, len(days))
	values := make([]float64, 0, len(days))
	for _, d := range days {
		rows = append(rows, []string{d.Date.Format(time.DateOnly), FormatMoney(d.Amount)})
		values = append(values, d.Amount)
	}

	var b strings.Builder
	b.WriteString(RenderTable(Table{Title: "Forecast", Headers: []string{"Date", "Amount"}, Rows: rows}))
	b.WriteString("  " + mutedStyle.Render(RenderSparkline(values)) + "\n\n")
	b.WriteString(renderSummary(summary))
	return b.String()
}

// RenderRollup renders the last limit buckets of a weekly or monthly
// roll-up. A non-positive limit renders every bucket.
func RenderRollup(buckets []timeseries.Bucket, g timeseries.Granularity, limit int) string {
	if limit > 0 && len(buckets) > limit {
		buckets = buckets[len(buckets)-limit:]
	}
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		label := "Week of " + b.Start.Format(time.DateOnly)
		if g == timeseries.Monthly {
			label = b.Start.Format("2006-01")
		}
		rows = append(rows, []string{
			label,
			fmt.Sprintf("%d", b.Days),
			FormatMoney(b.Total),
			FormatMoney(b.Total / float64(max(b.Days, 1))),
		})
	}
	title := "Weekly history"
	if g == timeseries.Monthly {
		title = "Monthly history"
	}
	return RenderTable(Table{Title: title, Headers: []string{"Period", "Days", "Total", "Daily avg"}, Rows: rows})
}

func renderSummary(s forecast.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Next period: %s\n", valueStyle.Render(FormatMoney(s.NextPeriodTotal)))
	fmt.Fprintf(&b, "  Current period (%s): %s\n", s.Baseline, valueStyle.Render(FormatMoney(s.CurrentPeriodTotal)))
	if s.Comparable {
		style := goodStyle
		if s.ChangePct > 0 {
			style = warnStyle
		}
		fmt.Fprintf(&b, "  Change: %s\n", style.Render(FormatSignedPct(s.ChangePct)))
	}
	return b.String()
}

// RenderRun renders the outcome of one pipeline pass.
func RenderRun(res pipeline.RunResult) string {
	st := res.Status
	var b strings.Builder
	b.WriteString(RenderTitle("spendcast · " + st.UserID))
	b.WriteString("\n")

	stateText := goodStyle.Render(string(st.State))
	if !st.Succeeded() {
		stateText = badStyle.Render(fmt.Sprintf("%s at %s", st.State, st.FailedStage))
	}
	rows := [][]string{
		{"State", stateText},
		{"Variant", string(st.Variant)},
		{"Resumed", fmt.Sprintf("%t", st.Resumed)},
		{"Elapsed", FormatElapsed(st.FinishedAt.Sub(st.StartedAt))},
	}
	if len(res.Training.Losses) > 0 {
		rows = append(rows, []string{"Final loss", fmt.Sprintf("%.6f", res.Training.FinalLoss())})
	}
	b.WriteString(RenderTable(Table{Title: "Run " + st.RunID, Rows: rows}))

	if st.CheckpointWarning != "" {
		b.WriteString(warnStyle.Render("  ! "+st.CheckpointWarning) + "\n")
	}
	if st.Err != nil {
		b.WriteString(badStyle.Render("  error: "+st.Err.Error()) + "\n")
		return b.String()
	}

	if res.Split != nil {
		b.WriteString("\n" + RenderMetrics("Test split", *res.Split))
	}
	if res.Backtest != nil {
		b.WriteString("\n" + RenderBacktest(*res.Backtest))
	} else if res.BacktestSkipped != "" {
		b.WriteString("\n" + mutedStyle.Render("  Backtest skipped: "+res.BacktestSkipped) + "\n")
	}
	if len(res.Forecast) > 0 {
		b.WriteString("\n" + RenderForecast(res.Forecast, res.Summary))
	}
	return b.String()
}

// RenderCrossValidation renders per-fold metrics and their mean.
func RenderCrossValidation(cv pipeline.CrossValidation) string {
	rows := make([][]string, 0, len(cv.Folds)+1)
	for _, f := range cv.Folds {
		rows = append(rows, []string{
			fmt.Sprintf("%d", f.Index),
			fmt.Sprintf("%d", f.TrainDays),
			fmt.Sprintf("%d", f.TestDays),
			FormatMoney(f.Metrics.MAE),
			FormatPct(f.Metrics.MAPE),
			fmt.Sprintf("%.3f", f.Metrics.R2),
		})
	}
	rows = append(rows, []string{"mean", "", "", FormatMoney(cv.Mean.MAE), FormatPct(cv.Mean.MAPE), fmt.Sprintf("%.3f", cv.Mean.R2)})
	return RenderTable(Table{
		Title:   fmt.Sprintf("Cross validation (%s)", cv.Variant),
		Headers: []string{"Fold", "Train", "Test", "MAE", "MAPE", "R²"},
		Rows:    rows,
	})
}

// RenderRuns renders run history, newest first.
func RenderRuns(runs []pipeline.RunRecord) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		state := string(r.State)
		if r.FailedStage != "" {
			state += " (" + string(r.FailedStage) + ")"
		}
		mape := "-"
		if r.BacktestMAPE != nil {
			mape = FormatPct(*r.BacktestMAPE)
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.RunID,
			string(r.Variant),
			state,
			mape,
		})
	}
	return RenderTable(Table{Title: "Runs", Headers: []string{"Started", "Run", "Variant", "State", "MAPE"}, Rows: rows})
}
