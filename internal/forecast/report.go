package forecast

import (
	"fmt"
	"strings"
)

// Recommendations suggests follow-up actions for weak accuracy figures.
func (m Metrics) Recommendations() []string {
	var out []string
	if m.MAPE > 25 {
		out = append(out,
			"Consider retraining the model with more recent data",
			"Review for any seasonal patterns that might be missing")
	}
	if m.R2 < 0.5 {
		out = append(out,
			"The model may not be capturing spending patterns well",
			"Consider adding more features or using a different model architecture")
	}
	return out
}

// Text renders the report as plain text for logs and files.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString("===== FORECAST MODEL ACCURACY REPORT =====\n")
	fmt.Fprintf(&b, "Test period: last %d days\n\n", r.HoldOut)
	b.WriteString("Daily metrics:\n")
	fmt.Fprintf(&b, "  Mean Absolute Error (MAE): $%.2f\n", r.MAE)
	fmt.Fprintf(&b, "  Root Mean Squared Error (RMSE): $%.2f\n", r.RMSE)
	fmt.Fprintf(&b, "  Mean Absolute Percentage Error (MAPE): %.2f%%\n", r.MAPE)
	fmt.Fprintf(&b, "  R² Score: %.4f\n", r.R2)
	if r.HasWeekly {
		fmt.Fprintf(&b, "\nWeekly aggregated error: %.2f%%\n", r.WeeklyErrorPct)
	}
	fmt.Fprintf(&b, "\nOverall forecast accuracy rating: %s\n", r.Rating)

	if recs := r.Recommendations(); len(recs) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range recs {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	b.WriteString("==========================================\n")
	return b.String()
}
