// Package timeseries turns raw expense and budget records into the aligned,
// gap-free daily signals the forecasting model consumes.
package timeseries

import (
	"fmt"
	"time"

	"spendcast/internal/core"
)

// Point is one dated amount before aggregation.
type Point struct {
	Date   time.Time
	Amount float64
}

// DailySeries is a contiguous run of daily values starting at Start.
// Values[i] belongs to Start + i days.
type DailySeries struct {
	Start  time.Time
	Values []float64
}

// PointsFromExpenses converts expense records into aggregation input.
func PointsFromExpenses(records []core.ExpenseRecord) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		points = append(points, Point{Date: r.Date.Time, Amount: r.Amount.Float()})
	}
	return points
}

// PointsFromAmounts converts dated amounts, such as a serialised history,
// back into aggregation input.
func PointsFromAmounts(days []core.DailyAmount) []Point {
	points := make([]Point, len(days))
	for i, d := range days {
		points[i] = Point{Date: d.Date, Amount: d.Amount}
	}
	return points
}

// Aggregate sums points per calendar day over [min, max] of their dates and
// fills days without points with zero.
func Aggregate(points []Point) (DailySeries, error) {
	if len(points) == 0 {
		return DailySeries{}, fmt.Errorf("aggregate expenses: %w", core.ErrDataUnavailable)
	}

	first, last := core.Day(points[0].Date), core.Day(points[0].Date)
	for _, p := range points[1:] {
		d := core.Day(p.Date)
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	values := make([]float64, core.DaysBetween(first, last)+1)
	for _, p := range points {
		values[core.DaysBetween(first, p.Date)] += p.Amount
	}
	return DailySeries{Start: first, Values: values}, nil
}

func (s DailySeries) Len() int { return len(s.Values) }

// End returns the last date of the series.
func (s DailySeries) End() time.Time {
	if len(s.Values) == 0 {
		return s.Start
	}
	return s.Start.AddDate(0, 0, len(s.Values)-1)
}

// DateAt returns the date of index i.
func (s DailySeries) DateAt(i int) time.Time {
	return s.Start.AddDate(0, 0, i)
}

func (s DailySeries) Dates() []time.Time {
	dates := make([]time.Time, len(s.Values))
	for i := range s.Values {
		dates[i] = s.DateAt(i)
	}
	return dates
}

// Amounts returns the series as dated pairs.
func (s DailySeries) Amounts() []core.DailyAmount {
	out := make([]core.DailyAmount, len(s.Values))
	for i, v := range s.Values {
		out[i] = core.DailyAmount{Date: s.DateAt(i), Amount: v}
	}
	return out
}

// Slice returns the sub-series [from, to). Indices are clamped to the series.
func (s DailySeries) Slice(from, to int) DailySeries {
	from = max(0, min(from, len(s.Values)))
	to = max(from, min(to, len(s.Values)))
	return DailySeries{
		Start:  s.DateAt(from),
		Values: append([]float64(nil), s.Values[from:to]...),
	}
}

// Bucket is a roll-up of daily values over a week or month.
type Bucket struct {
	Start time.Time
	Days  int
	Total float64
}

// Granularity selects the calendar unit of a roll-up.
type Granularity string

const (
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity accepts "weekly" or "monthly".
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Weekly, Monthly:
		return g, nil
	}
	return "", fmt.Errorf("unknown roll-up %q, want weekly or monthly", s)
}

// Rollup sums the series into ISO weeks (starting Monday) or calendar months.
// The first and last buckets may be partial.
func Rollup(s DailySeries, g Granularity) []Bucket {
	var out []Bucket
	for i, v := range s.Values {
		d := s.DateAt(i)
		start := bucketStart(d, g)
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, Bucket{Start: start})
		}
		b := &out[len(out)-1]
		b.Days++
		b.Total += v
	}
	return out
}

func bucketStart(d time.Time, g Granularity) time.Time {
	if g == Monthly {
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
