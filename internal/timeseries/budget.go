package timeseries

import (
	"fmt"
	"time"

	"spendcast/internal/core"
)

// OverlapPolicy decides what happens when two budget definitions of the same
// scope cover the same day.
type OverlapPolicy string

const (
	// OverlapSum adds overlapping allowances together.
	OverlapSum OverlapPolicy = "sum"
	// OverlapReject fails allocation with core.ErrOverlappingBudgets.
	OverlapReject OverlapPolicy = "reject"
)

func (p OverlapPolicy) IsValid() bool {
	return p == OverlapSum || p == OverlapReject
}

// BudgetSeries is the daily budget signal aligned to a target range.
// ByCategory holds the per-category channels; each of them is also included
// in Total.
type BudgetSeries struct {
	Start      time.Time
	Total      []float64
	ByCategory map[int64][]float64
	// Contributing counts definitions that covered at least one day of the range.
	Contributing int
}

// HasData distinguishes "no budget covers this range" from explicit zero budgets.
func (b BudgetSeries) HasData() bool {
	return b.Contributing > 0
}

func (b BudgetSeries) Len() int { return len(b.Total) }

// AsDailySeries exposes the overall budget channel as a DailySeries.
func (b BudgetSeries) AsDailySeries() DailySeries {
	return DailySeries{Start: b.Start, Values: b.Total}
}

// AllocateBudgets spreads every definition's amount evenly over the days of
// each of its periods and accumulates the result over [from, to].
//
// Periods are expanded from the definition's start date until a period would
// start after to. Weekly periods are 7-day blocks, monthly periods run to the
// end of the calendar month and yearly periods to December 31st; the daily
// amount always divides by the full length of that calendar unit, so a
// definition starting mid-month only receives the share for its remaining days.
func AllocateBudgets(defs []core.BudgetDefinition, from, to time.Time, policy OverlapPolicy) (BudgetSeries, error) {
	from, to = core.Day(from), core.Day(to)
	if to.Before(from) {
		return BudgetSeries{}, fmt.Errorf("allocate budgets: range end %s before start %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	if policy == "" {
		policy = OverlapSum
	}
	if !policy.IsValid() {
		return BudgetSeries{}, fmt.Errorf("allocate budgets: unknown overlap policy %q", policy)
	}

	n := core.DaysBetween(from, to) + 1
	out := BudgetSeries{
		Start:      from,
		Total:      make([]float64, n),
		ByCategory: make(map[int64][]float64),
	}

	// owners[scope][day] is the index of the definition that claimed the day
	owners := make(map[string][]int)

	for idx, def := range defs {
		if err := def.Validate(); err != nil {
			return BudgetSeries{}, fmt.Errorf("allocate budget %d: %w", def.ID, err)
		}

		var category []float64
		if def.Scoped() {
			category = out.ByCategory[*def.CategoryID]
			if category == nil {
				category = make([]float64, n)
				out.ByCategory[*def.CategoryID] = category
			}
		}

		scope := scopeKey(def)
		if policy == OverlapReject && owners[scope] == nil {
			owners[scope] = make([]int, n)
			for i := range owners[scope] {
				owners[scope][i] = -1
			}
		}

		covered := false
		cursor := core.Day(def.StartDate.Time)
		for !cursor.After(to) {
			end, daily := periodBlock(def, cursor)
			// skip whole blocks before the range
			if !end.After(from) {
				cursor = end
				continue
			}
			for d := maxTime(cursor, from); d.Before(end) && !d.After(to); d = d.AddDate(0, 0, 1) {
				i := core.DaysBetween(from, d)
				if policy == OverlapReject {
					if prev := owners[scope][i]; prev >= 0 && prev != idx {
						return BudgetSeries{}, fmt.Errorf("budgets %d and %d on %s: %w",
							defs[prev].ID, def.ID, d.Format(time.DateOnly), core.ErrOverlappingBudgets)
					}
					owners[scope][i] = idx
				}
				out.Total[i] += daily
				if category != nil {
					category[i] += daily
				}
				covered = true
			}
			cursor = end
		}
		if covered {
			out.Contributing++
		}
	}

	return out, nil
}

// periodBlock returns the exclusive end of the period starting at cursor and
// the amount allotted to each of its days.
func periodBlock(def core.BudgetDefinition, cursor time.Time) (time.Time, float64) {
	amount := def.Amount.Float()
	switch def.Period {
	case core.Weekly:
		return cursor.AddDate(0, 0, 7), amount / 7
	case core.Yearly:
		end := time.Date(cursor.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		return end, amount / float64(core.DaysInYear(cursor.Year()))
	default:
		end := time.Date(cursor.Year(), cursor.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return end, amount / float64(core.DaysInMonth(cursor))
	}
}

func scopeKey(def core.BudgetDefinition) string {
	if def.CategoryID == nil {
		return "all"
	}
	return fmt.Sprintf("category:%d", *def.CategoryID)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
