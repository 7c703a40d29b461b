package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spendcast/internal/core"
)

var dateLayouts = []string{time.DateOnly, "02/01/2006", "2/1/2006", "2006/01/02"}

// columns maps field names to their index in a row.
type columns map[string]int

// headerColumns detects an optional header row. When the first row names
// every wanted field the second result is true and the mapping follows the
// header; otherwise fields are positional in the order given.
func headerColumns(first []string, fields []string, aliases map[string][]string) (columns, bool) {
	cols := columns{}
	for _, f := range fields {
		idx := -1
		for _, name := range append([]string{f}, aliases[f]...) {
			if idx = indexOf(first, name); idx >= 0 {
				break
			}
		}
		if idx < 0 {
			positional := columns{}
			for i, f := range fields {
				positional[f] = i
			}
			return positional, false
		}
		cols[f] = idx
	}
	return cols, true
}

var expenseAliases = map[string][]string{
	"category": {"category_id", "categoryid"},
	"user":     {"user_id", "userid"},
}

var budgetAliases = map[string][]string{
	"start_date": {"start", "startdate", "from"},
	"category":   {"category_id", "categoryid"},
	"user":       {"user_id", "userid"},
}

// parseExpenses converts rows of Date, Amount, Category, User into records.
// Rows that cannot be parsed are skipped and counted.
func parseExpenses(values [][]any) ([]core.ExpenseRecord, int) {
	if len(values) == 0 {
		return nil, 0
	}
	cols, header := headerColumns(toStrings(values[0]), []string{"date", "amount", "category", "user"}, expenseAliases)
	if header {
		values = values[1:]
	}

	var (
		out     []core.ExpenseRecord
		skipped int
	)
	for _, row := range values {
		cells := toStrings(row)
		if blank(cells) {
			continue
		}
		e, err := parseExpenseRow(cells, cols)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, skipped
}

func parseExpenseRow(cells []string, cols columns) (core.ExpenseRecord, error) {
	day, err := parseDate(safeGet(cells, cols["date"]))
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	cents, err := core.ParseDecimalToCents(safeGet(cells, cols["amount"]))
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	category, err := parseOptionalID(safeGet(cells, cols["category"]))
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	e := core.ExpenseRecord{
		Date:   day,
		Amount: core.Money{Cents: cents},
		UserID: safeGet(cells, cols["user"]),
	}
	if category != nil {
		e.CategoryID = *category
	}
	return e, e.Validate()
}

// parseBudgets converts rows of Amount, Period, StartDate, Category, User.
// An empty category means the budget covers all spending.
func parseBudgets(values [][]any) ([]core.BudgetDefinition, int) {
	if len(values) == 0 {
		return nil, 0
	}
	cols, header := headerColumns(toStrings(values[0]), []string{"amount", "period", "start_date", "category", "user"}, budgetAliases)
	first := 1
	if header {
		values = values[1:]
		first = 2
	}

	var (
		out     []core.BudgetDefinition
		skipped int
	)
	for i, row := range values {
		cells := toStrings(row)
		if blank(cells) {
			continue
		}
		b, err := parseBudgetRow(cells, cols)
		if err != nil {
			skipped++
			continue
		}
		// sheet row number stands in for a database id
		b.ID = int64(i + first)
		out = append(out, b)
	}
	return out, skipped
}

func parseBudgetRow(cells []string, cols columns) (core.BudgetDefinition, error) {
	cents, err := core.ParseDecimalToCents(safeGet(cells, cols["amount"]))
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	period, err := core.ParsePeriod(safeGet(cells, cols["period"]))
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	start, err := parseDate(safeGet(cells, cols["start_date"]))
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	category, err := parseOptionalID(safeGet(cells, cols["category"]))
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	b := core.BudgetDefinition{
		Amount:     core.Money{Cents: cents},
		Period:     period,
		StartDate:  start,
		CategoryID: category,
		UserID:     safeGet(cells, cols["user"]),
	}
	return b, b.Validate()
}

func parseDate(s string) (core.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateOf(t), nil
		}
	}
	return core.Date{}, fmt.Errorf("unrecognised date %q", s)
}

func parseOptionalID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", s, err)
	}
	return &id, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
