package memory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"spendcast/internal/core"
	ports "spendcast/internal/sheets"
)

// Store is an in-memory source of expenses and budgets, used for demos,
// tests and CSV exports.
type Store struct {
	mu       sync.Mutex
	expenses []core.ExpenseRecord
	budgets  []core.BudgetDefinition
	nextID   int64
}

var (
	_ ports.ExpenseReader = (*Store)(nil)
	_ ports.BudgetReader  = (*Store)(nil)
	_ ports.UserLister    = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// NewFromFiles seeds a store from expenses.csv and budgets.csv in base.
// Missing files leave the store empty; malformed files are an error.
//
//	expenses.csv: date,amount,category_id,user_id
//	budgets.csv:  amount,period,start_date,category_id,user_id
func NewFromFiles(base string) (*Store, error) {
	s := New()

	rows, err := readCSV(filepath.Join(base, "expenses.csv"))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		e, err := parseExpense(row)
		if err != nil {
			return nil, fmt.Errorf("expenses.csv line %d: %w", i+2, err)
		}
		if err := s.AddExpense(e); err != nil {
			return nil, fmt.Errorf("expenses.csv line %d: %w", i+2, err)
		}
	}

	rows, err = readCSV(filepath.Join(base, "budgets.csv"))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		b, err := parseBudget(row)
		if err != nil {
			return nil, fmt.Errorf("budgets.csv line %d: %w", i+2, err)
		}
		if _, err := s.AddBudget(b); err != nil {
			return nil, fmt.Errorf("budgets.csv line %d: %w", i+2, err)
		}
	}
	return s, nil
}

func (s *Store) AddExpense(e core.ExpenseRecord) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, e)
	return nil
}

// AddBudget assigns the next id and stores the budget.
func (s *Store) AddBudget(b core.BudgetDefinition) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	b.ID = s.nextID
	s.budgets = append(s.budgets, b)
	return b.ID, nil
}

// RemoveBudgets drops every budget of the user.
func (s *Store) RemoveBudgets(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets = slices.DeleteFunc(s.budgets, func(b core.BudgetDefinition) bool { return b.UserID == userID })
}

func (s *Store) ListExpenses(_ context.Context, userID string) ([]core.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExpenseRecord, 0)
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b core.ExpenseRecord) int { return a.Date.Compare(b.Date.Time) })
	return out, nil
}

func (s *Store) ListBudgets(_ context.Context, userID string) ([]core.BudgetDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.BudgetDefinition, 0)
	for _, b := range s.budgets {
		if b.UserID == userID {
			if b.CategoryID != nil {
				id := *b.CategoryID
				b.CategoryID = &id
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.expenses))
	for _, e := range s.expenses {
		users = append(users, e.UserID)
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// readCSV returns the data rows of path without its header line.
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.TrimLeadingSpace = true
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func parseExpense(row []string) (core.ExpenseRecord, error) {
	if len(row) < 4 {
		return core.ExpenseRecord{}, fmt.Errorf("want 4 columns, got %d", len(row))
	}
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(row[0]))
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	cents, err := core.ParseDecimalToCents(row[1])
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	var category int64
	if c := strings.TrimSpace(row[2]); c != "" {
		if category, err = strconv.ParseInt(c, 10, 64); err != nil {
			return core.ExpenseRecord{}, fmt.Errorf("category %q: %w", c, err)
		}
	}
	return core.ExpenseRecord{
		Date:       core.DateOf(day),
		Amount:     core.Money{Cents: cents},
		CategoryID: category,
		UserID:     strings.TrimSpace(row[3]),
	}, nil
}

func parseBudget(row []string) (core.BudgetDefinition, error) {
	if len(row) < 5 {
		return core.BudgetDefinition{}, fmt.Errorf("want 5 columns, got %d", len(row))
	}
	cents, err := core.ParseDecimalToCents(row[0])
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	period, err := core.ParsePeriod(row[1])
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(row[2]))
	if err != nil {
		return core.BudgetDefinition{}, err
	}
	b := core.BudgetDefinition{
		Amount:    core.Money{Cents: cents},
		Period:    period,
		StartDate: core.DateOf(start),
		UserID:    strings.TrimSpace(row[4]),
	}
	if c := strings.TrimSpace(row[3]); c != "" {
		id, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return core.BudgetDefinition{}, fmt.Errorf("category %q: %w", c, err)
		}
		b.CategoryID = &id
	}
	return b, nil
}
