package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

type (
	Period string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// ExpenseRecord is a single spending transaction as read from a data source.
	ExpenseRecord struct {
		Date       Date
		Amount     Money
		CategoryID int64
		UserID     string
	}

	// BudgetDefinition is a periodic spending allowance. CategoryID is nil for
	// budgets that cover all spending.
	BudgetDefinition struct {
		ID         int64
		Amount     Money
		Period     Period
		StartDate  Date
		CategoryID *int64
		UserID     string
	}
)

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidPeriod = errors.New("invalid budget period")
	ErrEmptyUser     = errors.New("empty user id")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	return Date{Time: Day(t)}
}

// Day returns midnight UTC of the calendar day t falls on, keeping the
// wall-clock date of t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// DaysInMonth returns the number of days in the month containing t.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay() == 366 {
		return 366
	}
	return 365
}

// ParsePeriod accepts the textual period names used by the data sources.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return p, nil
}

func (p Period) IsValid() bool {
	switch p {
	case Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// Float returns the amount in currency units for numeric work.
func (m Money) Float() float64 {
	return float64(m.Cents) / 100.0
}

// MoneyFromFloat rounds a currency amount to the nearest cent.
func MoneyFromFloat(v float64) Money {
	if v < 0 {
		return Money{Cents: -int64(-v*100 + 0.5)}
	}
	return Money{Cents: int64(v*100 + 0.5)}
}

func (e ExpenseRecord) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUser
	}
	return nil
}

func (b BudgetDefinition) Validate() error {
	if err := b.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if !b.Period.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, b.Period)
	}
	// zero is an explicit budget, negative is not
	if b.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	return nil
}

// Scoped reports whether the budget is restricted to one category.
func (b BudgetDefinition) Scoped() bool {
	return b.CategoryID != nil
}
