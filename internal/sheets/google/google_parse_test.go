package google

import (
	"testing"

	"spendcast/internal/core"
)

func TestParseExpenses_WithHeader(t *testing.T) {
	values := [][]any{
		{"Date", "Amount", "Category", "User"},
		{"2024-01-02", "12,50", "3", "u1"},
		{"01/01/2024", 4.0, "", "u2"},
		{"", "", "", ""},
		{"not a date", "1", "1", "u1"},
		{"2024-01-03", "abc", "1", "u1"},
		{"2024-01-03", "1", "1", ""},
	}
	got, skipped := parseExpenses(values)
	if skipped != 3 {
		t.Fatalf("skipped: got %d, want 3", skipped)
	}
	if len(got) != 2 {
		t.Fatalf("records: got %d, want 2", len(got))
	}
	if got[0].Amount.Cents != 1250 || got[0].CategoryID != 3 || got[0].UserID != "u1" {
		t.Errorf("unexpected first record: %+v", got[0])
	}
	if got[0].Date != core.NewDate(2024, 1, 2) {
		t.Errorf("first date: got %v", got[0].Date)
	}
	if got[1].Date != core.NewDate(2024, 1, 1) || got[1].Amount.Cents != 400 || got[1].CategoryID != 0 {
		t.Errorf("unexpected second record: %+v", got[1])
	}
}

func TestParseExpenses_ReorderedHeaderAndAliases(t *testing.T) {
	values := [][]any{
		{"user_id", "category_id", "amount", "date"},
		{"u1", "7", "$1,200.00", "2024-02-29"},
	}
	got, skipped := parseExpenses(values)
	if skipped != 0 || len(got) != 1 {
		t.Fatalf("got %d records, %d skipped", len(got), skipped)
	}
	if got[0].Amount.Cents != 120000 || got[0].CategoryID != 7 || got[0].UserID != "u1" {
		t.Errorf("unexpected record: %+v", got[0])
	}
}

func TestParseExpenses_Positional(t *testing.T) {
	values := [][]any{
		{"2024-03-01", "9.99", "1", "u1"},
	}
	got, _ := parseExpenses(values)
	if len(got) != 1 || got[0].Amount.Cents != 999 {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestParseBudgets(t *testing.T) {
	values := [][]any{
		{"Amount", "Period", "Start", "Category", "User"},
		{"310", "Monthly", "2024-01-01", "", "u1"},
		{"70", "weekly", "2024-01-08", "2", "u1"},
		{"-5", "weekly", "2024-01-08", "", "u1"},
		{"10", "daily", "2024-01-08", "", "u1"},
	}
	got, skipped := parseBudgets(values)
	if skipped != 2 {
		t.Fatalf("skipped: got %d, want 2", skipped)
	}
	if len(got) != 2 {
		t.Fatalf("budgets: got %d, want 2", len(got))
	}
	if got[0].Period != core.Monthly || got[0].CategoryID != nil || got[0].Amount.Cents != 31000 {
		t.Errorf("unexpected first budget: %+v", got[0])
	}
	if got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("ids should follow sheet rows: %d, %d", got[0].ID, got[1].ID)
	}
	if got[1].CategoryID == nil || *got[1].CategoryID != 2 {
		t.Errorf("expected scoped budget, got %+v", got[1])
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    core.Date
		wantErr bool
	}{
		{"2024-01-31", core.NewDate(2024, 1, 31), false},
		{"31/01/2024", core.NewDate(2024, 1, 31), false},
		{"1/2/2024", core.NewDate(2024, 2, 1), false},
		{"2024/12/25", core.NewDate(2024, 12, 25), false},
		{"Jan 31", core.Date{}, true},
		{"", core.Date{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
