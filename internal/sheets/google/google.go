package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/log"
	ports "spendcast/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultCacheDuration = 5 * time.Minute

// Client reads expense and budget tabs of one spreadsheet. Each tab is read
// whole and kept for cacheValidDuration, so a retraining pass over many
// users costs one API call per tab.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	expensesSheet string
	budgetsSheet  string
	logger        *log.Logger

	fetch func(ctx context.Context, rng string) ([][]any, error)

	mu                 sync.Mutex
	cacheValidDuration time.Duration
	cached             map[string]cachedRange
}

type cachedRange struct {
	values    [][]any
	expiresAt time.Time
}

var (
	_ ports.ExpenseReader = (*Client)(nil)
	_ ports.BudgetReader  = (*Client)(nil)
	_ ports.UserLister    = (*Client)(nil)
)

// Options configures NewClient. Empty sheet names default to "Expenses"
// and "Budgets".
type Options struct {
	SpreadsheetID   string
	ExpensesSheet   string
	BudgetsSheet    string
	CredentialsJSON string
	CredentialsFile string
	CacheDuration   time.Duration
}

// OptionsFromEnv reads GOOGLE_SPREADSHEET_ID, GOOGLE_EXPENSES_SHEET,
// GOOGLE_BUDGETS_SHEET and the service account variables.
func OptionsFromEnv() Options {
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	return Options{
		SpreadsheetID:   strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID")),
		ExpensesSheet:   strings.TrimSpace(os.Getenv("GOOGLE_EXPENSES_SHEET")),
		BudgetsSheet:    strings.TrimSpace(os.Getenv("GOOGLE_BUDGETS_SHEET")),
		CredentialsJSON: strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")),
		CredentialsFile: file,
	}
}

func NewClient(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	c := newClient(opts, logger)
	c.svc = svc
	c.fetch = c.getValues
	return c, nil
}

func newClient(opts Options, logger *log.Logger) *Client {
	if opts.ExpensesSheet == "" {
		opts.ExpensesSheet = "Expenses"
	}
	if opts.BudgetsSheet == "" {
		opts.BudgetsSheet = "Budgets"
	}
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = defaultCacheDuration
	}
	return &Client{
		spreadsheetID:      opts.SpreadsheetID,
		expensesSheet:      opts.ExpensesSheet,
		budgetsSheet:       opts.BudgetsSheet,
		logger:             logger,
		cacheValidDuration: opts.CacheDuration,
		cached:             make(map[string]cachedRange),
	}
}

// newSheetsService authenticates with a service account, read-only.
func newSheetsService(ctx context.Context, opts Options, logger *log.Logger) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case opts.CredentialsJSON != "":
		credentialsJSON = []byte(opts.CredentialsJSON)
	case opts.CredentialsFile != "":
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	logger.InfoContext(ctx, "Creating Google Sheets service", "credentials_size", len(credentialsJSON))
	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) getValues(ctx context.Context, rng string) ([][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// readRange returns the cached values of rng, fetching them when missing or
// expired.
func (c *Client) readRange(ctx context.Context, rng string) ([][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.cached[rng]; ok && time.Now().Before(entry.expiresAt) {
		return entry.values, nil
	}
	values, err := c.fetch(ctx, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, core.ErrDataUnavailable)
	}
	c.cached[rng] = cachedRange{values: values, expiresAt: time.Now().Add(c.cacheValidDuration)}
	c.logger.DebugContext(ctx, "Sheet range refreshed", "range", rng, log.FieldRows, len(values))
	return values, nil
}

// Invalidate drops every cached range.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cached)
}

func (c *Client) ListExpenses(ctx context.Context, userID string) ([]core.ExpenseRecord, error) {
	values, err := c.readRange(ctx, c.expensesSheet+"!A:D")
	if err != nil {
		return nil, err
	}
	all, skipped := parseExpenses(values)
	if skipped > 0 {
		c.logger.WarnContext(ctx, "Skipped malformed expense rows", "sheet", c.expensesSheet, "skipped", skipped)
	}
	out := make([]core.ExpenseRecord, 0, len(all))
	for _, e := range all {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b core.ExpenseRecord) int { return a.Date.Compare(b.Date.Time) })
	return out, nil
}

func (c *Client) ListBudgets(ctx context.Context, userID string) ([]core.BudgetDefinition, error) {
	values, err := c.readRange(ctx, c.budgetsSheet+"!A:E")
	if err != nil {
		return nil, err
	}
	all, skipped := parseBudgets(values)
	if skipped > 0 {
		c.logger.WarnContext(ctx, "Skipped malformed budget rows", "sheet", c.budgetsSheet, "skipped", skipped)
	}
	out := make([]core.BudgetDefinition, 0, len(all))
	for _, b := range all {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	values, err := c.readRange(ctx, c.expensesSheet+"!A:D")
	if err != nil {
		return nil, err
	}
	all, _ := parseExpenses(values)
	users := make([]string, 0)
	for _, e := range all {
		users = append(users, e.UserID)
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}
