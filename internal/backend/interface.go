package backend

import (
	"context"

	"spendcast/internal/pipeline"
	"spendcast/internal/sheets"
)

// Source is a data source that can also enumerate its users.
type Source interface {
	pipeline.Source
	sheets.UserLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the data source, the checkpoint store and an optional
// cleanup function. Source and Store may be the same value.
type BackendResult struct {
	Source  Source
	Store   pipeline.Store
	Cleanup CleanupFunc
}

// Close runs Cleanup when set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite holds checkpoints and run history for every backend type. Empty
	// is only allowed for the memory backend, which then keeps them in memory.
	SQLiteDBPath string

	// Postgres specific
	PostgresDSN string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleExpensesSheet      string
	GoogleBudgetsSheet       string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Memory backend specific
	DataDirectory string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	SheetsBackend   BackendType = "sheets"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
