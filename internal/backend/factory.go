package backend

import (
	"context"
	"errors"
	"fmt"

	"spendcast/internal/log"
	"spendcast/internal/pipeline"
	"spendcast/internal/postgres"
	gsheet "spendcast/internal/sheets/google"
	"spendcast/internal/sheets/memory"
	"spendcast/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case PostgresBackend:
		return f.createPostgresBackend(ctx, config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Source:  repo,
		Store:   repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*BackendResult, error) {
	pool, err := postgres.Connect(ctx, config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}

	f.logger.Info("Initialized Postgres backend", "checkpoint_db", config.SQLiteDBPath)

	return &BackendResult{
		Source: postgres.NewSource(pool),
		Store:  repo,
		Cleanup: func() error {
			pool.Close()
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.NewClient(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		ExpensesSheet:   config.GoogleExpensesSheet,
		BudgetsSheet:    config.GoogleBudgetsSheet,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet", config.GoogleSpreadsheetID)

	return &BackendResult{
		Source:  cli,
		Store:   repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store, err := memory.NewFromFiles(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory backend: %w", err)
	}

	result := &BackendResult{Source: store}
	if config.SQLiteDBPath == "" {
		result.Store = pipeline.NewMemoryStore()
	} else {
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, errors.Join(errors.New("failed to initialize checkpoint store"), err)
		}
		result.Store = repo
		result.Cleanup = repo.Close
	}

	f.logger.Info("Initialized memory backend", "data_directory", dataDir, "persistent_checkpoints", config.SQLiteDBPath != "")
	return result, nil
}
