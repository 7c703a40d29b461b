package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"spendcast/internal/log"
)

type Config struct {
	// HTTP Server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string
	PostgresDSN  string

	// Memory backend seed directory
	DataDirectory string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleExpensesSheet      string
	GoogleBudgetsSheet       string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Retraining
	RetrainInterval    time.Duration
	RetrainUsers       []string
	UseBudgetFeatures  bool
	ContinuousLearning bool
	ForecastHorizon    int
	FailureThreshold   int
	RunTimeout         time.Duration

	// Prediction cache
	CacheSize int
	CacheTTL  time.Duration

	// Model hyperparameters file (TOML), optional
	ModelConfigFile string
}

var validBackends = []string{"memory", "sqlite", "postgres", "sheets"}

func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8082"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend:   getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/spendcast.db"),
		PostgresDSN:   getEnv("DATABASE_URL", ""),
		DataDirectory: getEnv("DATA_DIRECTORY", "data"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleExpensesSheet:      getEnv("GOOGLE_EXPENSES_SHEET", "Expenses"),
		GoogleBudgetsSheet:       getEnv("GOOGLE_BUDGETS_SHEET", "Budgets"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendcast"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "retrain_requests"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "spendcast.runs"),

		RetrainInterval:    getEnvDuration("RETRAIN_INTERVAL", 24*time.Hour),
		RetrainUsers:       getEnvList("RETRAIN_USERS"),
		UseBudgetFeatures:  getEnvBool("USE_BUDGET_FEATURES", true),
		ContinuousLearning: getEnvBool("CONTINUOUS_LEARNING", true),
		ForecastHorizon:    getEnvInt("FORECAST_HORIZON", 30),
		FailureThreshold:   getEnvInt("FAILURE_THRESHOLD", 3),
		RunTimeout:         getEnvDuration("RUN_TIMEOUT", 30*time.Minute),

		CacheSize: getEnvInt("PREDICTION_CACHE_SIZE", 256),
		CacheTTL:  getEnvDuration("PREDICTION_CACHE_TTL", 10*time.Minute),

		ModelConfigFile: getEnv("MODEL_CONFIG_FILE", ""),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// checkpoints always live in SQLite, except for the memory backend
	// without a path
	if c.SQLiteDBPath == "" && c.DataBackend != "memory" {
		errors = append(errors, "SQLite database path cannot be empty: checkpoints and run history are stored there")
	} else if c.SQLiteDBPath != "" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.DataBackend == "postgres" {
		if c.PostgresDSN == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.PostgresDSN); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets backend")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errors = append(errors, "Kafka topic cannot be empty when KAFKA_BROKERS is set")
	}

	if c.RetrainInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid retrain interval %v: must be at least 1 minute", c.RetrainInterval))
	}
	if c.ForecastHorizon < 1 || c.ForecastHorizon > 365 {
		errors = append(errors, fmt.Sprintf("invalid forecast horizon %d: must be between 1 and 365", c.ForecastHorizon))
	}
	if c.FailureThreshold < 1 {
		errors = append(errors, fmt.Sprintf("invalid failure threshold %d: must be at least 1", c.FailureThreshold))
	}
	if c.RunTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid run timeout %v: must not be negative", c.RunTimeout))
	}
	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid prediction cache size %d: must be at least 1", c.CacheSize))
	}

	if c.ModelConfigFile != "" {
		if _, err := os.Stat(c.ModelConfigFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("model config file does not exist: %s", c.ModelConfigFile))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
