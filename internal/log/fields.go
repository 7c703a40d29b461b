package log

import "time"

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldRunID       = "run_id"
	FieldVariant     = "variant"
	FieldStage       = "stage"
	FieldEpoch       = "epoch"
	FieldLoss        = "loss"
	FieldMAPE        = "mape"
	FieldRMSE        = "rmse"
	FieldHorizon     = "horizon_days"
	FieldRows        = "rows"
	FieldSamples     = "samples"
	FieldBackend     = "backend"
	FieldAttempt     = "attempt"
	FieldConsecutive = "consecutive_failures"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentPipeline  = "pipeline"
	ComponentTrainer   = "trainer"
	ComponentScheduler = "scheduler"
	ComponentStorage   = "storage"
	ComponentPostgres  = "postgres"
	ComponentAMQP      = "amqp"
	ComponentEvents    = "events"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names
const (
	OpTrain     = "train"
	OpForecast  = "forecast"
	OpBacktest  = "backtest"
	OpCrossVal  = "crossval"
	OpPredict   = "predict"
	OpLoad      = "load"
	OpPersist   = "persist"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpMigrate   = "migrate"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeData          = "data_error"
	ErrorTypeNumerical     = "numerical_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds the error text; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRun identifies one pipeline pass.
func (f LogFields) WithRun(runID, userID string) LogFields {
	f[FieldRunID] = runID
	f[FieldUserID] = userID
	return f
}

func (f LogFields) WithVariant(variant string) LogFields {
	f[FieldVariant] = variant
	return f
}

func (f LogFields) WithStage(stage string) LogFields {
	f[FieldStage] = stage
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, d time.Duration) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = d.Milliseconds()
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
