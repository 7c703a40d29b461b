package core

import "errors"

// Error kinds surfaced by the forecasting pipeline. Callers match them with
// errors.Is; producers wrap them with context.
var (
	ErrDataUnavailable        = errors.New("data unavailable")
	ErrInsufficientHistory    = errors.New("insufficient history")
	ErrScalerMismatch         = errors.New("scaler mismatch")
	ErrShapeMismatch          = errors.New("shape mismatch")
	ErrCheckpointIncompatible = errors.New("checkpoint incompatible")
	ErrNumericalFailure       = errors.New("numerical failure")
	ErrOverlappingBudgets     = errors.New("overlapping budgets")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
)
