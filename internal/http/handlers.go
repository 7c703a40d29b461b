package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spendcast/internal/core"
	"spendcast/internal/log"
	"spendcast/internal/observability"
	"spendcast/internal/pipeline"
)

const maxBodyBytes = 1 << 16

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	UserID string `json:"userId"`
	// Days defaults to 30 when absent or zero.
	Days int `json:"days"`
}

type DatedAmount struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

type PredictResponse struct {
	Prediction     []DatedAmount `json:"prediction"`
	HistoricalData []DatedAmount `json:"historicalData"`
	Variant        string        `json:"variant"`
	ModelRunID     string        `json:"modelRunId"`
	TrainedThrough string        `json:"trainedThrough"`
	Summary        string        `json:"summary"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, log.ErrorTypeValidation, "request body must be a JSON object")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, log.ErrorTypeValidation, "User ID is required")
		return
	}
	if req.Days == 0 {
		req.Days = 30
	}
	if req.Days < 0 || req.Days > s.maxHorizon {
		writeError(w, http.StatusBadRequest, log.ErrorTypeValidation,
			fmt.Sprintf("days must be between 1 and %d", s.maxHorizon))
		return
	}

	key := predictionKey(req.UserID, req.Days)
	if resp, ok := s.predictions.Get(key); ok {
		observability.RecordPrediction("cache_hit")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	v, err, shared := s.inflight.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.timeout)
		defer cancel()
		p, err := s.predictor.Predict(ctx, req.UserID, req.Days)
		if err != nil {
			return nil, err
		}
		resp := newPredictResponse(p)
		s.predictions.Set(key, resp)
		return resp, nil
	})
	if err != nil {
		status, kind := errorStatus(err)
		observability.RecordPrediction(kind)
		if status >= 500 {
			logger.ErrorContext(r.Context(), "Prediction failed",
				log.FieldUserID, req.UserID, log.FieldError, err)
		} else {
			logger.WarnContext(r.Context(), "Prediction rejected",
				log.FieldUserID, req.UserID, log.FieldError, err)
		}
		writeError(w, status, kind, err.Error())
		return
	}
	observability.RecordPrediction("ok")
	logger.DebugContext(r.Context(), "Prediction served",
		log.FieldUserID, req.UserID, log.FieldHorizon, req.Days, "shared", shared)
	writeJSON(w, http.StatusOK, v.(PredictResponse))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Health check failed", log.FieldError, err)
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" && s.artifacts != nil {
		_, err := s.artifacts.LoadArtifact(r.Context(), userID)
		resp.ModelLoaded = err == nil
	}
	writeJSON(w, status, resp)
}

func predictionKey(userID string, days int) string {
	return userID + "\x00" + strconv.Itoa(days)
}

func newPredictResponse(p pipeline.Prediction) PredictResponse {
	resp := PredictResponse{
		Prediction:     datedAmounts(p.Forecast),
		HistoricalData: datedAmounts(p.History),
		Variant:        string(p.Variant),
		ModelRunID:     p.ModelRunID,
		Summary:        p.Summary.Text(),
	}
	if !p.TrainedThrough.IsZero() {
		resp.TrainedThrough = p.TrainedThrough.Format(time.DateOnly)
	}
	return resp
}

func datedAmounts(in []core.DailyAmount) []DatedAmount {
	out := make([]DatedAmount, len(in))
	for i, d := range in {
		out[i] = DatedAmount{Date: d.Date.Format(time.DateOnly), Amount: d.Amount}
	}
	return out
}

// errorStatus maps error kinds to an HTTP status and a short label used in
// the response body and the prediction metric.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrCheckpointNotFound):
		return http.StatusNotFound, "model_not_found"
	case errors.Is(err, core.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, "insufficient_history"
	case errors.Is(err, core.ErrCheckpointIncompatible),
		errors.Is(err, core.ErrScalerMismatch),
		errors.Is(err, core.ErrShapeMismatch):
		return http.StatusConflict, "model_incompatible"
	case errors.Is(err, core.ErrDataUnavailable):
		return http.StatusServiceUnavailable, "data_unavailable"
	case errors.Is(err, core.ErrNumericalFailure):
		return http.StatusInternalServerError, "numerical_failure"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
