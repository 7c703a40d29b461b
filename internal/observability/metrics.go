// Package observability exposes Prometheus metrics for training runs,
// forecasts and the retraining loop.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spendcast"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline passes by model variant and terminal state.",
	}, []string{"variant", "state"})
	stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Pipeline passes that failed, by the stage that failed.",
	}, []string{"stage"})
	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full pipeline pass.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"variant"})
	backtestMAPE = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "backtest_mape_percent",
		Help:      "MAPE of the most recent walk-forward backtest.",
	}, []string{"variant"})
	finalLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "training_final_loss",
		Help:      "Mean squared error of the last training epoch.",
	}, []string{"variant"})
	lastPersisted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "last_checkpoint_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent checkpoint replace.",
	})
	predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "predictions_total",
		Help:      "Inference requests by outcome.",
	}, []string{"outcome"})
	consecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "consecutive_failures",
		Help:      "Current streak of failed passes per user in the retraining loop.",
	}, []string{"user"})
)

func init() {
	prometheus.MustRegister(runsTotal, stageFailures, runDuration, backtestMAPE,
		finalLoss, lastPersisted, predictions, consecutiveFailures)
}

// RecordRun counts a finished pass. stage is empty for successful passes.
func RecordRun(variant, state, stage string, d time.Duration) {
	runsTotal.WithLabelValues(variant, state).Inc()
	if stage != "" {
		stageFailures.WithLabelValues(stage).Inc()
	}
	runDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func RecordBacktest(variant string, mape float64) {
	backtestMAPE.WithLabelValues(variant).Set(mape)
}

func RecordTraining(variant string, loss float64) {
	finalLoss.WithLabelValues(variant).Set(loss)
}

// RecordPersisted updates the checkpoint watermark gauge.
func RecordPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastPersisted.Set(float64(ts.Unix()))
}

func RecordPrediction(outcome string) {
	predictions.WithLabelValues(outcome).Inc()
}

// SetConsecutiveFailures records the failure streak of one user.
func SetConsecutiveFailures(userID string, n int) {
	consecutiveFailures.WithLabelValues(userID).Set(float64(n))
}
