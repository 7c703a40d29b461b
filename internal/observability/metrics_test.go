package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("univariate", "failed"))
	beforeStage := testutil.ToFloat64(stageFailures.WithLabelValues("train"))

	RecordRun("univariate", "failed", "train", time.Second)
	RecordRun("univariate", "persist", "", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("univariate", "failed")))
	assert.Equal(t, beforeStage+1, testutil.ToFloat64(stageFailures.WithLabelValues("train")))
}

func TestGauges(t *testing.T) {
	RecordBacktest("multivariate", 4.5)
	RecordTraining("multivariate", 0.01)
	SetConsecutiveFailures("a", 2)
	SetConsecutiveFailures("b", 0)

	assert.Equal(t, 4.5, testutil.ToFloat64(backtestMAPE.WithLabelValues("multivariate")))
	assert.Equal(t, 0.01, testutil.ToFloat64(finalLoss.WithLabelValues("multivariate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(consecutiveFailures.WithLabelValues("a")))
	assert.Equal(t, 0.0, testutil.ToFloat64(consecutiveFailures.WithLabelValues("b")))

	RecordPersisted(time.Time{})
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	RecordPersisted(ts)
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastPersisted))
}
