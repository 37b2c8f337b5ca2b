package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePrediction(t *testing.T) {
	m := New(Options{RecordConfidence: true})

	m.ObservePrediction("v1", "bag", 0.9)
	m.ObservePrediction("v1", "bag", 0.4)
	m.ObservePrediction("v1", "shirt", 0.7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("v1", "bag")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("v1", "shirt")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.confidence))
	assert.True(t, m.RecordsConfidence())
}

func TestConfidenceDisabled(t *testing.T) {
	m := New(Options{})
	m.ObservePrediction("v1", "bag", 0.9)
	assert.False(t, m.RecordsConfidence())

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "prediction_confidence", f.GetName())
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New(Options{RecordConfidence: true, ProcessCollectors: true})
	m.ObserveLatency("v1", 25*time.Millisecond)
	m.ObservePrediction("v1", "sneaker", 0.99)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `request_count{model_version="v1",predicted_label="sneaker"} 1`)
	assert.Contains(t, body, `request_latency_seconds_count{model_version="v1"} 1`)
	assert.Contains(t, body, `prediction_confidence_bucket{model_version="v1",predicted_label="sneaker",le="0.99"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
