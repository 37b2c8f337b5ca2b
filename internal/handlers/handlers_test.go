package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/fancy-fashion/internal/labels"
	"github.com/Brownie44l1/fancy-fashion/internal/metrics"
	"github.com/Brownie44l1/fancy-fashion/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type predictResult map[string]struct {
	BestMatch  *string            `json:"best_match"`
	Confidence map[string]float64 `json:"confidence"`
}

// colorClassifier maps the mean red, green and blue values of an image to
// bag, shirt and sneaker.
func colorClassifier(t *testing.T) *model.Classifier {
	t.Helper()
	spec := model.DefaultPatchSpec(1)
	a := &model.Artifact{
		Format:       model.ArtifactFormat,
		ModelVersion: "test-v1",
		Classes:      labels.Garments.Names(),
		ImageSize:    8,
		Backbone:     spec,
		Head: []model.DenseLayer{{
			Inputs:     3,
			Outputs:    3,
			Activation: "softmax",
			Weights:    []float64{5, 0, 0, 0, 5, 0, 0, 0, 5},
			Bias:       []float64{0, 0, 0},
		}},
	}
	backbone, err := model.NewBackbone(spec, a.ImageSize, "", model.BackboneOptions{})
	require.NoError(t, err)
	c, err := model.NewClassifier(a, backbone)
	require.NoError(t, err)
	return c
}

func pngOf(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestRouter(t *testing.T, p Predictor) (*gin.Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(metrics.Options{RecordConfidence: true})
	h := NewHandler(p, labels.Garments, m, "test-v1", nil)
	return NewRouter(h, nil), m
}

func requestCount(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != "request_count" {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestPing(t *testing.T) {
	r, _ := newTestRouter(t, colorClassifier(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestPredict(t *testing.T) {
	r, _ := newTestRouter(t, colorClassifier(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "image_data", "green.png", pngOf(t, color.RGBA{G: 255, A: 255})))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var got predictResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	result, ok := got["green.png"]
	require.True(t, ok)

	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "shirt", *result.BestMatch)
	assert.ElementsMatch(t, []string{"bag", "shirt", "sneaker"}, keys(result.Confidence))

	var sum, maxVal float64
	var maxLabel string
	for label, v := range result.Confidence {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		sum += v
		if v > maxVal {
			maxVal, maxLabel = v, label
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, maxLabel, *result.BestMatch)
}

func TestPredictDeterministic(t *testing.T) {
	r, _ := newTestRouter(t, colorClassifier(t))
	img := pngOf(t, color.RGBA{R: 120, G: 30, B: 200, A: 255})

	var first []byte
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "image", "x.png", img))
		require.Equal(t, http.StatusOK, rec.Code)
		if first == nil {
			first = rec.Body.Bytes()
			continue
		}
		assert.Equal(t, first, rec.Body.Bytes())
	}
}

func TestPredictCountsRequests(t *testing.T) {
	r, m := newTestRouter(t, colorClassifier(t))
	before := requestCount(t, m)

	const n = 5
	for i := 0; i < n; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "upload", "red.png", pngOf(t, color.RGBA{R: 255, A: 255})))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, before+n, requestCount(t, m))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `request_count{model_version="test-v1",predicted_label="bag"} 5`)
	assert.Contains(t, rec.Body.String(), `request_latency_seconds_count{model_version="test-v1"} 5`)
}

func TestPredictInvalidImage(t *testing.T) {
	r, m := newTestRouter(t, colorClassifier(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "image_data", "notes.txt", []byte("definitely not an image")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0.0, requestCount(t, m))
}

func TestPredictMissingFile(t *testing.T) {
	r, _ := newTestRouter(t, colorClassifier(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubPredictor struct {
	probs []float64
	err   error
}

func (s stubPredictor) Predict(context.Context, []byte) (*model.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Prediction{Probabilities: s.probs}, nil
}

func TestPredictUnmappedIndex(t *testing.T) {
	r, _ := newTestRouter(t, stubPredictor{probs: []float64{0.1, 0.1, 0.1, 0.7}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "image_data", "a.png", []byte("ignored")))
	require.Equal(t, http.StatusOK, rec.Code)

	var got predictResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Nil(t, got["a.png"].BestMatch)
	assert.Equal(t, 0.7, got["a.png"].Confidence["3"])
}

func TestPredictBackendError(t *testing.T) {
	r, _ := newTestRouter(t, stubPredictor{err: errors.New("session lost")})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "image_data", "a.png", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "session lost")
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t, colorClassifier(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
