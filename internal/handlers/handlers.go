package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/labels"
	"github.com/Brownie44l1/fancy-fashion/internal/metrics"
	"github.com/Brownie44l1/fancy-fashion/internal/model"
)

// Predictor runs one forward pass over an encoded image.
type Predictor interface {
	Predict(ctx context.Context, data []byte) (*model.Prediction, error)
}

// PredictionResponse is the per-file body of /predict.
type PredictionResponse struct {
	BestMatch  *string            `json:"best_match"`
	Confidence map[string]float64 `json:"confidence"`
}

// unknownLabel is the metrics label for an index the table does not cover.
const unknownLabel = "unknown"

// preferred multipart field names, checked before any other file field
var uploadFields = []string{"image_data", "image", "file"}

type Handler struct {
	predictor    Predictor
	labels       *labels.Mapping
	metrics      *metrics.Metrics
	modelVersion string
	log          *zap.Logger
}

func NewHandler(predictor Predictor, mapping *labels.Mapping, m *metrics.Metrics, modelVersion string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		predictor:    predictor,
		labels:       mapping,
		metrics:      m,
		modelVersion: modelVersion,
		log:          log,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) Predict(c *gin.Context) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveLatency(h.modelVersion, time.Since(start))
	}()

	header, err := uploadedFile(c)
	if err != nil {
		c.String(http.StatusBadRequest, "No image file provided")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(c, "failed to open upload", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, "failed to read upload", err)
		return
	}

	h.log.Debug("received file",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)),
		zap.String("request_id", c.GetString(requestIDKey)))

	prediction, err := h.predictor.Predict(c.Request.Context(), data)
	if err != nil {
		h.fail(c, "prediction failed", err)
		return
	}

	best, confidence := prediction.Best()
	response := PredictionResponse{Confidence: make(map[string]float64, len(prediction.Probabilities))}
	for i, p := range prediction.Probabilities {
		name, ok := h.labels.Name(i)
		if !ok {
			name = strconv.Itoa(i)
		}
		response.Confidence[name] = p
	}

	metricLabel := unknownLabel
	if name, ok := h.labels.Name(best); ok {
		response.BestMatch = &name
		metricLabel = name
	}
	h.metrics.ObservePrediction(h.modelVersion, metricLabel, confidence)

	c.JSON(http.StatusOK, map[string]PredictionResponse{header.Filename: response})
}

// fail answers with a generic server error; details only go to the log.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	fields := []zap.Field{zap.Error(err), zap.String("request_id", c.GetString(requestIDKey))}
	if errors.Is(err, model.ErrInvalidImage) {
		h.log.Warn(msg, fields...)
	} else {
		h.log.Error(msg, fields...)
	}
	c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func uploadedFile(c *gin.Context) (*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	for _, field := range uploadFields {
		if files := form.File[field]; len(files) > 0 {
			return files[0], nil
		}
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, http.ErrMissingFile
}
