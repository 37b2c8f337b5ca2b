package model

import (
	"errors"
	"time"
)

const ArtifactFormat = 1

var (
	ErrInvalidImage    = errors.New("invalid image")
	ErrUnknownBackbone = errors.New("unknown backbone kind")
	ErrEmptyDataset    = errors.New("dataset has no images")
)

// Artifact is the serialized form of a trained classifier: a frozen backbone
// reference plus the fitted classification head.
type Artifact struct {
	Format       int             `json:"format"`
	ModelVersion string          `json:"model_version"`
	Classes      []string        `json:"classes"`
	ImageSize    int             `json:"image_size"`
	Backbone     BackboneSpec    `json:"backbone"`
	Head         []DenseLayer    `json:"head"`
	Training     TrainingSummary `json:"training"`
}

type BackboneKind string

const (
	BackboneONNX  BackboneKind = "onnx"
	BackbonePatch BackboneKind = "patch"
)

type Layout string

const (
	LayoutNCHW Layout = "nchw"
	LayoutNHWC Layout = "nhwc"
)

// BackboneSpec describes the feature extractor. For ONNX backbones it plays
// the role of the model metadata sidecar: tensor names and shapes.
type BackboneSpec struct {
	Kind        BackboneKind `json:"kind"`
	Path        string       `json:"path,omitempty"`
	InputName   string       `json:"input_name,omitempty"`
	OutputName  string       `json:"output_name,omitempty"`
	InputShape  []int64      `json:"input_shape,omitempty"`
	OutputShape []int64      `json:"output_shape,omitempty"`
	Layout      Layout       `json:"layout"`
	Mean        [3]float32   `json:"mean"`
	Std         [3]float32   `json:"std"`
	Grid        int          `json:"grid,omitempty"`
}

type DenseLayer struct {
	Inputs     int       `json:"inputs"`
	Outputs    int       `json:"outputs"`
	Activation string    `json:"activation"`
	Weights    []float64 `json:"weights"`
	Bias       []float64 `json:"bias"`
}

type TrainingSummary struct {
	Epochs        int       `json:"epochs"`
	StepsPerEpoch int       `json:"steps_per_epoch"`
	BatchSize     int       `json:"batch_size"`
	Samples       int       `json:"samples"`
	Loss          float64   `json:"loss"`
	Accuracy      float64   `json:"accuracy"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Prediction is one probability vector over the model's classes.
type Prediction struct {
	Probabilities []float64
}

// Best returns the arg-max class and its probability. Ties resolve to the
// lower index.
func (p *Prediction) Best() (int, float64) {
	if len(p.Probabilities) == 0 {
		return -1, 0
	}
	maxIdx := 0
	maxVal := p.Probabilities[0]
	for i, v := range p.Probabilities {
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	return maxIdx, maxVal
}

// FilePrediction is the result of classifying one file of a directory.
type FilePrediction struct {
	Filename   string  `json:"filename"`
	Prediction int     `json:"prediction"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
