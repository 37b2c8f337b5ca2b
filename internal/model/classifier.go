package model

import (
	"context"
	"fmt"
	"image"
)

// Classifier couples a frozen backbone with a trained head. It is safe for
// concurrent use; the weights are never modified after construction.
type Classifier struct {
	artifact *Artifact
	backbone Backbone
	head     *Head
}

func NewClassifier(a *Artifact, backbone Backbone) (*Classifier, error) {
	if a.ImageSize <= 0 {
		return nil, fmt.Errorf("artifact has invalid image size %d", a.ImageSize)
	}
	head, err := headFromLayers(a.Head)
	if err != nil {
		return nil, fmt.Errorf("failed to build head: %w", err)
	}
	if head.Inputs() != backbone.FeatureSize() {
		return nil, fmt.Errorf("head expects %d features, backbone produces %d", head.Inputs(), backbone.FeatureSize())
	}
	if head.Classes() != len(a.Classes) {
		return nil, fmt.Errorf("head has %d outputs for %d classes", head.Classes(), len(a.Classes))
	}
	return &Classifier{artifact: a, backbone: backbone, head: head}, nil
}

func (c *Classifier) Artifact() *Artifact { return c.artifact }

func (c *Classifier) Classes() []string {
	return append([]string(nil), c.artifact.Classes...)
}

func (c *Classifier) NumClasses() int { return len(c.artifact.Classes) }

func (c *Classifier) Version() string { return c.artifact.ModelVersion }

func (c *Classifier) ImageSize() int { return c.artifact.ImageSize }

// Predict decodes an encoded image and runs one forward pass.
func (c *Classifier) Predict(ctx context.Context, data []byte) (*Prediction, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return c.PredictImage(ctx, img)
}

func (c *Classifier) PredictImage(ctx context.Context, img image.Image) (*Prediction, error) {
	input := Preprocess(img, c.artifact.ImageSize, c.artifact.Backbone.Normalization())
	return c.PredictInput(ctx, input)
}

// PredictInput runs an already preprocessed image through the model.
func (c *Classifier) PredictInput(ctx context.Context, input []float32) (*Prediction, error) {
	features, err := c.backbone.Features(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := checkFinite(features); err != nil {
		return nil, err
	}
	return &Prediction{Probabilities: c.head.Predict(features)}, nil
}

// Save writes the artifact to path, creating parent directories.
func (c *Classifier) Save(path string) error {
	return c.artifact.Save(path)
}

func (c *Classifier) Close() error {
	return c.backbone.Close()
}
