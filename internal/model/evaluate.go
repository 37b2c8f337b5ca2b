package model

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
)

// Evaluate returns the mean categorical cross-entropy and the accuracy of c
// on ds. The dataset's classes must match the model's.
func Evaluate(ctx context.Context, c *Classifier, ds *Dataset) (loss, accuracy float64, err error) {
	if len(ds.Samples) == 0 {
		return 0, 0, ErrEmptyDataset
	}
	if len(ds.Classes) != c.NumClasses() {
		return 0, 0, fmt.Errorf("dataset has %d classes, model has %d", len(ds.Classes), c.NumClasses())
	}

	var correct int
	for _, s := range ds.Samples {
		p, err := c.PredictInput(ctx, s.Input)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluating %s: %w", s.Path, err)
		}
		loss -= math.Log(math.Max(p.Probabilities[s.Label], 1e-7))
		if best, _ := p.Best(); best == s.Label {
			correct++
		}
	}
	n := float64(len(ds.Samples))
	return loss / n, float64(correct) / n, nil
}

// PredictDirectory classifies every image of a flat directory in file name
// order.
func PredictDirectory(ctx context.Context, c *Classifier, dir string) ([]FilePrediction, error) {
	samples, err := LoadFlatDirectory(dir, c.ImageSize(), c.artifact.Backbone.Normalization())
	if err != nil {
		return nil, err
	}

	results := make([]FilePrediction, 0, len(samples))
	for _, s := range samples {
		p, err := c.PredictInput(ctx, s.Input)
		if err != nil {
			return nil, fmt.Errorf("predicting %s: %w", s.Path, err)
		}
		best, confidence := p.Best()
		results = append(results, FilePrediction{
			Filename:   filepath.Base(s.Path),
			Prediction: best,
			Label:      c.artifact.Classes[best],
			Confidence: confidence,
		})
	}
	return results, nil
}
