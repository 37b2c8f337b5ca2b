package model

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// TrainConfig holds the fitting knobs. HiddenUnits of zero trains a head with
// a single softmax layer.
type TrainConfig struct {
	Epochs        int
	StepsPerEpoch int
	HiddenUnits   int
	LearningRate  float64
	Seed          uint64
	ModelVersion  string
	Logger        *zap.Logger
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:        2,
		StepsPerEpoch: 10,
		HiddenUnits:   512,
		LearningRate:  1e-3,
	}
}

func (c TrainConfig) withDefaults() TrainConfig {
	d := DefaultTrainConfig()
	if c.Epochs <= 0 {
		c.Epochs = d.Epochs
	}
	if c.StepsPerEpoch <= 0 {
		c.StepsPerEpoch = d.StepsPerEpoch
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Train fits a new head on top of the frozen backbone. The backbone is run
// once per image since its weights never change.
func Train(ctx context.Context, backbone Backbone, ds *Dataset, imageSize int, cfg TrainConfig) (*Classifier, error) {
	cfg = cfg.withDefaults()
	if len(ds.Samples) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(ds.Classes) < 2 {
		return nil, fmt.Errorf("training needs at least two classes, got %d", len(ds.Classes))
	}
	log := cfg.Logger

	log.Info("extracting features",
		zap.Int("samples", len(ds.Samples)),
		zap.Int("classes", len(ds.Classes)),
		zap.Int("feature_size", backbone.FeatureSize()))

	features := make([][]float64, len(ds.Samples))
	for i, s := range ds.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := backbone.Features(ctx, s.Input)
		if err != nil {
			return nil, fmt.Errorf("feature extraction for %s: %w", s.Path, err)
		}
		if err := checkFinite(f); err != nil {
			return nil, fmt.Errorf("feature extraction for %s: %w", s.Path, err)
		}
		features[i] = f
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	head := newHead(backbone.FeatureSize(), cfg.HiddenUnits, len(ds.Classes), rng)
	opt := newAdam(head, cfg.LearningRate)

	batches := ds.Batches()
	order := rng.Perm(len(batches))
	cursor := 0

	var loss, accuracy float64
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		var epochLoss, epochAcc float64
		for step := 0; step < cfg.StepsPerEpoch; step++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if cursor == len(order) {
				order = rng.Perm(len(batches))
				cursor = 0
			}
			x, y := batchMatrices(batches[order[cursor]], ds, features)
			cursor++

			pre, acts := head.forward(x)
			l, a := crossEntropy(acts[len(acts)-1], y)
			epochLoss += l
			epochAcc += a
			opt.step(head, head.backward(pre, acts, y))
		}
		loss = epochLoss / float64(cfg.StepsPerEpoch)
		accuracy = epochAcc / float64(cfg.StepsPerEpoch)
		log.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Int("epochs", cfg.Epochs),
			zap.Float64("loss", loss),
			zap.Float64("accuracy", accuracy))
	}

	trainedAt := time.Now().UTC()
	version := cfg.ModelVersion
	if version == "" {
		version = trainedAt.Format("20060102T150405Z")
	}

	a := &Artifact{
		Format:       ArtifactFormat,
		ModelVersion: version,
		Classes:      append([]string(nil), ds.Classes...),
		ImageSize:    imageSize,
		Backbone:     backbone.Spec(),
		Head:         head.export(),
		Training: TrainingSummary{
			Epochs:        cfg.Epochs,
			StepsPerEpoch: cfg.StepsPerEpoch,
			BatchSize:     ds.BatchSize,
			Samples:       len(ds.Samples),
			Loss:          loss,
			Accuracy:      accuracy,
			TrainedAt:     trainedAt,
		},
	}
	return &Classifier{artifact: a, backbone: backbone, head: head}, nil
}

func batchMatrices(batch []int, ds *Dataset, features [][]float64) (*mat.Dense, *mat.Dense) {
	width := len(features[0])
	x := mat.NewDense(len(batch), width, nil)
	y := mat.NewDense(len(batch), len(ds.Classes), nil)
	for row, idx := range batch {
		x.SetRow(row, features[idx])
		y.Set(row, ds.Samples[idx].Label, 1)
	}
	return x, y
}
