package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/model"
)

type trainFlags struct {
	imageSize      int
	epochs         int
	steps          int
	batchSize      int
	hidden         int
	learningRate   float64
	seed           uint64
	backbone       string
	backbonePath   string
	backboneConfig string
	grid           int
	modelVersion   string
}

func newTrainCmd(g *globalFlags) *cobra.Command {
	def := model.DefaultTrainConfig()
	f := trainFlags{}

	cmd := &cobra.Command{
		Use:   "train <train-data-dir> <model-output-path>",
		Short: "Train the classifier on a directory of labeled images",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, g, f, args[0], args[1])
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.imageSize, "image-size", 128, "input edge length for the patch backbone")
	fl.IntVar(&f.epochs, "epochs", def.Epochs, "training epochs")
	fl.IntVar(&f.steps, "steps-per-epoch", def.StepsPerEpoch, "batches per epoch")
	fl.IntVar(&f.batchSize, "batch-size", model.DefaultBatchSize, "images per batch")
	fl.IntVar(&f.hidden, "hidden-units", def.HiddenUnits, "hidden dense units (0 for none)")
	fl.Float64Var(&f.learningRate, "learning-rate", def.LearningRate, "Adam learning rate")
	fl.Uint64Var(&f.seed, "seed", 42, "seed for shuffling and initialization")
	fl.StringVar(&f.backbone, "backbone", string(model.BackbonePatch), "backbone kind: patch or onnx")
	fl.StringVar(&f.backbonePath, "backbone-path", "", "ONNX backbone file or URI (onnx backbone)")
	fl.StringVar(&f.backboneConfig, "backbone-config", "", "JSON file with the backbone spec (onnx backbone)")
	fl.IntVar(&f.grid, "grid", 8, "pooling grid for the patch backbone")
	fl.StringVar(&f.modelVersion, "model-version", "", "version recorded in the artifact")
	return cmd
}

func runTrain(cmd *cobra.Command, g *globalFlags, f trainFlags, dataDir, outPath string) error {
	log := g.logger()
	defer log.Sync()

	spec, imageSize, err := f.backboneSpec()
	if err != nil {
		return err
	}

	defer model.ShutdownRuntime()
	// spec.Path stays as given so the artifact records the URI
	var modelPath string
	if spec.Kind == model.BackboneONNX {
		modelPath, err = g.fetcher(log).Fetch(cmd.Context(), spec.Path)
		if err != nil {
			return fmt.Errorf("failed to fetch backbone: %w", err)
		}
	}

	backbone, err := model.NewBackbone(spec, imageSize, modelPath, g.backboneOptions())
	if err != nil {
		return fmt.Errorf("failed to create backbone: %w", err)
	}
	defer backbone.Close()

	log.Info("loading training data", zap.String("dir", dataDir), zap.Int("image_size", imageSize))
	ds, err := model.LoadDirectory(dataDir, imageSize, model.LoadOptions{
		BatchSize:     f.batchSize,
		Shuffle:       true,
		Seed:          f.seed,
		Normalization: spec.Normalization(),
	})
	if err != nil {
		return err
	}

	classifier, err := model.Train(cmd.Context(), backbone, ds, imageSize, model.TrainConfig{
		Epochs:        f.epochs,
		StepsPerEpoch: f.steps,
		HiddenUnits:   f.hidden,
		LearningRate:  f.learningRate,
		Seed:          f.seed,
		ModelVersion:  f.modelVersion,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	if err := classifier.Save(outPath); err != nil {
		return err
	}
	log.Info("model saved",
		zap.String("path", outPath),
		zap.String("model_version", classifier.Version()),
		zap.Strings("classes", classifier.Classes()))
	return nil
}

// backboneSpec builds the spec from flags. An ONNX backbone takes its image
// size from the input shape.
func (f trainFlags) backboneSpec() (model.BackboneSpec, int, error) {
	switch model.BackboneKind(f.backbone) {
	case model.BackbonePatch:
		return model.DefaultPatchSpec(f.grid), f.imageSize, nil
	case model.BackboneONNX:
	default:
		return model.BackboneSpec{}, 0, fmt.Errorf("%w: %q", model.ErrUnknownBackbone, f.backbone)
	}

	spec := model.DefaultMobileNetSpec(f.backbonePath)
	if f.backboneConfig != "" {
		data, err := os.ReadFile(f.backboneConfig)
		if err != nil {
			return spec, 0, fmt.Errorf("failed to read backbone config: %w", err)
		}
		if err := json.Unmarshal(data, &spec); err != nil {
			return spec, 0, fmt.Errorf("failed to parse backbone config: %w", err)
		}
		spec.Kind = model.BackboneONNX
		if f.backbonePath != "" {
			spec.Path = f.backbonePath
		}
	}
	if spec.Path == "" {
		return spec, 0, fmt.Errorf("onnx backbone needs --backbone-path or a path in --backbone-config")
	}
	// the artifact resolves relative paths against its own location
	if !strings.Contains(spec.Path, "://") {
		abs, err := filepath.Abs(spec.Path)
		if err != nil {
			return spec, 0, err
		}
		spec.Path = abs
	}
	if len(spec.InputShape) != 4 {
		return spec, 0, fmt.Errorf("onnx backbone input shape must be 4-D, got %v", spec.InputShape)
	}

	size := spec.InputShape[2]
	if spec.Layout == model.LayoutNHWC {
		size = spec.InputShape[1]
	}
	return spec, int(size), nil
}
