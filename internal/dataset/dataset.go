// Package dataset prepares labeled image folders from the Fashion-MNIST
// benchmark. Train and test folders hold one sub-directory per label; the
// "actuals" folder holds a flat, sequentially numbered set of held-out images
// for manual checks against the running service.
package dataset

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/labels"
)

// DefaultBaseURL serves the gzipped Fashion-MNIST IDX files.
const DefaultBaseURL = "https://storage.googleapis.com/tensorflow/tf-keras-datasets/"

const (
	trainImagesFile = "train-images-idx3-ubyte.gz"
	trainLabelsFile = "train-labels-idx1-ubyte.gz"
	testImagesFile  = "t10k-images-idx3-ubyte.gz"
	testLabelsFile  = "t10k-labels-idx1-ubyte.gz"
)

// Fetcher resolves a URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// Source locates the four IDX files. Dir is checked first; files missing
// there are downloaded from BaseURL through Fetcher when one is set.
type Source struct {
	Dir     string
	BaseURL string
	Fetcher Fetcher
}

type Options struct {
	OutputDir    string
	NTrain       int
	NTest        int
	NPerActual   int
	TrainLabels  []string
	TestLabels   []string
	ActualLabels []string
	Logger       *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		OutputDir:    "./data",
		NTrain:       500,
		NTest:        100,
		NPerActual:   10,
		TrainLabels:  []string{"shirt", "sneaker", "bag"},
		TestLabels:   []string{"shirt", "sneaker", "bag"},
		ActualLabels: []string{"shirt", "sneaker", "bag", "dress"},
	}
}

type Summary struct {
	Train   int
	Test    int
	Actuals int
}

// LoadFashionMNIST reads the train and test splits.
func LoadFashionMNIST(ctx context.Context, src Source) (train, test *Split, err error) {
	train, err = loadSplit(ctx, src, trainImagesFile, trainLabelsFile)
	if err != nil {
		return nil, nil, err
	}
	test, err = loadSplit(ctx, src, testImagesFile, testLabelsFile)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func loadSplit(ctx context.Context, src Source, imagesFile, labelsFile string) (*Split, error) {
	imagesPath, err := src.locate(ctx, imagesFile)
	if err != nil {
		return nil, err
	}
	labelsPath, err := src.locate(ctx, labelsFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", imagesPath, err)
	}
	images, rows, cols, err := ReadIDXImages(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagesPath, err)
	}

	f, err = os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", labelsPath, err)
	}
	lbls, err := ReadIDXLabels(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}

	if len(images) != len(lbls) {
		return nil, fmt.Errorf("%s has %d images but %s has %d labels", imagesFile, len(images), labelsFile, len(lbls))
	}
	return &Split{Images: images, Labels: lbls, Rows: rows, Cols: cols}, nil
}

func (s Source) locate(ctx context.Context, name string) (string, error) {
	if s.Dir != "" {
		for _, candidate := range []string{name, strings.TrimSuffix(name, ".gz")} {
			p := filepath.Join(s.Dir, candidate)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	if s.Fetcher == nil {
		return "", fmt.Errorf("%s not found in %q and no download source configured", name, s.Dir)
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return s.Fetcher.Fetch(ctx, strings.TrimSuffix(base, "/")+"/"+name)
}

// Generate writes the train, test and actuals folders.
func Generate(train, test *Split, opts Options) (Summary, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var sum Summary

	for _, label := range opts.TrainLabels {
		n, err := saveLabelImages(filepath.Join(opts.OutputDir, "train", "train", label), train, label, opts.NTrain)
		if err != nil {
			return sum, err
		}
		sum.Train += n
	}

	for _, label := range opts.TestLabels {
		n, err := saveLabelImages(filepath.Join(opts.OutputDir, "test", "test", label), test, label, opts.NTest)
		if err != nil {
			return sum, err
		}
		sum.Test += n
	}

	n, err := saveActuals(filepath.Join(opts.OutputDir, "actuals"), test, opts.ActualLabels, opts.NPerActual)
	if err != nil {
		return sum, err
	}
	sum.Actuals = n

	log.Info("dataset generated",
		zap.String("output_dir", opts.OutputDir),
		zap.Int("train", sum.Train),
		zap.Int("test", sum.Test),
		zap.Int("actuals", sum.Actuals))
	return sum, nil
}

// lastOfLabel returns the last n images carrying label, in split order.
func lastOfLabel(s *Split, label string, n int) ([][]byte, error) {
	idx, ok := labels.FashionMNIST.Index(label)
	if !ok {
		return nil, fmt.Errorf("unknown Fashion-MNIST label %q", label)
	}

	var images [][]byte
	for i, l := range s.Labels {
		if int(l) == idx {
			images = append(images, s.Images[i])
		}
	}
	if n >= 0 && len(images) > n {
		images = images[len(images)-n:]
	}
	return images, nil
}

func saveLabelImages(dir string, s *Split, label string, n int) (int, error) {
	images, err := lastOfLabel(s, label, n)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for i, px := range images {
		if err := saveGray(filepath.Join(dir, fmt.Sprintf("%s%d.jpg", label, i)), px, s.Rows, s.Cols); err != nil {
			return 0, err
		}
	}
	return len(images), nil
}

func saveActuals(dir string, s *Split, lbls []string, perLabel int) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	i := 0
	for _, label := range lbls {
		images, err := lastOfLabel(s, label, perLabel)
		if err != nil {
			return i, err
		}
		for _, px := range images {
			if err := saveGray(filepath.Join(dir, fmt.Sprintf("%d.jpg", i)), px, s.Rows, s.Cols); err != nil {
				return i, err
			}
			i++
		}
	}
	return i, nil
}

func saveGray(path string, px []byte, rows, cols int) error {
	img := &image.Gray{Pix: px, Stride: cols, Rect: image.Rect(0, 0, cols, rows)}
	if err := imaging.Save(img, path, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
