package model

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

const DefaultBatchSize = 32

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

type Sample struct {
	Path  string
	Label int
	Input []float32
}

// Dataset is a set of preprocessed images with categorical labels. Class
// indices follow the sorted order of Classes.
type Dataset struct {
	Classes   []string
	Samples   []Sample
	BatchSize int
}

type LoadOptions struct {
	BatchSize     int
	Shuffle       bool
	Seed          uint64
	Normalization Normalization
}

// LoadDirectory reads dir/<class>/<image> files. Each sub-directory, in
// sorted order, becomes one class.
func LoadDirectory(dir string, imageSize int, opts LoadOptions) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no class directories in %s", ErrEmptyDataset, dir)
	}

	ds := &Dataset{Classes: classes, BatchSize: opts.BatchSize}
	if ds.BatchSize <= 0 {
		ds.BatchSize = DefaultBatchSize
	}

	for label, class := range classes {
		files, err := listImages(filepath.Join(dir, class))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			input, err := loadImage(path, imageSize, opts.Normalization)
			if err != nil {
				return nil, err
			}
			ds.Samples = append(ds.Samples, Sample{Path: path, Label: label, Input: input})
		}
	}
	if len(ds.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, dir)
	}

	if opts.Shuffle {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		rng.Shuffle(len(ds.Samples), func(i, j int) {
			ds.Samples[i], ds.Samples[j] = ds.Samples[j], ds.Samples[i]
		})
	}
	return ds, nil
}

// LoadFlatDirectory reads every image in dir without labels, in file name
// order.
func LoadFlatDirectory(dir string, imageSize int, norm Normalization) ([]Sample, error) {
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, len(files))
	for _, path := range files {
		input, err := loadImage(path, imageSize, norm)
		if err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Path: path, Label: -1, Input: input})
	}
	return samples, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func loadImage(path string, imageSize int, norm Normalization) ([]float32, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidImage, path, err)
	}
	return Preprocess(img, imageSize, norm), nil
}

// Batches returns the sample indices of each batch in dataset order.
func (d *Dataset) Batches() [][]int {
	var batches [][]int
	for start := 0; start < len(d.Samples); start += d.BatchSize {
		end := min(start+d.BatchSize, len(d.Samples))
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		batches = append(batches, batch)
	}
	return batches
}
