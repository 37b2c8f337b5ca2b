package model

import (
	"context"
	"fmt"
	"math"
)

// Backbone is a frozen feature extractor. Features takes one preprocessed
// image (batch dimension of one) and returns its pooled feature vector.
type Backbone interface {
	Spec() BackboneSpec
	FeatureSize() int
	Features(ctx context.Context, input []float32) ([]float64, error)
	Close() error
}

// BackboneOptions controls how a backbone is instantiated at runtime. These
// values are not persisted with the artifact.
type BackboneOptions struct {
	// PoolSize is the number of ONNX sessions kept for concurrent requests.
	PoolSize int
	// RuntimeLib is the ONNX Runtime shared library path; empty uses the
	// default lookup.
	RuntimeLib string
}

// NewBackbone builds the extractor described by spec. modelPath is the local
// file of an ONNX backbone and is ignored for the patch backbone.
func NewBackbone(spec BackboneSpec, imageSize int, modelPath string, opts BackboneOptions) (Backbone, error) {
	switch spec.Kind {
	case BackboneONNX:
		return newONNXBackbone(spec, modelPath, opts)
	case BackbonePatch:
		return newPatchBackbone(spec, imageSize)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackbone, spec.Kind)
}

// DefaultPatchSpec returns a patch backbone over a grid x grid pooling.
func DefaultPatchSpec(grid int) BackboneSpec {
	return BackboneSpec{
		Kind:   BackbonePatch,
		Layout: LayoutNHWC,
		Std:    [3]float32{1, 1, 1},
		Grid:   grid,
	}
}

// DefaultMobileNetSpec describes a MobileNet feature extractor exported to
// ONNX without its top, at 128x128 input.
func DefaultMobileNetSpec(path string) BackboneSpec {
	return BackboneSpec{
		Kind:        BackboneONNX,
		Path:        path,
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 3, 128, 128},
		OutputShape: []int64{1, 1024, 4, 4},
		Layout:      LayoutNCHW,
		Mean:        [3]float32{0.5, 0.5, 0.5},
		Std:         [3]float32{0.5, 0.5, 0.5},
	}
}

// patchBackbone averages each channel over a grid of equal cells. It has no
// parameters, so it is trivially frozen.
type patchBackbone struct {
	spec BackboneSpec
	size int
}

func newPatchBackbone(spec BackboneSpec, imageSize int) (*patchBackbone, error) {
	if spec.Grid <= 0 {
		return nil, fmt.Errorf("patch backbone grid must be positive, got %d", spec.Grid)
	}
	if imageSize < spec.Grid {
		return nil, fmt.Errorf("image size %d is smaller than patch grid %d", imageSize, spec.Grid)
	}
	return &patchBackbone{spec: spec, size: imageSize}, nil
}

func (p *patchBackbone) Spec() BackboneSpec { return p.spec }

func (p *patchBackbone) FeatureSize() int { return p.spec.Grid * p.spec.Grid * 3 }

func (p *patchBackbone) Features(_ context.Context, input []float32) ([]float64, error) {
	size := p.size
	if len(input) != 3*size*size {
		return nil, fmt.Errorf("patch backbone expects %d values, got %d", 3*size*size, len(input))
	}

	grid := p.spec.Grid
	features := make([]float64, grid*grid*3)
	counts := make([]float64, grid*grid)
	plane := size * size

	for y := 0; y < size; y++ {
		gy := y * grid / size
		for x := 0; x < size; x++ {
			cell := gy*grid + x*grid/size
			counts[cell]++
			for c := 0; c < 3; c++ {
				var v float32
				if p.spec.Layout == LayoutNHWC {
					v = input[(y*size+x)*3+c]
				} else {
					v = input[c*plane+y*size+x]
				}
				features[cell*3+c] += float64(v)
			}
		}
	}

	for cell, n := range counts {
		for c := 0; c < 3; c++ {
			features[cell*3+c] /= n
		}
	}
	return features, nil
}

func (p *patchBackbone) Close() error { return nil }

// globalAveragePool reduces a [1, C, H, W] or [1, H, W, C] feature map to C
// values.
func globalAveragePool(data []float32, shape []int64, layout Layout) ([]float64, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("global pooling needs a 4-D shape, got %v", shape)
	}

	var channels, spatial int
	if layout == LayoutNHWC {
		channels = int(shape[3])
		spatial = int(shape[1] * shape[2])
	} else {
		channels = int(shape[1])
		spatial = int(shape[2] * shape[3])
	}
	if len(data) < channels*spatial {
		return nil, fmt.Errorf("feature map has %d values, shape %v needs %d", len(data), shape, channels*spatial)
	}

	out := make([]float64, channels)
	for c := 0; c < channels; c++ {
		var sum float64
		for s := 0; s < spatial; s++ {
			if layout == LayoutNHWC {
				sum += float64(data[s*channels+c])
			} else {
				sum += float64(data[c*spatial+s])
			}
		}
		out[c] = sum / float64(spatial)
	}
	return out, nil
}

func checkFinite(features []float64) error {
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("backbone produced non-finite feature at %d", i)
		}
	}
	return nil
}
