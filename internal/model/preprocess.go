package model

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Normalization holds the tensor layout and per-channel statistics applied
// after scaling pixels to [0, 1].
type Normalization struct {
	Layout Layout
	Mean   [3]float32
	Std    [3]float32
}

func (s BackboneSpec) Normalization() Normalization {
	return Normalization{Layout: s.Layout, Mean: s.Mean, Std: s.Std}
}

// DecodeImage decodes an uploaded image buffer, applying the EXIF
// orientation the same way directory loading does.
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// Preprocess resizes img to size x size and converts it to a float32 array of
// shape [1, 3, size, size] or [1, size, size, 3].
func Preprocess(img image.Image, size int, norm Normalization) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	std := norm.Std
	for c := range std {
		if std[c] == 0 {
			std[c] = 1
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			px := [3]float32{
				float32(r) / 65535.0,
				float32(g) / 65535.0,
				float32(b) / 65535.0,
			}

			pixelIndex := y*width + x
			for c := 0; c < 3; c++ {
				v := (px[c] - norm.Mean[c]) / std[c]
				if norm.Layout == LayoutNHWC {
					data[pixelIndex*3+c] = v
				} else {
					data[c*plane+pixelIndex] = v
				}
			}
		}
	}

	return data
}
