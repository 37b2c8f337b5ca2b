package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	idxLabelsMagic = 0x00000801
	idxImagesMagic = 0x00000803

	// upper bounds accepted from an IDX header; Fashion-MNIST has 60000
	// items of 28x28
	maxIDXItems  = 1 << 20
	maxIDXPixels = 1 << 16
)

// Split is one part (train or test) of an IDX image benchmark. Images are
// row-major grayscale pixels.
type Split struct {
	Images [][]byte
	Labels []uint8
	Rows   int
	Cols   int
}

// maybeGunzip transparently decompresses gzip input.
func maybeGunzip(r io.Reader) (io.Reader, func() error, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read idx header: %w", err)
	}
	if head[0] != 0x1f || head[1] != 0x8b {
		return br, func() error { return nil }, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return zr, zr.Close, nil
}

func ReadIDXLabels(r io.Reader) ([]uint8, error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header struct {
		Magic int32
		Count int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read idx labels header: %w", err)
	}
	if header.Magic != idxLabelsMagic {
		return nil, fmt.Errorf("bad idx labels magic %#x", header.Magic)
	}
	if header.Count < 0 || header.Count > maxIDXItems {
		return nil, fmt.Errorf("bad idx label count %d", header.Count)
	}

	labels := make([]uint8, header.Count)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read idx labels: %w", err)
	}
	return labels, nil
}

func ReadIDXImages(r io.Reader) (images [][]byte, rows, cols int, err error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeFn()

	var header struct {
		Magic int32
		Count int32
		Rows  int32
		Cols  int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read idx images header: %w", err)
	}
	if header.Magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("bad idx images magic %#x", header.Magic)
	}
	if header.Count < 0 || header.Count > maxIDXItems ||
		header.Rows <= 0 || header.Cols <= 0 || int64(header.Rows)*int64(header.Cols) > maxIDXPixels {
		return nil, 0, 0, fmt.Errorf("bad idx images dimensions %dx%dx%d", header.Count, header.Rows, header.Cols)
	}

	rows, cols = int(header.Rows), int(header.Cols)
	images = make([][]byte, header.Count)
	for i := range images {
		images[i] = make([]byte, rows*cols)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read idx image %d: %w", i, err)
		}
	}
	return images, rows, cols, nil
}
