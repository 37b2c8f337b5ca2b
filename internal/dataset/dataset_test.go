package dataset

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRows = 4
	testCols = 3
)

func idxImages(t *testing.T, images [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int32{idxImagesMagic, int32(len(images)), testRows, testCols}))
	for _, img := range images {
		buf.Write(img)
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, lbls []uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int32{idxLabelsMagic, int32(len(lbls))}))
	buf.Write(lbls)
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// syntheticSplit holds four images of each label 3 (dress), 6 (shirt),
// 7 (sneaker) and 8 (bag). Pixel values encode the image position.
func syntheticSplit() *Split {
	s := &Split{Rows: testRows, Cols: testCols}
	for i := 0; i < 16; i++ {
		px := make([]byte, testRows*testCols)
		for j := range px {
			px[j] = byte(i * 10)
		}
		s.Images = append(s.Images, px)
		s.Labels = append(s.Labels, []uint8{3, 6, 7, 8}[i%4])
	}
	return s
}

func TestReadIDX(t *testing.T) {
	split := syntheticSplit()

	for name, wrap := range map[string]func([]byte) []byte{
		"raw":  func(b []byte) []byte { return b },
		"gzip": func(b []byte) []byte { return gzipped(t, b) },
	} {
		t.Run(name, func(t *testing.T) {
			images, rows, cols, err := ReadIDXImages(bytes.NewReader(wrap(idxImages(t, split.Images))))
			require.NoError(t, err)
			assert.Equal(t, testRows, rows)
			assert.Equal(t, testCols, cols)
			assert.Equal(t, split.Images, images)

			lbls, err := ReadIDXLabels(bytes.NewReader(wrap(idxLabels(t, split.Labels))))
			require.NoError(t, err)
			assert.Equal(t, split.Labels, lbls)
		})
	}
}

func TestReadIDXErrors(t *testing.T) {
	_, err := ReadIDXLabels(bytes.NewReader(idxImages(t, nil)))
	assert.Error(t, err, "image magic must be rejected as labels")

	_, _, _, err = ReadIDXImages(bytes.NewReader(idxLabels(t, []uint8{1})))
	assert.Error(t, err)

	truncated := idxImages(t, syntheticSplit().Images)
	_, _, _, err = ReadIDXImages(bytes.NewReader(truncated[:len(truncated)-5]))
	assert.Error(t, err)

	_, err = ReadIDXLabels(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestReadIDXRejectsOversizedHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header []int32
		images bool
	}{
		{name: "label count", header: []int32{idxLabelsMagic, maxIDXItems + 1}},
		{name: "negative label count", header: []int32{idxLabelsMagic, -1}},
		{name: "image count", header: []int32{idxImagesMagic, 1 << 30, testRows, testCols}, images: true},
		{name: "image size", header: []int32{idxImagesMagic, 1, 1 << 15, 1 << 15}, images: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, binary.Write(&buf, binary.BigEndian, tt.header))
			buf.Write(make([]byte, 32))

			var err error
			if tt.images {
				_, _, _, err = ReadIDXImages(&buf)
			} else {
				_, err = ReadIDXLabels(&buf)
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bad idx")
		})
	}
}

func TestLastOfLabel(t *testing.T) {
	split := syntheticSplit()

	images, err := lastOfLabel(split, "shirt", 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	// shirts sit at positions 1, 5, 9, 13
	assert.Equal(t, byte(90), images[0][0])
	assert.Equal(t, byte(130), images[1][0])

	images, err = lastOfLabel(split, "bag", 100)
	require.NoError(t, err)
	assert.Len(t, images, 4)

	_, err = lastOfLabel(split, "hat", 1)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	out := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = out
	opts.NTrain = 3
	opts.NTest = 2
	opts.NPerActual = 1

	sum, err := Generate(syntheticSplit(), syntheticSplit(), opts)
	require.NoError(t, err)
	assert.Equal(t, Summary{Train: 9, Test: 6, Actuals: 4}, sum)

	for _, label := range []string{"shirt", "sneaker", "bag"} {
		entries, err := os.ReadDir(filepath.Join(out, "train", "train", label))
		require.NoError(t, err)
		assert.Len(t, entries, 3)
		assert.FileExists(t, filepath.Join(out, "train", "train", label, label+"0.jpg"))

		entries, err = os.ReadDir(filepath.Join(out, "test", "test", label))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	}
	assert.NoDirExists(t, filepath.Join(out, "train", "train", "dress"))

	for _, name := range []string{"0.jpg", "1.jpg", "2.jpg", "3.jpg"} {
		assert.FileExists(t, filepath.Join(out, "actuals", name))
	}

	img, err := imaging.Open(filepath.Join(out, "actuals", "0.jpg"))
	require.NoError(t, err)
	assert.Equal(t, testCols, img.Bounds().Dx())
	assert.Equal(t, testRows, img.Bounds().Dy())
}

type fakeFetcher struct {
	dir     string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string) (string, error) {
	f.fetched = append(f.fetched, uri)
	return filepath.Join(f.dir, filepath.Base(uri)), nil
}

func TestLoadFashionMNIST(t *testing.T) {
	split := syntheticSplit()
	local := t.TempDir()
	remote := t.TempDir()

	// train files are local and uncompressed, test files come from the fetcher
	require.NoError(t, os.WriteFile(filepath.Join(local, "train-images-idx3-ubyte"), idxImages(t, split.Images), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "train-labels-idx1-ubyte"), idxLabels(t, split.Labels), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(remote, testImagesFile), gzipped(t, idxImages(t, split.Images)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(remote, testLabelsFile), gzipped(t, idxLabels(t, split.Labels)), 0o644))

	fetcher := &fakeFetcher{dir: remote}
	train, test, err := LoadFashionMNIST(context.Background(), Source{Dir: local, BaseURL: "https://mirror/fashion/", Fetcher: fetcher})
	require.NoError(t, err)

	assert.Equal(t, split.Labels, train.Labels)
	assert.Equal(t, split.Images, test.Images)
	assert.Equal(t, []string{
		"https://mirror/fashion/" + testImagesFile,
		"https://mirror/fashion/" + testLabelsFile,
	}, fetcher.fetched)

	_, _, err = LoadFashionMNIST(context.Background(), Source{Dir: t.TempDir()})
	assert.Error(t, err)
}
