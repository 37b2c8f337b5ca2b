package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/fancy-fashion/internal/model"
)

func writeImages(t *testing.T, dir string, n int, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		img := imaging.New(12, 12, c)
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("%d.png", i))))
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestTrainEvaluatePredict(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "train")
	writeImages(t, filepath.Join(data, "dark"), 4, color.Black)
	writeImages(t, filepath.Join(data, "light"), 4, color.White)
	modelPath := filepath.Join(root, "out", "model.json")

	run(t, "train", data, modelPath,
		"--image-size", "16", "--grid", "2",
		"--epochs", "40", "--steps-per-epoch", "1",
		"--hidden-units", "0", "--learning-rate", "0.1",
		"--model-version", "cli-test")

	a, err := model.ReadArtifact(modelPath)
	require.NoError(t, err)
	assert.Equal(t, "cli-test", a.ModelVersion)
	assert.Equal(t, []string{"dark", "light"}, a.Classes)
	assert.Equal(t, 16, a.ImageSize)

	out := run(t, "evaluate", modelPath, data)
	assert.Contains(t, out, "accuracy: 1.0000")

	actuals := filepath.Join(root, "actuals")
	writeImages(t, actuals, 1, color.White)
	out = run(t, "predict", modelPath, actuals)

	var results []model.FilePrediction
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "0.png", results[0].Filename)
	assert.Equal(t, "light", results[0].Label)
}

func TestTrainRejectsUnknownBackbone(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"train", t.TempDir(), filepath.Join(t.TempDir(), "m.json"), "--backbone", "resnet"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestTrainFetchesRemoteBackbone(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/mobilenet.onnx" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Write([]byte("not really onnx"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	train := func(backboneURL string) error {
		cmd := newRootCmd()
		cmd.SetArgs([]string{
			"train", t.TempDir(), filepath.Join(t.TempDir(), "m.json"),
			"--backbone", "onnx",
			"--backbone-path", backboneURL,
			"--cache-dir", cacheDir,
			"--onnxruntime-lib", filepath.Join(t.TempDir(), "missing-onnxruntime.so"),
		})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		return cmd.Execute()
	}

	// the runtime library is missing, so only the download can succeed
	err := train(srv.URL + "/models/mobilenet.onnx")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "failed to fetch backbone")
	assert.Equal(t, int32(1), hits.Load())

	cached, err := filepath.Glob(filepath.Join(cacheDir, "*-mobilenet.onnx"))
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	err = train(srv.URL + "/models/missing.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch backbone")
}
