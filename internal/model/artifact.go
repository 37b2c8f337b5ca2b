package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher resolves an artifact URI to a readable local file.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

func (a *Artifact) Save(path string) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("unsupported model format %d", a.Format)
	}
	if len(a.Classes) == 0 {
		return nil, fmt.Errorf("model has no classes")
	}
	return &a, nil
}

// Open loads the artifact at uri and instantiates its backbone. Relative
// backbone paths are resolved against the artifact's location, which may be
// remote. fetcher may be nil when every path is local.
func Open(ctx context.Context, uri string, fetcher Fetcher, opts BackboneOptions) (*Classifier, error) {
	path, err := fetch(ctx, fetcher, uri)
	if err != nil {
		return nil, err
	}

	a, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}

	var backbonePath string
	if a.Backbone.Kind == BackboneONNX {
		backbonePath, err = fetch(ctx, fetcher, resolveRef(uri, a.Backbone.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch backbone: %w", err)
		}
	}

	backbone, err := NewBackbone(a.Backbone, a.ImageSize, backbonePath, opts)
	if err != nil {
		return nil, err
	}

	c, err := NewClassifier(a, backbone)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	return c, nil
}

func fetch(ctx context.Context, fetcher Fetcher, uri string) (string, error) {
	if fetcher == nil {
		return uri, nil
	}
	return fetcher.Fetch(ctx, uri)
}

func resolveRef(base, ref string) string {
	if ref == "" || filepath.IsAbs(ref) || strings.Contains(ref, "://") {
		return ref
	}
	if strings.Contains(base, "://") {
		u, err := url.Parse(base)
		if err == nil {
			return u.ResolveReference(&url.URL{Path: ref}).String()
		}
	}
	return filepath.Join(filepath.Dir(base), ref)
}
