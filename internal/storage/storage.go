// Package storage resolves model artifact URIs to local files. Supported
// sources are local paths (optionally with a file:// prefix), S3 objects
// (s3://bucket/key) and plain HTTP(S) URLs. Remote objects are downloaded
// into a cache directory. Nothing is retried: a failed fetch is returned
// to the caller, which treats it as fatal at startup.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	FilePrefix  = "file://"
	S3Prefix    = "s3://"
	HTTPPrefix  = "http://"
	HTTPSPrefix = "https://"
)

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Options struct {
	CacheDir   string
	AWSRegion  string
	S3Endpoint string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Fetcher downloads remote artifacts into CacheDir.
type Fetcher struct {
	opts Options
	log  *zap.Logger

	mu sync.Mutex
	s3 ObjectGetter
}

func NewFetcher(opts Options) *Fetcher {
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "fancy-fashion")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{opts: opts, log: log}
}

// WithS3Client replaces the lazily built S3 client.
func (f *Fetcher) WithS3Client(c ObjectGetter) *Fetcher {
	f.mu.Lock()
	f.s3 = c
	f.mu.Unlock()
	return f
}

// Fetch returns a local path holding the content addressed by uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, S3Prefix):
		return f.fetchS3(ctx, uri)
	case strings.HasPrefix(uri, HTTPPrefix), strings.HasPrefix(uri, HTTPSPrefix):
		return f.fetchHTTP(ctx, uri)
	case strings.HasPrefix(uri, FilePrefix):
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("invalid file uri %q: %w", uri, err)
		}
		return f.fetchLocal(u.Path)
	case strings.Contains(uri, "://"):
		return "", fmt.Errorf("unsupported artifact uri %q", uri)
	}
	return f.fetchLocal(uri)
}

func (f *Fetcher) fetchLocal(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("artifact not found: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("artifact %s is a directory", p)
	}
	return p, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, S3Prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: want s3://bucket/key", uri)
	}
	return bucket, key, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	client, err := f.s3Client(ctx)
	if err != nil {
		return "", err
	}

	f.log.Info("downloading artifact from s3", zap.String("bucket", bucket), zap.String("key", key))
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("s3 get %s: %w", uri, err)
	}
	defer out.Body.Close()

	return f.store(uri, path.Base(key), out.Body)
}

func (f *Fetcher) s3Client(ctx context.Context) (ObjectGetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s3 != nil {
		return f.s3, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if f.opts.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(f.opts.AWSRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := f.opts.S3Endpoint
	f.s3 = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			if !strings.HasPrefix(endpoint, HTTPSPrefix) && !strings.HasPrefix(endpoint, HTTPPrefix) {
				endpoint = HTTPSPrefix + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return f.s3, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("invalid artifact url %q: %w", uri, err)
	}

	f.log.Info("downloading artifact", zap.String("url", uri))
	resp, err := f.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http get %s: unexpected status %s", uri, resp.Status)
	}

	u, _ := url.Parse(uri)
	return f.store(uri, path.Base(u.Path), resp.Body)
}

// store writes r under the cache directory. The file name carries a hash of
// the uri so different sources never collide.
func (f *Fetcher) store(uri, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(f.opts.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	sum := sha256.Sum256([]byte(uri))
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	dst := filepath.Join(f.opts.CacheDir, hex.EncodeToString(sum[:8])+"-"+name)

	tmp, err := os.CreateTemp(f.opts.CacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", uri, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Join(fmt.Errorf("failed to store %s", uri), err)
	}

	f.log.Info("artifact cached", zap.String("uri", uri), zap.String("path", dst), zap.Int64("bytes", n))
	return dst, nil
}
