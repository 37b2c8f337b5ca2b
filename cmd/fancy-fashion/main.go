// Command fancy-fashion trains, evaluates and exercises the garment
// classifier served by cmd/server, and prepares its dataset.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/logger"
	"github.com/Brownie44l1/fancy-fashion/internal/model"
	"github.com/Brownie44l1/fancy-fashion/internal/storage"
)

type globalFlags struct {
	debug          bool
	onnxRuntimeLib string
	cacheDir       string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:          "fancy-fashion",
		Short:        "Train and evaluate the garment image classifier",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "verbose console logging")
	root.PersistentFlags().StringVar(&g.onnxRuntimeLib, "onnxruntime-lib", os.Getenv("ONNXRUNTIME_LIB"), "path to the ONNX Runtime shared library")
	root.PersistentFlags().StringVar(&g.cacheDir, "cache-dir", os.Getenv("MODEL_CACHE_DIR"), "directory for downloaded models and datasets")

	root.AddCommand(
		newTrainCmd(&g),
		newEvaluateCmd(&g),
		newPredictCmd(&g),
		newDatasetCmd(&g),
	)
	return root
}

func (g *globalFlags) logger() *zap.Logger {
	if g.debug {
		return logger.Must(true)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// fetcher resolves model and dataset URIs. S3 settings come from the same
// environment as the server.
func (g *globalFlags) fetcher(log *zap.Logger) *storage.Fetcher {
	return storage.NewFetcher(storage.Options{
		CacheDir:   g.cacheDir,
		AWSRegion:  os.Getenv("AWS_REGION"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),
		Logger:     log,
	})
}

func (g *globalFlags) backboneOptions() model.BackboneOptions {
	return model.BackboneOptions{PoolSize: 1, RuntimeLib: g.onnxRuntimeLib}
}
