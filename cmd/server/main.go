package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/config"
	"github.com/Brownie44l1/fancy-fashion/internal/handlers"
	"github.com/Brownie44l1/fancy-fashion/internal/logger"
	"github.com/Brownie44l1/fancy-fashion/internal/metrics"
	"github.com/Brownie44l1/fancy-fashion/internal/model"
	"github.com/Brownie44l1/fancy-fashion/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Must(false).Fatal("invalid configuration", zap.Error(err))
	}

	log := logger.Must(cfg.Debug)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	fetcher := storage.NewFetcher(storage.Options{
		CacheDir:   cfg.ModelCacheDir,
		AWSRegion:  cfg.AWSRegion,
		S3Endpoint: cfg.S3Endpoint,
		Logger:     log,
	})

	log.Info("loading model", zap.String("uri", cfg.ModelURI))

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Minute)
	classifier, err := model.Open(loadCtx, cfg.ModelURI, fetcher, model.BackboneOptions{
		PoolSize:   cfg.SessionPoolSize,
		RuntimeLib: cfg.OnnxRuntimeLib,
	})
	cancelLoad()
	if err != nil {
		log.Fatal("failed to load model", zap.Error(err))
	}
	defer model.ShutdownRuntime()
	defer classifier.Close()

	mapping := cfg.LabelMapping()
	if mapping.Len() != classifier.NumClasses() {
		log.Fatal("label table does not fit the model",
			zap.String("labels", cfg.Labels),
			zap.Int("label_count", mapping.Len()),
			zap.Int("model_classes", classifier.NumClasses()))
	}
	if !mapping.Matches(classifier.Classes()) {
		log.Warn("model class names differ from the label table; responses use the label table",
			zap.Strings("model_classes", classifier.Classes()),
			zap.Strings("labels", mapping.Names()))
	}

	version := cfg.ResolveModelVersion(classifier.Version())
	m := metrics.New(metrics.Options{
		RecordConfidence:  cfg.RecordConfidence,
		ProcessCollectors: true,
	})

	handler := handlers.NewHandler(classifier, mapping, m, version, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(handler, log),
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("model_version", version),
			zap.Strings("classes", mapping.Names()),
			zap.Bool("record_confidence", cfg.RecordConfidence))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}
