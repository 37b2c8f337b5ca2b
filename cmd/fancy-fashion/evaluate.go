package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fancy-fashion/internal/model"
)

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <model> <test-data-dir>",
		Short: "Report loss and accuracy on a labeled image directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := g.logger()
			defer log.Sync()

			c, err := openModel(cmd, g, log, args[0])
			if err != nil {
				return err
			}
			defer model.ShutdownRuntime()
			defer c.Close()

			ds, err := model.LoadDirectory(args[1], c.ImageSize(), model.LoadOptions{
				Normalization: c.Artifact().Backbone.Normalization(),
			})
			if err != nil {
				return err
			}

			loss, acc, err := model.Evaluate(cmd.Context(), c, ds)
			if err != nil {
				return err
			}
			log.Info("evaluation finished",
				zap.String("model_version", c.Version()),
				zap.Int("samples", len(ds.Samples)),
				zap.Float64("loss", loss),
				zap.Float64("accuracy", acc))
			fmt.Fprintf(cmd.OutOrStdout(), "loss: %.4f\naccuracy: %.4f\n", loss, acc)
			return nil
		},
	}
}

func newPredictCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <model> <image-dir>",
		Short: "Classify every image of a directory and print JSON results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := g.logger()
			defer log.Sync()

			c, err := openModel(cmd, g, log, args[0])
			if err != nil {
				return err
			}
			defer model.ShutdownRuntime()
			defer c.Close()

			results, err := model.PredictDirectory(cmd.Context(), c, args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

func openModel(cmd *cobra.Command, g *globalFlags, log *zap.Logger, uri string) (*model.Classifier, error) {
	c, err := model.Open(cmd.Context(), uri, g.fetcher(log), g.backboneOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", uri, err)
	}
	log.Debug("model loaded",
		zap.String("uri", uri),
		zap.String("model_version", c.Version()),
		zap.Strings("classes", c.Classes()))
	return c, nil
}
