package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/fancy-fashion/internal/dataset"
)

func newDatasetCmd(g *globalFlags) *cobra.Command {
	opts := dataset.DefaultOptions()
	var (
		sourceDir string
		download  bool
		baseURL   string
	)

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Write Fashion-MNIST train, test and actuals image folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := g.logger()
			defer log.Sync()

			src := dataset.Source{Dir: sourceDir, BaseURL: baseURL}
			if download {
				src.Fetcher = g.fetcher(log)
			}

			train, test, err := dataset.LoadFashionMNIST(cmd.Context(), src)
			if err != nil {
				return err
			}

			opts.TestLabels = opts.TrainLabels
			opts.Logger = log
			sum, err := dataset.Generate(train, test, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "train: %d\ntest: %d\nactuals: %d\n", sum.Train, sum.Test, sum.Actuals)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&sourceDir, "source-dir", "", "directory holding the Fashion-MNIST IDX files")
	fl.BoolVar(&download, "download", false, "download IDX files missing from --source-dir")
	fl.StringVar(&baseURL, "base-url", dataset.DefaultBaseURL, "download location of the IDX files")
	fl.StringVarP(&opts.OutputDir, "output-dir", "o", opts.OutputDir, "output directory")
	fl.IntVar(&opts.NTrain, "n-train", opts.NTrain, "training images per label")
	fl.IntVar(&opts.NTest, "n-test", opts.NTest, "test images per label")
	fl.IntVar(&opts.NPerActual, "n-per-actual", opts.NPerActual, "actuals images per label")
	fl.StringSliceVar(&opts.TrainLabels, "labels", opts.TrainLabels, "labels for the train and test folders")
	fl.StringSliceVar(&opts.ActualLabels, "actual-labels", opts.ActualLabels, "labels mixed into the actuals folder")
	return cmd
}
