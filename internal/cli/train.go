package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hed1ad/netguard/pkg/training"
)

func newTrainCommand(a *app) *cobra.Command {
	var (
		input     string
		filter    string
		modelsDir string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the anomaly detector and save it to the models directory",
		Long: "Without --input, train every model whose training data exists in the training data directory. " +
			"With --input, train the anomaly detector on a CSV file or packet capture.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if modelsDir == "" {
				modelsDir = a.cfg.ML.ModelsDir
			}

			trainer := training.NewTrainer(a.cfg.ML.TrainingDataDir, modelsDir,
				training.WithContamination(a.cfg.ML.Contamination),
				training.WithSeed(a.cfg.ML.RandomSeed),
				training.WithTimeout(a.cfg.ML.TrainTimeout),
				training.WithLogger(a.logger),
			)

			var report interface{}
			switch {
			case input == "":
				all := trainer.TrainAll(cmd.Context())
				if len(all) == 0 {
					return fmt.Errorf("no training data found in %s", a.cfg.ML.TrainingDataDir)
				}
				for name, r := range all {
					if m, ok := r.(map[string]any); ok {
						return fmt.Errorf("train %s: %v", name, m["error"])
					}
				}
				report = all
			case strings.EqualFold(filepath.Ext(input), ".csv"):
				metrics, err := trainer.TrainAnomalyDetector(cmd.Context(), input)
				if err != nil {
					return err
				}
				report = metrics
			default:
				batch, err := a.readInput(input, ReaderOptions{Filter: filter})
				if err != nil {
					return err
				}
				metrics, err := trainer.TrainBatch(cmd.Context(), batch)
				if err != nil {
					return err
				}
				report = metrics
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "training data file (.csv or a registered capture format)")
	cmd.Flags().StringVar(&filter, "filter", "", "BPF filter applied to packet captures")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "models directory (default from config)")

	return cmd
}
