package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/datagen"
	"github.com/hed1ad/netguard/pkg/io/csv"
)

func newGenerateCommand(a *app) *cobra.Command {
	var (
		rows        int
		anomalyRate float64
		seed        int64
		output      string
		hourly      bool
		startDate   string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic network events for training and testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rows <= 0 {
				return fmt.Errorf("--rows must be positive, got %d", rows)
			}
			if anomalyRate < 0 || anomalyRate > 1 {
				return fmt.Errorf("--anomaly-rate must be in [0, 1], got %v", anomalyRate)
			}

			start := time.Now().UTC().Add(-datagen.Window).Truncate(time.Hour)
			if startDate != "" {
				t, err := time.Parse(time.RFC3339, startDate)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				start = t.UTC()
			}

			if output == "" {
				output = a.trainingDataPath()
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}

			gen := datagen.NewSeeded(seed)
			w, err := csv.NewWriter(output, csv.WithLabels())
			if err != nil {
				return err
			}

			anomalies := 0
			if hourly {
				err = w.WriteLabeled(gen.Hourly(rows, start), make([]bool, rows))
			} else {
				batch, labels := gen.NetworkEvents(rows, anomalyRate, start)
				for _, l := range labels {
					if l {
						anomalies++
					}
				}
				err = w.WriteLabeled(batch, labels)
			}
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}

			a.logger.Info("generated synthetic events",
				zap.String("path", output),
				zap.Int("rows", rows),
				zap.Int("anomalies", anomalies))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events (%d anomalies) to %s\n", rows, anomalies, output)
			return nil
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 10000, "number of events to generate")
	cmd.Flags().Float64Var(&anomalyRate, "anomaly-rate", 0.05, "fraction of anomalous events")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV path (default <training_data_dir>/network_events_training.csv)")
	cmd.Flags().BoolVar(&hourly, "hourly", false, "generate an hourly series of normal traffic")
	cmd.Flags().StringVar(&startDate, "start", "", "RFC3339 timestamp of the first event (default 30 days ago)")

	return cmd
}
