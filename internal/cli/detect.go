package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/netguard/pkg/anomaly"
	"github.com/hed1ad/netguard/pkg/inference"
	"github.com/hed1ad/netguard/pkg/io/csv"
	"github.com/hed1ad/netguard/pkg/store"
)

// detectReport is printed by the detect command.
type detectReport struct {
	TotalEvents       int                 `json:"total_events"`
	AnomaliesDetected int                 `json:"anomalies_detected"`
	AnomalyRate       float64             `json:"anomaly_rate"`
	Batches           int                 `json:"batches"`
	Anomalies         []anomaly.Detection `json:"anomalies"`
}

func newDetectCommand(a *app) *cobra.Command {
	var (
		input     string
		output    string
		filter    string
		deviceID  string
		location  string
		modelsDir string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Score a CSV file or packet capture with the trained model",
		Long: "Events are scored in batches of ml.batch_size. Confidence and severity are relative to " +
			"the batch an event was scored in.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if modelsDir == "" {
				modelsDir = a.cfg.ML.ModelsDir
			}

			engine := inference.New(modelsDir, inference.WithLogger(a.logger))
			if !engine.Ready() {
				return fmt.Errorf("no trained model at %s; run 'netguard train' first", engine.ModelPath())
			}

			var thr *float64
			if cmd.Flags().Changed("threshold") {
				thr = &threshold
			}

			batch, err := a.readInput(input, ReaderOptions{Filter: filter, DeviceID: deviceID, Location: location})
			if err != nil {
				return err
			}

			var st *store.Store
			if a.cfg.Store.DSN != "" {
				st, err = store.Open(a.cfg.Store.DSN, store.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer st.Close()
			}

			combined := &anomaly.Result{}
			parts := chunks(batch, a.cfg.ML.BatchSize)
			for _, part := range parts {
				start := time.Now()
				result, err := engine.DetectAnomalies(part, thr)
				if err != nil {
					return err
				}
				if st != nil {
					if _, err := st.SaveDetections(cmd.Context(), result, engine.Model().Version(), time.Since(start)); err != nil {
						a.logger.Error("failed to store detections", zap.Error(err))
					}
				}
				combined.Rows = append(combined.Rows, result.Rows...)
			}

			if output != "" {
				if err := writeLabeled(output, combined); err != nil {
					return err
				}
			}

			anomalies := combined.Anomalies()
			if anomalies == nil {
				anomalies = []anomaly.Detection{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(detectReport{
				TotalEvents:       combined.Total(),
				AnomaliesDetected: combined.AnomalyCount(),
				AnomalyRate:       combined.AnomalyRate(),
				Batches:           len(parts),
				Anomalies:         anomalies,
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "events file (.csv or a registered capture format)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write all events with an is_anomaly column to this CSV file")
	cmd.Flags().StringVar(&filter, "filter", "", "BPF filter applied to packet captures")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device ID recorded on events derived from packets")
	cmd.Flags().StringVar(&location, "location", "", "location recorded on events derived from packets")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "models directory (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "flag events scoring below this value instead of using the model's decision boundary")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func writeLabeled(path string, result *anomaly.Result) error {
	w, err := csv.NewWriter(path, csv.WithLabels())
	if err != nil {
		return err
	}

	labels := make([]bool, len(result.Rows))
	for i, d := range result.Rows {
		labels[i] = d.IsAnomaly
	}

	err = w.WriteLabeled(result.Events(), labels)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
