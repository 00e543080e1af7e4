// File: cmd/stats.go
package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pagepilot/pagepilot/internal/observability"
	"github.com/pagepilot/pagepilot/internal/service"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the current learning statistics.",
	Long: `Initializes the pipeline against the configured stores and prints the
exploration rate, experience count, recent accuracy and model update count.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&modelPath, "model", "", "path to a saved preference model")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	components, err := factory.Create(cmd.Context(), cfg, service.Options{Registry: prometheus.NewRegistry()}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if modelPath != "" {
		if err := components.Pilot.LoadModel(modelPath); err != nil {
			return fmt.Errorf("failed to load preference model: %w", err)
		}
	}

	stats := components.Pilot.Statistics()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exploration rate: %.4f\n", stats.ExplorationRate)
	fmt.Fprintf(out, "Experiences:      %d\n", stats.ExperienceCount)
	fmt.Fprintf(out, "Recent accuracy:  %.2f\n", stats.RecentAccuracy)
	fmt.Fprintf(out, "Model updates:    %d\n", stats.ModelUpdates)
	return nil
}
