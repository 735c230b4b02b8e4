package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jvs-project/motion/pkg/metrics"
)

var (
	metricsAddr string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List or serve Prometheus metrics",
	Long: `List the Prometheus metrics exported by the orchestrator, or serve them.

Metrics cover copy operations by scenario and outcome, resignature lock
waits, agent round trips, rollback errors and image cache staging.

Examples:
  motionctl metrics                  # List metric families
  motionctl metrics --addr :2112     # Serve /metrics until interrupted`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !metrics.Enabled() {
			metrics.Init(cfg.Metrics.Namespace)
		}
		reg := metrics.Default()

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", reg.Handler())
			fmt.Printf("Metrics available at http://%s/metrics\n", metricsAddr)
			fmt.Println("Press Ctrl+C to stop")
			return http.ListenAndServe(metricsAddr, mux)
		}

		out := reg.Families()
		if jsonOutput {
			return outputJSON(out)
		}
		fmt.Println("Available metrics:")
		for _, f := range out {
			fmt.Printf("  - %s (%s): %s\n", f.Name, f.Type, f.Help)
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVarP(&metricsAddr, "addr", "a", "", "address to serve /metrics on")
	rootCmd.AddCommand(metricsCmd)
}
