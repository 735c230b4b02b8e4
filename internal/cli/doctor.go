package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/motion/internal/doctor"
	"github.com/jvs-project/motion/internal/inventory"
)

var (
	doctorStrict bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check site health",
	Long: `Check site health.

Runs diagnostic checks on the inventory and configuration and reports any
issues. Use --strict to also verify the audit hash chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		doc, err := inventory.Load(inventoryPath)
		if err != nil {
			return err
		}

		result, err := doctor.NewDoctor(doc, cfg, cfg.Audit.Path).Check(doctorStrict)
		if err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				return err
			}
		} else if len(result.Findings) == 0 {
			fmt.Println("Site is healthy.")
		} else {
			fmt.Printf("Findings (%d):\n", len(result.Findings))
			for _, f := range result.Findings {
				fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Category, f.Description)
			}
		}

		if !result.Healthy {
			return fmt.Errorf("site is unhealthy")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "include audit chain verification")
	rootCmd.AddCommand(doctorCmd)
}
