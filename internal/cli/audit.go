package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/motion/internal/audit"
	"github.com/jvs-project/motion/pkg/model"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit <command>",
	Short: "Inspect the audit trail",
	Long: `Inspect the hash-chained audit trail named by audit.path in the configuration.

Available commands:
  list   - Show the most recent operations
  verify - Check the hash chain`,
	DisableFlagsInUseLine: true,
}

func auditAppender() (*audit.FileAppender, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Audit.Path == "" {
		return nil, fmt.Errorf("audit.path is not configured")
	}
	return audit.NewFileAppender(cfg.Audit.Path), nil
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recent operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := auditAppender()
		if err != nil {
			return err
		}
		records, err := app.Records()
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(records) > auditLimit {
			records = records[len(records)-auditLimit:]
		}
		if records == nil {
			records = []model.AuditRecord{}
		}
		if jsonOutput {
			return outputJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, r := range records {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Printf("%s  %-32s %-6s %s -> %s (%dms)\n",
				r.Timestamp.Format("2006-01-02 15:04:05"), r.Scenario, status, r.SourceKey, r.DestKey, r.DurationMS)
			if r.Message != "" {
				fmt.Printf("    %s\n", r.Message)
			}
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := auditAppender()
		if err != nil {
			return err
		}
		n, verr := app.Verify()
		if jsonOutput {
			out := map[string]any{"path": app.Path(), "records": n, "valid": verr == nil}
			if verr != nil {
				out["error"] = verr.Error()
			}
			if err := outputJSON(out); err != nil {
				return err
			}
		} else if verr == nil {
			fmt.Printf("Audit chain intact (%d records).\n", n)
		}
		if verr != nil {
			return fmt.Errorf("audit chain broken after %d records: %w", n, verr)
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "number of records to show (0 for all)")
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
