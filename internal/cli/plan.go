package cli

import (
	"github.com/spf13/cobra"

	"github.com/jvs-project/motion/internal/motion"
	"github.com/jvs-project/motion/pkg/model"
)

// planOutput is the JSON form of a plan decision.
type planOutput struct {
	Source    string          `json:"source"`
	Dest      string          `json:"dest"`
	Decision  motion.Decision `json:"decision"`
	Supported bool            `json:"supported"`
}

var planCmd = &cobra.Command{
	Use:   "plan <source> <dest>",
	Short: "Show which copy scenario would run for a pair of objects",
	Long: `Show which copy scenario the orchestrator would run for a pair of objects.

Objects are referenced as kind/id, where kind is volume, snapshot or template.
The inventory is applied to the configured record store first.

Examples:
  motionctl plan snapshot/1 volume/2
  motionctl --json plan template/1 volume/3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSite()
		if err != nil {
			return err
		}
		defer s.Close()

		src, err := s.object(args[0])
		if err != nil {
			return err
		}
		dst, err := s.object(args[1])
		if err != nil {
			return err
		}

		d := s.orch.Plan(src, dst)
		out := planOutput{Source: src.Key(), Dest: dst.Key(), Decision: d, Supported: d.Supported()}
		if jsonOutput {
			return outputJSON(out)
		}
		printDecision(out)
		return nil
	},
}

var planMigrationCmd = &cobra.Command{
	Use:   "migration <src-host> <dest-host> <volume>=<store>...",
	Short: "Check a live migration plan",
	Long: `Check whether a live migration of volumes between two hosts would be taken.

Each plan entry maps a volume ID to the ID of its destination store.

Examples:
  motionctl plan migration 10 11 1=3 2=3`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSite()
		if err != nil {
			return err
		}
		defer s.Close()

		srcHost, err := s.host(args[0])
		if err != nil {
			return err
		}
		destHost, err := s.host(args[1])
		if err != nil {
			return err
		}
		var plan model.MigrationPlan
		for _, arg := range args[2:] {
			e, err := s.planEntry(arg)
			if err != nil {
				return err
			}
			plan = append(plan, e)
		}

		d := s.orch.PlanBatch(plan, srcHost, destHost)
		out := planOutput{Source: "host/" + args[0], Dest: "host/" + args[1], Decision: d, Supported: d.Supported()}
		if jsonOutput {
			return outputJSON(out)
		}
		printDecision(out)
		return nil
	},
}

func printDecision(out planOutput) {
	printf("%s -> %s\n", out.Source, out.Dest)
	printf("  scenario: %s\n", out.Decision.Scenario)
	if out.Decision.Reason != "" {
		printf("  reason:   %s\n", out.Decision.Reason)
	}
}

func init() {
	planCmd.AddCommand(planMigrationCmd)
	rootCmd.AddCommand(planCmd)
}
