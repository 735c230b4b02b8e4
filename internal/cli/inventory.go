package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/motion/internal/inventory"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory <command>",
	Short: "Check or apply the site inventory",
	Long: `Check or apply the site inventory named by --inventory.

Available commands:
  check - Parse and validate the inventory
  apply - Write the inventory into the configured record store`,
	DisableFlagsInUseLine: true,
}

var inventoryCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse and validate the inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := inventory.Load(inventoryPath)
		if err != nil {
			return err
		}
		counts := map[string]int{
			"zones":     len(doc.Zones),
			"stores":    len(doc.Stores),
			"clusters":  len(doc.Clusters),
			"hosts":     len(doc.Hosts),
			"vms":       len(doc.VMs),
			"volumes":   len(doc.Volumes),
			"snapshots": len(doc.Snapshots),
			"templates": len(doc.Templates),
		}
		if jsonOutput {
			return outputJSON(counts)
		}
		fmt.Printf("%s is valid: %d stores, %d hosts, %d volumes, %d snapshots, %d templates\n",
			inventoryPath, counts["stores"], counts["hosts"], counts["volumes"], counts["snapshots"], counts["templates"])
		return nil
	},
}

var inventoryApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Write the inventory into the configured record store",
	Long: `Write the inventory into the record store named by store.path.

Entries replace stored records with the same ID. With the default
in-memory store nothing outlives the command, which makes apply a dry run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSite()
		if err != nil {
			return err
		}
		defer s.Close()

		if jsonOutput {
			return outputJSON(s.summary)
		}
		fmt.Printf("Applied %s to %s\n", inventoryPath, s.cfg.Store.Path)
		fmt.Printf("  stores: %d  clusters: %d  hosts: %d  vms: %d\n",
			s.summary.Stores, s.summary.Clusters, s.summary.Hosts, s.summary.VMs)
		fmt.Printf("  volumes: %d  snapshots: %d  templates: %d  relays: %d\n",
			s.summary.Volumes, s.summary.Snapshots, s.summary.Templates, s.summary.Relays)
		return nil
	},
}

func init() {
	inventoryCmd.AddCommand(inventoryCheckCmd)
	inventoryCmd.AddCommand(inventoryApplyCmd)
	rootCmd.AddCommand(inventoryCmd)
}
