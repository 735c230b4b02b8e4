package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/motion/pkg/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage motion configuration",
	Long: `Manage the motion configuration file named by --config.

Configuration options:
  primary_storage_download_wait - Wait for copies onto primary storage
  storage_pool_max_wait         - Wait for storage pool operations
  kvm_offline_migration_wait    - Wait for offline KVM volume copies
  kvm_online_migration_wait     - Wait for live migration
  kvm_auto_convergence          - Ask KVM to auto-converge live migrations
  execute_in_sequence           - Run live migrations one at a time per host
  lock_wait                     - Wait for a resignature lock
  agent, logging, metrics, audit, store - Nested sections

Available commands:
  show     - Show the effective configuration
  validate - Check the configuration file
  init     - Write the default configuration`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cfg)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Println("# Motion Configuration")
		fmt.Printf("# Location: %s\n\n", configPath)
		fmt.Print(string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config %s: %w", configPath, err)
		}
		if _, err := loadConfig(); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"path": configPath, "valid": true})
		}
		fmt.Printf("%s is valid.\n", configPath)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configInitForce {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", configPath)
		}
		if err := config.Save(configPath, config.Default()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"path": configPath})
		}
		fmt.Printf("Wrote default configuration to %s\n", configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
