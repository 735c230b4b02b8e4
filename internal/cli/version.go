package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Commit    string `json:"commit,omitempty"`
}

func buildVersion() versionInfo {
	v := versionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				v.Commit = s.Value
			}
		}
	}
	return v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := buildVersion()
		if jsonOutput {
			return outputJSON(v)
		}
		fmt.Printf("motionctl %s (%s, %s)\n", v.Version, v.GoVersion, v.Platform)
		if v.Commit != "" {
			fmt.Printf("commit %s\n", v.Commit)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
