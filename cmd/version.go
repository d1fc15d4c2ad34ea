package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dbreconcile version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), getVersion())
	},
}

func getVersion() string {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}

		var commit, buildTime string
		var modified bool

		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
				if len(commit) > 7 {
					commit = commit[:7] // Use short hash
				}
			case "vcs.modified":
				modified = setting.Value == "true"
			case "vcs.time":
				buildTime = setting.Value
			}
		}

		if commit != "" {
			version += fmt.Sprintf(" (%s", commit)
			if modified {
				version += " modified"
			}
			version += ")"
		}

		if buildTime != "" {
			version += fmt.Sprintf(" built %s", buildTime)
		}
	}
	return version
}
