package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stacia-study/rucsbot/rucsbot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			rucsbot.Version,
			rucsbot.CommitSHA,
			rucsbot.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
