package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nucleus/sync-agent/internal/core"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		s := core.DefaultSettings()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", s.AgentName, s.AgentVersion)
	},
}
