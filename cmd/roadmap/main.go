package main

import (
	"fmt"
	"os"

	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roadmap",
		Short: "Local agent bridge for the roadmap manager",
		Long:  "Roadmap supervises the local agent service, relays its streamed events to the UI and manages the roadmap document.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newOperationCmd(dispatch.OpNavigate))
	cmd.AddCommand(newOperationCmd(dispatch.OpModalPrompt))
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newServiceCmd())
	cmd.AddCommand(newDocCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "roadmap %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
