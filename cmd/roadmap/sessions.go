package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/roadmap-manager/roadmap/internal/config"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List agent sessions for this roadmap",
		Long:  "Lists top-level sessions in the state directory. Subagent and modal-prompt sessions are hidden unless --all is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(cmd, configPath, all)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&all, "all", false, "list every session the agent service reports")
	return cmd
}

func runSessions(cmd *cobra.Command, configPath string, all bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	d, err := newDispatcher(cfg, newJSONLineSink(cmd.OutOrStdout()), nil)
	if err != nil {
		return err
	}

	var sessions []dispatch.Session
	if all {
		sessions, err = d.ListSessions(context.Background())
	} else {
		sessions, err = d.Sessions(context.Background())
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDIRECTORY")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, truncate(s.Title, 50), s.Directory)
	}
	return w.Flush()
}

func newModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the configured model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return printModels(cmd, cfg.Models)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printModels(cmd *cobra.Command, catalog []config.ModelConfig) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tNAME")
	for _, m := range catalog {
		fmt.Fprintf(w, "%s/%s\t%s\n", m.ProviderID, m.ModelID, m.DisplayName)
	}
	return w.Flush()
}
