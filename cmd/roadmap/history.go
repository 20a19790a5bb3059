package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		service    bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent operations or agent service runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, limit, service)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&service, "service", false, "show agent service runs instead of operations")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string, limit int, service bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if service {
		runs, err := h.RecentServiceRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No service runs recorded.")
			return nil
		}
		fmt.Fprintln(w, "ID\tPID\tPORT\tOWNED\tSTARTED\tSTOPPED\tTIER")
		for _, r := range runs {
			stopped, tier := "-", r.StopTier
			if r.StoppedAt != nil {
				stopped = r.StoppedAt.Format(time.DateTime)
			}
			if tier == "" {
				tier = "-"
			}
			fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%s\t%s\t%s\n",
				r.ID, r.PID, r.Port, r.Owned, r.StartedAt.Format(time.DateTime), stopped, tier)
		}
		return w.Flush()
	}

	ops, err := h.RecentOperations(limit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(out, "No operations recorded.")
		return nil
	}
	fmt.Fprintln(w, "ID\tOPERATION\tSTATUS\tEVENTS\tDROPPED\tSTARTED\tPROMPT")
	for _, o := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			o.ID[:8], o.Operation, o.Status, o.Accepted, o.Dropped,
			o.StartedAt.Format(time.DateTime), truncate(o.Prompt, 40))
	}
	return w.Flush()
}
