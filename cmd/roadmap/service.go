package main

import (
	"context"
	"fmt"
	"log"

	"github.com/roadmap-manager/roadmap/internal/probe"
	"github.com/roadmap-manager/roadmap/internal/supervisor"
	"github.com/spf13/cobra"
)

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the local agent service",
	}

	cmd.AddCommand(newServiceStartCmd())
	cmd.AddCommand(newServiceStopCmd())
	cmd.AddCommand(newServiceStatusCmd())
	return cmd
}

func newServiceStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent service unless something already listens on its port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			var rec supervisor.Recorder
			if h, err := openHistory(cfg); err != nil {
				log.Printf("service: history disabled: %v", err)
			} else {
				rec = h
			}

			sup := newSupervisor(cfg, rec)
			h, err := sup.EnsureRunning(context.Background())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if h == nil {
				fmt.Fprintf(out, "Agent service already listening on %s\n", sup.Addr())
				return nil
			}
			fmt.Fprintf(out, "Agent service started (pid %d) on %s\n", h.PID, sup.Addr())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newServiceStopCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop whatever agent service listens on the configured port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sup := newSupervisor(cfg, nil)
			if !probe.Probe(sup.Addr(), cfg.Service.ProbeTimeout) {
				fmt.Fprintf(cmd.OutOrStdout(), "No agent service listening on %s\n", sup.Addr())
				return nil
			}
			if err := sup.Stop(context.Background()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent service on %s stopped\n", sup.Addr())
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newServiceStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the agent service is reachable and healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			addr := cfg.ServiceAddr()

			if !probe.Probe(addr, cfg.Service.ProbeTimeout) {
				fmt.Fprintf(out, "Agent service: not listening on %s\n", addr)
				return nil
			}
			d, err := newDispatcher(cfg, newJSONLineSink(out), nil)
			if err != nil {
				return err
			}
			if err := d.Health(context.Background()); err != nil {
				fmt.Fprintf(out, "Agent service: listening on %s, unhealthy: %v\n", addr, err)
				return nil
			}
			fmt.Fprintf(out, "Agent service: healthy on %s\n", addr)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
