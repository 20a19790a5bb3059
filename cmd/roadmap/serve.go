package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roadmap-manager/roadmap/internal/bridge"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/roadmap-manager/roadmap/internal/document"
	"github.com/roadmap-manager/roadmap/internal/supervisor"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent service and the UI bridge",
		Long: "Ensures the agent service is running, serves the UI bridge until interrupted, " +
			"then stops the agent service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	var (
		svcRec  supervisor.Recorder
		opRec   dispatch.Recorder
		history bridge.History
	)
	if h, err := openHistory(cfg); err != nil {
		log.Printf("serve: history disabled: %v", err)
	} else {
		svcRec, opRec, history = h, h, h
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sup := newSupervisor(cfg, svcRec)
	if h, err := sup.EnsureRunning(ctx); err != nil {
		log.Printf("serve: agent service not started: %v", err)
	} else if h != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Agent service started (pid %d) on %s\n", h.PID, sup.Addr())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Using agent service already listening on %s\n", sup.Addr())
	}
	defer stopService(sup, cfg.Service.StopTimeout)

	if err := supervisor.Watch(ctx, sup, cfg.Service.LivenessSchedule); err != nil {
		return err
	}

	hub := bridge.NewHub()
	defer hub.Close()

	d, err := newDispatcher(cfg, hub, opRec)
	if err != nil {
		return err
	}

	return bridge.Start(ctx, bridge.StartOpts{
		Deps: bridge.Deps{
			Hub:        hub,
			Dispatcher: d,
			Document:   document.New(cfg.DocumentPath()),
			Service:    sup,
			History:    history,
		},
		Host: cfg.Bridge.Host,
		Port: cfg.Bridge.Port,
		Out:  cmd.OutOrStdout(),
	})
}

// stopService blocks until the agent service has stopped or the stop
// timeout, plus grace for the forced kill, has passed.
func stopService(sup *supervisor.Supervisor, stopTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout+2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		log.Printf("serve: stop agent service: %v", err)
	}
}
