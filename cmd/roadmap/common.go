package main

import (
	"fmt"

	"github.com/roadmap-manager/roadmap/internal/config"
	"github.com/roadmap-manager/roadmap/internal/db"
	"github.com/roadmap-manager/roadmap/internal/dedup"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/roadmap-manager/roadmap/internal/relay"
	"github.com/roadmap-manager/roadmap/internal/supervisor"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "roadmap.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to roadmap config file")
}

// loadConfig reads the config file, falling back to defaults when it is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openHistory(cfg *config.Config) (*db.History, error) {
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return db.NewHistory(gormDB), nil
}

func newSupervisor(cfg *config.Config, rec supervisor.Recorder) *supervisor.Supervisor {
	return supervisor.New(supervisor.Opts{
		Host:         cfg.Service.Host,
		Port:         cfg.Service.Port,
		Binary:       cfg.Service.Binary,
		Args:         cfg.Service.Args,
		WorkDir:      cfg.StateDir,
		SettleDelay:  cfg.Service.SettleDelay,
		ProbeTimeout: cfg.Service.ProbeTimeout,
		StopTimeout:  cfg.Service.StopTimeout,
		Recorder:     rec,
	})
}

func newDispatcher(cfg *config.Config, sink relay.Sink, rec dispatch.Recorder) (*dispatch.Dispatcher, error) {
	registry, err := dedup.NewRegistry(dedup.Scope(cfg.Relay.DedupScope), cfg.Relay.LockTimeout)
	if err != nil {
		return nil, err
	}
	rl, err := relay.New(relay.Opts{
		BaseURL:  cfg.ServiceURL(),
		Timeout:  cfg.Relay.Timeout,
		Sink:     sink,
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}
	return dispatch.New(dispatch.Opts{
		Relay:     rl,
		BaseURL:   cfg.ServiceURL(),
		Directory: cfg.StateDir,
		Models:    cfg.Models,
		Recorder:  rec,
	})
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
