// Package config provides YAML-based configuration loading for the roadmap
// desktop bridge.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DocumentName is the file name of the roadmap document inside the state dir.
const DocumentName = "roadmap.md"

// Config is the top-level configuration, loaded from roadmap.yaml.
type Config struct {
	Dev      bool           `yaml:"dev"`
	DevPath  string         `yaml:"dev_path"`
	StateDir string         `yaml:"state_dir"`
	Service  ServiceConfig  `yaml:"service"`
	Relay    RelayConfig    `yaml:"relay"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	Models   []ModelConfig  `yaml:"models"`
}

// ServiceConfig describes the supervised agent service.
type ServiceConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Binary           string        `yaml:"binary"`
	Args             []string      `yaml:"args"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	LivenessSchedule string        `yaml:"liveness_schedule"`
}

// RelayConfig holds streaming relay settings.
type RelayConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	DedupScope  string        `yaml:"dedup_scope"` // "call" or "conversation"
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// BridgeConfig holds the local UI bridge listener settings.
type BridgeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the operation history store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
}

// ModelConfig is one provider/model pair offered to the UI.
type ModelConfig struct {
	ProviderID  string `yaml:"provider_id" json:"providerID"`
	ModelID     string `yaml:"model_id" json:"modelID"`
	DisplayName string `yaml:"display_name" json:"displayName"`
}

// DefaultModels is the catalog used when the config file lists none.
var DefaultModels = []ModelConfig{
	{ProviderID: "minimax-cn-coding-plan", ModelID: "MiniMax-M2.5", DisplayName: "MiniMax M2.5"},
	{ProviderID: "minimax-cn-coding-plan", ModelID: "MiniMax-M2.1", DisplayName: "MiniMax M2.1"},
	{ProviderID: "kimi-for-coding", ModelID: "k2p5", DisplayName: "K2P5"},
	{ProviderID: "bailian-coding-plan", ModelID: "qwen3.5-plus", DisplayName: "Qwen3.5 Plus"},
	{ProviderID: "bailian-coding-plan", ModelID: "kimi-k2.5", DisplayName: "Kimi K2.5"},
	{ProviderID: "opencode", ModelID: "big-pickle", DisplayName: "Big Pickle"},
	{ProviderID: "zhipuai", ModelID: "glm-4.7-flash", DisplayName: "GLM 4.7 Flash"},
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist. The desktop app runs fine without a config file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	return nil, err
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = "~/.roadmap"
	}
	c.StateDir = expandHome(c.StateDir)
	if c.DevPath == "" {
		c.DevPath = DocumentName
	}
	c.DevPath = expandHome(c.DevPath)

	s := &c.Service
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 51432
	}
	if s.Binary == "" {
		s.Binary = "opencode"
	}
	if s.Args == nil {
		s.Args = []string{"serve"}
	}
	if s.SettleDelay == 0 {
		s.SettleDelay = 2 * time.Second
	}
	if s.ProbeTimeout == 0 {
		s.ProbeTimeout = 500 * time.Millisecond
	}
	if s.StopTimeout == 0 {
		s.StopTimeout = 5 * time.Second
	}

	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 10 * time.Minute
	}
	if c.Relay.DedupScope == "" {
		c.Relay.DedupScope = "call"
	}
	if c.Relay.LockTimeout == 0 {
		c.Relay.LockTimeout = 5 * time.Second
	}

	if c.Bridge.Host == "" {
		c.Bridge.Host = "127.0.0.1"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 1430
	}

	d := &c.Database
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
	if d.Driver == "sqlite" && d.Path == "" {
		d.Path = filepath.Join(c.StateDir, "roadmap.db")
	}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.Port == 0 {
		d.Port = 3306
	}
	if d.Name == "" {
		d.Name = "roadmap"
	}
	if d.User == "" {
		d.User = "root"
	}

	if len(c.Models) == 0 {
		c.Models = append([]ModelConfig(nil), DefaultModels...)
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Sprintf("service.port %d out of range", c.Service.Port))
	}
	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		errs = append(errs, fmt.Sprintf("bridge.port %d out of range", c.Bridge.Port))
	}
	if c.Service.SettleDelay < 0 || c.Service.SettleDelay > 10*time.Second {
		errs = append(errs, "service.settle_delay must be between 0 and 10s")
	}
	if c.Relay.Timeout < 0 {
		errs = append(errs, "relay.timeout must not be negative")
	}
	switch c.Relay.DedupScope {
	case "call", "conversation":
	default:
		errs = append(errs, fmt.Sprintf("relay.dedup_scope %q must be call or conversation", c.Relay.DedupScope))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	for i, m := range c.Models {
		if m.ProviderID == "" {
			errs = append(errs, fmt.Sprintf("models[%d].provider_id is required", i))
		}
		if m.ModelID == "" {
			errs = append(errs, fmt.Sprintf("models[%d].model_id is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ServiceAddr returns host:port of the agent service.
func (c *Config) ServiceAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// ServiceURL returns the base URL of the agent service.
func (c *Config) ServiceURL() string {
	return "http://" + c.ServiceAddr()
}

// DocumentPath returns the roadmap document location. In dev mode this is
// the fixed development path, otherwise a file inside the state dir.
func (c *Config) DocumentPath() string {
	if c.Dev {
		return c.DevPath
	}
	return filepath.Join(c.StateDir, DocumentName)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
