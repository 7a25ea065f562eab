// Package config loads and validates the coordinator configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// Config is the top-level coordinator configuration.
type Config struct {
	ModuleSet ModuleSetConfig `yaml:"module_set"`
	Ant       AntConfig       `yaml:"ant"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

// ModuleSetConfig describes the module set and how builds are scoped.
type ModuleSetConfig struct {
	Name                   string   `yaml:"name"`
	Workspace              string   `yaml:"workspace"`
	Strategy               string   `yaml:"strategy"`    // aggregate | per-module
	Incremental            bool     `yaml:"incremental"` // per-module only
	ChangedModulesProperty string   `yaml:"changed_modules_property,omitempty"`
	IgnoreUpstreamChanges  bool     `yaml:"ignore_upstream_changes"`
	ArchivingDisabled      bool     `yaml:"archiving_disabled"`
	DescriptorPattern      string   `yaml:"descriptor_pattern"`
	ExcludeDirs            []string `yaml:"exclude_dirs,omitempty"`

	// Steps are the publishers and build wrappers attached to the set.
	// Steps declaring a resource contribute mutual-exclusion constraints.
	Steps []StepConfig `yaml:"steps,omitempty"`
}

// StepConfig describes one publisher or build wrapper. A step that names
// a resource (or marks itself exclusive) declares a resource activity.
type StepConfig struct {
	Name      string `yaml:"name"`
	Resource  string `yaml:"resource,omitempty"`
	Exclusive bool   `yaml:"exclusive,omitempty"`
}

// AntConfig describes how the underlying build tool is invoked.
type AntConfig struct {
	Name       string            `yaml:"name,omitempty"` // installation name, informational
	Command    string            `yaml:"command"`
	BuildFile  string            `yaml:"build_file,omitempty"`
	Targets    []string          `yaml:"targets,omitempty"`
	Opts       string            `yaml:"opts,omitempty"` // ANT_OPTS value
	Properties map[string]string `yaml:"properties,omitempty"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// EventsConfig configures build event publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// DaemonConfig configures the long-running coordinator.
type DaemonConfig struct {
	Schedule     string        `yaml:"schedule,omitempty"` // cron expression for periodic builds
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	WatchEnabled bool          `yaml:"watch_enabled"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// Load reads, expands, and validates the configuration at configPath.
// A .env file next to the process is applied first so ${VAR} references
// in the YAML resolve.
func Load(configPath string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "read config file")
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal, "unmarshal config")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ModuleSet.Workspace == "" {
		c.ModuleSet.Workspace = "."
	}
	if c.ModuleSet.Strategy == "" {
		c.ModuleSet.Strategy = string(scope.StrategyAggregate)
	}
	if c.ModuleSet.DescriptorPattern == "" {
		c.ModuleSet.DescriptorPattern = "ivy.xml"
	}
	if len(c.ModuleSet.ExcludeDirs) == 0 {
		c.ModuleSet.ExcludeDirs = []string{".git", "build", "target"}
	}
	if c.Ant.Command == "" {
		c.Ant.Command = "ant"
	}
	if c.Store.Path == "" {
		c.Store.Path = "modset.db"
	}
	if c.Store.HistoryLimit <= 0 {
		c.Store.HistoryLimit = 100
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "modset.builds"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Daemon.QueueSize <= 0 {
		c.Daemon.QueueSize = 100
	}
	if c.Daemon.Workers <= 0 {
		c.Daemon.Workers = 1
	}
}

// Validate checks invariants the loader cannot default away.
func (c *Config) Validate() error {
	if c.ModuleSet.Name == "" {
		return errors.ValidationError("module_set.name is required")
	}
	strategy := scope.Strategy(c.ModuleSet.Strategy)
	if !strategy.Valid() {
		return errors.ValidationError(fmt.Sprintf("module_set.strategy %q is not one of aggregate, per-module", c.ModuleSet.Strategy))
	}
	if c.ModuleSet.Incremental && strategy != scope.StrategyPerModule {
		return errors.ValidationError("module_set.incremental requires the per-module strategy")
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.ValidationError("events.nats_url is required when events are enabled")
	}
	return nil
}

// Strategy returns the configured build strategy as a typed value.
// Only valid after Load or Validate.
func (c *Config) Strategy() scope.Strategy {
	return scope.Strategy(c.ModuleSet.Strategy)
}

const exampleConfig = `# Module set build coordinator configuration
module_set:
  name: platform
  workspace: .
  strategy: per-module   # aggregate | per-module
  incremental: true
  changed_modules_property: modset.changed.modules
  descriptor_pattern: ivy.xml
  exclude_dirs: [.git, build, target]
  steps:
    - name: publish-artifacts
      resource: artifact-repository
      exclusive: true

ant:
  command: ant
  build_file: build.xml
  targets: [clean, publish]
  properties:
    skip.tests: "false"

store:
  path: modset.db
  history_limit: 100

events:
  enabled: false
  nats_url: nats://localhost:4222
  subject: modset.builds

metrics:
  enabled: true
  listen: ":9090"

daemon:
  schedule: "0 2 * * *"
  queue_size: 100
  workers: 1
  watch_enabled: true
`

// Init writes an example configuration to configPath.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	return os.WriteFile(configPath, []byte(exampleConfig), 0o644)
}
