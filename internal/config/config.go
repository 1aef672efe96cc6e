// Package config handles the run configuration file and the on-disk layout
// of a run directory. Every run gets a directory holding its config, its
// checkpoints, and its logs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/journeysim/internal/episode"
	"github.com/kingrea/journeysim/internal/generate"
	"github.com/kingrea/journeysim/internal/scheduler"
)

const (
	// ConfigFileName is the run configuration file inside a run directory.
	ConfigFileName = "config.yaml"

	defaultMemberName = "Rohan Patel"
	defaultWeeks      = 34
)

const defaultConfigYAML = `# journeysim run configuration
version: 1

# Member whose journey is simulated.
member: Rohan Patel

# Final week index, inclusive. Week 0 is onboarding.
weeks: 34

policy:
  min_threads: 2
  max_threads: 4
  max_turns: 12
  diagnostic_interval_weeks: 12
  context_window: 20
  seed: 1
  start_date: 2024-12-30T10:00:00Z

# Retry bounds for the generation provider. Durations are integer
# nanoseconds; omit the section to use the defaults.
#retry:
#  max_attempts: 3

cost:
  base_minutes: 8
  minutes_per_hundred_chars: 3
  minutes_per_recommendation: 6
  minutes_per_medication: 12
  minutes_per_test: 10
  minutes_per_consultation: 8

# Episode classification rules, evaluated in order. Omit to use the
# built-in table.
#episode_rules:
#  - type: medication
#    kind: medication
`

// Config models the run configuration file.
type Config struct {
	Version int                  `yaml:"version"`
	Member  string               `yaml:"member"`
	Weeks   int                  `yaml:"weeks"`
	Policy  scheduler.Policy     `yaml:"policy"`
	Retry   generate.RetryConfig `yaml:"retry"`
	Cost    scheduler.CostModel  `yaml:"cost"`
	Rules   []episode.Rule       `yaml:"episode_rules,omitempty"`
}

// Default returns the configuration used when the file is missing.
func Default() Config {
	return Config{
		Version: 1,
		Member:  defaultMemberName,
		Weeks:   defaultWeeks,
		Policy:  scheduler.DefaultPolicy(),
		Retry:   generate.DefaultRetryConfig(),
		Cost:    scheduler.DefaultCostModel(),
	}
}

// Load reads the configuration from a run directory. A missing file yields
// the defaults; a present but unparseable or invalid file is an error.
func Load(runDir string) (Config, error) {
	cfg := Default()
	path := filepath.Join(runDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Version == 0 {
		c.Version = defaults.Version
	}
	c.Member = strings.TrimSpace(c.Member)
	if c.Member == "" {
		c.Member = defaults.Member
	}
	if c.Weeks == 0 {
		c.Weeks = defaults.Weeks
	}
	if c.Policy.MinThreads == 0 && c.Policy.MaxThreads == 0 {
		c.Policy.MinThreads = defaults.Policy.MinThreads
		c.Policy.MaxThreads = defaults.Policy.MaxThreads
	}
	if c.Policy.MaxTurns == 0 {
		c.Policy.MaxTurns = defaults.Policy.MaxTurns
	}
	if c.Policy.DiagnosticIntervalWeeks == 0 {
		c.Policy.DiagnosticIntervalWeeks = defaults.Policy.DiagnosticIntervalWeeks
	}
	if c.Policy.ContextWindow == 0 {
		c.Policy.ContextWindow = defaults.Policy.ContextWindow
	}
	if c.Policy.Seed == 0 {
		c.Policy.Seed = defaults.Policy.Seed
	}
	if c.Policy.StartDate.IsZero() {
		c.Policy.StartDate = defaults.Policy.StartDate
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = defaults.Retry
	}
	if c.Cost == (scheduler.CostModel{}) {
		c.Cost = defaults.Cost
	}
}

func (c Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Weeks < 0 {
		return fmt.Errorf("weeks must not be negative")
	}
	if c.Policy.MinThreads <= 0 || c.Policy.MaxThreads < c.Policy.MinThreads {
		return fmt.Errorf("invalid thread bounds %d..%d", c.Policy.MinThreads, c.Policy.MaxThreads)
	}
	if c.Policy.DiagnosticIntervalWeeks <= 0 {
		return fmt.Errorf("diagnostic_interval_weeks must be positive")
	}
	for i, rule := range c.Rules {
		if rule.Type == "" {
			return fmt.Errorf("episode_rules[%d]: type is required", i)
		}
		if rule.Kind == "" && rule.AttributeKey == "" {
			return fmt.Errorf("episode_rules[%d]: kind or attribute_key is required", i)
		}
	}
	return nil
}

// EpisodeRules returns the configured rule table, or the built-in one when
// the file left it empty.
func (c Config) EpisodeRules() []episode.Rule {
	if len(c.Rules) == 0 {
		return episode.DefaultRules()
	}
	return c.Rules
}

// Layout resolves the directory structure of one run.
type Layout struct {
	Root string
}

// NewLayout builds the layout for a run directory.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// CheckpointsDir returns the directory that holds week snapshots.
func (l Layout) CheckpointsDir() string {
	return filepath.Join(l.Root, "checkpoints")
}

// LogsDir returns the directory that holds run logs.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, "logs")
}

// LogPath returns the run logbook file.
func (l Layout) LogPath() string {
	return filepath.Join(l.LogsDir(), "journey.log")
}

// ConfigPath returns the on-disk location of the configuration file.
func (l Layout) ConfigPath() string {
	return filepath.Join(l.Root, ConfigFileName)
}

// Ensure creates the run directory structure and seeds a commented default
// config file if none exists.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.CheckpointsDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(l.ConfigPath()); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(l.ConfigPath(), []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: seed %s: %w", l.ConfigPath(), err)
	}
	return nil
}
