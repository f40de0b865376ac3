// Package config loads JIT configuration. Repository-level settings live in
// config.toml inside the data plane; user-scoped settings in
// ~/.config/jit/config.yaml. Environment variables override both:
// JIT_DATA_DIR, JIT_AGENT_ID, JIT_LOCK_TIMEOUT.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/erankavija/jit/internal/jiterr"
)

// File names.
const (
	RepoConfigFile = "config.toml"
	userConfigDir  = "jit"
	userConfigFile = "config.yaml"
)

// Environment variables recognized by the core.
const (
	EnvAgentID     = "JIT_AGENT_ID"
	EnvLockTimeout = "JIT_LOCK_TIMEOUT"
)

// LockTimeoutDefault bounds lock acquisition when JIT_LOCK_TIMEOUT does not
// override it. config.toml has no lock-timeout setting.
const LockTimeoutDefault = 5 * time.Second

// Policy controls lease enforcement for structural edits.
type Policy string

// Lease-enforcement policies.
const (
	PolicyStrict Policy = "strict"
	PolicyWarn   Policy = "warn"
	PolicyOff    Policy = "off"
)

// IsValid checks the policy against the closed set.
func (p Policy) IsValid() bool {
	return p == PolicyStrict || p == PolicyWarn || p == PolicyOff
}

// WorktreeMode controls cross-worktree control-plane resolution.
type WorktreeMode string

// Worktree modes.
const (
	WorktreeAuto WorktreeMode = "auto"
	WorktreeOn   WorktreeMode = "on"
	WorktreeOff  WorktreeMode = "off"
)

// WorktreeConfig is the [worktree] table.
type WorktreeConfig struct {
	Mode          WorktreeMode `toml:"mode"`
	EnforceLeases Policy       `toml:"enforce_leases"`
}

// CoordinationConfig is the [coordination] table.
type CoordinationConfig struct {
	DefaultTTLSecs              int `toml:"default_ttl_secs"`
	HeartbeatIntervalSecs       int `toml:"heartbeat_interval_secs"`
	StaleThresholdSecs          int `toml:"stale_threshold_secs"`
	MaxIndefiniteLeasesPerAgent int `toml:"max_indefinite_leases_per_agent"`
	MaxIndefiniteLeasesPerRepo  int `toml:"max_indefinite_leases_per_repo"`
}

// GlobalOpsConfig is the [global_operations] table.
type GlobalOpsConfig struct {
	RequireMainHistory bool `toml:"require_main_history"`
}

// IconsConfig is the [hierarchy.icons] table: a preset name plus per-type
// overrides.
type IconsConfig struct {
	Preset    string
	Overrides map[string]string
}

// Config is the repository-level configuration.
type Config struct {
	Worktree         WorktreeConfig   `toml:"worktree"`
	Coordination     CoordinationConfig `toml:"coordination"`
	GlobalOperations GlobalOpsConfig  `toml:"global_operations"`

	// Hierarchy mixes type levels with the icons sub-table, so it is
	// decoded generically and exposed via TypeLevels and Icons.
	Hierarchy map[string]any `toml:"hierarchy"`
}

// Default returns the configuration used when config.toml is absent.
func Default() *Config {
	return &Config{
		Worktree: WorktreeConfig{
			Mode:          WorktreeAuto,
			EnforceLeases: PolicyWarn,
		},
		Coordination: CoordinationConfig{
			DefaultTTLSecs:              3600,
			HeartbeatIntervalSecs:       60,
			StaleThresholdSecs:          24 * 3600,
			MaxIndefiniteLeasesPerAgent: 1,
			MaxIndefiniteLeasesPerRepo:  5,
		},
	}
}

// Load reads config.toml from the data plane, merged over defaults.
func Load(dataPlane string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dataPlane, RepoConfigFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(path string) error {
	if !c.Worktree.EnforceLeases.IsValid() {
		return jiterr.New(jiterr.KindInvalidArgument,
			"%s: enforce_leases must be strict, warn, or off (got %q)", path, c.Worktree.EnforceLeases)
	}
	switch c.Worktree.Mode {
	case WorktreeAuto, WorktreeOn, WorktreeOff:
	default:
		return jiterr.New(jiterr.KindInvalidArgument,
			"%s: worktree mode must be auto, on, or off (got %q)", path, c.Worktree.Mode)
	}
	if c.Coordination.DefaultTTLSecs <= 0 {
		return jiterr.New(jiterr.KindInvalidArgument,
			"%s: default_ttl_secs must be positive", path)
	}
	return nil
}

// TypeLevels extracts the type-name -> level mapping from [hierarchy].
func (c *Config) TypeLevels() map[string]int {
	levels := make(map[string]int)
	for key, val := range c.Hierarchy {
		if key == "icons" {
			continue
		}
		switch v := val.(type) {
		case int64:
			levels[key] = int(v)
		case int:
			levels[key] = v
		}
	}
	return levels
}

// Icons extracts the [hierarchy.icons] table.
func (c *Config) Icons() IconsConfig {
	out := IconsConfig{Overrides: map[string]string{}}
	sub, ok := c.Hierarchy["icons"].(map[string]any)
	if !ok {
		return out
	}
	for key, val := range sub {
		s, ok := val.(string)
		if !ok {
			continue
		}
		if key == "preset" {
			out.Preset = s
		} else {
			out.Overrides[key] = s
		}
	}
	return out
}

// StaleThreshold returns the indefinite-lease staleness threshold.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Coordination.StaleThresholdSecs) * time.Second
}

// DefaultTTL returns the default lease duration.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Coordination.DefaultTTLSecs) * time.Second
}

// UserConfig is the user-scoped configuration.
type UserConfig struct {
	// AgentID is the default acting identity, e.g. "human:alice".
	AgentID string `yaml:"agent_id"`
	// Output is the preferred output format.
	Output string `yaml:"output"`
}

// LoadUser reads ~/.config/jit/config.yaml, returning an empty config when
// absent.
func LoadUser() (*UserConfig, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return &UserConfig{}, nil
	}
	return loadUserFrom(filepath.Join(base, userConfigDir, userConfigFile))
}

func loadUserFrom(path string) (*UserConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &UserConfig{}, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "read %s", path)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "parse %s", path)
	}
	return &cfg, nil
}

// ResolveAgentID resolves the acting identity from, in order: the explicit
// operation parameter, the process environment, user-scoped configuration,
// repository-scoped configuration (via fallback). Empty means unresolved;
// whether that fails depends on the enforcement policy.
func ResolveAgentID(explicit string, user *UserConfig, repoFallback string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAgentID)); v != "" {
		return v
	}
	if user != nil {
		if v := strings.TrimSpace(user.AgentID); v != "" {
			return v
		}
	}
	return strings.TrimSpace(repoFallback)
}

// LockTimeout returns the lock acquisition bound: JIT_LOCK_TIMEOUT seconds
// when set and positive, otherwise def.
func LockTimeout(def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(EnvLockTimeout))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
