// Package config loads the YAML configuration shared by the hub, daemon,
// and standalone run modes, following the same Defaults/Load/ApplyEnvOverrides
// shape used throughout the ambient stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/intercom-mesh/intercom/internal/domain"
	"github.com/intercom-mesh/intercom/internal/logger"
)

// Mode selects which role a process runs in.
type Mode string

const (
	ModeHub        Mode = "hub"
	ModeDaemon     Mode = "daemon"
	ModeStandalone Mode = "standalone"
)

// MachineConfig identifies this node on the overlay network.
type MachineConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Listen      string `yaml:"listen"`    // daemon/standalone: address this node's own HTTP surface binds
	OverlayIP   string `yaml:"overlay_ip"`
	DaemonURL   string `yaml:"daemon_url"` // how the Hub reaches this daemon back
}

// TelegramConfig configures the operator-console adapter when a bot is used.
type TelegramConfig struct {
	Token   string `yaml:"token"`
	GroupID int64  `yaml:"group_id"`
	OwnerID int64  `yaml:"owner_id"`
}

// HubConfig configures where a daemon finds the Hub, or where the Hub listens.
type HubConfig struct {
	URL        string `yaml:"url"`    // daemon/standalone: the Hub base URL
	Listen     string `yaml:"listen"` // hub: the address to bind
	RegistryDB string `yaml:"registry_db"`
	PolicyFile string `yaml:"policy_file"`
}

// AuthConfig holds the shared secret a daemon signs its outbound Hub calls
// with before it has been issued a Registry-backed token (bootstrap join).
type AuthConfig struct {
	Token string `yaml:"token"`
}

// DiscoveryConfig controls the daemon's local agent auto-discovery.
type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	ScanPaths []string `yaml:"scan_paths"`
	DetectBy  []string `yaml:"detect_by"` // marker files, e.g. ".git", "go.mod"
	Exclude   []string `yaml:"exclude"`
}

// AgentLauncherConfig controls how the daemon's supervisor spawns child agents.
type AgentLauncherConfig struct {
	DefaultCommand      string        `yaml:"default_command"`
	DefaultArgs         []string      `yaml:"default_args"`
	AllowedPaths        []string      `yaml:"allowed_paths"`
	MaxMissionDuration  time.Duration `yaml:"max_mission_duration"`
	InboxDir            string        `yaml:"inbox_dir"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
}

// Config is the top-level configuration for the intercom binary, shared
// across all run modes; unused sections for a given mode are ignored.
type Config struct {
	Mode          Mode                `yaml:"mode"`
	Machine       MachineConfig       `yaml:"machine"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Hub           HubConfig           `yaml:"hub"`
	Auth          AuthConfig          `yaml:"auth"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	AgentLauncher AgentLauncherConfig `yaml:"agent_launcher"`
	Logger        logger.Config       `yaml:"logger"`
}

// Defaults returns a Config with sensible defaults for local/standalone use.
func Defaults() *Config {
	return &Config{
		Mode: ModeStandalone,
		Machine: MachineConfig{
			Listen: ":7701",
		},
		Hub: HubConfig{
			Listen:     ":7700",
			RegistryDB: "intercom-registry.db",
			PolicyFile: "policy.yaml",
		},
		Discovery: DiscoveryConfig{
			Enabled:  false,
			DetectBy: []string{".git"},
		},
		AgentLauncher: AgentLauncherConfig{
			DefaultCommand:     "claude",
			MaxMissionDuration: 30 * time.Minute,
			InboxDir:           "inbox",
			HeartbeatInterval:  10 * time.Second,
		},
		Logger: logger.Config{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads a YAML config file, applies environment overrides, and validates
// the result. A missing file is not an error: defaults plus env overrides are
// returned without validation, matching how a daemon can run purely off
// environment variables; callers validate once they have set the run mode.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ApplyEnvOverrides(cfg)
	return cfg, Validate(cfg)
}

// LoadPolicy reads and parses a YAML policy file (spec §4.3/§6).
func LoadPolicy(path string) (domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Policy{Defaults: domain.Defaults{RequireApproval: domain.ApprovalOnce}}, nil
		}
		return domain.Policy{}, fmt.Errorf("config: read policy %s: %w", path, err)
	}
	var p domain.Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Policy{}, fmt.Errorf("config: parse policy %s: %w", path, err)
	}
	return p, nil
}

// ApplyEnvOverrides maps INTERCOM_* env vars onto cfg, per spec §6's
// "recognised environment overrides: console bot token, console group id,
// console owner id, hub URL, shared token".
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTERCOM_CONSOLE_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("INTERCOM_CONSOLE_GROUP_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.GroupID = n
		}
	}
	if v := os.Getenv("INTERCOM_CONSOLE_OWNER_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.OwnerID = n
		}
	}
	if v := os.Getenv("INTERCOM_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("INTERCOM_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("INTERCOM_MACHINE_ID"); v != "" {
		cfg.Machine.ID = v
	}
	if v := os.Getenv("INTERCOM_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// Validate checks cfg for structural correctness given its Mode.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Mode {
	case ModeHub, ModeDaemon, ModeStandalone:
	default:
		errs = append(errs, fmt.Sprintf("mode must be one of hub/daemon/standalone, got %q", cfg.Mode))
	}

	if cfg.Machine.ID == "" && cfg.Mode != ModeHub {
		errs = append(errs, "machine.id must not be empty")
	}

	if cfg.Mode == ModeHub && cfg.Hub.Listen == "" {
		errs = append(errs, "hub.listen must not be empty in hub mode")
	}
	if cfg.Mode != ModeHub && cfg.Hub.URL == "" {
		errs = append(errs, "hub.url must not be empty in daemon/standalone mode")
	}
	if cfg.Mode == ModeDaemon && cfg.Machine.Listen == "" {
		errs = append(errs, "machine.listen must not be empty in daemon mode")
	}
	if cfg.AgentLauncher.MaxMissionDuration <= 0 {
		errs = append(errs, "agent_launcher.max_mission_duration must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
