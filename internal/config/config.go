package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log    LogConfig    `koanf:"log"`
	Helper HelperConfig `koanf:"helper"`
	Bridge BridgeConfig `koanf:"bridge"`
	Boot   BootConfig   `koanf:"boot"`
	Runner RunnerConfig `koanf:"runner"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type HelperConfig struct {
	PortBase     int    `koanf:"port_base"`
	PortRange    int    `koanf:"port_range"`
	PreferSystem bool   `koanf:"prefer_system"`
	WorkspaceDir string `koanf:"workspace_dir"`
}

type BridgeConfig struct {
	ConnectTimeout int `koanf:"connect_timeout"` // seconds
	PingInterval   int `koanf:"ping_interval"`   // seconds
	MaxFailures    int `koanf:"max_failures"`
}

type BootConfig struct {
	Timeout int `koanf:"timeout"` // seconds
}

type RunnerConfig struct {
	DefaultTimeout int `koanf:"default_timeout"` // seconds
	MaxTimeout     int `koanf:"max_timeout"`     // seconds
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}
	configPath = expandPath(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("MCP_SIM_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MCP_SIM_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Documented environment variables take precedence over everything.
	if v := os.Getenv("MCP_SERVER_LOG"); v != "" {
		k.Set("log.level", v)
	}
	if v := os.Getenv("HELPER_PORT_BASE"); v != "" {
		base, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HELPER_PORT_BASE %q: %w", v, err)
		}
		k.Set("helper.port_base", base)
	}
	if v := os.Getenv("HELPER_PREFER_SYSTEM"); v != "" {
		k.Set("helper.prefer_system", v == "1" || strings.EqualFold(v, "true"))
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Helper.WorkspaceDir = expandPath(cfg.Helper.WorkspaceDir)

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Helper.PortBase <= 0 || c.Helper.PortBase > 65535 {
		return fmt.Errorf("helper port_base must be a valid port, got %d", c.Helper.PortBase)
	}
	if c.Helper.PortRange <= 0 {
		return fmt.Errorf("helper port_range must be positive, got %d", c.Helper.PortRange)
	}
	if c.Helper.PortBase+c.Helper.PortRange > 65536 {
		return fmt.Errorf("helper port range %d..%d exceeds the valid port space",
			c.Helper.PortBase, c.Helper.PortBase+c.Helper.PortRange-1)
	}
	if c.Bridge.MaxFailures <= 0 {
		return fmt.Errorf("bridge max_failures must be positive, got %d", c.Bridge.MaxFailures)
	}
	if c.Boot.Timeout <= 0 {
		return fmt.Errorf("boot timeout must be positive, got %d", c.Boot.Timeout)
	}
	if c.Runner.DefaultTimeout <= 0 || c.Runner.MaxTimeout < c.Runner.DefaultTimeout {
		return fmt.Errorf("runner timeouts invalid: default=%d max=%d",
			c.Runner.DefaultTimeout, c.Runner.MaxTimeout)
	}
	return nil
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
