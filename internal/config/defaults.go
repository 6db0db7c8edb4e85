package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"log": map[string]interface{}{
			"level":  "info",
			"format": "text",
		},
		"helper": map[string]interface{}{
			"port_base":     10882,
			"port_range":    10,
			"prefer_system": false,
			"workspace_dir": "~/.mcp-sim/helpers",
		},
		"bridge": map[string]interface{}{
			"connect_timeout": 30, // seconds to wait for the helper socket
			"ping_interval":   5,
			"max_failures":    3,
		},
		"boot": map[string]interface{}{
			"timeout": 60,
		},
		"runner": map[string]interface{}{
			"default_timeout": 300,
			"max_timeout":     3600,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.mcp-sim/config.yaml"
}
