// Package config loads and persists the controller configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the on-disk controller configuration.
type Config struct {
	// DataDir is the root under which instance artifacts and the credit
	// ledger live.
	DataDir string `json:"data_dir"`
	// BaseImage is the container image both the parse stage and the worker
	// run on.
	BaseImage string `json:"docker_base_image"`
	// ParserCommand overrides the command run in the parse-stage container.
	ParserCommand []string `json:"parser_command,omitempty"`
	// MaxInstancesPerTenant caps concurrent instances per non-admin tenant.
	MaxInstancesPerTenant int `json:"max_instances_per_tenant"`
	// AdminTenants bypass the quota and credit gates.
	AdminTenants []string `json:"admin_tenants,omitempty"`
	// WebPort is the HTTP API listen port.
	WebPort uint16 `json:"web_port"`
	// RefreshIntervalSeconds is the registry rebuild cadence.
	RefreshIntervalSeconds int `json:"refresh_interval_seconds"`
	// StopGraceSeconds is how long a container gets to stop before the kill.
	StopGraceSeconds int `json:"stop_grace_seconds"`
	// ParseTimeoutSeconds bounds the parse-stage container run.
	ParseTimeoutSeconds int `json:"parse_timeout_seconds"`
	// DefaultCredits is the balance granted to tenants on first contact.
	DefaultCredits int `json:"default_credits"`

	path string
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		DataDir:                "/var/lib/openshapes",
		BaseImage:              "openshapes/worker:latest",
		MaxInstancesPerTenant:  5,
		WebPort:                4483,
		RefreshIntervalSeconds: 300,
		StopGraceSeconds:       10,
		ParseTimeoutSeconds:    30,
		DefaultCredits:         3,
	}
}

// Load reads the configuration at path, writing the default file first when
// none exists so operators have something to edit.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.MaxInstancesPerTenant <= 0 {
		cfg.MaxInstancesPerTenant = Default().MaxInstancesPerTenant
	}
	return cfg, nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(c.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", c.path, err)
	}
	return nil
}
