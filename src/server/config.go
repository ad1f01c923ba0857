package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the server's startup settings. Values may come from
// flags or from a YAML config file; flags win.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// BindIP constrains the listener to one address when set.
	BindIP string `yaml:"bindIp"`

	// ClusterID identifies this control plane instance's cluster.
	ClusterID string `yaml:"clusterId"`

	// SigningSecret signs access tokens and the login challenge. A
	// random secret is generated when empty.
	SigningSecret string `yaml:"signingSecret"`

	// StateFile is the CBOR snapshot path; empty keeps state in
	// memory only.
	StateFile string `yaml:"stateFile"`

	// JanitorInterval controls how often expired ACL entries and
	// stale endpoints are pruned. Defaults to 30 seconds.
	JanitorInterval time.Duration `yaml:"-"`
}

// fileConfig mirrors Config for YAML decoding; durations are written
// as strings ("30s", "1m") rather than nanosecond integers.
type fileConfig struct {
	Config          `yaml:",inline"`
	JanitorInterval string `yaml:"janitorInterval"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg := fc.Config
	if fc.JanitorInterval != "" {
		interval, err := time.ParseDuration(fc.JanitorInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: janitorInterval: %w", path, err)
		}
		cfg.JanitorInterval = interval
	}
	return &cfg, nil
}
