package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `port: 8443
bindIp: 127.0.0.1
clusterId: west
signingSecret: s3cret
stateFile: /var/lib/sluice/state.cbor
janitorInterval: 1m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8443 || cfg.BindIP != "127.0.0.1" || cfg.ClusterID != "west" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.SigningSecret != "s3cret" || cfg.StateFile != "/var/lib/sluice/state.cbor" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.JanitorInterval != time.Minute {
		t.Errorf("janitor interval = %v, want 1m", cfg.JanitorInterval)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should error")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("port: [not a number"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Error("malformed YAML should error")
	}
}

func TestNewServer_Validation(t *testing.T) {
	if _, err := NewServer(Config{ClusterID: "Not-Valid!"}); err == nil {
		t.Error("invalid cluster ID should be rejected")
	}

	s, err := NewServer(Config{})
	if err != nil {
		t.Fatalf("NewServer with defaults: %v", err)
	}
	defer s.Close()
	if s.ClusterID() != "main" {
		t.Errorf("default cluster ID = %q, want main", s.ClusterID())
	}
	if s.SigningSecret == "" {
		t.Error("a signing secret should be generated when none is configured")
	}
}
