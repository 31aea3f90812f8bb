package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fedbroker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "provider_id: provider-a\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProviderID != "provider-a" {
		t.Errorf("provider_id = %q", cfg.ProviderID)
	}
	if cfg.Federation.NATSURL != "nats://localhost:4222" {
		t.Errorf("nats_url default = %q", cfg.Federation.NATSURL)
	}
	if cfg.Federation.RequestTimeout != telemetry.Duration(10*time.Second) {
		t.Errorf("request_timeout default = %s", cfg.Federation.RequestTimeout)
	}
	if cfg.Store.Path != "fedbroker.db" {
		t.Errorf("store path default = %q", cfg.Store.Path)
	}
	if cfg.Processors.Open <= 0 || cfg.Processors.Deactivation <= 0 {
		t.Error("processor intervals must default to positive values")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider_id: provider-a
federation:
  nats_url: nats://federation.example:4222
  request_timeout: 3s
store:
  path: /var/lib/fedbroker/orders.db
processors:
  open: 500ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Federation.NATSURL != "nats://federation.example:4222" {
		t.Errorf("nats_url = %q", cfg.Federation.NATSURL)
	}
	if cfg.Federation.RequestTimeout != telemetry.Duration(3*time.Second) {
		t.Errorf("request_timeout = %s", cfg.Federation.RequestTimeout)
	}
	if cfg.Processors.Open != telemetry.Duration(500*time.Millisecond) {
		t.Errorf("open interval = %s", cfg.Processors.Open)
	}
	// Fields the file leaves out keep their defaults.
	if cfg.Processors.Spawning <= 0 {
		t.Error("unset spawning interval must keep its default")
	}
}

func TestLoadRejectsMissingProviderID(t *testing.T) {
	path := writeConfig(t, "store:\n  path: orders.db\n")
	if _, err := Load(path); err == nil {
		t.Error("config without provider_id must be rejected")
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := writeConfig(t, `
provider_id: provider-a
processors:
  spawning: -1s
`)
	if _, err := Load(path); err == nil {
		t.Error("negative processor interval must be rejected")
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	path := writeConfig(t, `
provider_id: provider-a
federation:
  request_timeout: 0s
`)
	if _, err := Load(path); err == nil {
		t.Error("zero request timeout must be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file must be reported")
	}
}

func TestDefaultValidatesOnceNamed(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults without a provider id must not validate")
	}
	cfg.ProviderID = "provider-a"
	if err := cfg.Validate(); err != nil {
		t.Errorf("named defaults must validate, got %v", err)
	}
}
