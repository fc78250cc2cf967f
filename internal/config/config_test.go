package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quoteflow/internal/config"
)

func TestCommissionPctZeroIsHonored(t *testing.T) {
	if got := config.Default("broker").CommissionPct(); got != 10 {
		t.Fatalf("unset commission should default to 10, got %d", got)
	}

	// An explicit 0 means a commission-free broker, not the default.
	zero := strings.Replace(config.GenerateDefault("broker"), "pct: 10", "pct: 0", 1)
	cfg, err := config.FromYAML([]byte(zero))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.CommissionPct(); got != 0 {
		t.Fatalf("explicit zero commission should stick, got %d", got)
	}

	out := strings.Replace(config.GenerateDefault("broker"), "pct: 10", "pct: 140", 1)
	if _, err := config.FromYAML([]byte(out)); err == nil {
		t.Fatal("out-of-range commission should be rejected")
	}
}

func TestFromFileValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "import.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("broker-x")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Broker.ID != "broker-x" || cfg.Broker.OwnerID != "owner" {
		t.Fatalf("unexpected broker block: %+v", cfg.Broker)
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("broker:\n  id: broker-x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.FromFile(bad); err == nil {
		t.Fatal("config without owner and categories should be rejected")
	}
}
