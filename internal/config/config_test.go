package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipcookied.yaml")
	const yamlBody = `
control_listen: "127.0.0.1:1442"
accept_uncookied: false
cache_capacity: 4096
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ControlListen != "127.0.0.1:1442" {
		t.Errorf("ControlListen = %q, want 127.0.0.1:1442", cfg.ControlListen)
	}
	if cfg.AcceptUncookied {
		t.Error("expected AcceptUncookied override to false")
	}
	if cfg.CacheCapacity != 4096 {
		t.Errorf("CacheCapacity = %d, want 4096", cfg.CacheCapacity)
	}
	// Unset fields keep their default.
	if cfg.SecretRotationInterval != 120*time.Second {
		t.Errorf("SecretRotationInterval = %v, want default 120s", cfg.SecretRotationInterval)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/ipcookied.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if cfg.CacheShardCount != Default().CacheShardCount {
		t.Error("expected Load to still return Default()-populated fields on error")
	}
}
