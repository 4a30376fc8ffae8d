package bootconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MemoryCapMB != 512 {
		t.Errorf("MemoryCapMB = %d, want 512", cfg.MemoryCapMB)
	}
	if cfg.RestartCooldown != 300*time.Second {
		t.Errorf("RestartCooldown = %v, want 300s", cfg.RestartCooldown)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "memory_cap_mb: 1024\nlog_level: debug\nledger_path: /tmp/snitch.json\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MemoryCapMB != 1024 {
		t.Errorf("MemoryCapMB = %d, want 1024", cfg.MemoryCapMB)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LedgerPath != "/tmp/snitch.json" {
		t.Errorf("LedgerPath = %q, want /tmp/snitch.json", cfg.LedgerPath)
	}
	if cfg.RestartCooldown != 300*time.Second {
		t.Errorf("RestartCooldown should default when omitted, got %v", cfg.RestartCooldown)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: verbose\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("expected validation error for invalid log_level")
	}
}
