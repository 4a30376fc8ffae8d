// Package bootconfig loads the static, operator-editable YAML file read
// once at process start, before the ledger exists (spec SPEC_FULL.md
// "[AMBIENT] Configuration"). It only holds knobs the ledger's own
// Config can't: paths and operational constants, not ledger-embedded
// behavioral flags.
package bootconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bootstrap configuration.
type Config struct {
	// LedgerPath overrides the default ledger location
	// ("<home>/.config/picosnitch/snitch.json" per spec §6).
	LedgerPath string `yaml:"ledger_path"`

	// LockPath overrides the default single-instance lock file
	// ("<home>/.picosnitch_lock" per spec §6).
	LockPath string `yaml:"lock_path"`

	// MemoryCapMB overrides the Producer's virtual-memory cap (spec §4.2,
	// default 512).
	MemoryCapMB int `yaml:"memory_cap_mb"`

	// RestartCooldown overrides the Supervisor's crash-loop debounce
	// (spec §4.2, default 300s).
	RestartCooldown time.Duration `yaml:"restart_cooldown"`

	// LogLevel sets the minimum log severity of the main process's slog
	// handler (Correlator and the in-process Supervisor): "debug", "info",
	// "warn", or "error". Defaults to "info" when omitted. The Producer
	// subprocess does not read it and always logs at "info".
	LogLevel string `yaml:"log_level"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Default returns the Config populated with the spec's stated constants.
func Default() Config {
	return Config{
		MemoryCapMB:     512,
		RestartCooldown: 300 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path, applies defaults, and validates it. A
// missing file is not an error — Default() is returned instead, since the
// bootstrap config is entirely optional (every field has a spec-mandated
// default).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootconfig: cannot read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("bootconfig: cannot parse %q: %w", path, err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("bootconfig: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MemoryCapMB == 0 {
		cfg.MemoryCapMB = 512
	}
	if cfg.RestartCooldown == 0 {
		cfg.RestartCooldown = 300 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.MemoryCapMB <= 0 {
		errs = append(errs, errors.New("memory_cap_mb must be positive"))
	}
	if cfg.RestartCooldown <= 0 {
		errs = append(errs, errors.New("restart_cooldown must be positive"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	return errors.Join(errs...)
}
