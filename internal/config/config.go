// Package config handles loading, validating, and writing proxad's
// configuration from <config-dir>/config.yaml.
//
// The config defines:
//   - One or more front-facing listeners (raw or HTTP, optionally TLS)
//   - The upstream each listener dials, and optional upstream TLS
//   - Filter module directories to load and hot-watch
//   - Idle timeout, log level
//   - Audit log and dashboard settings
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level proxad configuration.
// Loaded from <config-dir>/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	Filters   FilterConfig     `yaml:"filters"`
	LogLevel  string           `yaml:"logLevel"`
	Audit     AuditConfig      `yaml:"audit"`
	Dashboard DashboardConfig  `yaml:"dashboard"`
}

// ListenerConfig describes one front-facing socket and the upstream it
// dials. Mode is "raw" or "http". TLS termination on the client side and
// TLS initiation on the upstream side are independently optional.
type ListenerConfig struct {
	Name          string     `yaml:"name"`
	Addr          string     `yaml:"addr"`
	Mode          string     `yaml:"mode"`
	Upstream      string     `yaml:"upstream"`
	IdleTimeoutMs int        `yaml:"idleTimeoutMs"`
	TLS           *TLSConfig `yaml:"tls"`
	UpstreamTLS   *TLSConfig `yaml:"upstreamTLS"`
}

// TLSConfig mirrors the handshake parameters internal/tlsterm consumes.
// VerifyMode is one of "none", "optional", "required".
type TLSConfig struct {
	CertFile   string   `yaml:"certFile"`
	KeyFile    string   `yaml:"keyFile"`
	ClientCA   string   `yaml:"clientCA"`
	VerifyMode string   `yaml:"verifyMode"`
	ALPN       []string `yaml:"alpn"`
}

// FilterConfig lists the directories the Filter Host watches for
// -buildmode=plugin shared objects.
type FilterConfig struct {
	Paths []string `yaml:"paths"`
}

// AuditConfig controls the hash-chained JSONL audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DashboardConfig controls the read-only operator web UI.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `proxad config init` creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by `proxad config init` when no config file
// exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# proxad configuration
#
# listeners:
#   - name: front
#     addr: Bind address (host:port)
#     mode: raw | http
#     upstream: Dial target for this listener's traffic
#     idleTimeoutMs: Per-connection idle timeout
#     tls: {certFile, keyFile, clientCA, verifyMode, alpn} — client-facing TLS, omit for plaintext
#     upstreamTLS: same shape — re-wrap the upstream dial in TLS
#
# filters:
#   paths: directories of -buildmode=plugin filter modules to load and watch
#
# logLevel: debug | info | warn | error
#
# audit:
#   enabled: append hash-chained JSONL audit entries
#   dir: directory for the daily audit log files
#
# dashboard:
#   enabled: serve the read-only operator web UI
#   addr: bind address for the dashboard listener

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default
// values.
func applyDefaults() *Config {
	return &Config{
		Listeners: []ListenerConfig{
			{
				Name:          "front",
				Addr:          "127.0.0.1:8080",
				Mode:          "raw",
				Upstream:      "127.0.0.1:9090",
				IdleTimeoutMs: 60000,
			},
		},
		Filters: FilterConfig{
			Paths: []string{"filters"},
		},
		LogLevel: "info",
		Audit: AuditConfig{
			Enabled: true,
			Dir:     "audit",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8081",
		},
	}
}

var validModes = map[string]bool{"raw": true, "http": true}
var validVerifyModes = map[string]bool{"none": true, "optional": true, "required": true, "": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	for _, l := range cfg.Listeners {
		if l.Name == "" {
			return fmt.Errorf("listener: name must not be empty")
		}
		if l.Addr == "" {
			return fmt.Errorf("listener %q: addr must not be empty", l.Name)
		}
		if !validModes[l.Mode] {
			return fmt.Errorf("listener %q: mode must be raw or http, got %q", l.Name, l.Mode)
		}
		if l.Upstream == "" {
			return fmt.Errorf("listener %q: upstream is required", l.Name)
		}
		if l.IdleTimeoutMs < 0 {
			return fmt.Errorf("listener %q: idleTimeoutMs must be non-negative", l.Name)
		}
		if err := validateTLS(l.Name, l.TLS); err != nil {
			return err
		}
		if err := validateTLS(l.Name, l.UpstreamTLS); err != nil {
			return err
		}
	}

	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}

	if cfg.Audit.Enabled && cfg.Audit.Dir == "" {
		return fmt.Errorf("audit.dir is required when audit is enabled")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr is required when dashboard is enabled")
	}

	return nil
}

func validateTLS(listenerName string, t *TLSConfig) error {
	if t == nil {
		return nil
	}
	if !validVerifyModes[t.VerifyMode] {
		return fmt.Errorf("listener %q: tls.verifyMode must be none/optional/required, got %q", listenerName, t.VerifyMode)
	}
	return nil
}
