// Package config loads Quasar's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PulsarMode selects how the hub talks to the PULSAR engine.
type PulsarMode string

const (
	PulsarModeSubprocess PulsarMode = "subprocess"
	PulsarModeFIFO       PulsarMode = "fifo"
)

// Config holds every environment-driven setting the relay needs.
type Config struct {
	HTTPPort int // WS + HTTP listen port
	OSCPort  int // UDP listen port for OSC

	PulsarMode     PulsarMode
	PulsarFIFOPath string
	PulsarBinPath  string

	RuntimeDir string // TSM-visible runtime root, holds processes/ and next_id

	Verbose bool

	LogLevel string
	LogFile  string

	MetricsAddr string // read from QUASAR_METRICS_ADDR; /metrics and /healthz are always served on HTTPPort, and no separate listener is started for this address
}

// fileOverride mirrors a subset of Config for the optional quasar.yaml
// local-dev override file. Only fields actually present in the file are
// applied, and only to settings whose environment variable wasn't set —
// the environment always wins over the file.
type fileOverride struct {
	HTTPPort       *int    `yaml:"http_port,omitempty"`
	OSCPort        *int    `yaml:"osc_port,omitempty"`
	PulsarMode     *string `yaml:"pulsar_mode,omitempty"`
	PulsarFIFOPath *string `yaml:"pulsar_fifo_path,omitempty"`
	PulsarBinPath  *string `yaml:"pulsar_bin,omitempty"`
	RuntimeDir     *string `yaml:"runtime_dir,omitempty"`
	Verbose        *bool   `yaml:"verbose,omitempty"`
	LogLevel       *string `yaml:"log_level,omitempty"`
	LogFile        *string `yaml:"log_file,omitempty"`
	MetricsAddr    *string `yaml:"metrics_addr,omitempty"`
}

// loadFileOverride reads quasar.yaml from the given directory. A missing
// file is not an error; it just means no local-dev overrides apply.
func loadFileOverride(dir string) (*fileOverride, error) {
	data, err := os.ReadFile(filepath.Join(dir, "quasar.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return &fileOverride{}, nil
		}
		return nil, err
	}
	ov := &fileOverride{}
	if err := yaml.Unmarshal(data, ov); err != nil {
		return nil, fmt.Errorf("config: parsing quasar.yaml: %w", err)
	}
	return ov, nil
}

// Load reads configuration from the environment, applying the defaults from
// the distilled spec's configuration table. It then layers in quasar.yaml
// from the current directory, if present, for settings not already pinned
// by an environment variable.
func Load() (*Config, error) {
	ov, err := loadFileOverride(".")
	if err != nil {
		return nil, err
	}

	runtimeDir := envOr("QUASAR_RUNTIME_DIR", derefOr(ov.RuntimeDir, defaultRuntimeDir()))

	cfg := &Config{
		HTTPPort:       envInt("QUASAR_HTTP_PORT", derefOr(ov.HTTPPort, 1985)),
		OSCPort:        envInt("QUASAR_OSC_PORT", derefOr(ov.OSCPort, 1986)),
		PulsarMode:     PulsarMode(envOr("QUASAR_PULSAR_MODE", derefOr(ov.PulsarMode, string(PulsarModeSubprocess)))),
		PulsarFIFOPath: envOr("QUASAR_PULSAR_FIFO_PATH", derefOr(ov.PulsarFIFOPath, filepath.Join(runtimeDir, "pulsar.fifo"))),
		PulsarBinPath:  envOr("QUASAR_PULSAR_BIN", derefOr(ov.PulsarBinPath, defaultPulsarBin())),
		RuntimeDir:     runtimeDir,
		Verbose:        envBool("QUASAR_VERBOSE", derefOr(ov.Verbose, false)),
		LogLevel:       envOr("QUASAR_LOG_LEVEL", derefOr(ov.LogLevel, "info")),
		LogFile:        envOr("QUASAR_LOG_FILE", derefOr(ov.LogFile, "")),
		MetricsAddr:    envOr("QUASAR_METRICS_ADDR", derefOr(ov.MetricsAddr, "")),
	}

	if cfg.PulsarMode != PulsarModeSubprocess && cfg.PulsarMode != PulsarModeFIFO {
		return nil, fmt.Errorf("config: QUASAR_PULSAR_MODE must be %q or %q, got %q", PulsarModeSubprocess, PulsarModeFIFO, cfg.PulsarMode)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("config: QUASAR_HTTP_PORT out of range: %d", cfg.HTTPPort)
	}
	if cfg.OSCPort <= 0 || cfg.OSCPort > 65535 {
		return nil, fmt.Errorf("config: QUASAR_OSC_PORT out of range: %d", cfg.OSCPort)
	}

	return cfg, nil
}

// HTTPAddr is the listen address for the WebSocket/HTTP/control surface.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// OSCAddr is the listen address for the OSC UDP ingest socket.
func (c *Config) OSCAddr() string {
	return fmt.Sprintf(":%d", c.OSCPort)
}

// ProcessesDir is the TSM-visible directory holding one subdirectory per
// managed process.
func (c *Config) ProcessesDir() string {
	return filepath.Join(c.RuntimeDir, "processes")
}

// NextIDFile is the counter file used to mint supervisor entry IDs.
func (c *Config) NextIDFile() string {
	return filepath.Join(c.RuntimeDir, "next_id")
}

func defaultRuntimeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".quasar", "run")
	}
	return filepath.Join(os.TempDir(), "quasar-run")
}

func defaultPulsarBin() string {
	wd, err := os.Getwd()
	if err != nil {
		return "pulsar"
	}
	return filepath.Join(wd, "bin", "pulsar")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// derefOr returns *p, or fallback if p is nil. Used to apply quasar.yaml
// overrides only for fields the file actually set.
func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
