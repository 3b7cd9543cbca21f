package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/magebox/magebox/pkg/environment"
	"github.com/magebox/magebox/pkg/supervisor"
	"github.com/magebox/magebox/pkg/telemetry"
)

// Config is the magebox tool configuration.
type Config struct {
	// Environments lists known project roots. A command run from a
	// subdirectory of one of them operates on that root.
	Environments []string `yaml:"environments" validate:"dive,required"`

	// Paths locates the docker files inside a project.
	Paths environment.Paths `yaml:"paths"`

	// Timeouts overrides the operation budgets. Zero keeps the default.
	Timeouts Timeouts `yaml:"timeouts"`

	// Sync configures the file synchronization session.
	Sync SyncConfig `yaml:"sync"`

	// Registry is where image tags are looked up.
	Registry RegistryConfig `yaml:"registry"`

	// Store configures the run journal.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Timeouts are per-operation budgets.
type Timeouts struct {
	Build time.Duration `yaml:"build" validate:"gte=0"`
	Start time.Duration `yaml:"start" validate:"gte=0"`
	Stop  time.Duration `yaml:"stop" validate:"gte=0"`
	Purge time.Duration `yaml:"purge" validate:"gte=0"`
}

// Overrides returns the non-zero budgets keyed by operation.
func (t Timeouts) Overrides() map[supervisor.Operation]time.Duration {
	out := make(map[supervisor.Operation]time.Duration)
	for op, d := range map[supervisor.Operation]time.Duration{
		supervisor.OpBuild: t.Build,
		supervisor.OpStart: t.Start,
		supervisor.OpStop:  t.Stop,
		supervisor.OpPurge: t.Purge,
	} {
		if d > 0 {
			out[op] = d
		}
	}
	return out
}

// SyncConfig configures the mutagen session.
type SyncConfig struct {
	// Binary is the mutagen executable.
	Binary string `yaml:"binary" validate:"required"`

	// Container is the compose service hosting the beta endpoint.
	Container string `yaml:"container" validate:"required"`

	// BetaPath is the directory synchronized inside the container.
	BetaPath string `yaml:"beta_path" validate:"required,startswith=/"`

	// Owner owns the files created on the beta side.
	Owner string `yaml:"owner"`

	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`

	// Ignore lists paths excluded from synchronization.
	Ignore []string `yaml:"ignore"`
}

// RegistryConfig locates the image registry.
type RegistryConfig struct {
	URL       string `yaml:"url" validate:"required,url"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// StoreConfig configures the run journal.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `yaml:"path"`
}

// TelemetryConfig is the user-facing subset of telemetry.Config.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	Tracing TracingConfig `yaml:"tracing"`

	// MetricsTextfile is where metrics are written on exit.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// TracingConfig configures the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure"`
}

// Apply copies the configured values onto cfg.
func (t TelemetryConfig) Apply(cfg *telemetry.Config) {
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	cfg.Tracing.Exporter = t.Tracing.Exporter
	cfg.Tracing.Endpoint = t.Tracing.Endpoint
	cfg.Tracing.Insecure = t.Tracing.Insecure
	cfg.Tracing.Enabled = t.Tracing.Exporter != "" && t.Tracing.Exporter != "none"
	cfg.Metrics.TextfilePath = t.MetricsTextfile
}

// Dir returns the magebox home directory, ~/.magebox.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".magebox"
	}
	return filepath.Join(home, ".magebox")
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yml")
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Paths: environment.DefaultPaths(),
		Sync: SyncConfig{
			Binary:          "mutagen",
			Container:       "synchro",
			BetaPath:        "/var/www/html/",
			Owner:           "www-data",
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			Ignore: []string{
				"/.idea",
				"/var/cache",
				"/var/page_cache",
				"/var/session",
				"/pub/static",
				"/generated",
			},
		},
		Registry: RegistryConfig{
			URL:       "https://hub.docker.com",
			Namespace: "emakinafr",
		},
		Store: StoreConfig{
			Path: filepath.Join(Dir(), "journal.db"),
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing: TracingConfig{
				Exporter: "none",
				Insecure: true,
			},
		},
	}
}
