// Package daemon loads configuration and wires the negotiate services into
// one running process.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/negotiate-network/negotiate/internal/app/executor"
	"github.com/negotiate-network/negotiate/internal/app/importer"
	"github.com/negotiate-network/negotiate/internal/infra/gateway"
	"github.com/negotiate-network/negotiate/internal/infra/notify"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// HomeEnv overrides the data directory.
const HomeEnv = "NEGOTIATE_HOME"

// Config is the full negotiate configuration, read from config.toml.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Jobs    JobsConfig    `toml:"jobs"`
	Import  ImportConfig  `toml:"import"`
	Gateway GatewayConfig `toml:"gateway"`
	Notify  NotifyConfig  `toml:"notify"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig locates the database and stored files.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// JobsConfig configures the job runner and the due-charge sweep.
type JobsConfig struct {
	MaxConcurrent int    `toml:"max_concurrent"`
	MaxAttempts   int    `toml:"max_attempts"`
	Backoff       string `toml:"backoff"`
	Timeout       string `toml:"timeout"`
	SweepInterval string `toml:"sweep_interval"`
	SweepLimit    int    `toml:"sweep_limit"`
}

// ImportConfig configures the CSV reconciler.
type ImportConfig struct {
	BatchSize  int    `toml:"batch_size"`
	DateFormat string `toml:"date_format"`
}

// GatewayConfig configures the payment provider clients.
type GatewayConfig struct {
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Sandbox           bool    `toml:"sandbox"`
	AuthorizeNetURL   string  `toml:"authorizenet_url"`
	USAePayURL        string  `toml:"usaepay_url"`
	StripeURL         string  `toml:"stripe_url"`
	TilledURL         string  `toml:"tilled_url"`
}

// NotifyConfig configures notification delivery. Channels without an
// endpoint are written to the log.
type NotifyConfig struct {
	QueueSize     int    `toml:"queue_size"`
	EmailEndpoint string `toml:"email_endpoint"`
	SMSEndpoint   string `toml:"sms_endpoint"`
	Timeout       string `toml:"timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{Host: "127.0.0.1", Port: 8088},
		Storage: StorageConfig{
			DataDir: Home(),
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
			MaxAttempts:   3,
			Backoff:       "30s",
			Timeout:       "2m",
			SweepInterval: "1h",
			SweepLimit:    500,
		},
		Import: ImportConfig{
			BatchSize:  500,
			DateFormat: time.DateOnly,
		},
		Gateway: GatewayConfig{
			Timeout:           "30s",
			RequestsPerSecond: 10,
		},
		Notify: NotifyConfig{
			QueueSize: 256,
			Timeout:   "10s",
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Home returns $NEGOTIATE_HOME or ~/.negotiate.
func Home() string {
	if h := os.Getenv(HomeEnv); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".negotiate"
	}
	return filepath.Join(home, ".negotiate")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults; an empty path means ConfigPath().
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if h := os.Getenv(HomeEnv); h != "" {
		cfg.Storage.DataDir = h
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and parses every duration once.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Jobs.MaxConcurrent <= 0 || c.Jobs.MaxAttempts <= 0 {
		return errors.New("jobs.max_concurrent and jobs.max_attempts must be positive")
	}
	if c.Import.BatchSize <= 0 {
		return errors.New("import.batch_size must be positive")
	}
	for key, v := range map[string]string{
		"jobs.backoff":        c.Jobs.Backoff,
		"jobs.timeout":        c.Jobs.Timeout,
		"jobs.sweep_interval": c.Jobs.SweepInterval,
		"gateway.timeout":     c.Gateway.Timeout,
		"notify.timeout":      c.Notify.Timeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if duration(c.Jobs.SweepInterval) <= 0 {
		return errors.New("jobs.sweep_interval must be positive")
	}
	return nil
}

// duration parses a validated duration string.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ─── Component Configs ──────────────────────────────────────────────────────

// ExecutorConfig maps [jobs] to the job runner.
func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		MaxConcurrent:  c.Jobs.MaxConcurrent,
		MaxAttempts:    c.Jobs.MaxAttempts,
		Backoff:        duration(c.Jobs.Backoff),
		DefaultTimeout: duration(c.Jobs.Timeout),
	}
}

// SweepInterval returns the due-charge sweep period.
func (c Config) SweepInterval() time.Duration {
	return duration(c.Jobs.SweepInterval)
}

// ImporterConfig maps [import] to the reconciler.
func (c Config) ImporterConfig() importer.Config {
	return importer.Config{BatchSize: c.Import.BatchSize, DateFormat: c.Import.DateFormat}
}

// GatewayClientConfig maps [gateway] to the provider clients.
func (c Config) GatewayClientConfig() gateway.Config {
	return gateway.Config{
		Timeout:           duration(c.Gateway.Timeout),
		RequestsPerSecond: c.Gateway.RequestsPerSecond,
		Sandbox:           c.Gateway.Sandbox,
		AuthorizeNetURL:   c.Gateway.AuthorizeNetURL,
		USAePayURL:        c.Gateway.USAePayURL,
		StripeURL:         c.Gateway.StripeURL,
		TilledURL:         c.Gateway.TilledURL,
	}
}

// NotifyDispatcherConfig maps [notify] to the dispatcher queue.
func (c Config) NotifyDispatcherConfig() notify.Config {
	return notify.Config{QueueSize: c.Notify.QueueSize}
}

// LoggerConfig maps [log] to the logger builder.
func (c Config) LoggerConfig() observability.LogConfig {
	return observability.LogConfig{Level: c.Log.Level, Format: c.Log.Format}
}
