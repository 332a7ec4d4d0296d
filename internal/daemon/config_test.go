package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/negotiate-test")
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8088 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8088)
	}
	if cfg.Storage.DataDir != "/tmp/negotiate-test" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/negotiate-test")
	}
	if cfg.Import.BatchSize != 500 {
		t.Errorf("Import.BatchSize = %d, want %d", cfg.Import.BatchSize, 500)
	}
	if cfg.Import.DateFormat != time.DateOnly {
		t.Errorf("Import.DateFormat = %q, want %q", cfg.Import.DateFormat, time.DateOnly)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	ex := cfg.ExecutorConfig()
	if ex.MaxAttempts != 3 || ex.Backoff != 30*time.Second || ex.DefaultTimeout != 2*time.Minute {
		t.Errorf("ExecutorConfig() = %+v", ex)
	}
	if got := cfg.SweepInterval(); got != time.Hour {
		t.Errorf("SweepInterval() = %v, want 1h", got)
	}
	if got := cfg.GatewayClientConfig().Timeout; got != 30*time.Second {
		t.Errorf("gateway Timeout = %v, want 30s", got)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 8088 {
		t.Errorf("API.Port = %d, want default 8088", cfg.API.Port)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[api]
port = 9090

[jobs]
max_attempts = 5
backoff = "1m"

[gateway]
sandbox = true
stripe_url = "http://localhost:12111"

[notify]
email_endpoint = "https://hooks.example.com/email"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9090 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API = %+v, want port override with default host", cfg.API)
	}
	if cfg.Jobs.MaxAttempts != 5 || cfg.ExecutorConfig().Backoff != time.Minute {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Jobs.MaxConcurrent != 4 {
		t.Errorf("Jobs.MaxConcurrent = %d, want default 4", cfg.Jobs.MaxConcurrent)
	}
	gw := cfg.GatewayClientConfig()
	if !gw.Sandbox || gw.StripeURL != "http://localhost:12111" {
		t.Errorf("gateway config = %+v", gw)
	}
	if cfg.Notify.EmailEndpoint != "https://hooks.example.com/email" {
		t.Errorf("Notify.EmailEndpoint = %q", cfg.Notify.EmailEndpoint)
	}
	if cfg.Storage.DataDir != home {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, home)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"bad backoff", func(c *Config) { c.Jobs.Backoff = "soon" }, "jobs.backoff"},
		{"bad gateway timeout", func(c *Config) { c.Gateway.Timeout = "30" }, "gateway.timeout"},
		{"zero batch size", func(c *Config) { c.Import.BatchSize = 0 }, "import.batch_size"},
		{"zero attempts", func(c *Config) { c.Jobs.MaxAttempts = 0 }, "jobs.max_concurrent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestAPIConfig_Addr(t *testing.T) {
	if got := (APIConfig{Host: "0.0.0.0", Port: 8088}).Addr(); got != "0.0.0.0:8088" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8088", got)
	}
}
