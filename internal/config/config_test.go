package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"RAILKPI_PORT", "RAILKPI_METRICS_PORT", "RAILKPI_ADMIN_TOKEN", "RAILKPI_CORS_ORIGINS",
	"RAILKPI_DATABASE_DRIVER", "RAILKPI_DATABASE_URL", "RAILKPI_SEED_FILE", "RAILKPI_HERMES_URL",
	"RAILKPI_FITTING_METHOD", "RAILKPI_FITTING_MAX_ITERATIONS", "RAILKPI_FITTING_WORKERS",
	"RAILKPI_ANCHOR_SATURATING_ORIGIN", "RAILKPI_SURVEY_DIR", "RAILKPI_LOG_LEVEL",
	"RAILKPI_RELOAD_INTERVAL_MS", "RAILKPI_REFRESH_INTERVAL_MS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8700 {
		t.Errorf("expected port 8700, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected metrics port 8701, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.RateLimit != 120 {
		t.Errorf("expected rate limit 120, got %d", cfg.Server.RateLimit)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Database.Driver)
	}
	if cfg.Hermes.URL != "nats://localhost:4222" {
		t.Errorf("expected nats URL, got %s", cfg.Hermes.URL)
	}
	if cfg.Fitting.Method != "lm" {
		t.Errorf("expected lm, got %s", cfg.Fitting.Method)
	}
	if cfg.Fitting.MaxIterations != 10000 {
		t.Errorf("expected 10000 iterations, got %d", cfg.Fitting.MaxIterations)
	}
	if cfg.Fitting.MinPoints != 2 {
		t.Errorf("expected min points 2, got %d", cfg.Fitting.MinPoints)
	}
	if cfg.Fitting.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Fitting.Workers)
	}
	if cfg.Fitting.AnchorSaturatingOrigin {
		t.Error("expected anchored saturating fit disabled by default")
	}
	if got := strings.Join(cfg.Fitting.ScaledCategories, ","); got != "high_speed,conventional" {
		t.Errorf("unexpected scaled categories %q", got)
	}
	if cfg.Fitting.ScaleFactor != 10000 {
		t.Errorf("expected scale factor 10000, got %g", cfg.Fitting.ScaleFactor)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
	if cfg.ReloadInterval() != 0 || cfg.RefreshInterval() != 0 {
		t.Errorf("expected background loops disabled, got %v/%v", cfg.ReloadInterval(), cfg.RefreshInterval())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAILKPI_PORT", "9000")
	t.Setenv("RAILKPI_METRICS_PORT", "9001")
	t.Setenv("RAILKPI_ADMIN_TOKEN", "secret-token")
	t.Setenv("RAILKPI_CORS_ORIGINS", "http://localhost:8501, https://dash.example.com")
	t.Setenv("RAILKPI_DATABASE_DRIVER", "Postgres")
	t.Setenv("RAILKPI_DATABASE_URL", "postgres://localhost/railkpi_test")
	t.Setenv("RAILKPI_HERMES_URL", "")
	t.Setenv("RAILKPI_FITTING_METHOD", "nelder-mead")
	t.Setenv("RAILKPI_FITTING_MAX_ITERATIONS", "500")
	t.Setenv("RAILKPI_FITTING_WORKERS", "8")
	t.Setenv("RAILKPI_ANCHOR_SATURATING_ORIGIN", "true")
	t.Setenv("RAILKPI_SURVEY_DIR", "/data/mini")
	t.Setenv("RAILKPI_LOG_LEVEL", "debug")
	t.Setenv("RAILKPI_RELOAD_INTERVAL_MS", "30000")
	t.Setenv("RAILKPI_REFRESH_INTERVAL_MS", "3600000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.MetricsPort != 9001 {
		t.Errorf("unexpected ports %d/%d", cfg.Server.Port, cfg.Server.MetricsPort)
	}
	if cfg.Server.AdminToken != "secret-token" {
		t.Errorf("expected admin token 'secret-token', got '%s'", cfg.Server.AdminToken)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://dash.example.com" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got '%s'", cfg.Database.Driver)
	}
	if cfg.Hermes.URL != "" {
		t.Errorf("expected hermes disabled, got '%s'", cfg.Hermes.URL)
	}
	if cfg.Fitting.Method != "nelder-mead" || cfg.Fitting.MaxIterations != 500 || cfg.Fitting.Workers != 8 {
		t.Errorf("unexpected fitting config %+v", cfg.Fitting)
	}
	if !cfg.Fitting.AnchorSaturatingOrigin {
		t.Error("expected anchored saturating fit enabled")
	}
	if cfg.Fitting.SurveyDir != "/data/mini" {
		t.Errorf("expected survey dir, got '%s'", cfg.Fitting.SurveyDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", cfg.Logging.Level)
	}
	if cfg.ReloadInterval() != 30*time.Second {
		t.Errorf("expected 30s reload interval, got %v", cfg.ReloadInterval())
	}
	if cfg.RefreshInterval() != time.Hour {
		t.Errorf("expected 1h refresh interval, got %v", cfg.RefreshInterval())
	}
}

func TestRefreshIntervalNeedsSurveyDir(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAILKPI_REFRESH_INTERVAL_MS", "1000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RefreshInterval() != 0 {
		t.Errorf("expected refresh disabled without survey dir, got %v", cfg.RefreshInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "railkpi.yaml")
	yaml := `
server:
  port: 7000
database:
  driver: sqlite
  url: file:coeffs.db
  seed_file: data/coefficients.tsv
fitting:
  scaled_categories: [high_speed]
  min_points: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("expected port 7000, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected default metrics port to survive, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SeedFile != "data/coefficients.tsv" {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if len(cfg.Fitting.ScaledCategories) != 1 || cfg.Fitting.MinPoints != 3 {
		t.Errorf("unexpected fitting config %+v", cfg.Fitting)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.URL = "" }},
		{"unknown method", func(c *Config) { c.Fitting.Method = "bfgs" }},
		{"zero iterations", func(c *Config) { c.Fitting.MaxIterations = 0 }},
		{"one point", func(c *Config) { c.Fitting.MinPoints = 1 }},
		{"no workers", func(c *Config) { c.Fitting.Workers = 0 }},
		{"zero scale", func(c *Config) { c.Fitting.ScaleFactor = 0 }},
		{"negative reload", func(c *Config) { c.Database.ReloadIntervalMs = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateNormalizesDriver(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	c := *base
	c.Database.Driver = " SQLite "
	if err := c.Validate(); err != nil {
		t.Fatalf("mixed-case driver should validate: %v", err)
	}
	if c.Database.Driver != DriverSQLite {
		t.Errorf("driver = %q, want %q", c.Database.Driver, DriverSQLite)
	}

	path := filepath.Join(t.TempDir(), "railkpi.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: Postgres\n  url: postgres://localhost/railkpi\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load with capitalised driver failed: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("driver = %q, want %q", cfg.Database.Driver, DriverPostgres)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
