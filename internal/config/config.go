package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Fitting  FittingConfig  `yaml:"fitting"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	MetricsPort int      `yaml:"metrics_port"`
	AdminToken  string   `yaml:"admin_token"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   int      `yaml:"rate_limit"`
}

// DatabaseConfig selects the coefficient store. URL is a Postgres
// connection string or a SQLite DSN depending on Driver. SeedFile, when set,
// is the coefficient table loaded into an empty store and used by restore.
// ReloadIntervalMs re-reads the table so replicas sharing a database pick up
// each other's writes; 0 disables it.
type DatabaseConfig struct {
	Driver           string `yaml:"driver"`
	URL              string `yaml:"url"`
	SeedFile         string `yaml:"seed_file"`
	ReloadIntervalMs int    `yaml:"reload_interval_ms"`
}

// HermesConfig points at NATS. An empty URL disables events.
type HermesConfig struct {
	URL string `yaml:"url"`
}

type FittingConfig struct {
	Method                 string   `yaml:"method"`
	MaxIterations          int      `yaml:"max_iterations"`
	MinPoints              int      `yaml:"min_points"`
	Workers                int      `yaml:"workers"`
	AnchorSaturatingOrigin bool     `yaml:"anchor_saturating_origin"`
	ScaledCategories       []string `yaml:"scaled_categories"`
	ScaleFactor            float64  `yaml:"scale_factor"`
	SurveyDir              string   `yaml:"survey_dir"`
	RefreshIntervalMs      int      `yaml:"refresh_interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.Database.ReloadIntervalMs) * time.Millisecond
}

// RefreshInterval is how often the survey directory is re-fitted. It is
// zero when no survey directory is configured.
func (c *Config) RefreshInterval() time.Duration {
	if c.Fitting.SurveyDir == "" {
		return 0
	}
	return time.Duration(c.Fitting.RefreshIntervalMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
			RateLimit:   120,
		},
		Database: DatabaseConfig{
			Driver: DriverMemory,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Fitting: FittingConfig{
			Method:           "lm",
			MaxIterations:    10000,
			MinPoints:        2,
			Workers:          4,
			ScaledCategories: []string{"high_speed", "conventional"},
			ScaleFactor:      10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch strings.ToLower(c.Fitting.Method) {
	case "", "lm", "nelder-mead":
	default:
		return fmt.Errorf("unknown fitting method %q", c.Fitting.Method)
	}
	if c.Fitting.MaxIterations <= 0 {
		return fmt.Errorf("fitting.max_iterations must be positive, got %d", c.Fitting.MaxIterations)
	}
	if c.Fitting.MinPoints < 2 {
		return fmt.Errorf("fitting.min_points must be at least 2, got %d", c.Fitting.MinPoints)
	}
	if c.Fitting.Workers <= 0 {
		return fmt.Errorf("fitting.workers must be positive, got %d", c.Fitting.Workers)
	}
	if c.Database.ReloadIntervalMs < 0 || c.Fitting.RefreshIntervalMs < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.Fitting.ScaleFactor <= 0 {
		return fmt.Errorf("fitting.scale_factor must be positive, got %g", c.Fitting.ScaleFactor)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RAILKPI_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("RAILKPI_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("RAILKPI_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("RAILKPI_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("RAILKPI_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("RAILKPI_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RAILKPI_SEED_FILE"); v != "" {
		cfg.Database.SeedFile = v
	}
	if v := os.Getenv("RAILKPI_RELOAD_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.ReloadIntervalMs = n
		}
	}
	if v, ok := os.LookupEnv("RAILKPI_HERMES_URL"); ok {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("RAILKPI_FITTING_METHOD"); v != "" {
		cfg.Fitting.Method = v
	}
	if v := os.Getenv("RAILKPI_FITTING_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fitting.MaxIterations = n
		}
	}
	if v := os.Getenv("RAILKPI_FITTING_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fitting.Workers = n
		}
	}
	if v := os.Getenv("RAILKPI_ANCHOR_SATURATING_ORIGIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fitting.AnchorSaturatingOrigin = b
		}
	}
	if v := os.Getenv("RAILKPI_SURVEY_DIR"); v != "" {
		cfg.Fitting.SurveyDir = v
	}
	if v := os.Getenv("RAILKPI_REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fitting.RefreshIntervalMs = n
		}
	}
	if v := os.Getenv("RAILKPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
