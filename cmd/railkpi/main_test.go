package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikeSquared-Agency/RailKPI/internal/config"
	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

func TestFitterOptions(t *testing.T) {
	opts, err := fitterOptions(config.FittingConfig{
		Method:           "Nelder-Mead",
		MaxIterations:    200,
		MinPoints:        3,
		ScaledCategories: []string{"고속철도", "Conventional"},
		ScaleFactor:      10000,
	})
	if err != nil {
		t.Fatalf("fitterOptions: %v", err)
	}
	if opts.Method != fitting.MethodNelderMead {
		t.Errorf("expected nelder-mead, got %s", opts.Method)
	}
	if len(opts.ScaledCategories) != 2 || opts.ScaledCategories[0] != kpi.HighSpeed || opts.ScaledCategories[1] != kpi.Conventional {
		t.Errorf("unexpected scaled categories %v", opts.ScaledCategories)
	}

	if _, err := fitterOptions(config.FittingConfig{Method: "bfgs"}); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestSeedLoader(t *testing.T) {
	rows, err := seedLoader("")()
	if err != nil {
		t.Fatalf("built-in defaults: %v", err)
	}
	if len(rows) != len(store.DefaultCoefficients()) {
		t.Errorf("expected built-in rows, got %d", len(rows))
	}

	path := filepath.Join(t.TempDir(), "coefficients.tsv")
	table := "rail_type\tkpi\tparam1_name\tparam1_value\nhigh_speed\tTV\tc\t0.05\n"
	if err := os.WriteFile(path, []byte(table), 0o600); err != nil {
		t.Fatal(err)
	}
	rows, err = seedLoader(path)()
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if len(rows) != 1 || rows[0].KPI != kpi.ScheduledSpeed {
		t.Errorf("unexpected rows %+v", rows)
	}

	if _, err := seedLoader(filepath.Join(t.TempDir(), "missing.tsv"))(); err == nil {
		t.Error("expected error for missing seed file")
	}
}

func TestOpenStoreMemory(t *testing.T) {
	s, err := openStore(context.Background(), config.DatabaseConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*store.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", s)
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "text"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level enabled")
	}
	logger = newLogger(config.LoggingConfig{Level: "nonsense"})
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected fallback to info")
	}
}
