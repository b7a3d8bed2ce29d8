package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/RailKPI/internal/api"
	"github.com/MikeSquared-Agency/RailKPI/internal/calibration"
	"github.com/MikeSquared-Agency/RailKPI/internal/config"
	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/scheduler"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Coefficient store
	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open coefficient store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("coefficient store ready", "driver", cfg.Database.Driver)

	defaults := seedLoader(cfg.Database.SeedFile)
	repo := store.NewRepository(db, logger)
	snap, err := repo.Load(ctx)
	if err != nil {
		logger.Error("failed to load coefficients", "error", err)
		os.Exit(1)
	}
	if len(snap.Rows()) == 0 {
		rows, err := defaults()
		if err != nil {
			logger.Error("failed to read seed coefficients", "file", cfg.Database.SeedFile, "error", err)
			os.Exit(1)
		}
		if _, err := repo.Restore(ctx, rows); err != nil {
			logger.Error("failed to seed coefficients", "error", err)
			os.Exit(1)
		}
	}

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Fitting
	opts, err := fitterOptions(cfg.Fitting)
	if err != nil {
		logger.Error("invalid fitting config", "error", err)
		os.Exit(1)
	}
	svc := calibration.New(repo, fitting.NewFitter(opts), hermesClient, cfg.Fitting.Workers, logger)
	svc.SetupSubscriptions()
	logger.Info("calibration service ready", "method", opts.Method, "workers", cfg.Fitting.Workers)

	// Background reload and refresh
	var surveys fs.FS
	if cfg.Fitting.SurveyDir != "" {
		surveys = os.DirFS(cfg.Fitting.SurveyDir)
	}
	sched := scheduler.New(repo, svc, surveys, cfg.ReloadInterval(), cfg.RefreshInterval(), logger)
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("scheduler started", "reload_interval", cfg.ReloadInterval(), "refresh_interval", cfg.RefreshInterval())

	// API server
	router := api.NewRouter(api.Deps{
		Repo:        repo,
		Calibration: svc,
		Hermes:      hermesClient,
		Defaults:    defaults,
	}, cfg.Server, cfg.Fitting.SurveyDir, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.URL)
	case config.DriverSQLite:
		return store.NewSQLiteStore(ctx, cfg.URL)
	default:
		return store.NewMemoryStore(nil), nil
	}
}

// seedLoader returns the table used to seed an empty store and by the
// restore endpoint: the seed file when configured, else the built-in rows.
func seedLoader(path string) api.DefaultsFunc {
	if path == "" {
		return func() ([]store.Coefficient, error) {
			return store.DefaultCoefficients(), nil
		}
	}
	return func() ([]store.Coefficient, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return store.ReadCoefficients(f)
	}
}

func fitterOptions(cfg config.FittingConfig) (fitting.Options, error) {
	method, err := fitting.ParseMethod(cfg.Method)
	if err != nil {
		return fitting.Options{}, err
	}
	scaled := make([]kpi.Category, 0, len(cfg.ScaledCategories))
	for _, c := range cfg.ScaledCategories {
		scaled = append(scaled, kpi.NormalizeCategory(c))
	}
	return fitting.Options{
		Method:           method,
		MaxIterations:    cfg.MaxIterations,
		MinPoints:        cfg.MinPoints,
		AnchorOrigin:     cfg.AnchorSaturatingOrigin,
		ScaledCategories: scaled,
		ScaleFactor:      cfg.ScaleFactor,
	}, nil
}
