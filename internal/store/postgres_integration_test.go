//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, "TRUNCATE railkpi_coefficients")
		_, _ = s.pool.Exec(ctx, "TRUNCATE railkpi_calibration_runs")
		s.Close()
	})

	return s
}

func TestPostgresReplaceCoefficients(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.ResetCoefficients(ctx, DefaultCoefficients()); err != nil {
		t.Fatalf("ResetCoefficients failed: %v", err)
	}
	replacement := []Coefficient{
		{RailType: kpi.HighSpeed, KPI: kpi.PhysicalAccess, Param1Name: "w_walk", Param1Value: Float(50)},
		{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, ModelType: "A", Param1Name: "c", Param1Value: Float(0.05)},
	}
	if err := s.ReplaceCoefficients(ctx, KeysOf(replacement), replacement); err != nil {
		t.Fatalf("ReplaceCoefficients failed: %v", err)
	}

	rows, err := s.ListCoefficients(ctx)
	if err != nil {
		t.Fatalf("ListCoefficients failed: %v", err)
	}
	snap := BuildSnapshot(rows)
	w, _ := snap.AccessWeights(kpi.HighSpeed)
	if len(w.Modes) != 1 || w.Modes[kpi.ModeWalk] != 50 {
		t.Errorf("expected high-speed PAI rows replaced, got %+v", w)
	}
	w, _ = snap.AccessWeights(kpi.Metropolitan)
	if w.Modes[kpi.ModeWalk] != 39.06 {
		t.Errorf("expected metropolitan rows untouched, got %+v", w)
	}
	if e, ok := snap.Lookup(kpi.HighSpeed, kpi.ScheduledSpeed); !ok || e.Params["c"] != 0.05 {
		t.Errorf("expected TV row, got %+v", e)
	}
}

func TestPostgresCalibrationRuns(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	run := &CalibrationRun{
		RailType: kpi.HighSpeed, KPI: kpi.EconomicAccess, ModelType: "A", Method: "lm",
		Outcome: OutcomeSucceeded, Params: map[string]float64{"c": 0.4}, RSquared: Float(0.8),
		N: 10, ScaleFactor: 10000,
	}
	if err := s.RecordCalibration(ctx, run); err != nil {
		t.Fatalf("RecordCalibration failed: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("expected created_at to be returned")
	}

	runs, err := s.ListCalibrations(ctx, CalibrationFilter{RailType: kpi.HighSpeed})
	if err != nil {
		t.Fatalf("ListCalibrations failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ScaleFactor != 10000 || runs[0].Params["c"] != 0.4 {
		t.Errorf("unexpected runs %+v", runs)
	}
}
