package calibration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

type published struct {
	subject string
	data    interface{}
}

type mockHermes struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]func(string, []byte)
}

func (m *mockHermes) Publish(subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject, data})
	return nil
}

func (m *mockHermes) Subscribe(subject string, handler func(string, []byte)) error {
	if m.handlers == nil {
		m.handlers = make(map[string]func(string, []byte))
	}
	m.handlers[subject] = handler
	return nil
}

func (m *mockHermes) Close() {}

func (m *mockHermes) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = p.subject
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *store.Repository, *store.MemoryStore, *mockHermes) {
	t.Helper()
	ms := store.NewMemoryStore(nil)
	repo := store.NewRepository(ms, discardLogger())
	h := &mockHermes{}
	svc := New(repo, fitting.NewFitter(fitting.DefaultOptions()), h, 2, discardLogger())
	return svc, repo, ms, h
}

func saturatingSamples(c, x0 float64) fitting.SampleSet {
	var set fitting.SampleSet
	for x := 5.0; x <= 100; x += 5 {
		set = append(set, fitting.Sample{X: x, S: curve.SaturatingExpEval(x, c, x0)})
	}
	return set
}

func TestCalibratePersistsCoefficients(t *testing.T) {
	svc, repo, ms, h := newTestService(t)
	ctx := context.Background()

	out, err := svc.Calibrate(ctx, Job{RailType: "고속철도", KPI: "tv", Samples: saturatingSamples(0.05, 10)})
	require.NoError(t, err)
	require.True(t, out.Succeeded())
	assert.True(t, out.Persisted)
	assert.Contains(t, out.Summary, "TV_0=")

	entry, ok := repo.Snapshot().Lookup(kpi.HighSpeed, kpi.ScheduledSpeed)
	require.True(t, ok)
	assert.Equal(t, "A", entry.ModelType)
	assert.InDelta(t, 0.05, entry.Params["c"], 1e-3)
	assert.InDelta(t, 10, entry.Params["TV_0"], 0.5)
	require.NotNil(t, entry.RSquared)

	runs, err := ms.ListCalibrations(ctx, store.CalibrationFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeSucceeded, runs[0].Outcome)
	assert.Equal(t, kpi.HighSpeed, runs[0].RailType)
	assert.Equal(t, "lm", runs[0].Method)

	assert.Equal(t, []string{
		"railkpi.calibration.high_speed.TV.completed",
		hermes.SubjectCoefficientsReplaced,
	}, h.subjects())
}

func TestCalibrateDryRunDoesNotPersist(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	out, err := svc.Calibrate(context.Background(), Job{
		RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, Samples: saturatingSamples(0.05, 10), DryRun: true,
	})
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.False(t, out.Persisted)
	assert.True(t, out.Run.DryRun)

	_, ok := repo.Snapshot().Lookup(kpi.HighSpeed, kpi.ScheduledSpeed)
	assert.False(t, ok)
}

func TestCalibrateFailureLeavesStoreUntouched(t *testing.T) {
	svc, repo, ms, h := newTestService(t)
	ctx := context.Background()
	_, err := repo.Replace(ctx, []store.Coefficient{{
		RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, ModelType: "A",
		Param1Name: "c", Param1Value: store.Float(0.2),
	}})
	require.NoError(t, err)
	before := repo.Snapshot().Version()

	out, err := svc.Calibrate(ctx, Job{
		RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed,
		Samples: fitting.SampleSet{{X: 10, S: 5}},
	})
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	require.NotNil(t, out.Failure)
	assert.Equal(t, fitting.ReasonInsufficientData, out.Failure.Reason)
	assert.Equal(t, before, repo.Snapshot().Version())

	entry, _ := repo.Snapshot().Lookup(kpi.HighSpeed, kpi.ScheduledSpeed)
	assert.Equal(t, 0.2, entry.Params["c"])

	failed := store.OutcomeFailed
	runs, err := ms.ListCalibrations(ctx, store.CalibrationFilter{Outcome: &failed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "insufficient_data", runs[0].Reason)
	assert.Equal(t, []string{"railkpi.calibration.high_speed.TV.failed"}, h.subjects())
}

func TestCalibratePhysicalAccessKeepsModeWeights(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := repo.Restore(ctx, store.DefaultCoefficients())
	require.NoError(t, err)

	out, err := svc.Calibrate(ctx, Job{
		RailType: kpi.Metropolitan, KPI: kpi.PhysicalAccess, Samples: saturatingSamples(0.03, 5),
	})
	require.NoError(t, err)
	require.True(t, out.Persisted)

	snap := repo.Snapshot()
	entry, ok := snap.Lookup(kpi.Metropolitan, kpi.PhysicalAccess)
	require.True(t, ok)
	assert.InDelta(t, 0.03, entry.Params["c"], 1e-3)

	w, ok := snap.AccessWeights(kpi.Metropolitan)
	require.True(t, ok)
	assert.Equal(t, 39.06, w.Modes[kpi.ModeWalk])
	assert.Equal(t, 1.0, w.Alpha)
}

func TestMergeFitted(t *testing.T) {
	existing := []store.Coefficient{
		{RailType: kpi.HighSpeed, KPI: kpi.PhysicalAccess, ModelType: "A", Param1Name: "w_walk", Param1Value: store.Float(10)},
		{RailType: kpi.HighSpeed, KPI: kpi.PhysicalAccess, ModelType: "A", Param1Name: "c", Param1Value: store.Float(0.5)},
		{RailType: kpi.HighSpeed, KPI: kpi.PhysicalAccess, ModelType: "A", Param1Name: "alpha", Param1Value: store.Float(1)},
		{RailType: kpi.Conventional, KPI: kpi.PhysicalAccess, ModelType: "A", Param1Name: "w_walk", Param1Value: store.Float(3)},
	}
	fitted := store.Coefficient{RailType: kpi.HighSpeed, KPI: kpi.PhysicalAccess, ModelType: "b", Param1Name: "a", Param1Value: store.Float(0.1)}

	rows := mergeFitted(existing, fitted)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Param1Name)
	assert.Equal(t, "w_walk", rows[1].Param1Name)
	assert.Equal(t, "alpha", rows[2].Param1Name)
	for _, r := range rows {
		assert.Equal(t, "B", r.ModelType)
		assert.Equal(t, kpi.HighSpeed, r.RailType)
	}
}

func TestRunBatch(t *testing.T) {
	svc, repo, _, h := newTestService(t)

	jobs := []Job{
		{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, Samples: saturatingSamples(0.05, 10)},
		{RailType: kpi.HighSpeed, KPI: kpi.TransferConvenience, Samples: saturatingSamples(0.05, 10)},
		{RailType: kpi.Conventional, KPI: kpi.TrainFrequency, Samples: saturatingSamples(0.08, 5)},
		{RailType: kpi.Conventional, KPI: kpi.StationComfort, ModelType: "Z", Samples: saturatingSamples(0.08, 5)},
	}
	res, err := svc.RunBatch(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Persisted)
	require.Len(t, res.Outcomes, 4)
	assert.True(t, res.Outcomes[0].Persisted)
	assert.Equal(t, fitting.ReasonUnsupported, res.Outcomes[1].Failure.Reason)
	assert.Equal(t, fitting.ReasonUnknownModel, res.Outcomes[3].Failure.Reason)
	assert.Equal(t, repo.Snapshot().Version(), res.Version)

	assert.Len(t, repo.Snapshot().Keys(), 2)

	var replaced, batch int
	for _, s := range h.subjects() {
		switch s {
		case hermes.SubjectCoefficientsReplaced:
			replaced++
		case hermes.SubjectCalibrationBatch:
			batch++
		}
	}
	assert.Equal(t, 1, replaced, "one replacement for the whole batch")
	assert.Equal(t, 1, batch)
}

func TestRunBatchLastFitWinsPerKey(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	jobs := []Job{
		{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, Samples: saturatingSamples(0.05, 10)},
		{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, Samples: saturatingSamples(0.1, 10)},
	}
	_, err := svc.RunBatch(context.Background(), jobs)
	require.NoError(t, err)

	rows := repo.Snapshot().Rows()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.1, *rows[0].Param1Value, 1e-3)
}

func TestRunBatchCancelled(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RunBatch(ctx, []Job{{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, Samples: saturatingSamples(0.05, 10)}})
	assert.ErrorIs(t, err, context.Canceled)
}

func surveyCSV(samples fitting.SampleSet) string {
	var b strings.Builder
	b.WriteString("\ufeffID,KPI,Satisfaction\n")
	for i, s := range samples {
		fmt.Fprintf(&b, "%d,%g,%g\n", i+1, s.X, s.S)
	}
	return b.String()
}

func TestRefresh(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := repo.Replace(ctx, []store.Coefficient{
		{RailType: kpi.HighSpeed, KPI: kpi.ScheduledSpeed, ModelType: "A", Param1Name: "c", Param1Value: store.Float(0.5)},
		{RailType: kpi.HighSpeed, KPI: kpi.OnTimePerformance, ModelType: "B", Param1Name: "a", Param1Value: store.Float(0.5)},
		{RailType: kpi.HighSpeed, KPI: kpi.TrainComfort, ModelType: "A", Param1Name: "c", Param1Value: store.Float(0.5)},
		{RailType: kpi.HighSpeed, KPI: kpi.TransferConvenience, ModelType: "A", Param1Name: "P_walk", Param1Value: store.Float(0.5)},
		{RailType: "monorail", KPI: kpi.ScheduledSpeed, ModelType: "A", Param1Name: "c", Param1Value: store.Float(0.5)},
	})
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"tv_H.csv":   {Data: []byte(surveyCSV(saturatingSamples(0.05, 10)))},
		"TOTP_H.csv": {Data: []byte("KPI,Satisfaction\n10,8\n20,6\n")},
	}
	res, err := svc.Refresh(ctx, fsys, false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Persisted)

	reasons := make(map[string]string)
	for _, s := range res.Skipped {
		reasons[s.Key] = s.Reason
	}
	assert.Equal(t, "only 2 usable rows", reasons["high_speed/TOTP"])
	assert.Equal(t, "survey file not found", reasons["high_speed/TC"])
	assert.Equal(t, "computed directly", reasons["high_speed/TCI"])
	assert.Equal(t, "no survey file code for rail type", reasons["monorail/TV"])

	entry, ok := repo.Snapshot().Lookup(kpi.HighSpeed, kpi.ScheduledSpeed)
	require.True(t, ok)
	assert.InDelta(t, 0.05, entry.Params["c"], 1e-3)
	require.NotNil(t, entry.RSquared)
	assert.Greater(t, *entry.RSquared, 0.99)
	assert.Equal(t, "tv_H.csv", res.Outcomes[0].Job.Source)
}

func TestSetupSubscriptionsCalibratesFromRequest(t *testing.T) {
	svc, repo, _, h := newTestService(t)
	svc.SetupSubscriptions()

	handler, ok := h.handlers[hermes.SubjectCalibrationRequest]
	require.True(t, ok)

	var pairs []string
	for _, s := range saturatingSamples(0.05, 10) {
		pairs = append(pairs, fmt.Sprintf("[%g,%g]", s.X, s.S))
	}
	payload := `{"rail_type":"conventional","kpi":"TV","samples":[` + strings.Join(pairs, ",") + `]}`
	handler(hermes.SubjectCalibrationRequest, []byte(payload))

	_, ok = repo.Snapshot().Lookup(kpi.Conventional, kpi.ScheduledSpeed)
	assert.True(t, ok)

	handler(hermes.SubjectCalibrationRequest, []byte(`{"kpi":"TV"}`))
	assert.Len(t, repo.Snapshot().Keys(), 1)
}
