package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/RailKPI/internal/curve"
	"github.com/MikeSquared-Agency/RailKPI/internal/fitting"
	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/kpi"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Job is one fit request.
type Job struct {
	RailType  kpi.Category      `json:"rail_type"`
	KPI       kpi.Indicator     `json:"kpi"`
	ModelType string            `json:"model_type,omitempty"`
	Samples   fitting.SampleSet `json:"samples"`
	DryRun    bool              `json:"dry_run,omitempty"`
	Source    string            `json:"source,omitempty"`
}

func (j Job) normalize() Job {
	j.RailType = kpi.NormalizeCategory(string(j.RailType))
	j.KPI = kpi.NormalizeIndicator(string(j.KPI))
	j.ModelType = strings.ToUpper(strings.TrimSpace(j.ModelType))
	if j.ModelType == "" {
		j.ModelType = store.DefaultModelType
	}
	return j
}

// Outcome reports what happened to one job. Failure is set when the fit
// itself failed; that is a normal result, not an error.
type Outcome struct {
	Job       Job                   `json:"-"`
	Run       *store.CalibrationRun `json:"run"`
	Result    *fitting.FitResult    `json:"result,omitempty"`
	Failure   *fitting.FitFailure   `json:"-"`
	Summary   string                `json:"summary,omitempty"`
	Persisted bool                  `json:"persisted"`
}

// Succeeded reports whether the fit produced coefficients.
func (o *Outcome) Succeeded() bool { return o.Result != nil }

// Service runs fits, records the audit trail, publishes events and persists
// successful coefficients.
type Service struct {
	repo    *store.Repository
	fitter  *fitting.Fitter
	hermes  hermes.Client
	workers int
	logger  *slog.Logger
}

// New creates a Service. h may be nil to disable events.
func New(repo *store.Repository, fitter *fitting.Fitter, h hermes.Client, workers int, logger *slog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{repo: repo, fitter: fitter, hermes: h, workers: workers, logger: logger}
}

func (s *Service) Fitter() *fitting.Fitter { return s.fitter }

// Calibrate fits one job and, unless it is a dry run, replaces the
// coefficients for its key. The returned error covers persistence only; a
// failed fit is reported through Outcome.Failure.
func (s *Service) Calibrate(ctx context.Context, job Job) (*Outcome, error) {
	out := s.fit(ctx, job)
	if !out.Succeeded() || out.Job.DryRun {
		return out, nil
	}
	snap, err := s.persist(ctx, []store.Coefficient{out.Result.Coefficient()})
	if err != nil {
		return out, err
	}
	out.Persisted = true
	s.logger.Info("coefficients calibrated", "rail_type", out.Job.RailType, "kpi", out.Job.KPI,
		"r_squared", out.Result.RSquared, "version", snap.Version())
	return out, nil
}

// fit runs the solver for job and records the attempt. It never persists
// coefficients.
func (s *Service) fit(ctx context.Context, job Job) *Outcome {
	job = job.normalize()
	out := &Outcome{Job: job}
	fc := fitting.FitContext{Category: job.RailType, Indicator: job.KPI}

	start := time.Now()
	res, err := s.fitter.Fit(job.Samples, curve.Kind(job.ModelType), fc)
	fitDuration.WithLabelValues(job.ModelType).Observe(time.Since(start).Seconds())

	run := &store.CalibrationRun{
		RailType:  job.RailType,
		KPI:       job.KPI,
		ModelType: job.ModelType,
		Method:    string(s.fitter.Options().Method),
		N:         len(job.Samples),
		DryRun:    job.DryRun,
	}
	if err != nil {
		var ff *fitting.FitFailure
		if !errors.As(err, &ff) {
			ff = &fitting.FitFailure{Reason: fitting.ReasonNumerical, Err: err}
		}
		out.Failure = ff
		run.Outcome = store.OutcomeFailed
		run.Reason = string(ff.Reason)
		run.Error = ff.Error()
		run.ScaleFactor = s.fitter.ScaleFor(fc)
		s.logger.Warn("calibration failed", "rail_type", job.RailType, "kpi", job.KPI,
			"model_type", job.ModelType, "reason", ff.Reason, "error", ff)
	} else {
		out.Result = res
		out.Summary = res.Summary(job.Source)
		run.Outcome = store.OutcomeSucceeded
		run.Params = res.ParamMap()
		run.RSquared = store.Float(res.RSquared)
		run.SSE = store.Float(res.SSE)
		run.SST = store.Float(res.SST)
		run.N = res.N
		run.Iterations = res.Iterations
		run.ScaleFactor = res.ScaleFactor
	}
	fitsTotal.WithLabelValues(job.ModelType, string(run.Outcome)).Inc()

	if err := s.repo.Store().RecordCalibration(ctx, run); err != nil {
		s.logger.Warn("failed to record calibration run", "rail_type", job.RailType, "kpi", job.KPI, "error", err)
	}
	out.Run = run
	s.publishRun(run)
	return out
}

// persist merges fitted rows into the existing rows of their keys and
// replaces those keys. When a key was fitted more than once the last fit wins.
func (s *Service) persist(ctx context.Context, fitted []store.Coefficient) (*store.Snapshot, error) {
	normalized := make([]store.Coefficient, len(fitted))
	last := make(map[store.Key]store.Coefficient, len(fitted))
	for i, f := range fitted {
		normalized[i] = f.Normalize()
		last[normalized[i].Key()] = normalized[i]
	}
	var rows []store.Coefficient
	snap, err := s.repo.Update(ctx, func(cur *store.Snapshot) ([]store.Coefficient, error) {
		existing := cur.Rows()
		rows = rows[:0]
		for _, k := range store.KeysOf(normalized) {
			rows = append(rows, mergeFitted(existing, last[k])...)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	keys := store.KeysOf(rows)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	s.publish(hermes.SubjectCoefficientsReplaced, hermes.CoefficientsReplacedEvent{
		Version:   snap.Version(),
		Keys:      names,
		Rows:      len(rows),
		Timestamp: time.Now().UTC(),
	})
	return snap, nil
}

// mergeFitted returns the rows that should exist for fitted's key after a
// calibration. Composite-table rows (mode weights, alpha, transfer terms)
// share the key with the fitted model and are carried over; every other row
// of the key is superseded by fitted.
func mergeFitted(existing []store.Coefficient, fitted store.Coefficient) []store.Coefficient {
	fitted = fitted.Normalize()
	key := fitted.Key()
	out := []store.Coefficient{fitted}
	for _, r := range existing {
		if r.Key() != key || !tableParam(r.Param1Name) {
			continue
		}
		r.ModelType = fitted.ModelType
		out = append(out, r)
	}
	return out
}

func tableParam(name string) bool {
	switch {
	case name == "alpha", name == "S_max":
		return true
	case strings.HasPrefix(name, "w_"), strings.HasPrefix(name, "P_"), strings.HasPrefix(name, "c_"):
		return true
	}
	return false
}

func (s *Service) publishRun(run *store.CalibrationRun) {
	evt := hermes.CalibrationEvent{
		RunID:       run.ID.String(),
		RailType:    string(run.RailType),
		KPI:         string(run.KPI),
		ModelType:   run.ModelType,
		Outcome:     string(run.Outcome),
		Reason:      run.Reason,
		Params:      run.Params,
		N:           run.N,
		ScaleFactor: run.ScaleFactor,
		DryRun:      run.DryRun,
		Timestamp:   time.Now().UTC(),
	}
	if run.RSquared != nil {
		evt.RSquared = *run.RSquared
	}
	subject := hermes.SubjectCalibrationCompleted(evt.RailType, evt.KPI)
	if run.Outcome == store.OutcomeFailed {
		subject = hermes.SubjectCalibrationFailed(evt.RailType, evt.KPI)
	}
	s.publish(subject, evt)
}

func (s *Service) publish(subject string, data interface{}) {
	if s.hermes == nil {
		return
	}
	if err := s.hermes.Publish(subject, data); err != nil {
		if errors.Is(err, hermes.ErrDisconnected) {
			s.logger.Debug("event dropped while nats is down", "subject", subject)
			return
		}
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// SetupSubscriptions lets survey pipelines request calibrations over NATS.
func (s *Service) SetupSubscriptions() {
	if s.hermes == nil {
		return
	}
	_ = s.hermes.Subscribe(hermes.SubjectCalibrationRequest, func(_ string, data []byte) {
		job, err := decodeRequest(data)
		if err != nil {
			s.logger.Warn("invalid calibration request event", "error", err)
			return
		}
		if _, err := s.Calibrate(context.Background(), job); err != nil {
			s.logger.Error("calibration from NATS request failed", "rail_type", job.RailType, "kpi", job.KPI, "error", err)
		}
	})
}

func decodeRequest(data []byte) (Job, error) {
	var req hermes.CalibrationRequestEvent
	if err := json.Unmarshal(data, &req); err != nil {
		return Job{}, err
	}
	if req.RailType == "" || req.KPI == "" {
		return Job{}, errors.New("rail_type and kpi are required")
	}
	samples := make(fitting.SampleSet, len(req.Samples))
	for i, p := range req.Samples {
		samples[i] = fitting.Sample{X: p[0], S: p[1]}
	}
	return Job{
		RailType:  kpi.Category(req.RailType),
		KPI:       kpi.Indicator(req.KPI),
		ModelType: req.ModelType,
		Samples:   samples,
		DryRun:    req.DryRun,
		Source:    req.Source,
	}, nil
}
