package calibration

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// BatchResult collects per-job outcomes in job order.
type BatchResult struct {
	Outcomes  []*Outcome `json:"outcomes"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Persisted int        `json:"persisted"`
	Version   uint64     `json:"version"`
}

// RunBatch fits jobs on a bounded worker pool. A failed fit never stops the
// batch. Successful non-dry-run fits are persisted together in a single
// replacement once every job has finished. The only errors returned are
// cancellation and persistence failures.
func (s *Service) RunBatch(ctx context.Context, jobs []Job) (*BatchResult, error) {
	res := &BatchResult{Outcomes: make([]*Outcome, len(jobs))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batchJobs.Inc()
			defer batchJobs.Dec()
			res.Outcomes[i] = s.fit(gctx, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fitted []store.Coefficient
	persisted := make([]*Outcome, 0, len(jobs))
	for _, o := range res.Outcomes {
		if !o.Succeeded() {
			res.Failed++
			continue
		}
		res.Succeeded++
		if !o.Job.DryRun {
			fitted = append(fitted, o.Result.Coefficient())
			persisted = append(persisted, o)
		}
	}

	res.Version = s.repo.Snapshot().Version()
	if len(fitted) > 0 {
		snap, err := s.persist(ctx, fitted)
		if err != nil {
			return res, err
		}
		for _, o := range persisted {
			o.Persisted = true
		}
		res.Persisted = len(persisted)
		res.Version = snap.Version()
	}

	s.logger.Info("calibration batch finished", "jobs", len(jobs), "succeeded", res.Succeeded,
		"failed", res.Failed, "persisted", res.Persisted, "version", res.Version)
	s.publish(hermes.SubjectCalibrationBatch, hermes.BatchCompletedEvent{
		Jobs:      len(jobs),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Persisted: res.Persisted,
		DryRun:    allDryRun(jobs),
		Timestamp: time.Now().UTC(),
	})
	return res, nil
}

func allDryRun(jobs []Job) bool {
	for _, j := range jobs {
		if !j.DryRun {
			return false
		}
	}
	return len(jobs) > 0
}
