package scheduler

import (
	"context"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/RailKPI/internal/calibration"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Scheduler runs the background loops: a periodic reload of the coefficient
// table and a periodic refresh from the survey directory. A loop whose
// interval is zero is not started.
type Scheduler struct {
	repo    *store.Repository
	svc     *calibration.Service
	surveys fs.FS
	logger  *slog.Logger

	reloadEvery  time.Duration
	refreshEvery time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. surveys may be nil when no survey directory is
// configured, which disables the refresh loop.
func New(repo *store.Repository, svc *calibration.Service, surveys fs.FS, reloadEvery, refreshEvery time.Duration, logger *slog.Logger) *Scheduler {
	if surveys == nil {
		refreshEvery = 0
	}
	return &Scheduler{
		repo:         repo,
		svc:          svc,
		surveys:      surveys,
		logger:       logger,
		reloadEvery:  reloadEvery,
		refreshEvery: refreshEvery,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.reloadEvery > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.reloadEvery, s.reload)
	}
	if s.refreshEvery > 0 {
		s.wg.Add(1)
		go s.loop(ctx, s.refreshEvery, s.refresh)
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Scheduler) reload(ctx context.Context) {
	if _, err := s.repo.Load(ctx); err != nil {
		s.logger.Error("scheduled coefficient reload failed", "error", err)
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	res, err := s.svc.Refresh(ctx, s.surveys, false)
	if err != nil {
		s.logger.Error("scheduled coefficient refresh failed", "error", err)
		return
	}
	s.logger.Info("scheduled coefficient refresh done",
		"succeeded", res.Succeeded, "failed", res.Failed, "skipped", len(res.Skipped), "version", res.Version)
}
