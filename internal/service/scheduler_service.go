package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

type runner interface {
	Run(ctx context.Context, opts RunOptions) (*models.RunReport, error)
	Running() bool
}

type reportSaver interface {
	Save(report *models.RunReport) (string, error)
	Cleanup() ([]string, error)
}

// SchedulerConfig tunes periodic runs for `gradsync serve`.
type SchedulerConfig struct {
	Interval        time.Duration
	RunOnStart      bool
	SaveReports     bool
	CleanupInterval time.Duration
	Defaults        RunOptions
}

// SchedulerService runs imports on a fixed interval and on demand, saving a
// report after each run when enabled.
type SchedulerService struct {
	syncer  runner
	reports reportSaver
	cfg     SchedulerConfig
	logger  *zap.Logger

	ctx context.Context
	wg  sync.WaitGroup
	mu  sync.Mutex
}

// NewSchedulerService constructs a SchedulerService. reports may be nil.
func NewSchedulerService(syncSvc runner, reports reportSaver, cfg SchedulerConfig, logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &SchedulerService{syncer: syncSvc, reports: reports, cfg: cfg, logger: logger}
}

// Start launches the schedule loop. It stops when ctx is cancelled.
func (s *SchedulerService) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runs := time.NewTicker(s.cfg.Interval)
		defer runs.Stop()
		cleanups := time.NewTicker(s.cfg.CleanupInterval)
		defer cleanups.Stop()

		if s.cfg.RunOnStart {
			s.RunOnce(ctx, s.cfg.Defaults)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-runs.C:
				s.RunOnce(ctx, s.cfg.Defaults)
			case <-cleanups.C:
				s.cleanup()
			}
		}
	}()
	s.logger.Info("import scheduler started", zap.Duration("interval", s.cfg.Interval), zap.Bool("run_on_start", s.cfg.RunOnStart))
}

// Wait blocks until the loop and any triggered runs have finished.
func (s *SchedulerService) Wait() {
	s.wg.Wait()
}

// Trigger starts a run in the background. It fails fast when a run is
// already in progress.
func (s *SchedulerService) Trigger(opts RunOptions) error {
	if s.syncer.Running() {
		return ErrRunInProgress
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx, opts)
	}()
	return nil
}

// RunOnce performs a run and stores its report.
func (s *SchedulerService) RunOnce(ctx context.Context, opts RunOptions) *models.RunReport {
	report, err := s.syncer.Run(ctx, opts)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("scheduled run skipped, previous run still active")
		return nil
	}
	if err != nil {
		s.logger.Error("import run failed", zap.Error(err))
	}
	if report != nil && s.cfg.SaveReports && s.reports != nil {
		if _, saveErr := s.reports.Save(report); saveErr != nil {
			s.logger.Error("save run report", zap.Error(saveErr))
		}
	}
	return report
}

func (s *SchedulerService) cleanup() {
	if s.reports == nil {
		return
	}
	if _, err := s.reports.Cleanup(); err != nil {
		s.logger.Warn("report cleanup failed", zap.Error(err))
	}
}
