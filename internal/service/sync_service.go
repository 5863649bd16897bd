package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/importer"
	"github.com/sfu-fas/coursys-sub000/internal/models"
	"github.com/sfu-fas/coursys-sub000/pkg/config"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
	"github.com/sfu-fas/coursys-sub000/pkg/jobs"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = appErrors.ErrRunInProgress

// LookupSource loads the immutable lookup tables of a run.
type LookupSource interface {
	Semesters(ctx context.Context) ([]models.Semester, error)
	Programs(ctx context.Context, units []string) ([]models.GradProgram, error)
}

// RowFetcher returns every source row of a run.
type RowFetcher interface {
	FetchAll(ctx context.Context, q models.SourceQuery) ([]models.SourceRow, error)
}

// RunOptions are the per-run overrides of the import configuration.
type RunOptions struct {
	DryRun    bool
	Verbosity int      `validate:"gte=0,lte=3"`
	EmplIDs   []string `validate:"dive,numeric"`
	// Progress is called after each person with the number handled so far.
	Progress func(done, total int)
}

// SyncService drives one import run: load lookups, fetch and classify every
// row, then reconcile each person in their own transaction.
type SyncService struct {
	lookups   LookupSource
	source    RowFetcher
	tx        TxRunner
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       config.ImportConfig
	validator *validator.Validate
	now       func() time.Time

	runMu   sync.Mutex
	running bool

	lastMu sync.RWMutex
	last   *models.RunReport
}

// NewSyncService constructs a SyncService.
func NewSyncService(lookups LookupSource, source RowFetcher, tx TxRunner, cfg config.ImportConfig, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *SyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		lookups:   lookups,
		source:    source,
		tx:        tx,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		validator: validate,
		now:       time.Now,
	}
}

// LastReport returns the report of the most recent finished run.
func (s *SyncService) LastReport() (*models.RunReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return nil, false
	}
	return s.last, true
}

// Running reports whether a run is in progress.
func (s *SyncService) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *SyncService) begin() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *SyncService) end() {
	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()
}

func (s *SyncService) settings() importer.Settings {
	settings := importer.DefaultSettings()
	if s.cfg.StartOffset > 0 {
		settings.StartOffset = s.cfg.StartOffset
	}
	if s.cfg.Offset > 0 {
		settings.Offset = s.cfg.Offset
	}
	settings.RelevanceCutoff = s.cfg.RelevanceCutoff
	settings.ApplicationOnlyCutoff = s.cfg.ApplicationOnlyCutoff
	settings.StrictUnitCutoffs = s.cfg.StrictUnitCutoffs
	settings.HorizonGraceSemesters = s.cfg.HorizonGraceSemesters
	return settings
}

// Run performs one import. Run-fatal errors abort before any writes and are
// returned alongside the report. Person failures are only reported. A
// cancelled ctx stops new persons from starting and returns ctx.Err().
func (s *SyncService) Run(ctx context.Context, opts RunOptions) (*models.RunReport, error) {
	if !s.begin() {
		return nil, ErrRunInProgress
	}
	defer s.end()

	report := models.NewRunReport(uuid.NewString(), opts.DryRun, s.now().UTC())
	err := s.run(ctx, opts, report)
	report.FinishedAt = s.now().UTC()
	report.SortFailures()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		report.Aborted = err.Error()
		s.logger.Error("import run aborted", zap.String("run_id", report.RunID), zap.Error(err))
	}

	s.metrics.ObserveRun(report)
	s.lastMu.Lock()
	s.last = report
	s.lastMu.Unlock()

	s.logger.Info("import run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("persons", report.Persons),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failures)),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, err
}

func (s *SyncService) run(ctx context.Context, opts RunOptions, report *models.RunReport) error {
	if err := s.validator.Struct(opts); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ScopeRun, "invalid run options")
	}
	if err := s.validator.Struct(s.cfg); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ScopeRun, "invalid import configuration")
	}

	semesters, err := s.lookups.Semesters(ctx)
	if err != nil {
		return fmt.Errorf("load semesters: %w", err)
	}
	programs, err := s.lookups.Programs(ctx, s.cfg.Units)
	if err != nil {
		return fmt.Errorf("load programs: %w", err)
	}
	lk, err := importer.NewLookups(semesters, programs, s.cfg.EmplIDAliases, s.settings())
	if err != nil {
		return err
	}

	rows, err := s.source.FetchAll(ctx, models.SourceQuery{Units: s.cfg.Units, CutoffStrm: s.cfg.SourceCutoff, EmplIDs: opts.EmplIDs})
	if err != nil {
		return fmt.Errorf("fetch source rows: %w", err)
	}
	happenings, dropped, err := importer.ResolveRows(rows, lk)
	if err != nil {
		return err
	}
	report.Dropped += dropped

	timelines := importer.GroupTimelines(happenings, lk)
	report.Persons = len(timelines)
	if opts.Verbosity >= 1 {
		s.logger.Info("import run started",
			zap.String("run_id", report.RunID),
			zap.Int("rows", len(rows)),
			zap.Int("persons", len(timelines)),
			zap.Strings("units", s.cfg.Units),
		)
	}

	people := importer.NewPersonCache()
	batch := &personBatch{
		svc:        s,
		opts:       opts,
		people:     people,
		reconciler: importer.NewReconciler(lk, people, s.logger, opts.Verbosity),
		report:     report,
		total:      len(timelines),
	}
	return batch.process(ctx, timelines)
}

// personBatch fans persons out through the job queue and folds their
// results into the report.
type personBatch struct {
	svc        *SyncService
	opts       RunOptions
	people     *importer.PersonCache
	reconciler *importer.Reconciler

	mu     sync.Mutex
	report *models.RunReport
	done   int
	total  int
}

func (b *personBatch) process(ctx context.Context, timelines []*importer.Timeline) error {
	workers := b.svc.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := jobs.NewQueue("persons", b.handle, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: b.svc.cfg.Retries,
		RetryDelay: b.svc.cfg.RetryDelay,
		Logger:     b.svc.logger,
		OnFailure:  b.failed,
		OnSkip:     func(jobs.Job) { b.skipped(1) },
	})
	queue.Start(ctx)

	for i, tl := range timelines {
		if err := queue.Enqueue(jobs.Job{ID: tl.EmplID, Type: "person", Payload: tl}); err != nil {
			b.skipped(len(timelines) - i)
			break
		}
	}
	queue.Close()
	return ctx.Err()
}

func (b *personBatch) handle(ctx context.Context, job jobs.Job) error {
	tl, ok := job.Payload.(*importer.Timeline)
	if !ok {
		return jobs.Permanent(appErrors.Clonef(appErrors.ErrInternal, "unexpected job payload %T", job.Payload))
	}
	if err := tl.SplitCareers(); err != nil {
		return permanentIfDomain(err)
	}

	var (
		result    *importer.Result
		committed []models.Person
	)
	session := b.people.Session()
	defer func() { session.Release(committed) }()
	err := b.svc.tx.WithinTx(ctx, !b.opts.DryRun, func(store importer.Store) error {
		var err error
		result, err = b.reconciler.ReconcilePerson(ctx, store, tl, session)
		return err
	})
	if err != nil {
		return permanentIfDomain(err)
	}
	if !b.opts.DryRun {
		committed = result.NewPeople
	}
	b.succeeded(result)
	return nil
}

// permanentIfDomain stops retries for reconciliation errors; anything else
// is treated as a transient store failure.
func permanentIfDomain(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return jobs.Permanent(err)
	}
	return err
}

func (b *personBatch) succeeded(result *importer.Result) {
	b.svc.metrics.RecordPerson(OutcomeSucceeded)
	b.svc.metrics.RecordWrites(result.Created, result.Updated)

	b.mu.Lock()
	r := b.report
	r.Succeeded++
	r.CareersCreated += result.CareersCreated
	r.CareersMatched += result.CareersMatched
	r.CareersAbandoned += result.CareersAbandoned
	r.Dropped += result.Dropped
	for kind, n := range result.Created {
		r.Created[kind] += n
	}
	for kind, n := range result.Updated {
		r.Updated[kind] += n
	}
	for _, w := range result.Warnings {
		r.Warnings = append(r.Warnings, result.EmplID+": "+w)
	}
	b.advance()
	b.mu.Unlock()

	if b.opts.Verbosity >= 1 {
		b.svc.logger.Info("person reconciled",
			zap.String("emplid", result.EmplID),
			zap.Int("careers_created", result.CareersCreated),
			zap.Int("careers_matched", result.CareersMatched),
		)
	}
}

func (b *personBatch) failed(job jobs.Job, err error) {
	b.svc.metrics.RecordPerson(OutcomeFailed)
	code := appErrors.ErrInternal.Code
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	b.svc.logger.Error("person rolled back", zap.String("emplid", job.ID), zap.String("code", code), zap.Error(err))

	b.mu.Lock()
	b.report.Failures = append(b.report.Failures, models.PersonFailure{EmplID: job.ID, Code: code, Error: err.Error()})
	b.advance()
	b.mu.Unlock()
}

func (b *personBatch) skipped(n int) {
	for i := 0; i < n; i++ {
		b.svc.metrics.RecordPerson(OutcomeSkipped)
	}
	b.mu.Lock()
	b.report.Skipped += n
	for i := 0; i < n; i++ {
		b.advance()
	}
	b.mu.Unlock()
}

// advance must be called with mu held.
func (b *personBatch) advance() {
	b.done++
	if b.opts.Progress != nil {
		b.opts.Progress(b.done, b.total)
	}
}
