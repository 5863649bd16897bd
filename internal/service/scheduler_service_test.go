package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

type runnerStub struct {
	mu      sync.Mutex
	running bool
	runs    []RunOptions
	block   chan struct{}
}

func (r *runnerStub) Run(_ context.Context, opts RunOptions) (*models.RunReport, error) {
	r.mu.Lock()
	r.runs = append(r.runs, opts)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return models.NewRunReport("run-1", opts.DryRun, time.Now()), nil
}

func (r *runnerStub) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runnerStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type saverStub struct {
	mu       sync.Mutex
	saved    []*models.RunReport
	cleanups int
}

func (s *saverStub) Save(report *models.RunReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, report)
	return "runs/" + report.RunID + ".csv", nil
}

func (s *saverStub) Cleanup() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	return nil, nil
}

func TestSchedulerRunOnceSavesReport(t *testing.T) {
	runner := &runnerStub{}
	saver := &saverStub{}
	sched := NewSchedulerService(runner, saver, SchedulerConfig{SaveReports: true}, zap.NewNop())

	report := sched.RunOnce(context.Background(), RunOptions{DryRun: true})
	require.NotNil(t, report)
	assert.True(t, report.DryRun)
	require.Len(t, saver.saved, 1)
}

func TestSchedulerTriggerRejectsWhileRunning(t *testing.T) {
	runner := &runnerStub{running: true}
	sched := NewSchedulerService(runner, nil, SchedulerConfig{}, zap.NewNop())

	err := sched.Trigger(RunOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, runner.count())
}

func TestSchedulerTriggerRunsInBackground(t *testing.T) {
	runner := &runnerStub{}
	sched := NewSchedulerService(runner, nil, SchedulerConfig{}, zap.NewNop())

	require.NoError(t, sched.Trigger(RunOptions{Verbosity: 2}))
	sched.Wait()
	require.Equal(t, 1, runner.count())
	assert.Equal(t, 2, runner.runs[0].Verbosity)
}

func TestSchedulerStartRunsOnStartAndStops(t *testing.T) {
	runner := &runnerStub{}
	saver := &saverStub{}
	sched := NewSchedulerService(runner, saver, SchedulerConfig{
		Interval:        time.Hour,
		RunOnStart:      true,
		SaveReports:     true,
		CleanupInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	require.Eventually(t, func() bool {
		saver.mu.Lock()
		defer saver.mu.Unlock()
		return len(saver.saved) == 1 && saver.cleanups > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	sched.Wait()
	assert.Equal(t, 1, runner.count())
}
