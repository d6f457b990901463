package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"pricewatch/logger"
	"pricewatch/models"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const runKey = "check-run"

// Runner performs one check run
type Runner interface {
	Run(ctx context.Context) (*models.CheckRun, error)
}

// Scheduler triggers check runs on a cron schedule and on demand. At most one run is
// in flight; concurrent triggers join it.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	runner   Runner
	group    singleflight.Group
	running  atomic.Bool

	mu     sync.RWMutex
	last   *models.CheckRun
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates the six-field (seconds first) cron expression
func NewScheduler(runner Runner, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		runner:   runner,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Trigger() }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the cron loop and kicks off an immediate run
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.Trigger()
	logger.Info("price checker scheduled", "schedule", s.schedule)
}

// Trigger starts a run in the background, or joins the one in flight. The channel
// yields the run's result.
func (s *Scheduler) Trigger() <-chan singleflight.Result {
	return s.group.DoChan(runKey, func() (any, error) {
		return s.execute()
	})
}

// Enqueue triggers a run without waiting and reports whether one was already in flight
func (s *Scheduler) Enqueue() (joined bool) {
	joined = s.Running()
	s.Trigger()
	return joined
}

// RunNow triggers a run and waits for it or for ctx
func (s *Scheduler) RunNow(ctx context.Context) (*models.CheckRun, error) {
	select {
	case res := <-s.Trigger():
		run, _ := res.Val.(*models.CheckRun)
		return run, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) execute() (*models.CheckRun, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	run, err := s.runner.Run(ctx)
	if err != nil {
		logger.Error("check run failed", "error", err)
	}
	if run != nil {
		s.mu.Lock()
		s.last = run
		s.mu.Unlock()
	}
	return run, err
}

// Running reports whether a run is in flight
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastRun returns a copy of the most recent finished run, or nil before the first
func (s *Scheduler) LastRun() *models.CheckRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	run := *s.last
	return &run
}

// Stop halts the cron loop, cancels the in-flight run and waits for it to unwind
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	// joins the in-flight run if there is one
	wait := s.group.DoChan(runKey, func() (any, error) { return nil, nil })
	select {
	case <-wait:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	logger.Info("price checker stopped")
	return nil
}
