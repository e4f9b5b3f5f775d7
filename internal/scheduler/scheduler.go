// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

// Job names.
const (
	JobInactivitySweep   = "inactivity-sweep"
	JobAlertExpiry       = "alert-expiry"
	JobNotificationRetry = "notification-retry"
)

// Run outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
	OutcomeSkipped = "skipped"
)

const defaultRunTimeout = 2 * time.Minute

// ErrUnknownJob is returned by Trigger for unregistered names.
var ErrUnknownJob = errors.NewStd("unknown job")

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

// Job is a named function run at a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// Recorder observes job runs.
type Recorder interface {
	ObserveJobRun(job, outcome string, elapsed time.Duration)
}

type job struct {
	Job
	running atomic.Bool
}

// Scheduler runs each registered job on its own goroutine, so a job never
// overlaps itself. A failing or panicking run is logged and the next tick
// runs as usual.
type Scheduler struct {
	log        logger.Logger
	recorder   Recorder
	runTimeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithRecorder reports run outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// New creates a scheduler.
func New(log logger.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Scheduler{
		log:        log.Module("scheduler"),
		runTimeout: defaultRunTimeout,
		jobs:       make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Jobs registered after Start run from the next Start.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", j.Name, j.Interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("job %s already registered", j.Name)
	}
	s.jobs[j.Name] = &job{Job: j}
	s.order = append(s.order, j.Name)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches the job loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, name := range s.order {
		j := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.log.Info("scheduler started", logger.Int("jobs", len(s.order)))
}

// Stop cancels running jobs and waits for their loops to exit. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Trigger runs the named job now in the caller's goroutine. It returns false
// without running when the job is already in flight.
func (s *Scheduler) Trigger(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runOnce(ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.runOnce(ctx, j)
		}
	}
}

// runOnce runs j unless it is in flight. The returned error is the run's
// error, a recovered panic included.
func (s *Scheduler) runOnce(ctx context.Context, j *job) (ran bool, err error) {
	if !j.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running, skipping", logger.String("job", j.Name))
		s.observe(j.Name, OutcomeSkipped, 0)
		return false, nil
	}
	defer j.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	outcome := OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			ran = true
			err = errors.Newf("job %s panicked: %v", j.Name, r).
				Component("scheduler").
				Category(errors.CategorySystem).
				Context("job", j.Name).
				Build()
			s.log.Error("job panicked",
				logger.String("job", j.Name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
		s.observe(j.Name, outcome, time.Since(start))
	}()

	if err = j.Run(runCtx); err != nil {
		outcome = OutcomeFailure
		s.log.Warn("job failed",
			logger.String("job", j.Name),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return true, err
	}
	s.log.Debug("job finished",
		logger.String("job", j.Name),
		logger.Duration("elapsed", time.Since(start)))
	return true, nil
}

func (s *Scheduler) observe(name, outcome string, elapsed time.Duration) {
	if s.recorder != nil {
		s.recorder.ObserveJobRun(name, outcome, elapsed)
	}
}
