package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/colossusbot/modwatch/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordedRun struct {
	job     string
	outcome string
}

type recorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *recorder) ObserveJobRun(job, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{job, outcome})
}

func (r *recorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, run := range r.runs {
		if run.outcome == outcome {
			n++
		}
	}
	return n
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	s := New(logger.NewNop())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register(Job{Name: JobAlertExpiry, Interval: time.Minute, Run: noop}))
	require.Error(t, s.Register(Job{Name: JobAlertExpiry, Interval: time.Minute, Run: noop}))
	require.Error(t, s.Register(Job{Name: "x", Interval: 0, Run: noop}))
	require.Error(t, s.Register(Job{Name: "", Interval: time.Minute, Run: noop}))
	require.Error(t, s.Register(Job{Name: "y", Interval: time.Minute}))
	assert.Equal(t, []string{JobAlertExpiry}, s.Jobs())
}

func TestScheduler_RunsJobsPeriodically(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := New(logger.NewNop())
	require.NoError(t, s.Register(Job{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(t.Context())
	s.Start(t.Context())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestScheduler_FailuresAndPanicsDoNotStopTheLoop(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	var runs atomic.Int32
	s := New(logger.NewNop(), WithRecorder(rec))
	require.NoError(t, s.Register(Job{Name: "flaky", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("store down")
		}
		return nil
	}}))

	s.Start(t.Context())
	t.Cleanup(s.Stop)
	require.Eventually(t, func() bool { return rec.count(OutcomeSuccess) >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(OutcomePanic))
	assert.Equal(t, 1, rec.count(OutcomeFailure))
}

func TestTrigger_SkipsWhenInFlight(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s := New(logger.NewNop(), WithRecorder(rec))
	require.NoError(t, s.Register(Job{Name: JobInactivitySweep, Interval: time.Hour, Run: func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))

	done := make(chan bool)
	go func() {
		ran, _ := s.Trigger(t.Context(), JobInactivitySweep)
		done <- ran
	}()
	<-entered

	ran, err := s.Trigger(t.Context(), JobInactivitySweep)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, rec.count(OutcomeSkipped))

	close(release)
	assert.True(t, <-done)
}

func TestTrigger_ReturnsRunError(t *testing.T) {
	t.Parallel()
	s := New(logger.NewNop())
	cause := errors.New("store down")
	require.NoError(t, s.Register(Job{Name: JobNotificationRetry, Interval: time.Hour, Run: func(context.Context) error {
		return cause
	}}))
	require.NoError(t, s.Register(Job{Name: "panics", Interval: time.Hour, Run: func(context.Context) error {
		panic("boom")
	}}))

	ran, err := s.Trigger(t.Context(), JobNotificationRetry)
	assert.True(t, ran)
	assert.ErrorIs(t, err, cause)

	ran, err = s.Trigger(t.Context(), "panics")
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	_, err = s.Trigger(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_RunTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	s := New(logger.NewNop(), WithRunTimeout(20*time.Millisecond))
	require.NoError(t, s.Register(Job{Name: "slow", Interval: time.Hour, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	_, err := s.Trigger(t.Context(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()
	s := New(nil)
	s.Stop()
}
