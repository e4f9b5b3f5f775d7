package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colossusbot/modwatch/internal/logger"
)

const (
	defaultGuildQueueSize   = 256
	defaultGuildIdleTimeout = 2 * time.Minute
)

// Task is a unit of work run on a guild's queue.
type Task func(ctx context.Context)

// GuildDispatcher runs tasks in submission order per guild, with guilds
// processed concurrently. Each guild gets a worker goroutine on first use; the
// worker exits after idleTimeout without work and is recreated on demand.
type GuildDispatcher struct {
	queueSize   int
	idleTimeout time.Duration
	log         logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*guildQueue
	stopped bool
}

type guildQueue struct {
	tasks chan Task
	// pending counts submitted tasks not yet finished; guarded by GuildDispatcher.mu.
	pending int
}

// DispatcherOption configures a GuildDispatcher.
type DispatcherOption func(*GuildDispatcher)

// WithQueueSize sets the per-guild buffer.
func WithQueueSize(n int) DispatcherOption {
	return func(d *GuildDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithIdleTimeout sets how long an idle guild worker lives.
func WithIdleTimeout(timeout time.Duration) DispatcherOption {
	return func(d *GuildDispatcher) {
		if timeout > 0 {
			d.idleTimeout = timeout
		}
	}
}

// NewGuildDispatcher creates a dispatcher. Call Stop to release its workers.
func NewGuildDispatcher(log logger.Logger, opts ...DispatcherOption) *GuildDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &GuildDispatcher{
		queueSize:   defaultGuildQueueSize,
		idleTimeout: defaultGuildIdleTimeout,
		log:         log.Module("dispatcher"),
		ctx:         ctx,
		cancel:      cancel,
		queues:      make(map[string]*guildQueue),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues task on guildID's worker. It blocks while that guild's queue
// is full and returns false once the dispatcher is stopped.
func (d *GuildDispatcher) Submit(guildID string, task Task) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	q, ok := d.queues[guildID]
	if !ok {
		q = &guildQueue{tasks: make(chan Task, d.queueSize)}
		d.queues[guildID] = q
		d.wg.Add(1)
		go d.run(guildID, q)
	}
	q.pending++
	d.mu.Unlock()

	select {
	case q.tasks <- task:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// ActiveGuilds returns the number of live guild workers.
func (d *GuildDispatcher) ActiveGuilds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Stop cancels in-flight tasks, discards queued ones and waits for every
// worker to exit. Safe to call multiple times.
func (d *GuildDispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *GuildDispatcher) run(guildID string, q *guildQueue) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case task := <-q.tasks:
			d.execute(guildID, task)
			d.mu.Lock()
			q.pending--
			d.mu.Unlock()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleTimeout)

		case <-idle.C:
			d.mu.Lock()
			if q.pending == 0 {
				delete(d.queues, guildID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)

		case <-d.ctx.Done():
			return
		}
	}
}

func (d *GuildDispatcher) execute(guildID string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("guild task panicked",
				logger.String("guild_id", guildID),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	task(d.ctx)
}
