// Package dispatcher runs the claim loop that feeds jobs to the lifecycle
// manager under a concurrency ceiling.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/logging"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
	"github.com/JakeFAU/contact-crawler/internal/worker"
)

// commitGrace bounds how long shutdown waits for jobs that finished crawling
// but were still saving when the shutdown timeout expired.
const commitGrace = 5 * time.Second

// Claimer leases jobs from the store.
type Claimer interface {
	ClaimNextJob(ctx context.Context, owner string, lease time.Duration) (*crawler.Job, error)
}

// Processor is the lifecycle manager as seen by the loop.
type Processor interface {
	Process(ctx context.Context, job crawler.Job) worker.Transition
	Commit(ctx context.Context, job crawler.Job, t worker.Transition) error
	ShutdownTransition(ctx context.Context, job crawler.Job, elapsed time.Duration) worker.Transition
}

// Config controls the claim loop.
type Config struct {
	WorkerID        string
	Concurrency     int
	Lease           time.Duration
	IdlePoll        time.Duration
	BusyWait        time.Duration
	ShutdownTimeout time.Duration
	StatsInterval   time.Duration
}

// Dispatcher claims jobs and runs them asynchronously.
type Dispatcher struct {
	claimer Claimer
	proc    Processor
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher, filling unset intervals with defaults.
func New(claimer Claimer, proc Processor, clock crawler.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Second
	}
	if cfg.BusyWait <= 0 {
		cfg.BusyWait = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{claimer: claimer, proc: proc, clock: clock, cfg: cfg, logger: logger}
}

type inflight struct {
	job     crawler.Job
	started time.Time
	cancel  context.CancelFunc
	settled atomic.Bool
}

// settle reports whether the caller won the right to resolve the job.
func (e *inflight) settle() bool {
	return e.settled.CompareAndSwap(false, true)
}

type completion struct {
	jobID    string
	status   crawler.JobStatus
	duration time.Duration
	err      error
}

// loop holds state owned by the Run goroutine.
type loop struct {
	*Dispatcher
	jobCtx  context.Context
	done    chan completion
	active  map[string]*inflight
	stats   *stats
	nextLog time.Time
}

// Run claims and dispatches jobs until ctx is cancelled, then waits for the
// in-flight jobs and force-resolves whatever is left at the shutdown timeout.
// Jobs run on a context detached from ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	now := d.clock.Now()
	l := &loop{
		Dispatcher: d,
		jobCtx:     jobCtx,
		done:       make(chan completion, d.cfg.Concurrency),
		active:     make(map[string]*inflight),
		stats:      newStats(now),
		nextLog:    now.Add(d.cfg.StatsInterval),
	}
	d.logger.Info("dispatcher started",
		zap.String("worker_id", d.cfg.WorkerID),
		zap.Int("concurrency", d.cfg.Concurrency),
	)

	for ctx.Err() == nil {
		l.maybeLogStats()
		if len(l.active) >= d.cfg.Concurrency {
			l.wait(ctx, d.cfg.BusyWait)
			continue
		}
		job, err := d.claimer.ClaimNextJob(ctx, d.cfg.WorkerID, d.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.ObserveClaimError()
			d.logger.Error("claim next job", zap.Error(err))
			l.wait(ctx, d.cfg.IdlePoll)
			continue
		}
		if job == nil {
			l.wait(ctx, d.cfg.IdlePoll)
			continue
		}
		l.start(*job)
	}

	l.shutdown()
	l.logStats()
	return nil
}

// wait blocks for d, a completion or cancellation, whichever comes first.
func (l *loop) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case c := <-l.done:
		l.record(c)
	}
}

func (l *loop) start(job crawler.Job) {
	ctx, cancel := context.WithCancel(l.jobCtx)
	entry := &inflight{job: job, started: l.clock.Now(), cancel: cancel}
	l.active[job.ID] = entry
	metrics.IncActiveCrawls()
	logging.ForJob(l.logger, job).Debug("job claimed")

	go func() {
		defer cancel()
		c := completion{jobID: job.ID}
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("job panicked: %v", r)
			}
			c.duration = l.clock.Now().Sub(entry.started)
			l.done <- c
		}()
		t := l.proc.Process(ctx, job)
		if !entry.settle() {
			return
		}
		c.status = t.Status
		c.err = l.proc.Commit(ctx, job, t)
	}()
}

func (l *loop) record(c completion) {
	entry, ok := l.active[c.jobID]
	if !ok {
		return
	}
	delete(l.active, c.jobID)
	metrics.DecActiveCrawls()
	l.stats.record(c.duration, c.err != nil)
	if c.status != "" {
		metrics.ObserveJob(string(c.status), c.duration)
	}
	if c.err != nil {
		logging.ForJob(l.logger, entry.job).Error("job finished with error",
			zap.Duration("duration", c.duration), zap.Error(c.err))
	}
}

func (l *loop) shutdown() {
	if len(l.active) == 0 {
		return
	}
	l.logger.Info("waiting for in-flight jobs", zap.Int("active", len(l.active)),
		zap.Duration("timeout", l.cfg.ShutdownTimeout))
	timer := time.NewTimer(l.cfg.ShutdownTimeout)
	defer timer.Stop()
	for len(l.active) > 0 {
		select {
		case c := <-l.done:
			l.record(c)
		case <-timer.C:
			l.forceResolve()
			return
		}
	}
}

// forceResolve settles every job that has not finished crawling with the
// shutdown heuristic and gives the rest a short grace to finish saving.
func (l *loop) forceResolve() {
	var forced []*inflight
	for _, entry := range l.active {
		if entry.settle() {
			entry.cancel()
			forced = append(forced, entry)
		}
	}
	resolveCtx := context.WithoutCancel(l.jobCtx)
	for _, entry := range forced {
		elapsed := l.clock.Now().Sub(entry.started)
		logger := logging.ForJob(l.logger, entry.job)
		t := l.proc.ShutdownTransition(resolveCtx, entry.job, elapsed)
		err := l.proc.Commit(resolveCtx, entry.job, t)
		if err != nil {
			logger.Error("force resolve job", zap.Error(err))
		} else {
			logger.Warn("job force resolved at shutdown",
				zap.String("status", string(t.Status)), zap.Duration("elapsed", elapsed))
		}
		delete(l.active, entry.job.ID)
		metrics.DecActiveCrawls()
		metrics.ObserveJob(string(t.Status), elapsed)
		l.stats.record(elapsed, err != nil)
	}

	grace := time.NewTimer(commitGrace)
	defer grace.Stop()
	for len(l.active) > 0 {
		select {
		case c := <-l.done:
			l.record(c)
		case <-grace.C:
			l.logger.Error("jobs still saving after shutdown grace", zap.Int("active", len(l.active)))
			return
		}
	}
}

func (l *loop) maybeLogStats() {
	if now := l.clock.Now(); !now.Before(l.nextLog) {
		l.logStats()
		l.nextLog = now.Add(l.cfg.StatsInterval)
	}
}

func (l *loop) logStats() {
	snap := l.stats.snapshot(l.clock.Now())
	l.logger.Info("worker stats",
		zap.Int("completed", snap.Completed),
		zap.Int("active", len(l.active)),
		zap.Float64("jobs_per_hour", snap.JobsPerHour),
		zap.Float64("failures_per_hour", snap.FailuresPerHour),
		zap.Duration("mean_duration", snap.MeanDuration),
	)
}
