package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-converse/pkg/core"
)

// RunFunc performs one analysis for a user.
type RunFunc func(ctx context.Context, userID string) error

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries  uint64
	BaseBackoff time.Duration
	// OnResult, if set, observes every finished job. status is "ok" or "error".
	OnResult func(job Job, status string, elapsed time.Duration)
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	return o
}

// Pool runs analysis jobs on a fixed set of workers.
//
// Enqueue never blocks. A job for a user who already has one waiting is
// coalesced into it; a job that finds the queue full is parked on a waiter
// goroutine until there is room. Runs for the same user never overlap.
// Failed attempts are retried with exponential backoff; the final error is
// logged and dropped.
type Pool struct {
	run    RunFunc
	opts   PoolOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan Job

	mu      sync.Mutex
	closed  bool
	pending map[string]bool
	locks   map[string]*userLock

	workers sync.WaitGroup
	waiters sync.WaitGroup
}

type userLock struct {
	sem  chan struct{}
	refs int
}

// NewPool starts opts.Workers workers calling run.
func NewPool(run RunFunc, opts PoolOptions, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		run:     run,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan Job, opts.QueueSize),
		pending: make(map[string]bool),
		locks:   make(map[string]*userLock),
	}
	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands off job. It returns false only once the pool is closed.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if p.pending[job.UserID] {
		return true
	}
	p.pending[job.UserID] = true

	select {
	case p.queue <- job:
	default:
		p.waiters.Add(1)
		go p.wait(job)
	}
	return true
}

func (p *Pool) wait(job Job) {
	defer p.waiters.Done()
	select {
	case p.queue <- job:
	case <-p.ctx.Done():
		p.mu.Lock()
		delete(p.pending, job.UserID)
		p.mu.Unlock()
		p.logger.Warn("analysis job abandoned", "user_id", job.UserID, "trigger", job.Trigger)
	}
}

// Pending reports the number of users with a job waiting to start.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// If ctx ends first, in-flight runs are cancelled and ctx.Err() is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.waiters.Wait()
		close(p.queue)
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for job := range p.queue {
		p.mu.Lock()
		delete(p.pending, job.UserID)
		p.mu.Unlock()

		p.process(job)
	}
}

func (p *Pool) process(job Job) {
	unlock, ok := p.lockUser(job.UserID)
	if !ok {
		return
	}
	defer unlock()

	start := time.Now()
	b := retry.WithMaxRetries(p.opts.MaxRetries, retry.NewExponential(p.opts.BaseBackoff))
	err := retry.Do(p.ctx, b, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
		err := p.run(attemptCtx, job.UserID)
		if err == nil || !retryable(err) {
			return err
		}
		p.logger.Debug("analysis attempt failed", "user_id", job.UserID, "error", err)
		return retry.RetryableError(err)
	})

	status := "ok"
	if err != nil {
		status = "error"
		p.logger.Warn("analysis failed", "user_id", job.UserID, "trigger", job.Trigger, "error", err)
	} else {
		p.logger.Info("analysis updated", "user_id", job.UserID, "trigger", job.Trigger)
	}
	if p.opts.OnResult != nil {
		p.opts.OnResult(job, status, time.Since(start))
	}
}

// lockUser blocks until no other run for userID is active.
func (p *Pool) lockUser(userID string) (func(), bool) {
	p.mu.Lock()
	l, ok := p.locks[userID]
	if !ok {
		l = &userLock{sem: make(chan struct{}, 1)}
		p.locks[userID] = l
	}
	l.refs++
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, userID)
		}
		p.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			release()
		}, true
	case <-p.ctx.Done():
		release()
		return nil, false
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return true
}
