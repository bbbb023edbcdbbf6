package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of work. It receives the pool's context.
type Job func(ctx context.Context)

// Pool is a fixed set of workers draining a bounded queue.
type Pool struct {
	jobQueue    chan Job
	workerCount int
	logger      *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(workerCount int, bufferSize int, logger *zap.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		jobQueue:    make(chan Job, bufferSize),
		workerCount: workerCount,
		logger:      logger,
	}
}

// Workers is the number of concurrent jobs.
func (p *Pool) Workers() int { return p.workerCount }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("started worker pool", zap.Int("workers", p.workerCount))
}

// Submit blocks until the job is queued or ctx ends.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the job only if there is room.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobQueue <- job:
		return true
	default:
		infrastructure.PoolQueueFull.Inc()
		p.logger.Warn("worker pool job queue full, dropping job")
		return false
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()
	p.wg.Wait()
}

// worker runs jobs until Stop closes the queue. Jobs taken after ctx ends
// still run, with the cancelled ctx, so every queued job reaches its caller.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobQueue {
		p.process(ctx, id, job)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Int("worker_id", workerID), zap.Any("panic", r))
		}
	}()
	job(ctx)
}

// Each runs fn(i) for i in [0,n) on the pool and waits for all of them. It
// stops submitting when ctx ends and returns ctx's error in that case. The
// pool must outlive the call.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	var wg sync.WaitGroup
	var err error
	for i := 0; i < n; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		i := i
		wg.Add(1)
		if err = p.Submit(ctx, func(context.Context) {
			defer wg.Done()
			fn(ctx, i)
		}); err != nil {
			wg.Done()
			break
		}
	}
	wg.Wait()
	return err
}
