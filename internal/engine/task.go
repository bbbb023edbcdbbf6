package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
)

// Task is the handle of an asynchronous run.
type Task struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	progress Progress
	result   *model.BacktestResult
	err      error
}

// Start runs req on its own goroutine. The run is cancelled when ctx is or
// when Cancel is called.
func (b *Backtester) Start(ctx context.Context, req Request, opts ...RunOption) *Task {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:       req.RunID,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: Progress{RunID: req.RunID, Phase: PhaseIdle},
	}
	opts = append(opts, WithProgress(t.setProgress))

	go func() {
		defer close(t.done)
		defer cancel()
		res, err := b.Run(ctx, req, opts...)
		t.mu.Lock()
		t.result, t.err = res, err
		t.mu.Unlock()
	}()
	return t
}

func (t *Task) setProgress(p Progress) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

// Progress returns the latest reported progress.
func (t *Task) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Cancel requests cooperative cancellation.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (*model.BacktestResult, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome once the task is done. Before that it returns
// nil and no error.
func (t *Task) Result() (*model.BacktestResult, error) {
	select {
	case <-t.done:
	default:
		return nil, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result, t.err
}

// Finished reports whether the run has ended.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Tasks indexes running and finished tasks by id.
type Tasks struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewTasks() *Tasks {
	return &Tasks{tasks: make(map[string]*Task)}
}

func (r *Tasks) Add(t *Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
}

func (r *Tasks) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Prune forgets finished tasks.
func (r *Tasks) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.tasks {
		if t.Finished() {
			delete(r.tasks, id)
			n++
		}
	}
	return n
}
