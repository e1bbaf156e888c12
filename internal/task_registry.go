package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// TaskOutcome is what a task body reports when it returns.
type TaskOutcome struct {
	Success bool
	Message string
	Results []*formsync.SyncResult
}

// TaskFunc is the body of an asynchronous task. update mutates the task snapshot under
// the registry lock and must not block.
type TaskFunc func(ctx context.Context, update func(func(*formsync.TaskState))) TaskOutcome

type task struct {
	state  formsync.TaskState
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskRegistry tracks asynchronous sync tasks. The oldest tasks are evicted once
// capacity is reached.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks *lru.Cache[string, *task]
	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewTaskRegistry creates a registry holding at most capacity tasks.
func NewTaskRegistry(capacity int) (*TaskRegistry, error) {
	cache, err := lru.NewWithEvict[string, *task](capacity, func(id string, t *task) {
		if !t.state.Status.Terminal() {
			zap.S().Warnw("evicted task still running", "taskId", id, "kind", t.state.Kind)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task registry: %w", err)
	}
	base, stop := context.WithCancel(context.Background())
	return &TaskRegistry{tasks: cache, base: base, stop: stop, now: time.Now}, nil
}

// Launch registers a task and runs fn in its own goroutine. It returns the task id.
func (r *TaskRegistry) Launch(kind formsync.TaskKind, formID string, fullSync bool, fn TaskFunc) string {
	ctx, cancel := context.WithCancel(r.base)
	t := &task{
		state: formsync.TaskState{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    formsync.TaskPending,
			FullSync:  fullSync,
			FormID:    formID,
			CreatedAt: r.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.tasks.Add(t.state.ID, t)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, t, fn)

	zap.S().Infow("task started", "taskId", t.state.ID, "kind", kind, "formId", formID, "fullSync", fullSync)
	return t.state.ID
}

func (r *TaskRegistry) run(ctx context.Context, t *task, fn TaskFunc) {
	defer r.wg.Done()
	defer close(t.done)
	defer t.cancel()

	r.mu.Lock()
	if ctx.Err() == nil {
		started := r.now()
		t.state.Status = formsync.TaskRunning
		t.state.StartedAt = &started
	}
	r.mu.Unlock()

	var out TaskOutcome
	if ctx.Err() == nil {
		out = fn(ctx, func(mutate func(*formsync.TaskState)) {
			r.mu.Lock()
			defer r.mu.Unlock()
			mutate(&t.state)
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	finished := r.now()
	t.state.FinishedAt = &finished
	t.state.Results = out.Results
	t.state.Message = out.Message
	switch {
	case ctx.Err() != nil:
		t.state.Status = formsync.TaskCancelled
		if t.state.Message == "" {
			t.state.Message = "task cancelled"
		}
	case out.Success:
		t.state.Status = formsync.TaskSucceeded
	default:
		t.state.Status = formsync.TaskFailed
	}
	zap.S().Infow("task finished", "taskId", t.state.ID, "status", t.state.Status, "message", t.state.Message)
}

// Get returns a snapshot of the task.
func (r *TaskRegistry) Get(id string) (*formsync.TaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks.Peek(id)
	if !ok {
		return nil, formsync.NewNotFoundError(formsync.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", id))
	}
	snapshot := t.state
	snapshot.Results = append([]*formsync.SyncResult(nil), t.state.Results...)
	return &snapshot, nil
}

// Cancel requests cooperative cancellation. Cancelling a finished task is a no-op.
func (r *TaskRegistry) Cancel(id string) error {
	r.mu.Lock()
	t, ok := r.tasks.Peek(id)
	r.mu.Unlock()
	if !ok {
		return formsync.NewNotFoundError(formsync.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", id))
	}
	t.cancel()
	zap.S().Infow("task cancellation requested", "taskId", id)
	return nil
}

// Wait blocks until the task finishes or ctx is done.
func (r *TaskRegistry) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.tasks.Peek(id)
	r.mu.Unlock()
	if !ok {
		return formsync.NewNotFoundError(formsync.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", id))
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every running task and waits for them to return.
func (r *TaskRegistry) Close() {
	r.stop()
	r.wg.Wait()
}
