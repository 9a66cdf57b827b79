package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/teranos/peterbot/errors"
)

// ErrTaskQueueFull is returned by Submit when the buffer is full
var ErrTaskQueueFull = errors.New("task queue full")

// ErrTaskQueueClosed is returned by Submit after Stop
var ErrTaskQueueClosed = errors.New("task queue closed")

// Task is background work run after a response has been sent
type Task func(ctx context.Context) error

// TaskErrorHandler receives every failed task and every recovered panic
type TaskErrorHandler func(name string, err error)

type namedTask struct {
	name string
	run  Task
}

// TaskQueue runs submitted tasks one at a time on a single goroutine.
// Nothing submitted is dropped silently: failures go to the error handler,
// a full buffer is reported to the submitter.
type TaskQueue struct {
	tasks   chan namedTask
	onError TaskErrorHandler

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewTaskQueue creates a queue buffering up to size tasks
func NewTaskQueue(size int, onError TaskErrorHandler) (*TaskQueue, error) {
	if onError == nil {
		return nil, errors.AssertionFailedf("task queue needs an error handler")
	}
	if size <= 0 {
		size = 64
	}
	return &TaskQueue{
		tasks:   make(chan namedTask, size),
		onError: onError,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the consumer. Tasks run with ctx.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	go func() {
		defer close(q.done)
		for t := range q.tasks {
			q.run(ctx, t)
		}
	}()
}

// Submit enqueues a task without blocking
func (q *TaskQueue) Submit(name string, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.Wrapf(ErrTaskQueueClosed, "task %s", name)
	}
	select {
	case q.tasks <- namedTask{name: name, run: task}:
		return nil
	default:
		return errors.Wrapf(ErrTaskQueueFull, "task %s", name)
	}
}

// Stop refuses new tasks, runs what is already queued and waits for it
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()

	if !started {
		close(q.done)
		return
	}
	<-q.done
}

func (q *TaskQueue) run(ctx context.Context, t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.WithDetail(errors.Newf("task panicked: %v", r), fmt.Sprintf("%s", debug.Stack()))
			q.onError(t.name, err)
		}
	}()

	if err := t.run(ctx); err != nil {
		q.onError(t.name, err)
	}
}
