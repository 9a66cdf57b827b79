package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/errors"
)

type taskFailures struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *taskFailures) handle(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	f.errs[name] = err
}

func (f *taskFailures) get(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[name]
}

func TestTaskQueueRequiresErrorHandler(t *testing.T) {
	_, err := NewTaskQueue(4, nil)
	assert.Error(t, err)
}

func TestTaskQueueRunsTasksAndReportsFailures(t *testing.T) {
	failures := &taskFailures{}
	q, err := NewTaskQueue(8, failures.handle)
	require.NoError(t, err)
	q.Start(context.Background())

	var ran []string
	var mu sync.Mutex
	record := func(name string) Task {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return nil
		}
	}

	require.NoError(t, q.Submit("one", record("one")))
	require.NoError(t, q.Submit("broken", func(context.Context) error { return errors.New("send failed") }))
	require.NoError(t, q.Submit("panics", func(context.Context) error { panic("nil map") }))
	require.NoError(t, q.Submit("two", record("two")))
	q.Stop()

	assert.Equal(t, []string{"one", "two"}, ran, "a panic does not stop later tasks")
	assert.EqualError(t, failures.get("broken"), "send failed")
	require.Error(t, failures.get("panics"))
	assert.Contains(t, failures.get("panics").Error(), "task panicked: nil map")

	err = q.Submit("late", record("late"))
	assert.True(t, errors.Is(err, ErrTaskQueueClosed))
}

func TestTaskQueueFull(t *testing.T) {
	q, err := NewTaskQueue(1, func(string, error) {})
	require.NoError(t, err)

	block := make(chan struct{})
	started := make(chan struct{})
	q.Start(context.Background())
	require.NoError(t, q.Submit("busy", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	require.NoError(t, q.Submit("buffered", func(context.Context) error { return nil }))
	err = q.Submit("overflow", func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrTaskQueueFull))

	close(block)
	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not drain the queue")
	}
}
