package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/errors"
	pbtest "github.com/teranos/peterbot/internal/testing"
)

func newTestDispatcher(t *testing.T, gateway ai.Gateway, timeout time.Duration) (*Dispatcher, *Queue, *fakeRecorder) {
	t.Helper()
	queue := NewQueue(pbtest.CreateTestDB(t))
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherConfig{Timeout: timeout}, gateway, queue, nil, nil, rec, nil)
	return d, queue, rec
}

func TestInlineAnswerCreatesNoJob(t *testing.T) {
	gateway := answering("Hi there")
	d, queue, rec := newTestDispatcher(t, gateway, time.Second)

	res, err := d.Handle(context.Background(), InlineRequest{
		Input:              "hello",
		ConversationTarget: "chat-1",
		History:            []ai.Message{{Role: ai.RoleUser, Content: "earlier"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Text)
	assert.False(t, res.Dispatched)
	assert.Empty(t, res.JobID)

	jobs, err := queue.ListJobs(context.Background(), JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	calls := gateway.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].History, 1)
	assert.Equal(t, []string{InlineAnswered}, rec.Inline())
}

func TestSlowInlineBecomesQuickJob(t *testing.T) {
	release := make(chan struct{})
	gateway := &fakeAI{fn: func(ctx context.Context, _ ai.Request) (*ai.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &ai.Response{Text: "too late"}, nil
	}}
	d, queue, rec := newTestDispatcher(t, gateway, 20*time.Millisecond)
	defer close(release)

	res, err := d.Handle(context.Background(), InlineRequest{Input: "research flights to Tokyo", ConversationTarget: "chat-9"})
	require.NoError(t, err)
	assert.True(t, res.Dispatched)
	require.NotEmpty(t, res.JobID)
	assert.Empty(t, res.Text)

	job, err := queue.GetJobByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobTypeQuick, job.Type)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, "research flights to Tokyo", job.Input)
	assert.Equal(t, "chat-9", job.ConversationTarget)
	assert.Equal(t, []string{InlineDispatched}, rec.Inline())
}

func TestInlineErrorBeforeTimeout(t *testing.T) {
	d, queue, rec := newTestDispatcher(t, failing(errors.WrapGateway(errors.New("401"), "anthropic")), time.Second)

	_, err := d.Handle(context.Background(), InlineRequest{Input: "hello", ConversationTarget: "chat-1"})
	require.Error(t, err)
	assert.True(t, errors.IsGateway(err))

	counts, err := queue.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[JobStatusPending])
	assert.Equal(t, []string{InlineError}, rec.Inline())
}

func TestInlineRejectsInvalidInput(t *testing.T) {
	gateway := answering("unused")
	d, _, _ := newTestDispatcher(t, gateway, time.Second)

	_, err := d.Handle(context.Background(), InlineRequest{Input: ""})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, gateway.Calls())
}

func TestInlineCallSurvivesCallerCancellation(t *testing.T) {
	seen := make(chan error, 1)
	gateway := &fakeAI{fn: func(ctx context.Context, _ ai.Request) (*ai.Response, error) {
		time.Sleep(50 * time.Millisecond)
		seen <- ctx.Err()
		return &ai.Response{Text: "late"}, nil
	}}
	d, _, _ := newTestDispatcher(t, gateway, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := d.Handle(ctx, InlineRequest{Input: "slow one", ConversationTarget: "chat-1"})
	require.NoError(t, err)
	require.True(t, res.Dispatched)
	cancel()

	select {
	case err := <-seen:
		assert.NoError(t, err, "the detached call is not cancelled with the request")
	case <-time.After(time.Second):
		t.Fatal("inline call never finished")
	}
}
