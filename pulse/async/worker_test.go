package async

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/delivery"
	"github.com/teranos/peterbot/errors"
	pbtest "github.com/teranos/peterbot/internal/testing"
	"github.com/teranos/peterbot/persona"
)

// ============================================================================
// Kirby Worker Test Universe
// ============================================================================
//
// Characters:
//   - Kirby: The worker who inhales jobs one at a time ('Poyo!')
//   - Cronos: Greek god of time, advances the clock for retry backoff tests
// ============================================================================

type workerHarness struct {
	queue    *Queue
	clock    *stepClock
	ai       *fakeAI
	delivery *fakeDelivery
	metrics  *fakeRecorder
	worker   *Worker
}

func newWorkerHarness(t *testing.T, gateway *fakeAI, withDelivery bool) *workerHarness {
	t.Helper()
	h := &workerHarness{
		queue:   NewQueue(pbtest.CreateTestDB(t)),
		clock:   newStepClock(testEpoch),
		ai:      gateway,
		metrics: &fakeRecorder{},
	}
	h.queue.store.now = h.clock.Now

	deps := WorkerDeps{
		Store:   h.queue,
		AI:      gateway,
		Persona: persona.Static{Personality: "Dry humour.", Memory: "Lives in Lisbon."},
		Metrics: h.metrics,
		Now:     h.clock.Now,
	}
	if withDelivery {
		h.delivery = &fakeDelivery{}
		deps.Delivery = h.delivery
	}
	h.worker = NewWorker(context.Background(), DefaultWorkerConfig(), deps)
	return h
}

func (h *workerHarness) create(t *testing.T, input, target string) *Job {
	t.Helper()
	job, err := h.queue.CreateJob(context.Background(), JobTypeTask, input, target, nil)
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)
	return job
}

func (h *workerHarness) get(t *testing.T, id string) *Job {
	t.Helper()
	job, err := h.queue.GetJobByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestKirbyCompletesAndDelivers(t *testing.T) {
	t.Log("⭐ Kirby inhales a pending job... 'Poyo!'")

	h := newWorkerHarness(t, answering("Sunny, 24°C"), true)
	job := h.create(t, "weather in Lisbon?", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusCompleted, got.Status)
	require.NotNil(t, got.Output)
	assert.Equal(t, "Sunny, 24°C", *got.Output)
	assert.True(t, got.Delivered)
	assert.Equal(t, 0, got.RetryCount)

	sent := h.delivery.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "chat-1", sent[0].target)
	assert.Equal(t, "[job "+job.ShortID()+"]\n\nSunny, 24°C", sent[0].text)

	calls := h.ai.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "weather in Lisbon?", calls[0].UserPrompt)
	assert.Equal(t, 10, calls[0].MaxSteps)
	assert.Empty(t, calls[0].Tools)
	assert.True(t, strings.HasPrefix(calls[0].SystemPrompt, persona.Base))
	assert.Contains(t, calls[0].SystemPrompt, "Dry humour.")
	assert.Contains(t, calls[0].SystemPrompt, "Lives in Lisbon.")
	assert.Contains(t, calls[0].SystemPrompt, "Wednesday, 18 February 2026")

	assert.Equal(t, 1, h.metrics.completed)
	assert.Equal(t, []string{DeliverySent}, h.metrics.deliveries)
}

func TestKirbyProcessesJobsInOrder(t *testing.T) {
	h := newWorkerHarness(t, answering("ok"), true)
	h.create(t, "first", "chat-1")
	h.create(t, "second", "chat-1")
	h.create(t, "third", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))

	var prompts []string
	for _, c := range h.ai.Calls() {
		prompts = append(prompts, c.UserPrompt)
	}
	assert.Equal(t, []string{"first", "second", "third"}, prompts)

	// A second tick finds nothing to do
	require.NoError(t, h.worker.Tick(context.Background()))
	assert.Len(t, h.ai.Calls(), 3)
	assert.Len(t, h.delivery.Sent(), 3)
}

func TestAIFailureFailsJobAndNotifies(t *testing.T) {
	h := newWorkerHarness(t, failing(errors.WrapGateway(errors.New("status 503"), "all providers failed")), true)
	job := h.create(t, "summarise the news", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Nil(t, got.Output)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "status 503")
	assert.Equal(t, 0, got.RetryCount, "failure notices do not touch the retry counter")

	sent := h.delivery.Sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].text, "[job "+job.ShortID()+"]\n\nfailed: "))
	assert.True(t, got.Delivered)

	assert.Equal(t, []FailureReason{FailureGateway}, h.metrics.failed)
}

func TestFailureNoticeIsBestEffort(t *testing.T) {
	h := newWorkerHarness(t, failing(errors.New("model refused")), true)
	h.delivery.SetErr(errors.New("telegram down"))
	job := h.create(t, "anything", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))
	require.NoError(t, h.worker.Tick(context.Background()))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.False(t, got.Delivered)
	assert.Equal(t, 0, got.RetryCount)
	assert.Len(t, h.delivery.Sent(), 1, "the notice is sent once and never retried")
}

func TestCronosExhaustsDeliveryRetries(t *testing.T) {
	t.Log("⏳ Cronos watches the delivery clock...")

	h := newWorkerHarness(t, answering("report"), true)
	h.delivery.SetErr(errors.WrapGateway(errors.New("429"), "telegram"))
	job := h.create(t, "weekly report", "chat-1")
	ctx := context.Background()

	// attempt 1
	require.NoError(t, h.worker.Tick(ctx))
	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(h.clock.Now().Add(30*time.Second)))

	// backoff not yet elapsed
	require.NoError(t, h.worker.Tick(ctx))
	assert.Len(t, h.delivery.Sent(), 1)

	// attempt 2
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.worker.Tick(ctx))
	got = h.get(t, job.ID)
	assert.Equal(t, 2, got.RetryCount)
	assert.True(t, got.NextAttemptAt.Equal(h.clock.Now().Add(60*time.Second)))

	// attempt 3 exhausts the budget
	h.clock.Advance(60 * time.Second)
	require.NoError(t, h.worker.Tick(ctx))
	got = h.get(t, job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.False(t, got.Delivered)
	assert.Nil(t, got.Output)
	require.NotNil(t, got.Error)
	assert.Equal(t, DeliveryExhaustedError, *got.Error)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.worker.Tick(ctx))
	assert.Len(t, h.delivery.Sent(), 3)
	assert.Equal(t, 1, len(h.ai.Calls()), "delivery retries never re-run the model")
	assert.Equal(t, []string{DeliveryRetry, DeliveryRetry, DeliveryExhausted}, h.metrics.deliveries)
}

func TestDeliveryRecoversOnRetry(t *testing.T) {
	h := newWorkerHarness(t, answering("late but fine"), true)
	h.delivery.SetErr(errors.New("timeout"))
	job := h.create(t, "ping", "chat-1")
	ctx := context.Background()

	require.NoError(t, h.worker.Tick(ctx))
	h.delivery.SetErr(nil)
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.worker.Tick(ctx))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.True(t, got.Delivered)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.NextAttemptAt)
}

func TestNoTransportMarksDelivered(t *testing.T) {
	h := newWorkerHarness(t, answering("done"), false)
	job := h.create(t, "offline task", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.True(t, got.Delivered)
	assert.Equal(t, []string{DeliverySkipped}, h.metrics.deliveries)
}

func TestLongOutputIsTruncatedForDelivery(t *testing.T) {
	h := newWorkerHarness(t, answering(strings.Repeat("ab", 5000)), true)
	job := h.create(t, "write an essay", "chat-1")

	require.NoError(t, h.worker.Tick(context.Background()))

	sent := h.delivery.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, DefaultMessageLimit, len([]rune(sent[0].text)))
	assert.True(t, strings.HasSuffix(sent[0].text, "[truncated]"))

	// the stored output is never truncated
	assert.Len(t, *h.get(t, job.ID).Output, 10000)
}

type stubTool struct{}

func (stubTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{Name: "run_code", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (stubTool) Execute(context.Context, json.RawMessage) (any, error) { return "ok", nil }

func TestCodeToolOfferedOnlyForCodeTasks(t *testing.T) {
	gateway := answering("done")
	h := newWorkerHarness(t, gateway, true)
	h.worker.deps.CodeTool = stubTool{}

	h.create(t, "plot my spending as a chart", "chat-1")
	h.create(t, "say hello", "chat-1")
	require.NoError(t, h.worker.Tick(context.Background()))

	calls := gateway.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "run_code", calls[0].Tools[0].Definition().Name)
	assert.Empty(t, calls[1].Tools)
}

func TestOrphanedJobsFailOnStart(t *testing.T) {
	h := newWorkerHarness(t, answering("unused"), true)
	job := h.create(t, "was running when we crashed", "chat-1")
	require.NoError(t, h.queue.MarkRunning(context.Background(), job.ID))

	require.NoError(t, h.worker.recoverOrphanedJobs(context.Background()))

	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, OrphanedJobError, *got.Error)
	require.Len(t, h.delivery.Sent(), 1)
	assert.Contains(t, h.delivery.Sent()[0].text, "failed: "+OrphanedJobError)
	assert.Empty(t, h.ai.Calls())
	assert.Equal(t, []FailureReason{FailureInterrupted}, h.metrics.failed)
}

func TestOrphanRecoveryPagesPastListLimit(t *testing.T) {
	h := newWorkerHarness(t, answering("unused"), false)
	ctx := context.Background()
	for i := 0; i < MaxListLimit+3; i++ {
		job := h.create(t, "crashed", "")
		require.NoError(t, h.queue.MarkRunning(ctx, job.ID))
	}

	require.NoError(t, h.worker.recoverOrphanedJobs(ctx))

	counts, err := h.queue.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[JobStatusRunning])
	assert.Equal(t, MaxListLimit+3, counts[JobStatusFailed])
	assert.Len(t, h.metrics.failed, MaxListLimit+3)
}

func TestKirbySurvivesBadGatewayResponses(t *testing.T) {
	t.Log("⭐ Kirby inhales something indigestible and keeps going")

	tests := []struct {
		name   string
		broken func(ctx context.Context, req ai.Request) (*ai.Response, error)
		errMsg string
		reason FailureReason
	}{
		{
			name: "nil response without error",
			broken: func(context.Context, ai.Request) (*ai.Response, error) {
				return nil, nil
			},
			errMsg: "empty response",
			reason: FailureGateway,
		},
		{
			name: "gateway panics",
			broken: func(context.Context, ai.Request) (*ai.Response, error) {
				panic("provider table corrupted")
			},
			errMsg: "internal error: provider table corrupted",
			reason: FailureUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			gateway := &fakeAI{fn: func(ctx context.Context, req ai.Request) (*ai.Response, error) {
				calls++
				if calls == 1 {
					return tt.broken(ctx, req)
				}
				return &ai.Response{Text: "second answer"}, nil
			}}
			h := newWorkerHarness(t, gateway, true)
			first := h.create(t, "first", "chat-1")
			second := h.create(t, "second", "chat-1")

			require.NotPanics(t, func() {
				require.NoError(t, h.worker.Tick(context.Background()))
			})

			got := h.get(t, first.ID)
			assert.Equal(t, JobStatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Contains(t, *got.Error, tt.errMsg)
			assert.True(t, got.Delivered, "failure notice went out")

			got = h.get(t, second.ID)
			assert.Equal(t, JobStatusCompleted, got.Status)
			require.NotNil(t, got.Output)
			assert.Equal(t, "second answer", *got.Output)

			assert.Equal(t, []FailureReason{tt.reason}, h.metrics.failed)
			assert.Len(t, h.delivery.Sent(), 2)
		})
	}
}

func TestPanicAfterRunningFailsJob(t *testing.T) {
	h := newWorkerHarness(t, answering("unused"), true)
	h.worker.deps.Persona = explodingPersona{}
	first := h.create(t, "first", "chat-1")
	second := h.create(t, "second", "chat-1")

	require.NotPanics(t, func() {
		require.NoError(t, h.worker.Tick(context.Background()))
	})

	for _, id := range []string{first.ID, second.ID} {
		got := h.get(t, id)
		assert.Equal(t, JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Contains(t, *got.Error, "internal error")
		assert.True(t, got.Delivered)
	}
	assert.Equal(t, []FailureReason{FailureUnknown, FailureUnknown}, h.metrics.failed)
	assert.Empty(t, h.ai.Calls())
}

func TestShutdownDuringInvokeLeavesJobRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gateway := &fakeAI{fn: func(ctx context.Context, _ ai.Request) (*ai.Response, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newWorkerHarness(t, gateway, true)
	job := h.create(t, "slow thing", "chat-1")

	require.NoError(t, h.worker.Tick(ctx))

	assert.Equal(t, JobStatusRunning, h.get(t, job.ID).Status)
	assert.Empty(t, h.delivery.Sent())

	// next start
	require.NoError(t, h.worker.recoverOrphanedJobs(context.Background()))
	got := h.get(t, job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, OrphanedJobError, *got.Error)
	assert.Len(t, h.ai.Calls(), 1, "the interrupted job is not re-run")
}

func TestWorkerLoop(t *testing.T) {
	h := newWorkerHarness(t, answering("pong"), true)
	h.worker.cfg.PollInterval = 10 * time.Millisecond
	job := h.create(t, "ping", "chat-1")

	h.worker.Start()
	defer h.worker.Stop()

	assert.Eventually(t, func() bool {
		j, err := h.queue.GetJobByID(context.Background(), job.ID)
		return err == nil && j.Delivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryDelayDoubles(t *testing.T) {
	w := NewWorker(context.Background(), WorkerConfig{RetryBackoff: 30 * time.Second}, WorkerDeps{})
	assert.Equal(t, 30*time.Second, w.retryDelay(1))
	assert.Equal(t, 60*time.Second, w.retryDelay(2))
	assert.Equal(t, 120*time.Second, w.retryDelay(3))
}

var _ delivery.Gateway = (*fakeDelivery)(nil)
