package async

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/persona"
)

// fakeAI answers every request through fn
type fakeAI struct {
	mu    sync.Mutex
	calls []ai.Request
	fn    func(ctx context.Context, req ai.Request) (*ai.Response, error)
}

func answering(text string) *fakeAI {
	return &fakeAI{fn: func(context.Context, ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: text, Provider: "fake", Model: "fake-1"}, nil
	}}
}

func failing(err error) *fakeAI {
	return &fakeAI{fn: func(context.Context, ai.Request) (*ai.Response, error) {
		return nil, err
	}}
}

func (f *fakeAI) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeAI) Calls() []ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.Request(nil), f.calls...)
}

type sentMessage struct {
	target string
	text   string
}

// fakeDelivery records messages and fails while err is set
type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeDelivery) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{target: target, text: text})
	return f.err
}

func (f *fakeDelivery) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeDelivery) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeRecorder counts every observation
type fakeRecorder struct {
	mu         sync.Mutex
	completed  int
	failed     []FailureReason
	deliveries []string
	inline     []string
	enqueued   []JobType
}

func (r *fakeRecorder) JobCompleted(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
}

func (r *fakeRecorder) JobFailed(reason FailureReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
}

func (r *fakeRecorder) Delivery(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, outcome)
}

func (r *fakeRecorder) InlineOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline = append(r.inline, outcome)
}

func (r *fakeRecorder) JobEnqueued(t JobType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, t)
}

func (r *fakeRecorder) Inline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.inline...)
}

// stepClock is a manually advanced clock
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start time.Time) *stepClock { return &stepClock{now: start} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// explodingPersona panics whenever a prompt is built
type explodingPersona struct{}

func (explodingPersona) Blocks() persona.Blocks {
	panic("persona files vanished mid-read")
}
