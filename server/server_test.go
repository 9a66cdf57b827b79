package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/ai/tracker"
	"github.com/teranos/peterbot/errors"
	pbtest "github.com/teranos/peterbot/internal/testing"
	"github.com/teranos/peterbot/metrics"
	"github.com/teranos/peterbot/pulse/async"
	"github.com/teranos/peterbot/pulse/schedule"
)

// fakeGateway answers with reply, fails with err, or blocks until released
type fakeGateway struct {
	reply   string
	err     error
	block   chan struct{}
	mu      sync.Mutex
	prompts []string
}

func (g *fakeGateway) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.UserPrompt)
	g.mu.Unlock()

	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &ai.Response{Text: g.reply, Provider: "fake"}, nil
}

type sentMessage struct {
	target string
	text   string
}

// fakeDelivery records messages
type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (d *fakeDelivery) Send(ctx context.Context, target, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{target: target, text: text})
	return nil
}

func (d *fakeDelivery) Sent() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

type fakeTicker struct{}

func (fakeTicker) GetStats() map[string]interface{} {
	return map[string]interface{}{"ticksSinceStart": 3}
}

type fakeUsage struct{ err error }

func (u fakeUsage) GetUsageStats(ctx context.Context, since time.Time) (*tracker.UsageStats, error) {
	if u.err != nil {
		return nil, u.err
	}
	return &tracker.UsageStats{TotalRequests: 4, SuccessfulRequests: 3, SuccessRate: 0.75}, nil
}

// harness wires a server over an in-memory database
type harness struct {
	db        *sql.DB
	srv       *Server
	jobs      *async.Queue
	schedules *schedule.Store
	gateway   *fakeGateway
	delivery  *fakeDelivery
}

type harnessOption func(*Deps, *Config)

func withoutChat() harnessOption {
	return func(d *Deps, _ *Config) { d.Dispatcher = nil }
}

func withOrigins(origins ...string) harnessOption {
	return func(_ *Deps, c *Config) { c.AllowedOrigins = origins }
}

func withExtras() harnessOption {
	return func(d *Deps, _ *Config) {
		d.Ticker = fakeTicker{}
		d.Usage = fakeUsage{}
		d.Metrics = metrics.NewCollector().Handler()
	}
}

func withLogger(l *zap.SugaredLogger) harnessOption {
	return func(d *Deps, _ *Config) { d.Logger = l }
}

func newHarness(t *testing.T, gateway *fakeGateway, opts ...harnessOption) *harness {
	t.Helper()

	db := pbtest.CreateTestDB(t)
	h := &harness{
		db:        db,
		jobs:      async.NewQueue(db),
		schedules: schedule.NewStore(db),
		gateway:   gateway,
		delivery:  &fakeDelivery{},
	}

	tasks, err := async.NewTaskQueue(8, func(name string, err error) {
		t.Logf("task %s failed: %v", name, err)
	})
	require.NoError(t, err)
	tasks.Start(context.Background())
	t.Cleanup(tasks.Stop)

	deps := Deps{
		Jobs:      h.jobs,
		Schedules: h.schedules,
		Tasks:     tasks,
		Delivery:  h.delivery,
	}
	if gateway != nil {
		deps.Dispatcher = async.NewDispatcher(async.DispatcherConfig{Timeout: 50 * time.Millisecond},
			gateway, h.jobs, nil, nil, nil, nil)
	}
	cfg := Config{Host: "127.0.0.1", Port: 0}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	h.srv, err = New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		if gateway != nil && gateway.block != nil {
			close(gateway.block)
		}
		h.srv.Shutdown(context.Background())
	})
	return h
}

// do sends a request through the router and returns the recorder
func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, &fakeGateway{reply: "hi"}, withExtras())

	_, err := h.jobs.CreateJob(context.Background(), async.JobTypeTask, "summarise the news", "chat-1", nil)
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.System.JobsPending)
	assert.Equal(t, 0, resp.System.JobsFailed)
	assert.EqualValues(t, 3, resp.Scheduler["ticksSinceStart"])
	require.NotNil(t, resp.AIUsage)
	assert.Equal(t, 4, resp.AIUsage.TotalRequests)
}

func TestHealthOmitsUnavailableUsage(t *testing.T) {
	h := newHarness(t, nil, func(d *Deps, _ *Config) {
		d.Usage = fakeUsage{err: errors.New("locked")}
	})

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.NotContains(t, resp, "aiUsage")
	assert.NotContains(t, resp, "scheduler")
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t, nil, withExtras())

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsRouteAbsentWithoutCollector(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/jobs", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Contains(t, resp.Error, "Invalid request body")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.NewValidationError("bad"), http.StatusBadRequest},
		{"invalid schedule", errors.NewInvalidScheduleError("bad cron"), http.StatusBadRequest},
		{"not found", errors.NewNotFoundError("job not found: x"), http.StatusNotFound},
		{"wrapped not found", errors.Wrap(errors.NewNotFoundError("gone"), "lookup"), http.StatusNotFound},
		{"chat disabled", ErrChatDisabled, http.StatusServiceUnavailable},
		{"persistence", errors.WrapPersistence(errors.New("disk I/O"), "insert"), http.StatusInternalServerError},
		{"gateway", errors.WrapGateway(errors.New("502"), "invoke"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestServerErrorHidesCause(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)

	h.srv.writeWrappedError(rec, req,
		errors.WithHint(errors.WrapPersistence(errors.New("database is locked"), "query"), "retry shortly"),
		"failed to list jobs")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "failed to list jobs", resp.Error)
	assert.Equal(t, []string{"retry shortly"}, resp.Hints)
}

func TestHandlerLogsCarryRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := newHarness(t, &fakeGateway{err: errors.WrapGateway(errors.New("upstream 502"), "all providers failed")},
		withLogger(zap.New(core).Sugar()))

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "hi"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failed := logs.FilterMessage("chat request failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	requestID, _ := fields["request_id"].(string)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, "http", fields["component"])

	access := logs.FilterMessage("HTTP request").All()
	require.Len(t, access, 1)
	assert.Equal(t, requestID, access[0].ContextMap()["request_id"])
	assert.Equal(t, "/api/chat", access[0].ContextMap()["path"])
}

func TestGetJobErrorLogCarriesJobID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := newHarness(t, nil, withLogger(zap.New(core).Sugar()))
	require.NoError(t, h.db.Close())

	rec := h.do(t, http.MethodGet, "/api/jobs/job-42", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failed := logs.FilterMessage("failed to get job").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "job-42", failed[0].ContextMap()["job_id"])
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin", nil, "", true},
		{"localhost default", nil, "http://localhost:5173", true},
		{"foreign default", nil, "https://evil.example", false},
		{"configured prefix", []string{"https://dash.example"}, "https://dash.example:8443", true},
		{"configured excludes localhost", []string{"https://dash.example"}, "http://localhost:5173", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: Config{AllowedOrigins: tt.allowed}}
			req := httptest.NewRequest(http.MethodGet, "/ws/jobs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(req))
		})
	}
}

func TestAddr(t *testing.T) {
	s := &Server{cfg: Config{Host: "0.0.0.0", Port: 8787}}
	assert.Equal(t, "0.0.0.0:8787", s.Addr())
}
