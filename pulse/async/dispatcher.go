package async

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/persona"
)

const (
	DefaultInlineTimeout = 30 * time.Second

	// lateResultTimeout bounds an inline call that lost the race and keeps running detached
	lateResultTimeout = 5 * time.Minute
)

// Enqueuer creates jobs. *Queue and *Store satisfy it.
type Enqueuer interface {
	CreateJob(ctx context.Context, jobType JobType, input, conversationTarget string, scheduleID *string) (*Job, error)
}

// InlineRequest is an interactive message
type InlineRequest struct {
	Input              string
	ConversationTarget string
	History            []ai.Message
}

// InlineResult is either an answer or a dispatched job
type InlineResult struct {
	Text       string `json:"reply,omitempty"`
	Dispatched bool   `json:"dispatched,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// DispatcherConfig tunes the inline fast path
type DispatcherConfig struct {
	Timeout  time.Duration
	MaxSteps int
}

// Dispatcher answers interactive messages inline when the model is quick
// enough, and turns slow ones into quick jobs for the worker.
type Dispatcher struct {
	cfg      DispatcherConfig
	ai       ai.Gateway
	jobs     Enqueuer
	codeTool ai.Tool
	persona  persona.Source
	metrics  Recorder
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. codeTool, src, metrics and log may be nil.
func NewDispatcher(cfg DispatcherConfig, gateway ai.Gateway, jobs Enqueuer, codeTool ai.Tool, src persona.Source, metrics Recorder, log *zap.SugaredLogger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultInlineTimeout
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultWorkerConfig().MaxSteps
	}
	if src == nil {
		src = persona.Static{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		cfg:      cfg,
		ai:       gateway,
		jobs:     jobs,
		codeTool: codeTool,
		persona:  src,
		metrics:  metrics,
		logger:   logger.AddChatSymbol(log),
		now:      time.Now,
	}
}

type invokeOutcome struct {
	resp *ai.Response
	err  error
}

// Handle races the model against the inline timeout. A model error before
// the deadline is returned and no job is created. Past the deadline the
// input becomes a quick job and the late answer is discarded.
func (d *Dispatcher) Handle(ctx context.Context, req InlineRequest) (InlineResult, error) {
	if err := ValidateInput(JobTypeQuick, req.Input); err != nil {
		return InlineResult{}, err
	}
	if d.ai == nil {
		return InlineResult{}, errors.WrapGateway(errors.New("no AI gateway configured"), "cannot answer")
	}

	aiReq := ai.Request{
		SystemPrompt: persona.BuildSystemPrompt(d.persona.Blocks(), d.now()),
		UserPrompt:   req.Input,
		History:      req.History,
		Tools:        ToolsFor(req.Input, d.codeTool),
		MaxSteps:     d.cfg.MaxSteps,
	}

	// Detached so a dispatched request does not cancel the call mid-flight
	callCtx, cancelCall := context.WithTimeout(context.WithoutCancel(ctx), lateResultTimeout)
	done := make(chan invokeOutcome, 1)
	go func() {
		defer cancelCall()
		resp, err := d.ai.Invoke(callCtx, aiReq)
		done <- invokeOutcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			d.metrics.InlineOutcome(InlineError)
			return InlineResult{}, out.err
		}
		d.metrics.InlineOutcome(InlineAnswered)
		return InlineResult{Text: out.resp.Text}, nil

	case <-timer.C:
		job, err := d.jobs.CreateJob(ctx, JobTypeQuick, req.Input, req.ConversationTarget, nil)
		if err != nil {
			d.metrics.InlineOutcome(InlineError)
			return InlineResult{}, errors.Wrap(err, "failed to dispatch slow request")
		}
		d.metrics.InlineOutcome(InlineDispatched)
		d.logger.Infow("Inline timeout, dispatched job",
			logger.FieldJobID, job.ID, "timeout_ms", d.cfg.Timeout.Milliseconds())
		return InlineResult{Dispatched: true, JobID: job.ID}, nil

	case <-ctx.Done():
		return InlineResult{}, errors.Wrap(ctx.Err(), "inline request abandoned")
	}
}
