package async

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/delivery"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/persona"
)

const (
	// OrphanedJobError is recorded on jobs found running at startup
	OrphanedJobError = "interrupted by restart"

	// DeliveryExhaustedError is recorded when the delivery retry budget runs out
	DeliveryExhaustedError = "delivery exhausted"
)

// JobStore is what the worker needs from the job store. *Queue and *Store satisfy it.
type JobStore interface {
	GetPendingJobs(ctx context.Context) ([]*Job, error)
	GetUndeliveredJobs(ctx context.Context, now time.Time, maxRetries int) ([]*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, output string) error
	MarkFailed(ctx context.Context, id, errorText string) error
	MarkDelivered(ctx context.Context, id string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ScheduleDeliveryRetry(ctx context.Context, id string, at time.Time) error
}

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/daemon operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerConfig tunes the worker loop
type WorkerConfig struct {
	PollInterval time.Duration
	MaxRetries   int           // delivery attempts before the job is failed
	RetryBackoff time.Duration // base delay, doubled per failed attempt
	MessageLimit int           // characters per delivered message
	MaxSteps     int           // tool-use rounds per invocation
}

// DefaultWorkerConfig returns the production defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 30 * time.Second,
		MessageLimit: DefaultMessageLimit,
		MaxSteps:     10,
	}
}

// WorkerDeps are the collaborators of a Worker. Delivery, CodeTool, Persona
// and Metrics may be nil.
type WorkerDeps struct {
	Store    JobStore
	AI       ai.Gateway
	Delivery delivery.Gateway
	CodeTool ai.Tool
	Persona  persona.Source
	Metrics  Recorder
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Worker polls for pending jobs and processes them one at a time: AI
// invocation, then delivery. A second pass per tick re-attempts deliveries
// whose backoff has elapsed.
type Worker struct {
	cfg  WorkerConfig
	deps WorkerDeps
	log  pulseLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewWorker creates a worker bound to ctx; Stop or cancelling ctx ends it
func NewWorker(ctx context.Context, cfg WorkerConfig, deps WorkerDeps) *Worker {
	def := DefaultWorkerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = def.MessageLimit
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Persona == nil {
		deps.Persona = persona.Static{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	wctx, cancel := context.WithCancel(ctx)
	return &Worker{
		cfg:       cfg,
		deps:      deps,
		log:       pulseLogger{logger.AddPulseSymbol(deps.Logger)},
		parentCtx: ctx,
		ctx:       wctx,
		cancel:    cancel,
	}
}

// Start recovers orphaned jobs and launches the poll loop
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.ctx.Done():
		w.ctx, w.cancel = context.WithCancel(w.parentCtx)
		w.log.Starting("Recreated worker context after previous shutdown")
	default:
	}
	w.running = true
	ctx := w.ctx
	w.mu.Unlock()

	if err := w.recoverOrphanedJobs(ctx); err != nil {
		w.log.Warnw("Failed to recover orphaned jobs", logger.FieldError, err.Error())
	}

	w.log.Starting("Job worker started", "poll", w.cfg.PollInterval, "max_retries", w.cfg.MaxRetries)

	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop cancels the loop and waits up to 30s for it to exit. A job in flight
// has its context cancelled and stays running; the next Start fails it as
// interrupted.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.cancel()
	w.running = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		w.log.Pulse("❀ Job worker stopped")
	case <-time.After(timeout):
		w.log.Closing("Job worker stop timed out", "timeout", timeout)
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.Tick(ctx)
		if err == nil {
			if errorCount > 0 {
				w.log.Infow("Job worker recovered from errors", "previous_error_count", errorCount)
			}
			errorCount = 0
			backoff = time.Second
			continue
		}

		if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
			return
		}

		errorCount++
		w.log.Errorw("Job worker poll failed", logger.FieldError, err.Error(), "consecutive_errors", errorCount)

		if errorCount >= maxConsecutiveErrors {
			w.log.Warnw("Job worker backing off", "backoff", backoff, "consecutive_errors", errorCount)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// Tick runs one poll: every pending job, then the delivery-retry pass.
// Only poll-level failures are returned; per-job failures are logged.
func (w *Worker) Tick(ctx context.Context) error {
	jobs, err := w.deps.Store.GetPendingJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch pending jobs")
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		w.ProcessJob(ctx, job)
	}
	if ctx.Err() != nil {
		return nil
	}

	due, err := w.deps.Store.GetUndeliveredJobs(ctx, w.deps.Now(), w.cfg.MaxRetries)
	if err != nil {
		return errors.Wrap(err, "failed to fetch undelivered jobs")
	}
	for _, job := range due {
		if ctx.Err() != nil {
			return nil
		}
		w.retryDelivery(ctx, job)
	}
	return nil
}

func (w *Worker) retryDelivery(ctx context.Context, job *Job) {
	defer w.recoverJob(ctx, job)
	w.deliver(ctx, job)
}

// ProcessJob drives one pending job to completed or failed and attempts delivery.
// A panic fails the job instead of the loop.
func (w *Worker) ProcessJob(ctx context.Context, job *Job) {
	defer w.recoverJob(ctx, job)
	log := w.log.With(logger.FieldJobID, job.ID)
	start := w.deps.Now()

	if err := w.deps.Store.MarkRunning(ctx, job.ID); err != nil {
		log.Errorw("Failed to mark job running", logger.FieldError, err.Error())
		return
	}
	job.Status = JobStatusRunning

	text, err := w.invoke(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// shutdown; the job is recovered as orphaned on next start
			return
		}
		log.Warnw("Job failed", logger.FieldError, err.Error())
		if err := w.deps.Store.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Errorw("Failed to mark job failed", logger.FieldError, err.Error())
			return
		}
		job.Status = JobStatusFailed
		w.deps.Metrics.JobFailed(ClassifyFailure(err))
		w.notifyFailure(ctx, job, err.Error())
		return
	}

	if err := w.deps.Store.MarkCompleted(ctx, job.ID, text); err != nil {
		log.Errorw("Failed to mark job completed", logger.FieldError, err.Error())
		return
	}
	job.Status = JobStatusCompleted
	job.Output = &text

	elapsed := w.deps.Now().Sub(start)
	w.deps.Metrics.JobCompleted(elapsed)
	log.Infow("Job completed", logger.FieldDurationMS, elapsed.Milliseconds())

	w.deliver(ctx, job)
}

// recoverJob is deferred around per-job work. A job still running when the
// panic hit is failed and the user notified; otherwise the panic is logged.
func (w *Worker) recoverJob(ctx context.Context, job *Job) {
	r := recover()
	if r == nil {
		return
	}
	log := w.log.With(logger.FieldJobID, job.ID)
	log.Errorw("Panic in job", "panic", r, "stack", string(debug.Stack()))

	if job.Status != JobStatusRunning || ctx.Err() != nil {
		return
	}
	errText := fmt.Sprintf("internal error: %v", r)
	if err := w.deps.Store.MarkFailed(ctx, job.ID, errText); err != nil {
		log.Errorw("Failed to mark job failed", logger.FieldError, err.Error())
		return
	}
	job.Status = JobStatusFailed
	w.deps.Metrics.JobFailed(FailureUnknown)
	w.notifyFailure(ctx, job, errText)
}

func (w *Worker) invoke(ctx context.Context, job *Job) (string, error) {
	if w.deps.AI == nil {
		return "", errors.WrapGateway(errors.New("no AI gateway configured"), "cannot run job")
	}

	req := ai.Request{
		SystemPrompt: persona.BuildSystemPrompt(w.deps.Persona.Blocks(), w.deps.Now()),
		UserPrompt:   job.Input,
		Tools:        ToolsFor(job.Input, w.deps.CodeTool),
		MaxSteps:     w.cfg.MaxSteps,
	}

	resp, err := w.deps.AI.Invoke(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.WrapGateway(errors.New("empty response"), "model invocation failed")
	}
	if len(resp.ToolResults) > 0 {
		w.log.Debugw("Job used tools", logger.FieldJobID, job.ID, logger.FieldCount, len(resp.ToolResults))
	}
	return resp.Text, nil
}

// deliver sends a completed job's output and resolves the delivery state
func (w *Worker) deliver(ctx context.Context, job *Job) {
	log := w.log.With(logger.FieldJobID, job.ID)

	if w.deps.Delivery == nil || job.ConversationTarget == "" {
		if w.deps.Delivery != nil {
			log.Warnw("Job has no conversation target; nothing to deliver")
		}
		if err := w.deps.Store.MarkDelivered(ctx, job.ID); err != nil {
			log.Errorw("Failed to mark job delivered", logger.FieldError, err.Error())
			return
		}
		w.deps.Metrics.Delivery(DeliverySkipped)
		return
	}

	output := ""
	if job.Output != nil {
		output = *job.Output
	}
	text := FormatDelivery(DeliveryHeader(job), output, w.cfg.MessageLimit)

	sendErr := w.deps.Delivery.Send(ctx, job.ConversationTarget, text)
	if sendErr == nil {
		if err := w.deps.Store.MarkDelivered(ctx, job.ID); err != nil {
			log.Errorw("Failed to mark job delivered", logger.FieldError, err.Error())
			return
		}
		w.deps.Metrics.Delivery(DeliverySent)
		log.Debugw("Job delivered", logger.FieldTarget, job.ConversationTarget)
		return
	}
	if ctx.Err() != nil {
		return
	}

	count, err := w.deps.Store.IncrementRetryCount(ctx, job.ID)
	if err != nil {
		log.Errorw("Failed to record delivery failure", logger.FieldError, err.Error())
		return
	}
	job.RetryCount = count

	if count >= w.cfg.MaxRetries {
		log.Warnw("Delivery exhausted", logger.FieldRetryCount, count, logger.FieldError, sendErr.Error())
		if err := w.deps.Store.MarkFailed(ctx, job.ID, DeliveryExhaustedError); err != nil {
			log.Errorw("Failed to mark job failed", logger.FieldError, err.Error())
			return
		}
		job.Status = JobStatusFailed
		job.Output = nil
		w.deps.Metrics.JobFailed(FailureDelivery)
		w.deps.Metrics.Delivery(DeliveryExhausted)
		return
	}

	next := w.deps.Now().Add(w.retryDelay(count))
	if err := w.deps.Store.ScheduleDeliveryRetry(ctx, job.ID, next); err != nil {
		log.Errorw("Failed to schedule delivery retry", logger.FieldError, err.Error())
	}
	w.deps.Metrics.Delivery(DeliveryRetry)
	log.Warnw("Delivery failed, will retry",
		logger.FieldRetryCount, count,
		"next_attempt", next.Format(time.RFC3339),
		logger.FieldError, sendErr.Error())
}

// retryDelay is RetryBackoff * 2^(count-1)
func (w *Worker) retryDelay(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	if count > 16 {
		count = 16
	}
	return w.cfg.RetryBackoff << (count - 1)
}

// notifyFailure makes one best-effort attempt to tell the user a job failed
func (w *Worker) notifyFailure(ctx context.Context, job *Job, errText string) {
	if w.deps.Delivery == nil || job.ConversationTarget == "" {
		return
	}
	log := w.log.With(logger.FieldJobID, job.ID)

	if err := w.deps.Delivery.Send(ctx, job.ConversationTarget, FailureNotice(job, errText, w.cfg.MessageLimit)); err != nil {
		log.Warnw("Failure notice not delivered", logger.FieldError, err.Error())
		return
	}
	if err := w.deps.Store.MarkDelivered(ctx, job.ID); err != nil {
		log.Errorw("Failed to mark failure notice delivered", logger.FieldError, err.Error())
	}
}

// recoverOrphanedJobs fails jobs left running by an ungraceful shutdown.
// Re-running them could repeat tool side effects, so they are not re-queued.
// Running jobs are listed a page at a time until none remain; a page where
// nothing could be failed ends the scan.
func (w *Worker) recoverOrphanedJobs(ctx context.Context) error {
	running := JobStatusRunning
	total := 0
	for {
		jobs, err := w.deps.Store.ListJobs(ctx, JobFilter{Status: &running, Limit: MaxListLimit})
		if err != nil {
			return errors.Wrap(err, "failed to list running jobs")
		}
		if len(jobs) == 0 {
			break
		}
		if total == 0 {
			w.log.Starting("Recovering orphaned jobs")
		}

		recovered := 0
		for _, job := range jobs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := w.deps.Store.MarkFailed(ctx, job.ID, OrphanedJobError); err != nil {
				w.log.Warnw("Failed to fail orphaned job", logger.FieldJobID, job.ID, logger.FieldError, err.Error())
				continue
			}
			recovered++
			job.Status = JobStatusFailed
			w.deps.Metrics.JobFailed(FailureInterrupted)
			w.notifyFailure(ctx, job, OrphanedJobError)
		}
		total += recovered
		if recovered == 0 {
			break
		}
	}
	if total > 0 {
		w.log.Pulse("Recovered orphaned jobs", logger.FieldCount, total)
	}
	return nil
}
