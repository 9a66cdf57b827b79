package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/async"
)

// FallbackDelay is how far NextRunAt is pushed when recording a firing fails
const FallbackDelay = time.Hour

// Firing results reported to Recorder
const (
	FiringEnqueued      = "enqueued"
	FiringEnqueueFailed = "enqueue_failed"
	FiringDisabled      = "disabled"
	FiringFallback      = "fallback"
)

// ScheduleStore is what the ticker needs from the schedule store
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)
	NextDue(ctx context.Context) (*Schedule, error)
	UpdateAfterRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
	SetNextRunAt(ctx context.Context, id string, at time.Time) error
	Disable(ctx context.Context, id string) error
}

// JobCreator enqueues jobs. *async.Queue satisfies it.
type JobCreator interface {
	CreateJob(ctx context.Context, jobType async.JobType, input, conversationTarget string, scheduleID *string) (*async.Job, error)
}

// Recorder observes firings (metrics)
type Recorder interface {
	ScheduleFiring(result string)
}

// TickerConfig contains configuration for the schedule ticker
type TickerConfig struct {
	Interval           time.Duration  // How often to check for due schedules (default: 60 seconds)
	ConversationTarget string         // Where jobs created by schedules deliver
	Location           *time.Location // Zone cron expressions are evaluated in (default: UTC)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 60 * time.Second,
		Location: time.UTC,
	}
}

// TickerDeps are the collaborators of a Ticker. Metrics and Logger may be nil.
type TickerDeps struct {
	Store   ScheduleStore
	Jobs    JobCreator
	Metrics Recorder
	Logger  *zap.SugaredLogger
	Now     func() time.Time
}

// Firing is the outcome of one due schedule in a tick
type Firing struct {
	ScheduleID string
	JobID      string    // empty when enqueueing failed
	NextRunAt  time.Time // zero when the schedule was disabled
	Result     string
	Err        error
}

// Ticker fires due schedules. Each schedule is handled independently: one
// failing firing never stops the others or the loop.
type Ticker struct {
	cfg  TickerConfig
	deps TickerDeps
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	firings         int64
	lastNextID      string
}

// NewTicker creates a ticker bound to ctx
func NewTicker(ctx context.Context, cfg TickerConfig, deps TickerDeps) *Ticker {
	def := DefaultTickerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		cfg:    cfg,
		deps:   deps,
		log:    logger.AddCronSymbol(deps.Logger),
		ctx:    tickerCtx,
		cancel: cancel,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Schedule ticker started", "interval", t.cfg.Interval, "timezone", t.cfg.Location.String())
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Schedule ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = t.deps.Now()
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			if _, err := t.Tick(t.ctx); err != nil && t.ctx.Err() == nil {
				// Don't spam logs - log errors at warn level
				t.log.Warnw("Schedule tick error", logger.FieldError, err.Error(), "tick", tick)
			}
			t.logNextSchedule()
		}
	}
}

// Tick fires every due schedule once. Only a failure to list due schedules
// is returned; per-schedule failures are in the returned firings.
func (t *Ticker) Tick(ctx context.Context) ([]Firing, error) {
	now := t.deps.Now().In(t.cfg.Location)

	due, err := t.deps.Store.ListDue(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due schedules")
	}

	firings := make([]Firing, 0, len(due))
	for _, sched := range due {
		if ctx.Err() != nil {
			break
		}
		f := t.fire(ctx, sched, now)
		t.record(f.Result)
		firings = append(firings, f)
	}

	t.mu.Lock()
	t.firings += int64(len(firings))
	t.mu.Unlock()
	return firings, nil
}

// fire enqueues one job for sched and moves its NextRunAt forward.
// The next run is computed even when enqueueing fails so a broken queue
// does not make the schedule fire on every poll.
func (t *Ticker) fire(ctx context.Context, sched *Schedule, now time.Time) Firing {
	log := t.log.With(logger.FieldScheduleID, sched.ID)
	f := Firing{ScheduleID: sched.ID, Result: FiringEnqueued}

	scheduleID := sched.ID
	job, err := t.deps.Jobs.CreateJob(ctx, async.JobTypeTask, sched.Prompt, t.cfg.ConversationTarget, &scheduleID)
	if err != nil {
		log.Errorw("Failed to enqueue scheduled job", logger.FieldError, err.Error())
		f.Result = FiringEnqueueFailed
		f.Err = err
	} else {
		f.JobID = job.ID
	}

	next, err := CronNext(sched.ParsedCron, now)
	if err != nil {
		log.Warnw("Disabling schedule with invalid cron", "cron", sched.ParsedCron, logger.FieldError, err.Error())
		if derr := t.deps.Store.Disable(ctx, sched.ID); derr != nil {
			log.Errorw("Failed to disable schedule", logger.FieldError, derr.Error())
		}
		f.Result = FiringDisabled
		f.Err = errors.CombineErrors(f.Err, err)
		return f
	}

	if err := t.deps.Store.UpdateAfterRun(ctx, sched.ID, now, next); err != nil {
		fallback := now.Add(FallbackDelay)
		log.Errorw("Failed to record schedule run, pushing next run back",
			logger.FieldError, err.Error(),
			"fallback", fallback.Format(time.RFC3339))
		if ferr := t.deps.Store.SetNextRunAt(ctx, sched.ID, fallback); ferr != nil {
			log.Errorw("Failed to set fallback next run", logger.FieldError, ferr.Error())
		}
		f.NextRunAt = fallback
		f.Result = FiringFallback
		f.Err = errors.CombineErrors(f.Err, err)
		return f
	}

	f.NextRunAt = next
	if f.JobID != "" {
		log.Infow("Schedule fired",
			logger.FieldJobID, f.JobID,
			"next_run_at", next.Format(time.RFC3339),
			"next_in", next.Sub(now).Round(time.Minute))
	}
	return f
}

func (t *Ticker) record(result string) {
	if t.deps.Metrics != nil {
		t.deps.Metrics.ScheduleFiring(result)
	}
}

// logNextSchedule logs the upcoming firing when it changes
func (t *Ticker) logNextSchedule() {
	next, err := t.deps.Store.NextDue(t.ctx)
	if err != nil {
		t.log.Warnw("Failed to get next schedule", logger.FieldError, err.Error())
		return
	}

	id := ""
	if next != nil {
		id = next.ID + next.NextRunAt.String()
	}
	t.mu.Lock()
	changed := id != t.lastNextID
	t.lastNextID = id
	t.mu.Unlock()
	if !changed {
		return
	}

	if next == nil {
		t.log.Infow("No scheduled executions")
		return
	}
	t.log.Infow("Next scheduled execution",
		logger.FieldScheduleID, next.ID,
		"description", next.Description,
		"in", time.Until(next.NextRunAt).Round(time.Second))
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"lastTickAt":      t.lastTickAt.UnixMilli(),
		"ticksSinceStart": t.ticksSinceStart,
		"firings":         t.firings,
		"intervalMs":      t.cfg.Interval.Milliseconds(),
	}
}
