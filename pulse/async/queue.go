package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/teranos/peterbot/errors"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// EnqueueRecorder observes job creation
type EnqueueRecorder interface {
	JobEnqueued(jobType JobType)
}

// Queue wraps Store and fans every job transition out to subscribers
// (the websocket stream). It adds no delivery logic of its own.
type Queue struct {
	store *Store

	mu          sync.RWMutex
	subscribers []chan *Job
	recorder    EnqueueRecorder
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Store returns the underlying store
func (q *Queue) Store() *Store { return q.store }

// SetRecorder registers an observer for job creation
func (q *Queue) SetRecorder(r EnqueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recorder = r
}

// CreateJob inserts a pending job and announces it
func (q *Queue) CreateJob(ctx context.Context, jobType JobType, input, conversationTarget string, scheduleID *string) (*Job, error) {
	job, err := q.store.CreateJob(ctx, jobType, input, conversationTarget, scheduleID)
	if err != nil {
		if errors.IsValidation(err) {
			return nil, err
		}
		return nil, errors.WithDetailf(errors.Wrap(err, "failed to enqueue job"), "Type: %s", jobType)
	}

	q.mu.RLock()
	r := q.recorder
	q.mu.RUnlock()
	if r != nil {
		r.JobEnqueued(jobType)
	}

	q.notify(job)
	return job, nil
}

func (q *Queue) GetJobByID(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJobByID(ctx, id)
}

func (q *Queue) GetPendingJobs(ctx context.Context) ([]*Job, error) {
	return q.store.GetPendingJobs(ctx)
}

func (q *Queue) GetUndeliveredJobs(ctx context.Context, now time.Time, maxRetries int) ([]*Job, error) {
	return q.store.GetUndeliveredJobs(ctx, now, maxRetries)
}

func (q *Queue) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(ctx, filter)
}

func (q *Queue) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	return q.store.CountByStatus(ctx)
}

func (q *Queue) MarkRunning(ctx context.Context, id string) error {
	return q.publish(ctx, id, q.store.MarkRunning(ctx, id))
}

func (q *Queue) MarkCompleted(ctx context.Context, id, output string) error {
	return q.publish(ctx, id, q.store.MarkCompleted(ctx, id, output))
}

func (q *Queue) MarkFailed(ctx context.Context, id, errorText string) error {
	return q.publish(ctx, id, q.store.MarkFailed(ctx, id, errorText))
}

func (q *Queue) MarkDelivered(ctx context.Context, id string) error {
	return q.publish(ctx, id, q.store.MarkDelivered(ctx, id))
}

func (q *Queue) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	n, err := q.store.IncrementRetryCount(ctx, id)
	return n, q.publish(ctx, id, err)
}

func (q *Queue) ScheduleDeliveryRetry(ctx context.Context, id string, at time.Time) error {
	return q.store.ScheduleDeliveryRetry(ctx, id, at)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is not closed; the caller owns it.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// publish re-reads the job after a successful mutation and notifies
// subscribers. The mutation error is returned unchanged.
func (q *Queue) publish(ctx context.Context, id string, err error) error {
	if err != nil {
		return err
	}

	q.mu.RLock()
	n := len(q.subscribers)
	q.mu.RUnlock()
	if n == 0 {
		return nil
	}

	job, getErr := q.store.GetJobByID(ctx, id)
	if getErr != nil {
		// The mutation succeeded; a missed notification is not its failure
		return nil
	}
	q.notify(job)
	return nil
}

// notify sends without blocking; a full subscriber misses the update
func (q *Queue) notify(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
		}
	}
}
