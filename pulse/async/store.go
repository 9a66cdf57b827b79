package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/peterbot/errors"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store handles persistence of jobs. Every mutation is a single UPDATE,
// so repeating one after a crash is harmless.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateJob validates and inserts a pending job
func (s *Store) CreateJob(ctx context.Context, jobType JobType, input, conversationTarget string, scheduleID *string) (*Job, error) {
	if err := ValidateInput(jobType, input); err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Millisecond)
	job := &Job{
		ID:                 uuid.NewString(),
		Type:               jobType,
		Input:              input,
		ConversationTarget: conversationTarget,
		Status:             JobStatusPending,
		ScheduleID:         scheduleID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, type, input, conversation_target, status,
			delivered, retry_count, schedule_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		job.ID, job.Type, job.Input, job.ConversationTarget, job.Status,
		job.ScheduleID, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to create job")
	}
	return job, nil
}

// GetJobByID retrieves a job by ID
func (s *Store) GetJobByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+StandardJobSelectColumns()+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to get job")
	}
	return job, nil
}

// GetPendingJobs returns pending jobs oldest first
func (s *Store) GetPendingJobs(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, "pending jobs", `
		SELECT `+StandardJobSelectColumns()+` FROM jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC`)
}

// GetUndeliveredJobs returns completed jobs whose delivery is due for another
// attempt at now and still within the retry budget.
func (s *Store) GetUndeliveredJobs(ctx context.Context, now time.Time, maxRetries int) ([]*Job, error) {
	return s.query(ctx, "undelivered jobs", `
		SELECT `+StandardJobSelectColumns()+` FROM jobs
		WHERE status = 'completed' AND delivered = 0 AND retry_count < ?
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC, id ASC`,
		maxRetries, now.UnixMilli())
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status *JobStatus
	Limit  int // 0 = DefaultListLimit, capped at MaxListLimit
}

// ListJobs returns jobs newest first
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	if filter.Status != nil {
		return s.query(ctx, "jobs", `
			SELECT `+StandardJobSelectColumns()+` FROM jobs
			WHERE status = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, *filter.Status, limit)
	}
	return s.query(ctx, "jobs", `
		SELECT `+StandardJobSelectColumns()+` FROM jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
}

// CountByStatus returns the number of jobs per status; absent statuses are zero
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := map[JobStatus]int{
		JobStatusPending:   0,
		JobStatusRunning:   0,
		JobStatusCompleted: 0,
		JobStatusFailed:    0,
	}
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, errors.WrapPersistence(rows.Err(), "failed to iterate job counts")
}

// MarkRunning moves a pending job to running
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, "mark job running", `
		UPDATE jobs SET status = 'running', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`)
}

// MarkCompleted stores the output and moves a running job to completed
func (s *Store) MarkCompleted(ctx context.Context, id, output string) error {
	return s.transition(ctx, id, "mark job completed", `
		UPDATE jobs SET status = 'completed', output = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status IN ('running', 'completed')`,
		output)
}

// MarkFailed records the error and moves the job to failed. Output is
// cleared since only completed jobs carry one. A completed job may still
// fail when its delivery is exhausted.
func (s *Store) MarkFailed(ctx context.Context, id, errorText string) error {
	return s.transition(ctx, id, "mark job failed", `
		UPDATE jobs SET status = 'failed', error = ?, output = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('running', 'completed', 'failed')`,
		errorText)
}

// transition runs a status UPDATE guarded on the current status. Zero rows
// means either the job is missing or it is in a status the move is not
// allowed from.
func (s *Store) transition(ctx context.Context, id, op, stmt string, args ...interface{}) error {
	err := s.update(ctx, id, op, stmt, args...)
	if !errors.IsNotFoundError(err) {
		return err
	}

	job, err := s.GetJobByID(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewValidationError("cannot %s: job %s is %s", op, job.ShortID(), job.Status)
}

// MarkDelivered flags a terminal job as delivered
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET delivered = 1, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('completed', 'failed')`,
		s.now().UnixMilli(), id)
	if err != nil {
		return errors.WrapPersistence(err, "failed to mark job delivered")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.WrapPersistence(err, "failed to mark job delivered")
	} else if n > 0 {
		return nil
	}

	job, err := s.GetJobByID(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewValidationError("job %s is %s; only finished jobs can be delivered", job.ShortID(), job.Status)
}

// IncrementRetryCount records a failed delivery and returns the new count
func (s *Store) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING retry_count`,
		s.now().UnixMilli(), id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return 0, errors.WrapPersistence(err, "failed to increment retry count")
	}
	return count, nil
}

// ScheduleDeliveryRetry sets the earliest time the next delivery attempt may run
func (s *Store) ScheduleDeliveryRetry(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, "schedule delivery retry",
		`UPDATE jobs SET next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		at.UnixMilli())
}

// update runs stmt with args followed by updated_at and id
func (s *Store) update(ctx context.Context, id, op, stmt string, args ...interface{}) error {
	args = append(args, s.now().UnixMilli(), id)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.WrapPersistence(err, "failed to "+op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to "+op)
	}
	if n == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, what, stmt string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list "+what)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.WrapPersistence(rows.Err(), "failed to iterate "+what)
}
