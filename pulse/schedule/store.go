package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/pulse/async"
)

// MaxDuePerTick bounds how many schedules one tick fires
const MaxDuePerTick = 100

const scheduleColumns = `id, description, natural_schedule, parsed_cron, prompt,
	enabled, last_run_at, next_run_at, created_at, updated_at`

// Store handles persistence of schedules
type Store struct {
	db  *sql.DB
	now func() time.Time
	loc *time.Location
}

// NewStore creates a new schedule store. Next run times are computed in UTC
// until SetLocation is called.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, loc: time.UTC}
}

// SetLocation sets the zone cron expressions are evaluated in
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Location returns the zone cron expressions are evaluated in
func (s *Store) Location() *time.Location { return s.loc }

// Create validates sched and inserts it with its first NextRunAt.
// ID is generated when empty.
func (s *Store) Create(ctx context.Context, sched *Schedule) error {
	sched.ParsedCron = strings.TrimSpace(sched.ParsedCron)
	if err := async.ValidateInput(async.JobTypeTask, sched.Prompt); err != nil {
		return errors.Wrap(err, "invalid schedule prompt")
	}

	now := s.now().In(s.loc).Truncate(time.Millisecond)
	next, err := CronNext(sched.ParsedCron, now)
	if err != nil {
		return errors.Mark(err, errors.ErrValidation)
	}

	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.LastRunAt = nil
	sched.NextRunAt = next
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		sched.ID, sched.Description, sched.NaturalSchedule, sched.ParsedCron, sched.Prompt,
		sched.Enabled, next.UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return errors.WrapPersistence(err, "failed to create schedule")
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule not found: %s", id)
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to get schedule")
	}
	return sched, nil
}

// List returns every schedule, oldest first
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	return s.query(ctx, "schedules",
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at ASC, id ASC`)
}

// ListDue returns enabled schedules with NextRunAt at or before now, most overdue first
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	return s.query(ctx, "due schedules", `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT ?`, now.UnixMilli(), MaxDuePerTick)
}

// NextDue returns the enabled schedule that fires soonest, or nil if none
func (s *Store) NextDue(ctx context.Context) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1
		ORDER BY next_run_at ASC
		LIMIT 1`)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to get next schedule")
	}
	return sched, nil
}

// UpdateAfterRun records a firing
func (s *Store) UpdateAfterRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	return s.update(ctx, id, "update schedule after run",
		`UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		lastRunAt.UnixMilli(), nextRunAt.UnixMilli())
}

// SetNextRunAt moves the next firing without touching LastRunAt
func (s *Store) SetNextRunAt(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, "set schedule next run",
		`UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		at.UnixMilli())
}

// Disable stops a schedule from firing
func (s *Store) Disable(ctx context.Context, id string) error {
	return s.update(ctx, id, "disable schedule",
		`UPDATE schedules SET enabled = 0, updated_at = ? WHERE id = ?`)
}

// SetEnabled toggles a schedule. Enabling recomputes NextRunAt from now so a
// schedule paused for a week does not fire for the missed slot.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (*Schedule, error) {
	if !enabled {
		if err := s.Disable(ctx, id); err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}

	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := CronNext(sched.ParsedCron, s.now().In(s.loc))
	if err != nil {
		return nil, err
	}
	if err := s.update(ctx, id, "enable schedule",
		`UPDATE schedules SET enabled = 1, next_run_at = ?, updated_at = ? WHERE id = ?`,
		next.UnixMilli()); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a schedule. Jobs it created keep their schedule id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.WrapPersistence(err, "failed to delete schedule")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapPersistence(err, "failed to delete schedule")
	}
	if n == 0 {
		return errors.NewNotFoundError("schedule not found: %s", id)
	}
	return nil
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
		return errors.NewNotFoundError("schedule not found: %s", id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, what, stmt string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to list "+what)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan schedule")
		}
		out = append(out, sched)
	}
	return out, errors.WrapPersistence(rows.Err(), "failed to iterate "+what)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var lastRunAt sql.NullInt64
	var nextRunAt, createdAt, updatedAt int64

	err := row.Scan(
		&sched.ID,
		&sched.Description,
		&sched.NaturalSchedule,
		&sched.ParsedCron,
		&sched.Prompt,
		&sched.Enabled,
		&lastRunAt,
		&nextRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		t := time.UnixMilli(lastRunAt.Int64)
		sched.LastRunAt = &t
	}
	sched.NextRunAt = time.UnixMilli(nextRunAt)
	sched.CreatedAt = time.UnixMilli(createdAt)
	sched.UpdatedAt = time.UnixMilli(updatedAt)
	return &sched, nil
}
