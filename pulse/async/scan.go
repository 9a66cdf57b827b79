package async

import (
	"database/sql"
	"time"
)

// JobScanArgs holds the nullable columns of a job row
type JobScanArgs struct {
	Output        sql.NullString
	ErrorMsg      sql.NullString
	ScheduleID    sql.NullString
	NextAttemptAt sql.NullInt64
	CreatedAt     int64
	UpdatedAt     int64
}

// GetJobScanTargets returns scan destinations in StandardJobSelectColumns order
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Type,
		&job.Input,
		&job.ConversationTarget,
		&job.Status,
		&args.Output,
		&args.ErrorMsg,
		&job.Delivered,
		&job.RetryCount,
		&args.ScheduleID,
		&args.NextAttemptAt,
		&args.CreatedAt,
		&args.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns onto job
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.Output.Valid {
		job.Output = &args.Output.String
	}
	if args.ErrorMsg.Valid {
		job.Error = &args.ErrorMsg.String
	}
	if args.ScheduleID.Valid {
		job.ScheduleID = &args.ScheduleID.String
	}
	if args.NextAttemptAt.Valid {
		t := time.UnixMilli(args.NextAttemptAt.Int64)
		job.NextAttemptAt = &t
	}
	job.CreatedAt = time.UnixMilli(args.CreatedAt)
	job.UpdatedAt = time.UnixMilli(args.UpdatedAt)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a *sql.Row or *sql.Rows
func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	args := &JobScanArgs{}
	if err := row.Scan(GetJobScanTargets(job, args)...); err != nil {
		return nil, err
	}
	ProcessJobScanArgs(job, args)
	return job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, type, input, conversation_target, status,
		output, error, delivered, retry_count,
		schedule_id, next_attempt_at, created_at, updated_at`
}
