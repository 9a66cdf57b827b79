// Package async provides the durable job queue, the polling worker that
// drives jobs through AI invocation and delivery, and the inline fast path
// that answers quickly or escalates to a job.
package async

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/teranos/peterbot/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the job has finished processing
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobType is a presentation hint; both types are processed the same way
type JobType string

const (
	JobTypeQuick JobType = "quick" // escalated from the inline fast path
	JobTypeTask  JobType = "task"  // explicit background request or schedule firing
)

// IsValidType returns true if the type string is a valid JobType
func IsValidType(s string) bool {
	return JobType(s) == JobTypeQuick || JobType(s) == JobTypeTask
}

// MaxInputLength is the largest accepted input, in characters
const MaxInputLength = 10000

// Job is one unit of background work: an input handed to the model, whose
// output is delivered to ConversationTarget.
//
// Output is non-nil only when Status is completed. Delivered implies a
// terminal status. RetryCount counts delivery failures only.
type Job struct {
	ID                 string
	Type               JobType
	Input              string
	ConversationTarget string
	Status             JobStatus
	Output             *string
	Error              *string
	Delivered          bool
	RetryCount         int
	ScheduleID         *string
	NextAttemptAt      *time.Time // earliest next delivery attempt
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ShortID is the first 8 characters of the id, used in delivery headers and logs
func (j *Job) ShortID() string {
	if len(j.ID) <= 8 {
		return j.ID
	}
	return j.ID[:8]
}

type jobJSON struct {
	ID                 string    `json:"id"`
	Type               JobType   `json:"type"`
	Input              string    `json:"input"`
	ConversationTarget string    `json:"conversationTarget"`
	Status             JobStatus `json:"status"`
	Output             *string   `json:"output"`
	Error              *string   `json:"error"`
	Delivered          bool      `json:"delivered"`
	RetryCount         int       `json:"retryCount"`
	ScheduleID         *string   `json:"scheduleId"`
	NextAttemptAt      *int64    `json:"nextAttemptAt,omitempty"`
	CreatedAt          int64     `json:"createdAt"`
	UpdatedAt          int64     `json:"updatedAt"`
}

// MarshalJSON encodes timestamps as epoch milliseconds
func (j *Job) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:                 j.ID,
		Type:               j.Type,
		Input:              j.Input,
		ConversationTarget: j.ConversationTarget,
		Status:             j.Status,
		Output:             j.Output,
		Error:              j.Error,
		Delivered:          j.Delivered,
		RetryCount:         j.RetryCount,
		ScheduleID:         j.ScheduleID,
		CreatedAt:          j.CreatedAt.UnixMilli(),
		UpdatedAt:          j.UpdatedAt.UnixMilli(),
	}
	if j.NextAttemptAt != nil {
		ms := j.NextAttemptAt.UnixMilli()
		out.NextAttemptAt = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; the CLI reads jobs back from the API
func (j *Job) UnmarshalJSON(data []byte) error {
	var in jobJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*j = Job{
		ID:                 in.ID,
		Type:               in.Type,
		Input:              in.Input,
		ConversationTarget: in.ConversationTarget,
		Status:             in.Status,
		Output:             in.Output,
		Error:              in.Error,
		Delivered:          in.Delivered,
		RetryCount:         in.RetryCount,
		ScheduleID:         in.ScheduleID,
		CreatedAt:          time.UnixMilli(in.CreatedAt),
		UpdatedAt:          time.UnixMilli(in.UpdatedAt),
	}
	if in.NextAttemptAt != nil {
		t := time.UnixMilli(*in.NextAttemptAt)
		j.NextAttemptAt = &t
	}
	return nil
}

// ValidateInput checks the job type and the input length in characters
func ValidateInput(jobType JobType, input string) error {
	if !IsValidType(string(jobType)) {
		return errors.NewValidationError("unknown job type %q", jobType)
	}
	n := utf8.RuneCountInString(input)
	if n == 0 {
		return errors.NewValidationError("input must not be empty")
	}
	if n > MaxInputLength {
		return errors.WithDetailf(
			errors.NewValidationError("input too long: %d characters", n),
			"limit is %d characters", MaxInputLength)
	}
	return nil
}
