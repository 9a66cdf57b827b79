package async

import "time"

// Delivery outcomes reported to Recorder
const (
	DeliverySent      = "sent"
	DeliveryRetry     = "retry"
	DeliveryExhausted = "exhausted"
	DeliverySkipped   = "skipped" // no transport or no target
)

// Inline outcomes reported to Recorder
const (
	InlineAnswered   = "answered"
	InlineDispatched = "dispatched"
	InlineError      = "error"
)

// Recorder observes worker and inline activity (metrics)
type Recorder interface {
	JobCompleted(d time.Duration)
	JobFailed(reason FailureReason)
	Delivery(outcome string)
	InlineOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) JobCompleted(time.Duration) {}
func (nopRecorder) JobFailed(FailureReason)    {}
func (nopRecorder) Delivery(string)            {}
func (nopRecorder) InlineOutcome(string)       {}
