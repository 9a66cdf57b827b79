package async

import (
	"context"
	"strings"

	"github.com/teranos/peterbot/errors"
)

// FailureReason classifies why a job failed, for metrics and the dashboard
type FailureReason string

const (
	FailureGateway     FailureReason = "gateway"
	FailureTimeout     FailureReason = "timeout"
	FailureValidation  FailureReason = "validation"
	FailurePersistence FailureReason = "persistence"
	FailureInterrupted FailureReason = "interrupted"
	FailureDelivery    FailureReason = "delivery"
	FailureUnknown     FailureReason = "unknown"
)

// ClassifyFailure maps an error to a FailureReason. Error marks are checked
// first; the message is only consulted for errors that crossed a process
// boundary as text.
func ClassifyFailure(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return FailureTimeout
	case errors.IsValidation(err):
		return FailureValidation
	case errors.IsPersistence(err):
		return FailurePersistence
	case errors.IsGateway(err):
		return FailureGateway
	}

	msg := strings.ToLower(err.Error())
	switch {
	case msg == OrphanedJobError:
		return FailureInterrupted
	case msg == DeliveryExhaustedError:
		return FailureDelivery
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return FailureTimeout
	case strings.Contains(msg, "status"), strings.Contains(msg, "connection"), strings.Contains(msg, "provider"):
		return FailureGateway
	}
	return FailureUnknown
}
