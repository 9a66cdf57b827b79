package ai

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/teranos/peterbot/errors"
)

// MaxAttempts is how many times an adapter sends one step before giving up
const MaxAttempts = 3

// StatusError is a non-2xx reply from a provider
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, body)
}

// IsRetryable reports transient network failures, rate limiting and
// provider overload.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset by peer", "connection refused", "i/o timeout", "temporary failure", "network is unreachable", "overloaded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn up to MaxAttempts times while it fails with a retryable
// error, sleeping attempt*delay between tries.
func Retry(ctx context.Context, delay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.WithSecondaryError(ctx.Err(), err)
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return errors.Wrapf(err, "giving up after %d attempts", MaxAttempts)
}
