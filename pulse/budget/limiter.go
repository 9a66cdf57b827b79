// Package budget caps how many model calls the bot makes per minute.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/peterbot/errors"
)

// ErrExhausted marks a call refused because the window is full
var ErrExhausted = errors.New("ai call budget exhausted")

// Limiter is a sliding one-minute window over model calls.
// A limit <= 0 disables it.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time // ascending
}

// NewLimiter creates a limiter on the wall clock
func NewLimiter(callsPerMinute int) *Limiter {
	return NewLimiterWithClock(callsPerMinute, time.Now)
}

// NewLimiterWithClock creates a limiter with an injected clock
func NewLimiterWithClock(callsPerMinute int, now func() time.Time) *Limiter {
	return &Limiter{
		limit:  callsPerMinute,
		window: time.Minute,
		now:    now,
	}
}

// Allow records a call if the window has room
func (l *Limiter) Allow() error {
	_, err := l.reserve()
	return err
}

// reserve records a call or returns how long until the oldest call expires
func (l *Limiter) reserve() (time.Duration, error) {
	if l == nil || l.limit <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.expire(now)

	if len(l.calls) >= l.limit {
		wait := l.calls[0].Add(l.window).Sub(now)
		err := errors.Mark(errors.Newf("%d calls in the last minute (limit %d)", len(l.calls), l.limit), ErrExhausted)
		return wait, errors.WithHintf(err, "retry in %s or raise ai.max_calls_per_minute", wait.Round(time.Second))
	}

	l.calls = append(l.calls, now)
	return 0, nil
}

// Wait blocks until a call fits the window or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, err := l.reserve()
		if err == nil {
			return nil
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "waiting for ai call budget")
		case <-timer.C:
		}
	}
}

// Remaining returns calls still available in the current window; -1 when unlimited
func (l *Limiter) Remaining() int {
	if l == nil || l.limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire(l.now())
	if r := l.limit - len(l.calls); r > 0 {
		return r
	}
	return 0
}

// must hold mu
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	l.calls = l.calls[i:]
}
