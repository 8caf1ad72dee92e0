package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
// A non-positive cap disables capping.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	return d
}

// Action is what a caller should do after an attempt.
type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Outcome describes one attempt. Err is a transport failure; Status is the
// HTTP status when a response arrived.
type Outcome struct {
	Err    error
	Status int
}

// Decision is the result of classifying an Outcome.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// RetryPolicy bounds attempts and shapes backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts spaced 1s then 2s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Decide classifies the outcome of attempt (1-based). It never performs I/O.
func (p RetryPolicy) Decide(attempt int, out Outcome) Decision {
	if out.Err == nil && out.Status >= 200 && out.Status < 300 {
		return Decision{Action: ActionDone}
	}
	if out.Err != nil && (errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded)) {
		return Decision{Action: ActionGiveUp}
	}
	if out.Err == nil && !IsRetryableHTTPStatus(out.Status) {
		return Decision{Action: ActionGiveUp}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Decision{Action: ActionGiveUp}
	}
	return Decision{
		Action: ActionRetry,
		Delay:  ExponentialBackoff(attempt-1, p.BaseDelay, p.MaxDelay),
	}
}
