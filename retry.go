package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// transientServiceError covers failures worth retrying: connection errors,
// timeouts, 429s and 5xx responses.
type transientServiceError struct {
	cause error
}

func (e *transientServiceError) Error() string {
	return fmt.Sprintf("transient service error: %v", e.cause)
}

func (e *transientServiceError) Unwrap() error { return e.cause }

// permanentServiceError is an explicit rejection by the service; retrying
// would return the same answer.
type permanentServiceError struct {
	status int
	detail string
}

func (e *permanentServiceError) Error() string {
	return fmt.Sprintf("service rejected request (status %d): %s", e.status, e.detail)
}

// malformedResponseError means the service answered but the body failed
// schema validation. Not retried, tagged distinctly in the result log.
type malformedResponseError struct {
	cause error
	raw   string
}

func (e *malformedResponseError) Error() string {
	return fmt.Sprintf("malformed service response: %v", e.cause)
}

func (e *malformedResponseError) Unwrap() error { return e.cause }

func isTransient(err error) bool {
	var te *transientServiceError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isMalformed(err error) bool {
	var me *malformedResponseError
	return errors.As(err, &me)
}

// retryPolicy is the value object the classifier consumes: exponential
// backoff between attempts, transient errors only.
type retryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func defaultRetryPolicy(maxAttempts int) retryPolicy {
	return retryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		Multiplier:      2.0,
	}
}

// run executes op, retrying transient errors up to MaxAttempts total
// attempts. Non-transient errors return immediately.
func (p retryPolicy) run(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0 // attempt count is the only cap

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}
