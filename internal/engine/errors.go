package engine

import (
	"errors"
	"time"
)

// Enqueue rejections.
var (
	ErrDisabled    = errors.New("engine disabled")
	ErrStopped     = errors.New("engine stopped")
	ErrStopping    = errors.New("engine stopping")
	ErrQueueFull   = errors.New("engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still pending")
	ErrInvalidTask = errors.New("invalid task")
)

// permanentError stops the retry loop after the current attempt.
type permanentError struct{ cause error }

func (e *permanentError) Error() string { return "permanent: " + e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// NoRetry marks err as permanent; the engine will not retry it.
//
//	return engine.NoRetry(fmt.Errorf("bad command: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

func IsNoRetry(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryAfterError is implemented by errors that carry a retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type delayedError struct {
	cause error
	delay time.Duration
}

func (e *delayedError) Error() string             { return e.cause.Error() + " (retry in " + e.delay.String() + ")" }
func (e *delayedError) Unwrap() error             { return e.cause }
func (e *delayedError) RetryAfter() time.Duration { return e.delay }

// RetryAfter asks for at least after before the next attempt. The engine
// still caps the hint at TaskOptions.RetryMaxDelay and adds jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayedError{cause: err, delay: max(after, 0)}
}
