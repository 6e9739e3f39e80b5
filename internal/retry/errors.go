package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCanceled indicates a pending retry wait was aborted by the caller.
	ErrCanceled = errors.New("retry: wait canceled")

	// ErrExhausted indicates every allowed attempt failed with a retryable error.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

// ProviderError is a failed upstream call carrying everything Classify and
// Delay need. Retryable mirrors the provider's own opinion of the failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Headers    map[string]string
	Body       string
	Message    string
	Retryable  bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

// RetryContext returns the Context used to evaluate this failure.
func (e *ProviderError) RetryContext() Context {
	return Context{
		StatusCode: e.StatusCode,
		Headers:    e.Headers,
		Body:       e.Body,
		Message:    e.Message,
		Retryable:  e.Retryable,
	}
}

// TerminalError wraps a failure that must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// ExhaustedError is returned once the attempt budget is spent.
type ExhaustedError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts (%s): %v", e.Attempts, e.Reason, e.Err)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Err} }

// ContextFor derives a Context from an arbitrary error. Provider errors carry
// their own; network-level failures are treated as transient; anything else
// is terminal unless a rate-limit signal appears in its message.
func ContextFor(err error) Context {
	var rcErr interface{ RetryContext() Context }
	if errors.As(err, &rcErr) {
		return rcErr.RetryContext()
	}

	var netErr net.Error
	return Context{
		Message:   err.Error(),
		Retryable: errors.As(err, &netErr) && !errors.Is(err, context.Canceled),
	}
}

// IsTransient reports whether err would be retried under the default policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	_, ok := Classify(ContextFor(err))
	return ok
}
