// Package retry decides whether a failed upstream provider call should be
// retried and how long the caller should wait before the next attempt.
package retry

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultInitialDelay is the first backoff step.
	DefaultInitialDelay = 2 * time.Second
	// DefaultBackoffFactor multiplies the delay on every attempt.
	DefaultBackoffFactor = 2.0
	// DefaultMaxDelay caps backoff only when the provider sent no headers at all.
	DefaultMaxDelay = 30 * time.Second
)

// Context is the normalized description of one failed call.
// Header names must be lower-cased; a nil Headers map means the response had none.
type Context struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	Message    string
	Retryable  bool
}

// FromResponse builds a Context from an HTTP response and its already-read body.
func FromResponse(resp *http.Response, body []byte, message string, retryable bool) Context {
	rc := Context{
		Body:      string(body),
		Message:   message,
		Retryable: retryable,
	}
	if resp == nil {
		return rc
	}
	rc.StatusCode = resp.StatusCode
	rc.Headers = make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			rc.Headers[strings.ToLower(k)] = v[0]
		}
	}
	return rc
}

func (c Context) header(name string) (string, bool) {
	if c.Headers == nil {
		return "", false
	}
	if v, ok := c.Headers[name]; ok {
		return v, true
	}
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Decision is the outcome of evaluating a failed call.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	Reason      string
}

// Policy computes backoff delays and classifies failures.
type Policy struct {
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Now is used to resolve HTTP-date Retry-After values. Defaults to time.Now.
	Now func() time.Time
}

// DefaultPolicy returns a policy with the standard 2s/x2/30s schedule.
func DefaultPolicy() *Policy {
	return &Policy{
		InitialDelay:  DefaultInitialDelay,
		BackoffFactor: DefaultBackoffFactor,
		MaxDelay:      DefaultMaxDelay,
		Now:           time.Now,
	}
}

var defaultPolicy = DefaultPolicy()

// Delay returns how long to wait before attempt+1 using the default policy.
func Delay(attempt int, rc *Context) time.Duration {
	return defaultPolicy.Delay(attempt, rc)
}

// Classify reports whether the failure is retryable using the default policy.
func Classify(rc Context) (string, bool) {
	return defaultPolicy.Classify(rc)
}

// Decide combines Classify and Delay using the default policy.
func Decide(attempt int, rc Context) Decision {
	return defaultPolicy.Decide(attempt, rc)
}

// Decide combines Classify and Delay into a single Decision.
func (p *Policy) Decide(attempt int, rc Context) Decision {
	reason, ok := p.Classify(rc)
	if !ok {
		return Decision{}
	}
	return Decision{
		ShouldRetry: true,
		Delay:       p.Delay(attempt, &rc),
		Reason:      reason,
	}
}

// Delay returns the wait before the next attempt. attempt is 1-based.
//
// Provider hints win in this order: retry-after-ms, retry-after (seconds or
// HTTP date), then a "reset after Ns" hint in the message or JSON body. Hints
// are never capped. Without hints the delay grows exponentially and is capped
// at MaxDelay only when the response carried no headers at all.
func (p *Policy) Delay(attempt int, rc *Context) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if rc != nil {
		if d, ok := p.headerDelay(rc); ok {
			return d
		}
		if d, ok := hintDelay(rc); ok {
			return d
		}
		if rc.Headers != nil {
			return p.backoff(attempt)
		}
	}

	d := p.backoff(attempt)
	if p.maxDelay() > 0 && d > p.maxDelay() {
		return p.maxDelay()
	}
	return d
}

func (p *Policy) headerDelay(rc *Context) (time.Duration, bool) {
	if v, ok := rc.header("retry-after-ms"); ok {
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && ms >= 0 && !math.IsInf(ms, 0) {
			return msToDuration(ms), true
		}
	}

	v, ok := rc.header("retry-after")
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)

	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs > 0 && !math.IsInf(secs, 0) {
			return msToDuration(math.Ceil(secs * 1000)), true
		}
		return 0, false
	}

	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(p.now()); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func (p *Policy) backoff(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = DefaultBackoffFactor
	}

	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p *Policy) maxDelay() time.Duration {
	if p.MaxDelay == 0 {
		return DefaultMaxDelay
	}
	return p.MaxDelay
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func msToDuration(ms float64) time.Duration {
	d := ms * float64(time.Millisecond)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
