package retry

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Reasons surfaced to the user while a retry is pending.
const (
	ReasonRateLimited      = "Rate limit exceeded"
	ReasonQuotaExhausted   = "Rate limit exceeded, waiting for quota reset"
	ReasonOverloaded       = "Provider is overloaded"
	ReasonTooManyRequests  = "Too Many Requests"
	exhaustedResourceShape = "Some resource has been exhausted"
)

// verdict is what a matching rule decides.
type verdict struct {
	retry  bool
	reason string
}

// rule is one predicate in the ordered classification list.
// A rule that does not apply returns ok=false and evaluation continues.
type rule struct {
	name  string
	apply func(rc Context, body *errorBody) (v verdict, ok bool)
}

// rules are evaluated in order; the first that applies wins. Rate limits come
// first so they are never terminal, whatever the provider's own flag says.
var rules = []rule{
	{name: "rate-limit", apply: rateLimitRule},
	{name: "message-shape", apply: messageShapeRule},
	{name: "provider-flag", apply: providerFlagRule},
	{name: "transient", apply: transientRule},
}

// Classify returns a human-facing reason and true when the call should be
// retried, or ("", false) for a terminal failure.
func (p *Policy) Classify(rc Context) (string, bool) {
	body := parseErrorBody(rc.Body)
	for _, r := range rules {
		if v, ok := r.apply(rc, body); ok {
			return v.reason, v.retry
		}
	}
	return "", false
}

func rateLimitRule(rc Context, body *errorBody) (verdict, bool) {
	msg := strings.ToLower(rc.Message)

	limited := rc.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota")

	if !limited && body != nil {
		limited = body.Error.Status == "RESOURCE_EXHAUSTED" || body.code() == http.StatusTooManyRequests
		for _, d := range body.Error.Details {
			if d.Reason == "RATE_LIMIT_EXCEEDED" {
				limited = true
			}
		}
	}
	if !limited {
		return verdict{}, false
	}

	if strings.Contains(msg, "quota") {
		return verdict{retry: true, reason: ReasonQuotaExhausted}, true
	}
	return verdict{retry: true, reason: ReasonRateLimited}, true
}

// messageShapeRule handles providers that stuff a JSON error document into the
// plain message field.
func messageShapeRule(rc Context, _ *errorBody) (verdict, bool) {
	raw := strings.TrimSpace(rc.Message)
	if !strings.HasPrefix(raw, "{") {
		return verdict{}, false
	}

	var shape struct {
		Type  string `json:"type"`
		Code  any    `json:"code"`
		Error *struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return verdict{}, false
	}

	if shape.Type == "error" && shape.Error != nil && shape.Error.Type == "too_many_requests" {
		return verdict{retry: true, reason: ReasonTooManyRequests}, true
	}
	if code, ok := shape.Code.(string); ok && code == exhaustedResourceShape {
		return verdict{retry: true, reason: ReasonOverloaded}, true
	}
	return verdict{}, false
}

func providerFlagRule(rc Context, _ *errorBody) (verdict, bool) {
	if !rc.Retryable {
		return verdict{retry: false}, true
	}
	return verdict{}, false
}

func transientRule(rc Context, _ *errorBody) (verdict, bool) {
	if strings.Contains(strings.ToLower(rc.Message), "overloaded") {
		return verdict{retry: true, reason: ReasonOverloaded}, true
	}
	reason := rc.Message
	if reason == "" && rc.StatusCode != 0 {
		reason = http.StatusText(rc.StatusCode)
	}
	return verdict{retry: true, reason: reason}, true
}
