package retry

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var resetAfterRe = regexp.MustCompile(`(?i)reset after (\d+(?:\.\d+)?)s`)

// errorBody is the common `{"error": {...}}` envelope used by Google-style and
// OpenAI-style APIs. Code is a number for some providers and a string for others.
type errorBody struct {
	Error *struct {
		Message string          `json:"message"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// parseErrorBody accepts an object or an array whose first element is the envelope.
// Returns nil for anything it cannot parse.
func parseErrorBody(body string) *errorBody {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	var eb errorBody
	if strings.HasPrefix(body, "[") {
		var arr []errorBody
		if err := json.Unmarshal([]byte(body), &arr); err != nil || len(arr) == 0 {
			return nil
		}
		eb = arr[0]
	} else if err := json.Unmarshal([]byte(body), &eb); err != nil {
		return nil
	}

	if eb.Error == nil {
		return nil
	}
	return &eb
}

func (eb *errorBody) code() int {
	if eb == nil || eb.Error == nil || len(eb.Error.Code) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(eb.Error.Code, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(eb.Error.Code, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// hintDelay looks for "reset after Ns" in the message, then in the body's error message.
func hintDelay(rc *Context) (time.Duration, bool) {
	if d, ok := matchResetAfter(rc.Message); ok {
		return d, true
	}
	if eb := parseErrorBody(rc.Body); eb != nil {
		return matchResetAfter(eb.Error.Message)
	}
	return 0, false
}

func matchResetAfter(s string) (time.Duration, bool) {
	m := resetAfterRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return msToDuration(secs * 1000), true
}
