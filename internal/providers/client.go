// Package providers fetches raw usage payloads from upstream provider
// accounts and maps each family's schema onto model.UsageRecord.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/retry"
)

const (
	requestTimeout = 10 * time.Second
	maxBodySize    = 1 << 20 // 1 MB
	userAgent      = "cbench/1.0"
)

var (
	// ErrUnauthorized indicates the token is expired or invalid.
	ErrUnauthorized = errors.New("providers: unauthorized (token expired or invalid)")
	// ErrNoToken indicates a provider connection has no usable credentials.
	ErrNoToken = errors.New("providers: no token configured")
	// ErrUnknownFamily is returned by New for an unregistered family.
	ErrUnknownFamily = errors.New("providers: unknown family")
)

// Credentials identify one provider account.
type Credentials struct {
	Token     string
	AccountID string
	// BaseURL overrides the family's default endpoint root.
	BaseURL string
}

// Fetcher retrieves and normalizes usage for one provider family.
type Fetcher interface {
	// Fetch returns the provider's raw usage document.
	Fetch(ctx context.Context, cred Credentials) (json.RawMessage, error)
	// Normalize maps a raw document onto the common schema. Identity and
	// FetchedAt are left to the caller.
	Normalize(raw json.RawMessage, now time.Time) (model.UsageRecord, error)
}

// client performs authenticated JSON GETs and converts failures into
// *retry.ProviderError so callers can classify them.
type client struct {
	name string
	http *http.Client
}

func newClient(name string, hc *http.Client) client {
	if hc == nil {
		hc = &http.Client{}
	}
	return client{name: name, http: hc}
}

func (c client) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", c.name, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", c.name, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	rc := retry.FromResponse(resp, body, errorMessage(resp.StatusCode, body), retryableStatus(resp.StatusCode))
	perr := &retry.ProviderError{
		Provider:   c.name,
		StatusCode: rc.StatusCode,
		Headers:    rc.Headers,
		Body:       rc.Body,
		Message:    rc.Message,
		Retryable:  rc.Retryable,
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, perr)
	}
	return nil, perr
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// errorMessage pulls a human-readable message out of an error body, falling
// back to the status text.
func errorMessage(status int, body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &shaped) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(shaped.Error, &flat) == nil && flat != "" {
			return flat
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
		return text
	}
	return http.StatusText(status)
}

func baseURL(cred Credentials, fallback string) string {
	if cred.BaseURL != "" {
		return strings.TrimRight(cred.BaseURL, "/")
	}
	return fallback
}

// New returns the Fetcher for a provider family.
func New(family string, hc *http.Client) (Fetcher, error) {
	switch family {
	case FamilyChatGPT:
		return NewChatGPT(hc), nil
	case FamilyCopilot:
		return NewCopilot(hc), nil
	case FamilyQuota:
		return NewQuota(hc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}

// Family names, matching the config file's provider family values.
const (
	FamilyChatGPT = config.FamilyChatGPT
	FamilyCopilot = config.FamilyCopilot
	FamilyQuota   = config.FamilyQuota
)
