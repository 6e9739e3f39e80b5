package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/model"
)

const chatGPTBaseURL = "https://chatgpt.com/backend-api"

// ChatGPT reads the OAuth-backed subscription usage endpoint.
type ChatGPT struct {
	client client
}

// NewChatGPT creates a ChatGPT-family fetcher. A nil hc uses a default client.
func NewChatGPT(hc *http.Client) *ChatGPT {
	return &ChatGPT{client: newClient("chatgpt", hc)}
}

type chatGPTUsage struct {
	PlanType  string            `json:"plan_type"`
	RateLimit *chatGPTRateLimit `json:"rate_limit"`
	Credits   *chatGPTCredits   `json:"credits"`
}

type chatGPTRateLimit struct {
	Allowed         *bool          `json:"allowed"`
	LimitReached    *bool          `json:"limit_reached"`
	PrimaryWindow   *chatGPTWindow `json:"primary_window"`
	SecondaryWindow *chatGPTWindow `json:"secondary_window"`
}

type chatGPTWindow struct {
	UsedPercent        *float64 `json:"used_percent"`
	LimitWindowSeconds *int64   `json:"limit_window_seconds"`
	ResetAfterSeconds  *int64   `json:"reset_after_seconds"`
	ResetAt            *int64   `json:"reset_at"`
}

type chatGPTCredits struct {
	HasCredits bool            `json:"has_credits"`
	Unlimited  bool            `json:"unlimited"`
	Balance    json.RawMessage `json:"balance"`
}

// Fetch implements Fetcher.
func (c *ChatGPT) Fetch(ctx context.Context, cred Credentials) (json.RawMessage, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, ErrNoToken
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cred.Token)
	if cred.AccountID != "" {
		h.Set("ChatGPT-Account-Id", cred.AccountID)
	}
	return c.client.get(ctx, baseURL(cred, chatGPTBaseURL)+"/wham/usage", h)
}

// Normalize implements Fetcher.
func (c *ChatGPT) Normalize(raw json.RawMessage, now time.Time) (model.UsageRecord, error) {
	var u chatGPTUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.UsageRecord{}, fmt.Errorf("chatgpt: parsing usage: %w", err)
	}

	rec := model.UsageRecord{PlanType: u.PlanType}
	if rl := u.RateLimit; rl != nil {
		rec.Allowed = rl.Allowed
		rec.LimitReached = rl.LimitReached
		primary := rl.PrimaryWindow.normalize(now)
		secondary := rl.SecondaryWindow.normalize(now)
		if primary != nil || secondary != nil {
			rec.Limits = &model.RateLimits{Primary: primary, Secondary: secondary}
		}
	}
	if cr := u.Credits; cr != nil {
		rec.Credits = &model.Credits{
			HasCredits: cr.HasCredits,
			Unlimited:  cr.Unlimited,
			Balance:    formatBalance(cr.Balance),
		}
	}
	return rec, nil
}

func (w *chatGPTWindow) normalize(now time.Time) *model.RateLimitWindow {
	if w == nil {
		return nil
	}
	out := &model.RateLimitWindow{UsedPercent: w.UsedPercent}
	if w.LimitWindowSeconds != nil && *w.LimitWindowSeconds > 0 {
		out.WindowMinutes = model.Ptr(int(*w.LimitWindowSeconds / 60))
	}
	switch {
	case w.ResetAt != nil:
		out.ResetsAt = w.ResetAt
	case w.ResetAfterSeconds != nil:
		out.ResetsAt = model.Ptr(now.Unix() + *w.ResetAfterSeconds)
	}
	return out
}

// formatBalance renders a numeric balance as dollars; other values pass through.
func formatBalance(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fmt.Sprintf("$%.2f", f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return fmt.Sprintf("$%.2f", v)
		}
		return s
	}
	return ""
}
