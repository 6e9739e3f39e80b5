package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/model"
)

const copilotBaseURL = "https://api.github.com"

// Copilot reads GitHub Copilot's per-user quota snapshot.
type Copilot struct {
	client client
}

// NewCopilot creates a Copilot-family fetcher. A nil hc uses a default client.
func NewCopilot(hc *http.Client) *Copilot {
	return &Copilot{client: newClient("copilot", hc)}
}

type copilotUser struct {
	Plan           string                   `json:"copilot_plan"`
	QuotaResetDate string                   `json:"quota_reset_date"`
	Snapshots      map[string]*copilotQuota `json:"quota_snapshots"`
}

type copilotQuota struct {
	Entitlement      float64  `json:"entitlement"`
	Remaining        float64  `json:"remaining"`
	PercentRemaining *float64 `json:"percent_remaining"`
	Unlimited        bool     `json:"unlimited"`
	OveragePermitted bool     `json:"overage_permitted"`
}

// Fetch implements Fetcher.
func (c *Copilot) Fetch(ctx context.Context, cred Credentials) (json.RawMessage, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, ErrNoToken
	}
	h := http.Header{}
	h.Set("Authorization", "token "+cred.Token)
	h.Set("X-Github-Api-Version", "2025-04-01")
	return c.client.get(ctx, baseURL(cred, copilotBaseURL)+"/copilot_internal/user", h)
}

// Normalize implements Fetcher. Premium interactions map to the primary
// window and chat to the secondary; unlimited quotas are omitted.
func (c *Copilot) Normalize(raw json.RawMessage, _ time.Time) (model.UsageRecord, error) {
	var u copilotUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.UsageRecord{}, fmt.Errorf("copilot: parsing usage: %w", err)
	}

	rec := model.UsageRecord{PlanType: u.Plan}

	var resetsAt *int64
	if u.QuotaResetDate != "" {
		if t, err := time.Parse(time.DateOnly, u.QuotaResetDate); err == nil {
			resetsAt = model.Ptr(t.UTC().Unix())
		} else if t, err := time.Parse(time.RFC3339, u.QuotaResetDate); err == nil {
			resetsAt = model.Ptr(t.Unix())
		}
	}

	premium := u.Snapshots["premium_interactions"]
	primary := premium.window(resetsAt)
	secondary := u.Snapshots["chat"].window(resetsAt)
	if primary != nil || secondary != nil {
		rec.Limits = &model.RateLimits{Primary: primary, Secondary: secondary}
	}

	if premium != nil {
		exhausted := !premium.Unlimited && premium.Remaining <= 0
		rec.LimitReached = model.Ptr(exhausted)
		rec.Allowed = model.Ptr(!exhausted || premium.OveragePermitted)
	}
	return rec, nil
}

func (q *copilotQuota) window(resetsAt *int64) *model.RateLimitWindow {
	if q == nil || q.Unlimited {
		return nil
	}
	w := &model.RateLimitWindow{ResetsAt: resetsAt}
	switch {
	case q.PercentRemaining != nil:
		w.UsedPercent = model.Ptr(100 - *q.PercentRemaining)
	case q.Entitlement > 0:
		w.UsedPercent = model.Ptr(100 * (q.Entitlement - q.Remaining) / q.Entitlement)
	}
	return w
}
