package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/model"
)

const quotaBaseURL = "https://api.anthropic.com/api/oauth"

// Quota reads a generic quota endpoint reporting utilization windows,
// per-model token usage, and optionally cost and credit balance.
type Quota struct {
	client client
}

// NewQuota creates a quota-family fetcher. A nil hc uses a default client.
func NewQuota(hc *http.Client) *Quota {
	return &Quota{client: newClient("quota", hc)}
}

type quotaUsage struct {
	Plan         string          `json:"plan"`
	Allowed      *bool           `json:"allowed"`
	LimitReached *bool           `json:"limit_reached"`
	FiveHour     *quotaWindow    `json:"five_hour"`
	SevenDay     *quotaWindow    `json:"seven_day"`
	Usage        []quotaModelUse `json:"usage"`
	Cost         *quotaCost      `json:"cost"`
	Credits      *quotaCredits   `json:"credits"`
}

// quotaWindow keeps utilization raw: it arrives as int, float, or string.
type quotaWindow struct {
	Utilization json.RawMessage `json:"utilization"`
	ResetsAt    *string         `json:"resets_at"`
}

type quotaModelUse struct {
	Model               string `json:"model"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
}

type quotaCost struct {
	Total         *float64 `json:"total"`
	Input         *float64 `json:"input"`
	Output        *float64 `json:"output"`
	CacheRead     *float64 `json:"cache_read"`
	CacheCreation *float64 `json:"cache_creation"`
}

type quotaCredits struct {
	Balance   json.RawMessage `json:"balance"`
	Unlimited bool            `json:"unlimited"`
}

// Fetch implements Fetcher.
func (q *Quota) Fetch(ctx context.Context, cred Credentials) (json.RawMessage, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, ErrNoToken
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cred.Token)
	return q.client.get(ctx, baseURL(cred, quotaBaseURL)+"/usage", h)
}

// Normalize implements Fetcher.
func (q *Quota) Normalize(raw json.RawMessage, now time.Time) (model.UsageRecord, error) {
	var u quotaUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.UsageRecord{}, fmt.Errorf("quota: parsing usage: %w", err)
	}

	rec := model.UsageRecord{
		PlanType:     u.Plan,
		Allowed:      u.Allowed,
		LimitReached: u.LimitReached,
	}

	primary := u.FiveHour.normalize(5 * 60)
	secondary := u.SevenDay.normalize(7 * 24 * 60)
	if primary != nil || secondary != nil {
		rec.Limits = &model.RateLimits{Primary: primary, Secondary: secondary}
	}

	if len(u.Usage) > 0 {
		rec.TokenUsage, rec.CostSummary = sumModelUsage(u.Usage, now)
	}
	if u.Cost != nil {
		rec.CostSummary = &model.CostSummary{
			TotalCost:         u.Cost.Total,
			InputCost:         u.Cost.Input,
			OutputCost:        u.Cost.Output,
			CacheReadCost:     u.Cost.CacheRead,
			CacheCreationCost: u.Cost.CacheCreation,
		}
	}

	if cr := u.Credits; cr != nil {
		balance := formatBalance(cr.Balance)
		rec.Credits = &model.Credits{
			HasCredits: cr.Unlimited || balance != "",
			Unlimited:  cr.Unlimited,
			Balance:    balance,
		}
	}
	return rec, nil
}

// sumModelUsage totals per-model tokens and prices them. Cost is nil when
// any model is missing from the pricing table.
func sumModelUsage(uses []quotaModelUse, now time.Time) (*model.TokenUsage, *model.CostSummary) {
	var in, out, cacheRead, cacheWrite int64
	var cost config.CostBreakdown
	priced := true
	for _, m := range uses {
		in += m.InputTokens
		out += m.OutputTokens
		cacheRead += m.CacheReadTokens
		cacheWrite += m.CacheCreationTokens

		c, ok := config.CalculateCostAt(m.Model, now, m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheCreationTokens)
		if !ok {
			priced = false
			continue
		}
		cost.Input += c.Input
		cost.Output += c.Output
		cost.CacheRead += c.CacheRead
		cost.CacheWrite += c.CacheWrite
	}

	tokens := &model.TokenUsage{
		Total:         model.Ptr(in + out + cacheRead + cacheWrite),
		Input:         model.Ptr(in),
		Output:        model.Ptr(out),
		Cached:        model.Ptr(cacheRead),
		CacheCreation: model.Ptr(cacheWrite),
	}
	if !priced {
		return tokens, nil
	}
	return tokens, &model.CostSummary{
		TotalCost:         model.Ptr(cost.Total()),
		InputCost:         model.Ptr(cost.Input),
		OutputCost:        model.Ptr(cost.Output),
		CacheReadCost:     model.Ptr(cost.CacheRead),
		CacheCreationCost: model.Ptr(cost.CacheWrite),
	}
}

func (w *quotaWindow) normalize(windowMinutes int) *model.RateLimitWindow {
	if w == nil {
		return nil
	}
	out := &model.RateLimitWindow{WindowMinutes: model.Ptr(windowMinutes)}
	if pct, ok := parseUtilization(w.Utilization); ok {
		out.UsedPercent = model.Ptr(pct * 100)
	}
	if w.ResetsAt != nil {
		if t, err := time.Parse(time.RFC3339, *w.ResetsAt); err == nil {
			out.ResetsAt = model.Ptr(t.Unix())
		}
	}
	return out
}

// parseUtilization parses the polymorphic utilization field.
// Handles int (75), float (0.75 or 75.0), and string ("75%" or "0.75").
// Returns value normalized to 0.0-1.0 range.
func parseUtilization(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return normalizeUtilization(f), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return normalizeUtilization(v), true
		}
	}

	return 0, false
}

// normalizeUtilization converts a value to 0.0-1.0 range.
// Values > 1.0 are assumed to be percentages (0-100 scale).
func normalizeUtilization(v float64) float64 {
	if v > 1.0 {
		return v / 100.0
	}
	return v
}
