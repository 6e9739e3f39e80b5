package model

import "time"

// UsageRecord is one provider's normalized quota/cost snapshot.
// Records are built fresh on every aggregation call and never mutated afterwards.
type UsageRecord struct {
	ProviderID   string       `json:"provider_id" yaml:"provider_id"`
	ProviderName string       `json:"provider_name" yaml:"provider_name"`
	PlanType     string       `json:"plan_type,omitempty" yaml:"plan_type,omitempty"`
	Allowed      *bool        `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	LimitReached *bool        `json:"limit_reached,omitempty" yaml:"limit_reached,omitempty"`
	Limits       *RateLimits  `json:"limits,omitempty" yaml:"limits,omitempty"`
	Credits      *Credits     `json:"credits,omitempty" yaml:"credits,omitempty"`
	TokenUsage   *TokenUsage  `json:"token_usage,omitempty" yaml:"token_usage,omitempty"`
	CostSummary  *CostSummary `json:"cost_summary,omitempty" yaml:"cost_summary,omitempty"`
	FetchedAt    time.Time    `json:"fetched_at" yaml:"fetched_at"`
	Error        string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// RateLimits holds the provider-reported primary and secondary windows.
type RateLimits struct {
	Primary   *RateLimitWindow `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// RateLimitWindow is a single quota period.
// UsedPercent is on a 0-100 scale; ResetsAt is in epoch seconds.
type RateLimitWindow struct {
	UsedPercent   *float64 `json:"used_percent,omitempty" yaml:"used_percent,omitempty"`
	WindowMinutes *int     `json:"window_minutes,omitempty" yaml:"window_minutes,omitempty"`
	ResetsAt      *int64   `json:"resets_at,omitempty" yaml:"resets_at,omitempty"`
}

// Credits summarizes prepaid or overage credit state. Balance is provider-formatted.
type Credits struct {
	HasCredits bool   `json:"has_credits" yaml:"has_credits"`
	Unlimited  bool   `json:"unlimited" yaml:"unlimited"`
	Balance    string `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// TokenUsage holds token counts for the current billing window.
type TokenUsage struct {
	Total         *int64 `json:"total,omitempty" yaml:"total,omitempty"`
	Input         *int64 `json:"input,omitempty" yaml:"input,omitempty"`
	Output        *int64 `json:"output,omitempty" yaml:"output,omitempty"`
	Cached        *int64 `json:"cached,omitempty" yaml:"cached,omitempty"`
	CacheCreation *int64 `json:"cache_creation,omitempty" yaml:"cache_creation,omitempty"`
}

// CostSummary holds USD costs for the current billing window.
type CostSummary struct {
	TotalCost         *float64 `json:"total_cost,omitempty" yaml:"total_cost,omitempty"`
	InputCost         *float64 `json:"input_cost,omitempty" yaml:"input_cost,omitempty"`
	OutputCost        *float64 `json:"output_cost,omitempty" yaml:"output_cost,omitempty"`
	CacheReadCost     *float64 `json:"cache_read_cost,omitempty" yaml:"cache_read_cost,omitempty"`
	CacheCreationCost *float64 `json:"cache_creation_cost,omitempty" yaml:"cache_creation_cost,omitempty"`
}

// Ptr returns a pointer to v. Handy for building optional record fields.
func Ptr[T any](v T) *T {
	return &v
}
