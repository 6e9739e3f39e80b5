package config

import (
	"strings"
	"sync"
	"time"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
}

type modelPricingVersion struct {
	EffectiveFrom time.Time
	Pricing       ModelPricing
}

// DefaultPricing maps model base names to their pricing.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-5": {
		InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWritePerMTok: 6.25, CacheReadPerMTok: 0.50,
	},
	"claude-opus-4-1": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50,
	},
	"claude-sonnet-4-5": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30,
	},
	"claude-sonnet-4": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30,
	},
	"claude-haiku-4-5": {
		InputPerMTok: 1.00, OutputPerMTok: 5.00, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10,
	},
	"gpt-5": {
		InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125,
	},
	"gpt-5-codex": {
		InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125,
	},
	"gpt-5-mini": {
		InputPerMTok: 0.25, OutputPerMTok: 2.00, CacheReadPerMTok: 0.025,
	},
	"gemini-2.5-pro": {
		InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.31,
	},
	"gemini-2.5-flash": {
		InputPerMTok: 0.30, OutputPerMTok: 2.50, CacheReadPerMTok: 0.075,
	},
}

// defaultPricingHistory stores effective-dated prices for each model.
// Entries must be sorted by EffectiveFrom ascending.
var (
	pricingMu             sync.RWMutex
	defaultPricingHistory = makeDefaultPricingHistory(DefaultPricing)
)

func makeDefaultPricingHistory(base map[string]ModelPricing) map[string][]modelPricingVersion {
	history := make(map[string][]modelPricingVersion, len(base))
	for modelName, pricing := range base {
		history[modelName] = []modelPricingVersion{
			{Pricing: pricing},
		}
	}
	return history
}

// ApplyPricingOverrides layers user overrides on top of the latest known price.
// Unknown models get a fresh entry built from the override alone.
func ApplyPricingOverrides(o PricingOverrides) {
	pricingMu.Lock()
	defer pricingMu.Unlock()

	for name, ov := range o.Overrides {
		var p ModelPricing
		if versions := defaultPricingHistory[name]; len(versions) > 0 {
			p = versions[len(versions)-1].Pricing
		}
		if ov.InputPerMTok != nil {
			p.InputPerMTok = *ov.InputPerMTok
		}
		if ov.OutputPerMTok != nil {
			p.OutputPerMTok = *ov.OutputPerMTok
		}
		if ov.CacheWritePerMTok != nil {
			p.CacheWritePerMTok = *ov.CacheWritePerMTok
		}
		if ov.CacheReadPerMTok != nil {
			p.CacheReadPerMTok = *ov.CacheReadPerMTok
		}
		defaultPricingHistory[name] = []modelPricingVersion{{Pricing: p}}
	}
}

func hasPricingModel(model string) bool {
	_, ok := defaultPricingHistory[model]
	return ok
}

// NormalizeModelName strips provider prefixes and date suffixes from model identifiers.
// e.g., "anthropic/claude-sonnet-4-5-20250929" -> "claude-sonnet-4-5"
func NormalizeModelName(raw string) string {
	pricingMu.RLock()
	defer pricingMu.RUnlock()
	return normalizeModelName(raw)
}

func normalizeModelName(raw string) string {
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	if hasPricingModel(raw) {
		return raw
	}

	// Strip last segment if it looks like a date (all digits)
	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if hasPricingModel(candidate) {
				return candidate
			}
		}
	}

	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// LookupPricing returns the pricing for a model, normalizing the name first.
// Returns zero pricing and false if the model is unknown.
func LookupPricing(model string) (ModelPricing, bool) {
	return LookupPricingAt(model, time.Now())
}

// LookupPricingAt returns the pricing for a model at the given timestamp.
// If at is zero, the latest known pricing entry is used.
func LookupPricingAt(model string, at time.Time) (ModelPricing, bool) {
	pricingMu.RLock()
	defer pricingMu.RUnlock()

	versions, ok := defaultPricingHistory[normalizeModelName(model)]
	if !ok || len(versions) == 0 {
		return ModelPricing{}, false
	}

	if at.IsZero() {
		return versions[len(versions)-1].Pricing, true
	}

	at = at.UTC()
	selected := versions[0].Pricing
	for _, v := range versions {
		if v.EffectiveFrom.IsZero() || !at.Before(v.EffectiveFrom.UTC()) {
			selected = v.Pricing
			continue
		}
		break
	}
	return selected, true
}

// CostBreakdown is the USD cost of a token bundle split by token type.
type CostBreakdown struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// Total sums all components.
func (c CostBreakdown) Total() float64 {
	return c.Input + c.Output + c.CacheRead + c.CacheWrite
}

// CalculateCostAt prices a token bundle at a point in time. ok is false for unknown models.
func CalculateCostAt(model string, at time.Time, input, output, cacheRead, cacheWrite int64) (CostBreakdown, bool) {
	pricing, ok := LookupPricingAt(model, at)
	if !ok {
		return CostBreakdown{}, false
	}

	return CostBreakdown{
		Input:      float64(input) * pricing.InputPerMTok / 1_000_000,
		Output:     float64(output) * pricing.OutputPerMTok / 1_000_000,
		CacheRead:  float64(cacheRead) * pricing.CacheReadPerMTok / 1_000_000,
		CacheWrite: float64(cacheWrite) * pricing.CacheWritePerMTok / 1_000_000,
	}, true
}
