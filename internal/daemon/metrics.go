package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theirongolddev/cbench/internal/model"
)

type metrics struct {
	registry *prometheus.Registry

	polls        prometheus.Counter
	fetchErrors  *prometheus.CounterVec
	usedPercent  *prometheus.GaugeVec
	costUSD      *prometheus.GaugeVec
	limitReached *prometheus.GaugeVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		polls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cbench",
			Subsystem: "daemon",
			Name:      "polls_total",
			Help:      "Usage polls performed",
		}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbench",
			Subsystem: "usage",
			Name:      "fetch_errors_total",
			Help:      "Failed usage fetches by provider",
		}, []string{"provider"}),
		usedPercent: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbench",
			Subsystem: "usage",
			Name:      "used_percent",
			Help:      "Rate-limit window usage by provider and window (primary, secondary)",
		}, []string{"provider", "window"}),
		costUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbench",
			Subsystem: "usage",
			Name:      "cost_usd",
			Help:      "Reported or derived total cost by provider",
		}, []string{"provider"}),
		limitReached: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbench",
			Subsystem: "usage",
			Name:      "limit_reached",
			Help:      "1 when the provider reports its limit reached",
		}, []string{"provider"}),
	}
}

func (m *metrics) observe(records []model.UsageRecord) {
	for _, r := range records {
		if r.Error != "" {
			m.fetchErrors.WithLabelValues(r.ProviderID).Inc()
			continue
		}
		if r.Limits != nil {
			setWindow(m.usedPercent, r.ProviderID, "primary", r.Limits.Primary)
			setWindow(m.usedPercent, r.ProviderID, "secondary", r.Limits.Secondary)
		}
		if r.CostSummary != nil && r.CostSummary.TotalCost != nil {
			m.costUSD.WithLabelValues(r.ProviderID).Set(*r.CostSummary.TotalCost)
		}
		if r.LimitReached != nil {
			v := 0.0
			if *r.LimitReached {
				v = 1
			}
			m.limitReached.WithLabelValues(r.ProviderID).Set(v)
		}
	}
}

func setWindow(g *prometheus.GaugeVec, provider, window string, w *model.RateLimitWindow) {
	if w == nil || w.UsedPercent == nil {
		return
	}
	g.WithLabelValues(provider, window).Set(*w.UsedPercent)
}
