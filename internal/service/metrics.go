package service

import "github.com/prometheus/client_golang/prometheus"

var (
	checkoutTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_transitions_total",
			Help: "Persisted checkout state transitions",
		},
		[]string{"from", "to"},
	)

	estimateFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cost_estimate_fallbacks_total",
			Help: "Cost estimates that used a fallback amount instead of a provider quote",
		},
		[]string{"component"},
	)

	catalogCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_catalog_cache_total",
			Help: "Catalog cache lookups by result (hit, miss, stale)",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(checkoutTransitions, estimateFallbacks, catalogCacheResults)
}
