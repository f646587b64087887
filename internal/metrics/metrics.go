// Package metrics holds the Prometheus collectors of the map server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "choropleth_requests_total",
		Help: "Total API requests by route and status code",
	}, []string{"route", "code"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "choropleth_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	SwitchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "choropleth_attribute_switches_total",
		Help: "Expressed attribute switches by attribute",
	}, []string{"attribute"})
	SwitchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "choropleth_attribute_switch_failures_total",
		Help: "Attribute switches that failed to classify, rank or render",
	})
	LoadDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "choropleth_load_duration_seconds",
		Help:    "Time to fetch, decode and join the assets",
		Buckets: prometheus.DefBuckets,
	})
	LoadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "choropleth_load_failures_total",
		Help: "Asset loads that failed",
	})
	UnmatchedRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "choropleth_unmatched_rows",
		Help: "Table rows with no matching feature in the last load",
	})
	UnmatchedFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "choropleth_unmatched_features",
		Help: "Feature keys with no table row in the last load",
	})
	LocateCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "choropleth_locate_cache_hits_total",
		Help: "Hover lookups answered from the cache",
	})
	LocateCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "choropleth_locate_cache_misses_total",
		Help: "Hover lookups that searched the index",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(SwitchesTotal)
	prometheus.MustRegister(SwitchFailuresTotal)
	prometheus.MustRegister(LoadDurationSeconds)
	prometheus.MustRegister(LoadFailuresTotal)
	prometheus.MustRegister(UnmatchedRows)
	prometheus.MustRegister(UnmatchedFeatures)
	prometheus.MustRegister(LocateCacheHitsTotal)
	prometheus.MustRegister(LocateCacheMissesTotal)
}

// ObserveLocate counts a hover lookup cache hit or miss.
func ObserveLocate(hit bool) {
	if hit {
		LocateCacheHitsTotal.Inc()
	} else {
		LocateCacheMissesTotal.Inc()
	}
}

// Handler serves the registered metrics.
func Handler() http.Handler { return promhttp.Handler() }
