package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoutesCreated      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_matching", Name: "routes_created_total", Help: "Total routes published"})
	BidsPlaced         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_matching", Name: "bids_placed_total", Help: "Total bids placed"})
	BidsAccepted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_matching", Name: "bids_accepted_total", Help: "Total bids accepted"})
	SegmentationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_matching", Name: "segmentations_total", Help: "Total polyline segmentations computed"})

	PriceSuggestions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freight_matching", Name: "price_suggestions_total", Help: "Price suggestions by confidence"},
		[]string{"confidence"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freight_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "freight_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
