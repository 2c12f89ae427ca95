package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersReceived  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_driver", Name: "offers_received_total", Help: "Ride offers decoded from the realtime channel"})
	OffersMalformed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "moto_driver", Name: "offers_malformed_total", Help: "Realtime payloads dropped because they could not be decoded"})
	OffersDropped   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_driver", Name: "offers_dropped_total", Help: "Valid offers ignored by the controller"},
		[]string{"reason"},
	)
	AcceptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_driver", Name: "accept_outcomes_total", Help: "Accept attempts by outcome"},
		[]string{"outcome"},
	)
	AcceptLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "moto_driver", Name: "accept_latency_seconds", Help: "Backend accept round trip"})
	DriverOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "moto_driver", Name: "driver_online", Help: "1 while the driver is online"})

	PublishedOffers = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_driver", Name: "sim_published_offers_total", Help: "Offers published by the simulated backend"},
		[]string{"publisher"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "moto_driver", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "moto_driver",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
