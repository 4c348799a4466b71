package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CarrierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackhub_carrier_requests_total",
		Help: "Carrier adapter calls, labelled by carrier and outcome (ok or error kind).",
	}, []string{"carrier", "outcome"})

	CarrierRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trackhub_carrier_request_duration_seconds",
		Help:    "Carrier adapter call latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"carrier"})

	TrackingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackhub_tracking_updates_total",
		Help: "Orchestrator results, labelled by result (updated, unchanged or failure kind).",
	}, []string{"result"})

	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackhub_sweep_cycles_total",
		Help: "Completed background sweep cycles.",
	})

	SweepPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackhub_sweep_panics_total",
		Help: "Recovered panics inside the sweep loop.",
	})

	SweepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackhub_sweep_rate_limited_retries_total",
		Help: "Backoff retries after a RateLimited carrier response.",
	}, []string{"carrier"})

	SweepRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackhub_sweep_running",
		Help: "1 while the sweep scheduler is running.",
	})

	MappingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackhub_mapping_entries",
		Help: "Entries in the current status mapping snapshot.",
	})

	MappingReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackhub_mapping_reloads_total",
		Help: "Mapping store reloads, labelled by status.",
	}, []string{"status"})
)
