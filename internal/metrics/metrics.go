// Package metrics holds the Prometheus collectors for the collection service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamgideonidoko/pulse/internal/models"
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeSuccess  = "success"
)

const namespace = "pulse"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Telemetry snapshots received, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsEndedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Terminal snapshots received.",
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Anomaly alerts raised, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	archiveEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_events_total",
			Help:      "Events shipped to the archive, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	geolocationLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geolocation_lookups_total",
			Help:      "IP geolocation lookups, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)
)

// Register attaches the collectors to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		sessionsEndedTotal,
		alertsTotal,
		archiveEventsTotal,
		geolocationLookupsTotal,
		requestDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveEvent(outcome string, ended bool) {
	eventsTotal.WithLabelValues(outcome).Inc()
	if ended && outcome == OutcomeAccepted {
		sessionsEndedTotal.Inc()
	}
}

func ObserveAlerts(alerts []models.AnomalyAlert) {
	for _, a := range alerts {
		alertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

func ObserveArchive(events int, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	archiveEventsTotal.WithLabelValues(outcome).Add(float64(events))
}

func ObserveGeolocation(outcome string) {
	geolocationLookupsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRequest(method, route string, status int, duration time.Duration) {
	requestDurationSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(max(duration, 0).Seconds())
}
