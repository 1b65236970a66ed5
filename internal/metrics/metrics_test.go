package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamgideonidoko/pulse/internal/models"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("Second Register() should be tolerated, got %v", err)
	}
	return reg
}

// counter sums every series of the named family whose labels include want.
func counter(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func TestObserveEvent(t *testing.T) {
	reg := newRegistry(t)
	accepted := counter(t, reg, "pulse_events_total", map[string]string{"outcome": OutcomeAccepted})
	ended := counter(t, reg, "pulse_sessions_ended_total", nil)

	ObserveEvent(OutcomeAccepted, false)
	ObserveEvent(OutcomeAccepted, true)
	ObserveEvent(OutcomeRejected, true)

	if got := counter(t, reg, "pulse_events_total", map[string]string{"outcome": OutcomeAccepted}) - accepted; got != 2 {
		t.Errorf("Expected 2 accepted events, got %v", got)
	}
	if got := counter(t, reg, "pulse_sessions_ended_total", nil) - ended; got != 1 {
		t.Errorf("Rejected terminal snapshots should not count as ended sessions, got %v", got)
	}
}

func TestObserveAlerts(t *testing.T) {
	reg := newRegistry(t)
	labels := map[string]string{"type": string(models.AlertBotActivity), "severity": string(models.SeverityHigh)}
	before := counter(t, reg, "pulse_alerts_total", labels)

	ObserveAlerts([]models.AnomalyAlert{
		{Type: models.AlertBotActivity, Severity: models.SeverityHigh},
		{Type: models.AlertTrafficSpike, Severity: models.SeverityHigh},
	})

	if got := counter(t, reg, "pulse_alerts_total", labels) - before; got != 1 {
		t.Errorf("Expected 1 bot alert, got %v", got)
	}
}

func TestObserveArchiveAndRequest(t *testing.T) {
	reg := newRegistry(t)
	failed := counter(t, reg, "pulse_archive_events_total", map[string]string{"outcome": OutcomeError})
	requests := counter(t, reg, "pulse_http_request_seconds", map[string]string{"route": "/analytics/track", "status": "200"})

	ObserveArchive(50, errors.New("timeout"))
	ObserveArchive(10, nil)
	ObserveRequest("POST", "/analytics/track", 200, 3*time.Millisecond)
	ObserveRequest("POST", "/analytics/track", 200, -time.Millisecond)

	if got := counter(t, reg, "pulse_archive_events_total", map[string]string{"outcome": OutcomeError}) - failed; got != 50 {
		t.Errorf("Expected 50 failed archive events, got %v", got)
	}
	if got := counter(t, reg, "pulse_http_request_seconds", map[string]string{"route": "/analytics/track", "status": "200"}) - requests; got != 2 {
		t.Errorf("Expected 2 observed requests, got %v", got)
	}
}
