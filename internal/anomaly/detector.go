// Package anomaly classifies a batch of telemetry snapshots into alerts. Every
// rule is a pure function of the batch; detectors hold no mutable state and are
// safe for concurrent use.
package anomaly

import (
	"sort"
	"time"

	"github.com/iamgideonidoko/pulse/internal/analytics"
	"github.com/iamgideonidoko/pulse/internal/models"
)

var recommendations = map[models.AlertType]string{
	models.AlertBotActivity:    "Consider enabling CAPTCHA or rate-limiting for flagged sessions",
	models.AlertTrafficSpike:   "Confirm the spike matches a campaign or release; otherwise rate-limit the dominant sources and watch capacity",
	models.AlertGeoAnomaly:     "Review traffic from the reported coordinates and require re-verification for the affected fingerprints",
	models.AlertUnusualPattern: "Inspect the affected sessions for spoofed user agents or headless automation",
}

// Recommendation returns the remediation template for an alert type.
func Recommendation(t models.AlertType) string {
	return recommendations[t]
}

// batch is the view every rule works on.
type batch struct {
	events   []models.TelemetryEvent
	sessions []models.TelemetryEvent
	total    int
	at       time.Time
}

type rule func(Thresholds, batch) []models.AnomalyAlert

type Detector struct {
	th    Thresholds
	rules []rule
}

func NewDetector(th Thresholds) *Detector {
	return &Detector{
		th:    th,
		rules: []rule{botRule, spikeRule, geoRule, unusualRule},
	}
}

func (d *Detector) Thresholds() Thresholds {
	return d.th
}

// AnalyzeEvents runs every rule family over events. totalSessions is the
// session count the caller knows about; the collapsed batch size is used when
// it is larger. Alerts are ordered by severity, then newest first.
func (d *Detector) AnalyzeEvents(events []models.TelemetryEvent, totalSessions int) []models.AnomalyAlert {
	alerts := []models.AnomalyAlert{}
	if len(events) == 0 {
		return alerts
	}

	sessions := analytics.CollapseSessions(events)
	b := batch{
		events:   events,
		sessions: sessions,
		total:    max(totalSessions, len(sessions)),
		at:       latest(events),
	}

	for _, r := range d.rules {
		for _, alert := range r(d.th, b) {
			alert.Timestamp = b.at
			if alert.Recommendation == "" {
				alert.Recommendation = Recommendation(alert.Type)
			}
			alerts = append(alerts, alert)
		}
	}

	SortAlerts(alerts)
	return alerts
}

// BotSessions returns the ids of the sessions in events that the bot rule
// flags, for low engagement or for evenly spaced starts.
func (d *Detector) BotSessions(events []models.TelemetryEvent) map[string]bool {
	sessions := analytics.CollapseSessions(events)
	flagged := regularStarts(d.th.Bot, sessions)
	for _, s := range sessions {
		if lowEngagementBot(d.th.Bot, s) {
			flagged[s.SessionID] = true
		}
	}
	return flagged
}

// BotClassifier adapts BotSessions for analytics.Aggregate.
func (d *Detector) BotClassifier(events []models.TelemetryEvent) analytics.BotClassifier {
	flagged := d.BotSessions(events)
	return func(s models.TelemetryEvent) bool {
		return flagged[s.SessionID]
	}
}

// SortAlerts orders by severity rank, ties broken by most recent timestamp.
// The sort is stable so rule order decides remaining ties.
func SortAlerts(alerts []models.AnomalyAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}

func latest(events []models.TelemetryEvent) time.Time {
	var at time.Time
	for _, e := range events {
		if e.Timestamp.After(at) {
			at = e.Timestamp
		}
	}
	return at
}

func share(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

var defaultDetector = NewDetector(DefaultThresholds())

// AnalyzeEvents runs the default thresholds over events.
func AnalyzeEvents(events []models.TelemetryEvent, totalSessions int) []models.AnomalyAlert {
	return defaultDetector.AnalyzeEvents(events, totalSessions)
}
