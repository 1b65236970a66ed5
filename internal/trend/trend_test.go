package trend

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/iamgideonidoko/pulse/internal/models"
)

var t0 = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

func sessionsAt(prefix string, score float64, offsets ...time.Duration) []models.TelemetryEvent {
	events := make([]models.TelemetryEvent, 0, len(offsets))
	for i, off := range offsets {
		s := score
		events = append(events, models.TelemetryEvent{
			SessionID:       fmt.Sprintf("%s-%d", prefix, i),
			EngagementScore: &s,
			Timestamp:       t0.Add(off),
		})
	}
	return events
}

func minutes(from, to, step int) []time.Duration {
	var out []time.Duration
	for m := from; m <= to; m += step {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

func TestPredictTrends(t *testing.T) {
	tests := []struct {
		name       string
		events     []models.TelemetryEvent
		direction  models.TrendDirection
		first      int
		second     int
		engagement float64
	}{
		{
			name: "rising",
			events: append(
				sessionsAt("a", 40, minutes(0, 50, 10)...),
				sessionsAt("b", 60, minutes(60, 120, 5)...)...),
			direction:  models.TrendRising,
			first:      6,
			second:     13,
			engagement: 20,
		},
		{
			name: "declining",
			events: append(
				sessionsAt("a", 50, minutes(0, 55, 5)...),
				sessionsAt("b", 50, minutes(60, 120, 20)...)...),
			direction:  models.TrendDeclining,
			first:      12,
			second:     4,
			engagement: 0,
		},
		{
			name:       "stable",
			events:     sessionsAt("a", 30, minutes(0, 110, 10)...),
			direction:  models.TrendStable,
			first:      6,
			second:     6,
			engagement: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictTrends(tt.events)
			if got.Direction != tt.direction {
				t.Errorf("direction = %s, want %s (%+v)", got.Direction, tt.direction, got.SupportingMetrics)
			}
			m := got.SupportingMetrics
			if m.FirstHalfSessions != tt.first || m.SecondHalfSessions != tt.second {
				t.Errorf("halves = %d/%d, want %d/%d", m.FirstHalfSessions, m.SecondHalfSessions, tt.first, tt.second)
			}
			if m.EngagementChange != tt.engagement {
				t.Errorf("engagement change = %.1f, want %.1f", m.EngagementChange, tt.engagement)
			}
			if !strings.HasPrefix(got.Prediction, "Traffic is "+string(tt.direction)) {
				t.Errorf("Unexpected prediction text %q", got.Prediction)
			}
		})
	}
}

func TestPredictTrends_Neutral(t *testing.T) {
	single := sessionsAt("a", 10, 0)
	sameInstant := sessionsAt("a", 10, 0, 0, 0)

	for name, events := range map[string][]models.TelemetryEvent{
		"empty":        nil,
		"single":       single,
		"same instant": sameInstant,
	} {
		got := PredictTrends(events)
		if got.Direction != models.TrendStable || got.Prediction != neutralPrediction {
			t.Errorf("%s: expected neutral prediction, got %+v", name, got)
		}
	}
}

func TestPredictTrends_EngagementWording(t *testing.T) {
	events := append(
		sessionsAt("a", 20, minutes(0, 50, 10)...),
		sessionsAt("b", 50, minutes(60, 110, 10)...)...)

	got := PredictTrends(events)
	if !strings.HasSuffix(got.Prediction, "engagement is improving") {
		t.Errorf("Expected improving engagement wording, got %q", got.Prediction)
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		before, after int
		want          float64
	}{
		{0, 0, 0},
		{0, 5, 100},
		{10, 15, 50},
		{10, 5, -50},
	}
	for _, tt := range tests {
		if got := percentChange(tt.before, tt.after); got != tt.want {
			t.Errorf("percentChange(%d, %d) = %.1f, want %.1f", tt.before, tt.after, got, tt.want)
		}
	}
}
