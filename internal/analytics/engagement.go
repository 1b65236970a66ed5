// Package analytics derives per-session and aggregate figures from stored
// telemetry snapshots.
package analytics

import (
	"math"

	"github.com/iamgideonidoko/pulse/internal/models"
)

const (
	fullEngagementTime = 180_000 // ms
	timeWeight         = 40.0
	scrollWeight       = 0.3
	clickCap           = 10
	clickWeight        = 3.0
)

// EngagementScore rates one session snapshot on a 0..100 scale.
func EngagementScore(timeSpent int64, scrollDepth float64, clicks int) float64 {
	timeComponent := math.Min(float64(timeSpent)/fullEngagementTime, 1) * timeWeight
	scrollComponent := clamp(scrollDepth, 0, 100) * scrollWeight
	clickComponent := float64(min(max(clicks, 0), clickCap)) * clickWeight

	return clamp(math.Round(timeComponent+scrollComponent+clickComponent), 0, 100)
}

// Enrich fills in the engagement score when the client did not send one.
func Enrich(event *models.TelemetryEvent) {
	if event.EngagementScore != nil {
		return
	}
	score := EngagementScore(event.TimeSpent, event.ScrollDepth, event.Clicks)
	event.EngagementScore = &score
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
