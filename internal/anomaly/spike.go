package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/iamgideonidoko/pulse/internal/models"
)

// spikeRule splits the batch span into equal buckets by session start and
// compares the newest bucket with the mean of the ones before it.
func spikeRule(th Thresholds, b batch) []models.AnomalyAlert {
	buckets := th.Spike.Buckets
	if len(b.sessions) < th.Spike.MinRecentSessions || buckets < 2 {
		return nil
	}

	first, last := b.sessions[0].SessionStart(), b.sessions[0].SessionStart()
	for _, s := range b.sessions[1:] {
		start := s.SessionStart()
		if start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}
	}
	span := last.Sub(first)
	if span <= 0 {
		return nil
	}

	width := span / time.Duration(buckets)
	if width <= 0 {
		return nil
	}
	counts := make([]int, buckets)
	for _, s := range b.sessions {
		idx := int(s.SessionStart().Sub(first) / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		counts[idx]++
	}

	recent := counts[buckets-1]
	if recent < th.Spike.MinRecentSessions {
		return nil
	}
	var prior int
	for _, c := range counts[:buckets-1] {
		prior += c
	}
	baseline := math.Max(float64(prior)/float64(buckets-1), 1)
	ratio := float64(recent) / baseline

	var severity models.Severity
	switch {
	case ratio > th.Spike.Critical:
		severity = models.SeverityCritical
	case ratio > th.Spike.High:
		severity = models.SeverityHigh
	case ratio > th.Spike.Medium:
		severity = models.SeverityMedium
	default:
		return nil
	}

	return []models.AnomalyAlert{{
		Type:     models.AlertTrafficSpike,
		Severity: severity,
		Description: fmt.Sprintf("Traffic in the latest %s window is %.1fx the trailing average",
			width.Round(time.Second), ratio),
		Data: map[string]any{
			"recentSessions":  recent,
			"baselineAverage": math.Round(baseline*100) / 100,
			"ratio":           math.Round(ratio*100) / 100,
			"windowSeconds":   int64(width.Seconds()),
			"buckets":         counts,
		},
	}}
}
