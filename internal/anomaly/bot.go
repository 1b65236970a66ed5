package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/iamgideonidoko/pulse/internal/analytics"
	"github.com/iamgideonidoko/pulse/internal/models"
)

const maxListedFingerprints = 10

// lowEngagementBot: a session with next to no engagement that still racked up
// page views or clicks.
func lowEngagementBot(th BotThresholds, s models.TelemetryEvent) bool {
	score := analytics.EngagementScore(s.TimeSpent, s.ScrollDepth, s.Clicks)
	if s.EngagementScore != nil {
		score = *s.EngagementScore
	}
	if score > th.MaxEngagement {
		return false
	}
	return s.PageViews >= th.MinPageViews || s.Clicks >= th.MinClicks
}

// regularStarts returns sessions belonging to fingerprints whose session
// starts are spaced too evenly to be human.
func regularStarts(th BotThresholds, sessions []models.TelemetryEvent) map[string]bool {
	byFingerprint := map[string][]models.TelemetryEvent{}
	for _, s := range sessions {
		byFingerprint[s.DeviceFingerprint] = append(byFingerprint[s.DeviceFingerprint], s)
	}

	flagged := map[string]bool{}
	for _, group := range byFingerprint {
		if len(group) < th.RegularMinSessions || th.RegularMinSessions < 3 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].SessionStart().Before(group[j].SessionStart())
		})

		gaps := make([]float64, 0, len(group)-1)
		for i := 1; i < len(group); i++ {
			gaps = append(gaps, group[i].SessionStart().Sub(group[i-1].SessionStart()).Seconds())
		}
		if cv, ok := coefficientOfVariation(gaps); ok && cv < th.RegularMaxCV {
			for _, s := range group {
				flagged[s.SessionID] = true
			}
		}
	}
	return flagged
}

func coefficientOfVariation(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return 0, false
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean, true
}

func botRule(th Thresholds, b batch) []models.AnomalyAlert {
	regular := regularStarts(th.Bot, b.sessions)

	var lowEngagement, timing int
	fingerprints := map[string]bool{}
	for _, s := range b.sessions {
		low := lowEngagementBot(th.Bot, s)
		if low {
			lowEngagement++
		}
		if regular[s.SessionID] && !low {
			timing++
		}
		if low || regular[s.SessionID] {
			fingerprints[s.DeviceFingerprint] = true
		}
	}

	flagged := lowEngagement + timing
	fraction := share(flagged, b.total)
	if flagged == 0 || fraction < th.Bot.NoiseFloor {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case fraction > th.Bot.Critical:
		severity = models.SeverityCritical
	case fraction > th.Bot.High:
		severity = models.SeverityHigh
	case fraction > th.Bot.Medium:
		severity = models.SeverityMedium
	}

	return []models.AnomalyAlert{{
		Type:     models.AlertBotActivity,
		Severity: severity,
		Description: fmt.Sprintf("%d of %d sessions (%.1f%%) show automated behaviour",
			flagged, b.total, fraction*100),
		Data: map[string]any{
			"botSessions":      flagged,
			"totalSessions":    b.total,
			"percentage":       math.Round(fraction*1000) / 10,
			"lowEngagement":    lowEngagement,
			"regularTiming":    timing,
			"fingerprints":     sortedKeys(fingerprints, maxListedFingerprints),
			"fingerprintCount": len(fingerprints),
		},
	}}
}

func sortedKeys(set map[string]bool, limit int) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
