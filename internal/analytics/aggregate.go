package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/iamgideonidoko/pulse/internal/models"
)

const (
	topN = 5

	bounceMaxTimeSpent = 10_000 // ms
)

// BotClassifier reports whether a collapsed session looks automated.
type BotClassifier func(models.TelemetryEvent) bool

// Aggregate summarizes raw snapshots. Snapshots are collapsed per session
// first, so counts are per session rather than per flush.
func Aggregate(events []models.TelemetryEvent, isBot BotClassifier) models.AggregateAnalytics {
	sessions := CollapseSessions(events)
	result := models.AggregateAnalytics{
		TopDevices:  []models.CountEntry{},
		TopBrowsers: []models.CountEntry{},
		TopOS:       []models.CountEntry{},
	}
	if len(sessions) == 0 {
		return result
	}

	devices := map[string]int{}
	browsers := map[string]int{}
	systems := map[string]int{}
	perFingerprint := map[string]int{}

	var engagementSum float64
	var bounces int

	for _, s := range sessions {
		devices[deviceLabel(s)]++
		browsers[orUnknown(s.Browser)]++
		systems[orUnknown(s.OS)]++
		perFingerprint[s.DeviceFingerprint]++

		result.TotalClicks += s.Clicks
		result.TotalTimeSpent += s.TimeSpent
		result.TotalPageViews += max(s.PageViews, 1)
		engagementSum += sessionEngagement(s)

		if s.DeviceType == models.DeviceMobile {
			result.MobileSessions++
		}
		if isBounce(s) {
			bounces++
		}
		if isBot != nil && isBot(s) {
			result.BotDetected++
		}
	}

	n := len(sessions)
	result.TotalSessions = n
	result.UniqueDevices = len(perFingerprint)
	result.UniqueBrowsers = len(browsers)
	result.UniqueOS = len(systems)
	result.TopDevices = top(devices, topN)
	result.TopBrowsers = top(browsers, topN)
	result.TopOS = top(systems, topN)
	result.AverageTimeSpent = round(float64(result.TotalTimeSpent)/float64(n), 0)
	result.AverageEngagementScore = round(engagementSum/float64(n), 1)
	result.BounceRate = round(float64(bounces)/float64(n)*100, 1)

	for _, count := range perFingerprint {
		if count > 1 {
			result.ReturningUsers++
		}
	}
	result.NewUsers = result.UniqueDevices - result.ReturningUsers

	return result
}

func sessionEngagement(e models.TelemetryEvent) float64 {
	if e.EngagementScore != nil {
		return *e.EngagementScore
	}
	return EngagementScore(e.TimeSpent, e.ScrollDepth, e.Clicks)
}

// isBounce: a single page view with no clicks, left within ten seconds.
func isBounce(e models.TelemetryEvent) bool {
	return e.PageViews <= 1 && e.Clicks < 1 && e.TimeSpent < bounceMaxTimeSpent
}

func deviceLabel(e models.TelemetryEvent) string {
	brand, model := orUnknown(e.DeviceBrand), orUnknown(e.DeviceModel)
	switch {
	case brand == models.Unknown && model == models.Unknown:
		return models.Unknown
	case model == models.Unknown || strings.HasPrefix(model, brand):
		return brand
	default:
		return brand + " " + model
	}
}

// top returns the n largest counts, ties broken alphabetically.
func top(counts map[string]int, n int) []models.CountEntry {
	entries := make([]models.CountEntry, 0, len(counts))
	for label, count := range counts {
		entries = append(entries, models.CountEntry{Label: label, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count == entries[j].Count {
			return entries[i].Label < entries[j].Label
		}
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.Unknown
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
