package anomaly

import (
	"github.com/iamgideonidoko/pulse/internal/models"
)

const (
	lowEngagementScore = 30
	highBounceRate     = 50
	shortVisitMs       = 30_000
	mobileHeavyShare   = 0.6
	botHeavyShare      = 0.1
	lowReturningShare  = 0.2
	minRetentionBase   = 10
)

// GetRecommendations derives plain-language suggestions from aggregate
// analytics alone, independently of any alert.
func GetRecommendations(a models.AggregateAnalytics) []string {
	recs := []string{}
	if a.TotalSessions == 0 {
		return recs
	}

	if a.AverageEngagementScore < lowEngagementScore {
		recs = append(recs, "Engagement is low: surface richer content and clearer calls to action above the fold")
	}
	if a.BounceRate > highBounceRate {
		recs = append(recs, "Bounce rate is high: review landing page load time, layout and relevance to the referring source")
	}
	if a.AverageTimeSpent > 0 && a.AverageTimeSpent < shortVisitMs {
		recs = append(recs, "Visits are short: shorten time-to-content and add related links to keep readers moving")
	}
	if share(a.MobileSessions, a.TotalSessions) > mobileHeavyShare {
		recs = append(recs, "Most traffic is mobile: prioritise mobile layout and performance work")
	}
	if share(a.BotDetected, a.TotalSessions) > botHeavyShare {
		recs = append(recs, "A large share of sessions look automated: enable bot protection before trusting these metrics")
	}
	if a.UniqueDevices >= minRetentionBase && share(a.ReturningUsers, a.UniqueDevices) < lowReturningShare {
		recs = append(recs, "Few visitors return: consider newsletters, notifications or saved content to build retention")
	}

	if len(recs) == 0 {
		recs = append(recs, "Engagement looks healthy: keep monitoring for changes")
	}
	return recs
}
