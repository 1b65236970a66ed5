package models

import "time"

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// Unknown is the value of every device fact the classifier could not resolve.
const Unknown = "Unknown"

// DeviceInfo holds the structured facts derived from a raw user agent.
type DeviceInfo struct {
	DeviceType       DeviceType `json:"deviceType"`
	DeviceBrand      string     `json:"deviceBrand"`
	DeviceModel      string     `json:"deviceModel"`
	Browser          string     `json:"browser"`
	BrowserVersion   string     `json:"browserVersion"`
	OS               string     `json:"os"`
	OSVersion        string     `json:"osVersion"`
	ScreenResolution string     `json:"screenResolution"`
	Timezone         string     `json:"timezone"`
	Language         string     `json:"language"`
}

type Geolocation struct {
	Country   string  `json:"country"`
	State     string  `json:"state,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ISP       string  `json:"isp,omitempty"`
}

// TelemetryEvent is one flushed session snapshot.
type TelemetryEvent struct {
	SessionID         string       `json:"sessionId" validate:"required,max=256"`
	UserID            *string      `json:"userId" validate:"omitempty,max=128"`
	DeviceFingerprint string       `json:"deviceFingerprint" validate:"required,hexadecimal,len=64"`
	DeviceType        DeviceType   `json:"deviceType" validate:"omitempty,oneof=mobile tablet desktop"`
	DeviceBrand       string       `json:"deviceBrand" validate:"max=128"`
	DeviceModel       string       `json:"deviceModel" validate:"max=128"`
	Browser           string       `json:"browser" validate:"max=64"`
	BrowserVersion    string       `json:"browserVersion" validate:"max=64"`
	OS                string       `json:"os" validate:"max=64"`
	OSVersion         string       `json:"osVersion" validate:"max=64"`
	ScreenResolution  string       `json:"screenResolution" validate:"max=32"`
	Timezone          string       `json:"timezone" validate:"max=64"`
	Language          string       `json:"language" validate:"max=35"`
	PageURL           string       `json:"pageUrl" validate:"max=2048"`
	PageTitle         string       `json:"pageTitle" validate:"max=512"`
	Referrer          string       `json:"referrer" validate:"max=2048"`
	TimeSpent         int64        `json:"timeSpent" validate:"gte=0"`
	ScrollDepth       float64      `json:"scrollDepth" validate:"gte=0,lte=100"`
	Clicks            int          `json:"clicks" validate:"gte=0"`
	PageViews         int          `json:"pageViews" validate:"gte=0"`
	ConsentGiven      bool         `json:"consentGiven"`
	Geolocation       *Geolocation `json:"geolocation,omitempty"`
	EngagementScore   *float64     `json:"engagementScore,omitempty" validate:"omitempty,gte=0,lte=100"`
	SessionEnded      bool         `json:"sessionEnded,omitempty"`

	// Timestamp is assigned by the collection service when the snapshot is stored.
	Timestamp time.Time `json:"timestamp"`
}

// SessionStart derives the session start from the snapshot time and elapsed time.
func (e TelemetryEvent) SessionStart() time.Time {
	return e.Timestamp.Add(-time.Duration(e.TimeSpent) * time.Millisecond)
}

// Engagement returns the engagement score or zero when absent.
func (e TelemetryEvent) Engagement() float64 {
	if e.EngagementScore == nil {
		return 0
	}
	return *e.EngagementScore
}

// CountEntry is a [label, count] pair, serialized as a two element array.
type CountEntry struct {
	Label string
	Count int
}

func (c CountEntry) MarshalJSON() ([]byte, error) {
	return marshalPair(c.Label, c.Count)
}

type AggregateAnalytics struct {
	TotalSessions          int          `json:"totalSessions"`
	UniqueDevices          int          `json:"uniqueDevices"`
	UniqueBrowsers         int          `json:"uniqueBrowsers"`
	UniqueOS               int          `json:"uniqueOS"`
	TopDevices             []CountEntry `json:"topDevices"`
	TopBrowsers            []CountEntry `json:"topBrowsers"`
	TopOS                  []CountEntry `json:"topOS"`
	TotalClicks            int          `json:"totalClicks"`
	TotalTimeSpent         int64        `json:"totalTimeSpent"`
	AverageTimeSpent       float64      `json:"averageTimeSpent"`
	TotalPageViews         int          `json:"totalPageViews"`
	AverageEngagementScore float64      `json:"averageEngagementScore"`
	ReturningUsers         int          `json:"returningUsers"`
	NewUsers               int          `json:"newUsers"`
	BotDetected            int          `json:"botDetected"`
	BounceRate             float64      `json:"bounceRate"`
	MobileSessions         int          `json:"mobileSessions"`
}

type AlertType string

const (
	AlertBotActivity    AlertType = "bot_activity"
	AlertTrafficSpike   AlertType = "traffic_spike"
	AlertUnusualPattern AlertType = "unusual_pattern"
	AlertGeoAnomaly     AlertType = "geo_anomaly"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical > high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type AnomalyAlert struct {
	Type           AlertType      `json:"type"`
	Severity       Severity       `json:"severity"`
	Description    string         `json:"description"`
	Data           map[string]any `json:"data"`
	Timestamp      time.Time      `json:"timestamp"`
	Recommendation string         `json:"recommendation"`
}

type TrendDirection string

const (
	TrendRising    TrendDirection = "rising"
	TrendStable    TrendDirection = "stable"
	TrendDeclining TrendDirection = "declining"
)

type TrendMetrics struct {
	FirstHalfSessions    int     `json:"first_half_sessions"`
	SecondHalfSessions   int     `json:"second_half_sessions"`
	VolumeChangePercent  float64 `json:"volume_change_percent"`
	FirstHalfEngagement  float64 `json:"first_half_engagement"`
	SecondHalfEngagement float64 `json:"second_half_engagement"`
	EngagementChange     float64 `json:"engagement_change"`
}

type TrendPrediction struct {
	Prediction        string         `json:"prediction"`
	Direction         TrendDirection `json:"direction"`
	SupportingMetrics TrendMetrics   `json:"supporting_metrics"`
}

type TrackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type AnalyticsResponse struct {
	Success   bool                `json:"success"`
	Analytics *AggregateAnalytics `json:"analytics,omitempty"`
	Events    []TelemetryEvent    `json:"events"`
	Error     string              `json:"error,omitempty"`
}

type InsightsResponse struct {
	Success         bool             `json:"success"`
	Alerts          []AnomalyAlert   `json:"alerts"`
	Recommendations []string         `json:"recommendations"`
	Trend           *TrendPrediction `json:"trend,omitempty"`
	Error           string           `json:"error,omitempty"`
}
