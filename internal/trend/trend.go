// Package trend turns a window of telemetry into a short qualitative forecast.
package trend

import (
	"fmt"
	"math"
	"time"

	"github.com/iamgideonidoko/pulse/internal/analytics"
	"github.com/iamgideonidoko/pulse/internal/models"
)

// DefaultBand is the relative volume change, in percent, inside which traffic
// counts as stable.
const DefaultBand = 10.0

const neutralPrediction = "Not enough data to predict a trend yet"

type Predictor struct {
	band float64
}

func NewPredictor(band float64) *Predictor {
	if band <= 0 {
		band = DefaultBand
	}
	return &Predictor{band: band}
}

// PredictTrends splits the collapsed sessions at the midpoint of their time
// span and compares volume and engagement between the two halves. Too little
// data yields a neutral, stable prediction.
func (p *Predictor) PredictTrends(events []models.TelemetryEvent) models.TrendPrediction {
	sessions := analytics.CollapseSessions(events)
	if len(sessions) < 2 {
		return neutral()
	}

	first, last := sessions[0].Timestamp, sessions[len(sessions)-1].Timestamp
	span := last.Sub(first)
	if span <= 0 {
		return neutral()
	}
	midpoint := first.Add(span / 2)

	var m models.TrendMetrics
	var firstEngagement, secondEngagement float64
	for _, s := range sessions {
		score := s.Engagement()
		if s.EngagementScore == nil {
			score = analytics.EngagementScore(s.TimeSpent, s.ScrollDepth, s.Clicks)
		}
		if s.Timestamp.Before(midpoint) {
			m.FirstHalfSessions++
			firstEngagement += score
		} else {
			m.SecondHalfSessions++
			secondEngagement += score
		}
	}

	m.FirstHalfEngagement = average(firstEngagement, m.FirstHalfSessions)
	m.SecondHalfEngagement = average(secondEngagement, m.SecondHalfSessions)
	m.EngagementChange = round1(m.SecondHalfEngagement - m.FirstHalfEngagement)
	m.VolumeChangePercent = round1(percentChange(m.FirstHalfSessions, m.SecondHalfSessions))

	direction := models.TrendStable
	switch {
	case m.VolumeChangePercent > p.band:
		direction = models.TrendRising
	case m.VolumeChangePercent < -p.band:
		direction = models.TrendDeclining
	}

	return models.TrendPrediction{
		Prediction:        describe(direction, m, span),
		Direction:         direction,
		SupportingMetrics: m,
	}
}

var defaultPredictor = NewPredictor(DefaultBand)

// PredictTrends uses the default stability band.
func PredictTrends(events []models.TelemetryEvent) models.TrendPrediction {
	return defaultPredictor.PredictTrends(events)
}

func neutral() models.TrendPrediction {
	return models.TrendPrediction{
		Prediction: neutralPrediction,
		Direction:  models.TrendStable,
	}
}

func describe(direction models.TrendDirection, m models.TrendMetrics, span time.Duration) string {
	window := span.Round(time.Minute)
	var volume string
	switch direction {
	case models.TrendRising:
		volume = fmt.Sprintf("Traffic is rising: sessions up %.1f%% over the last %s", m.VolumeChangePercent, window)
	case models.TrendDeclining:
		volume = fmt.Sprintf("Traffic is declining: sessions down %.1f%% over the last %s", -m.VolumeChangePercent, window)
	default:
		volume = fmt.Sprintf("Traffic is stable over the last %s", window)
	}

	switch {
	case m.EngagementChange >= 5:
		return volume + ", and engagement is improving"
	case m.EngagementChange <= -5:
		return volume + ", while engagement is dropping"
	default:
		return volume
	}
}

// percentChange treats growth from zero as +100%.
func percentChange(before, after int) float64 {
	if before == 0 {
		if after == 0 {
			return 0
		}
		return 100
	}
	return float64(after-before) / float64(before) * 100
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return round1(sum / float64(n))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
