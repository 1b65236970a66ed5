package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamgideonidoko/pulse/internal/analytics"
	"github.com/iamgideonidoko/pulse/internal/anomaly"
	"github.com/iamgideonidoko/pulse/internal/geo"
	"github.com/iamgideonidoko/pulse/internal/metrics"
	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/internal/trend"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

var ErrInvalidTimeRange = errors.New("invalid time range")

const DefaultTimeRange = "24h"

var timeRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParseTimeRange maps 1h|24h|7d|30d to a window. Empty means DefaultTimeRange.
func ParseTimeRange(s string) (string, time.Duration, error) {
	if s == "" {
		s = DefaultTimeRange
	}
	d, ok := timeRanges[s]
	if !ok {
		return "", 0, fmt.Errorf("%w: %q (want 1h, 24h, 7d or 30d)", ErrInvalidTimeRange, s)
	}
	return s, d, nil
}

// EventStore is the append-only snapshot store.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.TelemetryEvent) error
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]models.TelemetryEvent, error)
	CountSessionsSince(ctx context.Context, since time.Time) (int, error)
	HealthCheck(ctx context.Context) error
}

// Cache holds read-through copies and counters. Every cache failure is
// logged and ignored.
type Cache interface {
	GetAnalytics(ctx context.Context, timeRange string) (*models.AnalyticsResponse, error)
	SetAnalytics(ctx context.Context, timeRange string, a *models.AnalyticsResponse, ttl time.Duration) error
	GetGeolocation(ctx context.Context, ip string) (*models.Geolocation, error)
	SetGeolocation(ctx context.Context, ip string, g *models.Geolocation) error
	MarkSession(ctx context.Context, sessionID string, at time.Time) error
	CountSessions(ctx context.Context, at time.Time) (int64, error)
	IncrementMetric(ctx context.Context, metric string) error
	GetMetric(ctx context.Context, metric string) (int64, error)
	Ping(ctx context.Context) error
}

type Archiver interface {
	Enqueue(event models.TelemetryEvent) bool
}

type Locator interface {
	Locate(ctx context.Context, ip string) (*models.Geolocation, error)
}

// poolReporter and breakerReporter are optional extras of the store and the
// locator.
type poolReporter interface {
	Stats() sql.DBStats
}

type breakerReporter interface {
	State() string
}

type Options struct {
	Store     EventStore
	Cache     Cache
	Archive   Archiver
	Locator   Locator
	Detector  *anomaly.Detector
	Predictor *trend.Predictor
	// AnalyticsTTL is how long an analytics response may be served from cache.
	AnalyticsTTL time.Duration
	// MaxEvents caps the snapshots loaded for one analytics or insights call.
	MaxEvents int
	Now       func() time.Time
}

// TelemetryService ingests session snapshots and derives analytics,
// anomaly alerts and trend predictions from them.
type TelemetryService struct {
	store     EventStore
	cache     Cache
	archive   Archiver
	locator   Locator
	detector  *anomaly.Detector
	predictor *trend.Predictor
	ttl       time.Duration
	maxEvents int
	now       func() time.Time
}

func NewTelemetryService(opts Options) *TelemetryService {
	if opts.Detector == nil {
		opts.Detector = anomaly.NewDetector(anomaly.DefaultThresholds())
	}
	if opts.Predictor == nil {
		opts.Predictor = trend.NewPredictor(trend.DefaultBand)
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 50000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &TelemetryService{
		store:     opts.Store,
		cache:     opts.Cache,
		archive:   opts.Archive,
		locator:   opts.Locator,
		detector:  opts.Detector,
		predictor: opts.Predictor,
		ttl:       opts.AnalyticsTTL,
		maxEvents: opts.MaxEvents,
		now:       opts.Now,
	}
}

// Track stamps, enriches and stores one snapshot. Archival and counters are
// best effort.
func (s *TelemetryService) Track(ctx context.Context, event *models.TelemetryEvent) error {
	event.Timestamp = s.now().UTC()
	analytics.Enrich(event)

	if err := s.store.InsertEvent(ctx, event); err != nil {
		metrics.ObserveEvent(metrics.OutcomeError, event.SessionEnded)
		return fmt.Errorf("failed to store event: %w", err)
	}
	metrics.ObserveEvent(metrics.OutcomeAccepted, event.SessionEnded)

	if s.archive != nil && !s.archive.Enqueue(*event) {
		logger.Warn("Archive queue full, event not archived", map[string]any{
			"session_id": event.SessionID,
		})
	}

	if s.cache != nil {
		s.bestEffort("events_tracked", s.cache.IncrementMetric(ctx, "events_tracked"))
		s.bestEffort("sessions_started", s.cache.MarkSession(ctx, event.SessionID, event.Timestamp))
		if event.SessionEnded {
			s.bestEffort("sessions_ended", s.cache.IncrementMetric(ctx, "sessions_ended"))
		}
	}
	return nil
}

// Analytics aggregates the snapshots of the requested window. Responses are
// cached for AnalyticsTTL.
func (s *TelemetryService) Analytics(ctx context.Context, timeRange string) (*models.AnalyticsResponse, error) {
	key, window, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		cached, err := s.cache.GetAnalytics(ctx, key)
		s.bestEffort("analytics_read", err)
		if cached != nil {
			return cached, nil
		}
	}

	events, err := s.store.ListEventsSince(ctx, s.now().Add(-window), s.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	if events == nil {
		events = []models.TelemetryEvent{}
	}

	agg := analytics.Aggregate(events, s.detector.BotClassifier(events))
	resp := &models.AnalyticsResponse{
		Success:   true,
		Analytics: &agg,
		Events:    events,
	}

	if s.cache != nil && s.ttl > 0 {
		s.bestEffort("analytics_write", s.cache.SetAnalytics(ctx, key, resp, s.ttl))
	}
	return resp, nil
}

// Insights runs the anomaly detector, the recommendation rules and the trend
// predictor over the requested window.
func (s *TelemetryService) Insights(ctx context.Context, timeRange string) (*models.InsightsResponse, error) {
	_, window, err := ParseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}
	since := s.now().Add(-window)

	events, err := s.store.ListEventsSince(ctx, since, s.maxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	// The event cap may truncate the window; the store still knows the real total.
	total, err := s.store.CountSessionsSince(ctx, since)
	if err != nil {
		logger.Warn("Failed to count sessions, using loaded batch", map[string]any{"error": err.Error()})
		total = 0
	}

	alerts := s.detector.AnalyzeEvents(events, total)
	metrics.ObserveAlerts(alerts)

	agg := analytics.Aggregate(events, s.detector.BotClassifier(events))
	prediction := s.predictor.PredictTrends(events)

	return &models.InsightsResponse{
		Success:         true,
		Alerts:          alerts,
		Recommendations: anomaly.GetRecommendations(agg),
		Trend:           &prediction,
	}, nil
}

// Geolocate resolves ip, preferring the cache.
func (s *TelemetryService) Geolocate(ctx context.Context, ip string) (*models.Geolocation, error) {
	if s.cache != nil {
		cached, err := s.cache.GetGeolocation(ctx, ip)
		s.bestEffort("geolocation_read", err)
		if cached != nil {
			metrics.ObserveGeolocation("cache_hit")
			return cached, nil
		}
	}
	if s.locator == nil {
		return nil, geo.ErrUnavailable
	}

	loc, err := s.locator.Locate(ctx, ip)
	if err != nil {
		metrics.ObserveGeolocation(metrics.OutcomeError)
		return nil, err
	}
	metrics.ObserveGeolocation(metrics.OutcomeSuccess)

	if s.cache != nil {
		s.bestEffort("geolocation_write", s.cache.SetGeolocation(ctx, ip, loc))
	}
	return loc, nil
}

type Stats struct {
	EventsTracked   int64 `json:"events_tracked"`
	SessionsToday   int64 `json:"sessions_today"`
	SessionsEnded   int64 `json:"sessions_ended"`
	SessionsLastDay int   `json:"sessions_last_24h"`
	DBOpen          int   `json:"db_open_connections"`
	DBInUse         int   `json:"db_in_use_connections"`
}

func (s *TelemetryService) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	now := s.now()

	n, err := s.store.CountSessionsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return st, fmt.Errorf("failed to count sessions: %w", err)
	}
	st.SessionsLastDay = n

	if p, ok := s.store.(poolReporter); ok {
		pool := p.Stats()
		st.DBOpen = pool.OpenConnections
		st.DBInUse = pool.InUse
	}

	if s.cache != nil {
		st.EventsTracked, _ = s.cache.GetMetric(ctx, "events_tracked")
		st.SessionsEnded, _ = s.cache.GetMetric(ctx, "sessions_ended")
		st.SessionsToday, _ = s.cache.CountSessions(ctx, now)
	}
	return st, nil
}

// Health reports the state of each dependency. Only the database is
// required; the error is non-nil when it is unreachable.
type Health struct {
	Database    string `json:"database"`
	Cache       string `json:"cache,omitempty"`
	Geolocation string `json:"geolocation,omitempty"`
}

func (s *TelemetryService) Health(ctx context.Context) (Health, error) {
	h := Health{Database: "up"}
	err := s.store.HealthCheck(ctx)
	if err != nil {
		h.Database = "down"
	}

	if s.cache != nil {
		h.Cache = "up"
		if perr := s.cache.Ping(ctx); perr != nil {
			logger.Warn("Cache ping failed", map[string]any{"error": perr.Error()})
			h.Cache = "down"
		}
	}
	if b, ok := s.locator.(breakerReporter); ok {
		h.Geolocation = b.State()
	}
	return h, err
}

func (s *TelemetryService) bestEffort(op string, err error) {
	if err != nil {
		logger.Warn("Cache operation failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	}
}
