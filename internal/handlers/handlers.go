package handlers

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iamgideonidoko/pulse/internal/geo"
	"github.com/iamgideonidoko/pulse/internal/metrics"
	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/internal/services"
	"github.com/iamgideonidoko/pulse/pkg/logger"
	"github.com/iamgideonidoko/pulse/pkg/validator"
)

const (
	TrackPath       = "/analytics/track"
	InsightsPath    = "/analytics/insights"
	GeolocationPath = "/analytics/geolocation"
)

type TelemetryService interface {
	Track(ctx context.Context, event *models.TelemetryEvent) error
	Analytics(ctx context.Context, timeRange string) (*models.AnalyticsResponse, error)
	Insights(ctx context.Context, timeRange string) (*models.InsightsResponse, error)
	Geolocate(ctx context.Context, ip string) (*models.Geolocation, error)
	Stats(ctx context.Context) (services.Stats, error)
	Health(ctx context.Context) (services.Health, error)
}

type Handler struct {
	service TelemetryService
}

func NewHandler(service TelemetryService) *Handler {
	return &Handler{service: service}
}

// Routes mounts every endpoint on r. limit guards the write path.
func (h *Handler) Routes(r fiber.Router, limit fiber.Handler, gatherer prometheus.Gatherer) {
	if limit == nil {
		limit = func(c *fiber.Ctx) error { return c.Next() }
	}

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	if gatherer != nil {
		r.Get("/metrics", Metrics(gatherer))
	}

	r.Post(TrackPath, limit, h.Track)
	r.Get(TrackPath, h.Analytics)
	r.Get(InsightsPath, h.Insights)
	r.Get(GeolocationPath, limit, h.Geolocation)
}

// Track handles POST /analytics/track. Beacon payloads arrive as text/plain,
// so the body is decoded directly rather than by content type.
func (h *Handler) Track(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	log := logger.WithField("request_id", requestID)

	var event models.TelemetryEvent
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		metrics.ObserveEvent(metrics.OutcomeRejected, false)
		log.Warn("Failed to parse request body", map[string]any{
			"error": err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(models.TrackResponse{
			Error: "Invalid request body",
		})
	}

	if err := validator.ValidateEvent(&event); err != nil {
		metrics.ObserveEvent(metrics.OutcomeRejected, event.SessionEnded)
		log.Warn("Request validation failed", map[string]any{
			"error":      err.Error(),
			"session_id": event.SessionID,
		})
		return c.Status(fiber.StatusBadRequest).JSON(models.TrackResponse{
			Error: err.Error(),
		})
	}

	if err := h.service.Track(c.Context(), &event); err != nil {
		log.Error("Failed to track event", map[string]any{
			"error":      err.Error(),
			"session_id": event.SessionID,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(models.TrackResponse{
			Error: "Failed to store event",
		})
	}

	log.Debug("Event tracked", map[string]any{
		"session_id":    event.SessionID,
		"session_ended": event.SessionEnded,
	})
	return c.Status(fiber.StatusOK).JSON(models.TrackResponse{Success: true})
}

// Analytics handles GET /analytics/track?timeRange=.
func (h *Handler) Analytics(c *fiber.Ctx) error {
	resp, err := h.service.Analytics(c.Context(), c.Query("timeRange"))
	if err != nil {
		status, msg := failure(err, "Failed to fetch analytics")
		return c.Status(status).JSON(models.AnalyticsResponse{
			Events: []models.TelemetryEvent{},
			Error:  msg,
		})
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// Insights handles GET /analytics/insights?timeRange=.
func (h *Handler) Insights(c *fiber.Ctx) error {
	resp, err := h.service.Insights(c.Context(), c.Query("timeRange"))
	if err != nil {
		status, msg := failure(err, "Failed to compute insights")
		return c.Status(status).JSON(models.InsightsResponse{
			Alerts:          []models.AnomalyAlert{},
			Recommendations: []string{},
			Error:           msg,
		})
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// Geolocation handles GET /analytics/geolocation for the calling address.
func (h *Handler) Geolocation(c *fiber.Ctx) error {
	loc, err := h.service.Geolocate(c.Context(), c.IP())
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(loc)
	case errors.Is(err, geo.ErrPrivateAddress), errors.Is(err, geo.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Location not found"})
	case errors.Is(err, geo.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Geolocation unavailable"})
	default:
		logger.Warn("Geolocation failed", map[string]any{"error": err.Error()})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Geolocation failed"})
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	report, err := h.service.Health(c.Context())
	if err != nil {
		logger.Error("Health check failed", map[string]any{"error": err.Error()})
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":       "unhealthy",
			"service":      "pulse-api",
			"dependencies": report,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":       "healthy",
		"service":      "pulse-api",
		"dependencies": report,
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// Metrics exposes gatherer in the Prometheus text format.
func Metrics(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func failure(err error, fallback string) (int, string) {
	if errors.Is(err, services.ErrInvalidTimeRange) {
		return fiber.StatusBadRequest, err.Error()
	}
	logger.Error(fallback, map[string]any{"error": err.Error()})
	return fiber.StatusInternalServerError, fallback
}
