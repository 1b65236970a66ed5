package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

// Schema is the append-only event table. Snapshots are never updated.
const Schema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id                 BIGSERIAL PRIMARY KEY,
	session_id         TEXT        NOT NULL,
	user_id            TEXT,
	device_fingerprint CHAR(64)    NOT NULL,
	device_type        TEXT        NOT NULL DEFAULT '',
	device_brand       TEXT        NOT NULL DEFAULT '',
	device_model       TEXT        NOT NULL DEFAULT '',
	browser            TEXT        NOT NULL DEFAULT '',
	browser_version    TEXT        NOT NULL DEFAULT '',
	os                 TEXT        NOT NULL DEFAULT '',
	os_version         TEXT        NOT NULL DEFAULT '',
	screen_resolution  TEXT        NOT NULL DEFAULT '',
	timezone           TEXT        NOT NULL DEFAULT '',
	language           TEXT        NOT NULL DEFAULT '',
	page_url           TEXT        NOT NULL DEFAULT '',
	page_title         TEXT        NOT NULL DEFAULT '',
	referrer           TEXT        NOT NULL DEFAULT '',
	time_spent         BIGINT      NOT NULL DEFAULT 0,
	scroll_depth       DOUBLE PRECISION NOT NULL DEFAULT 0,
	clicks             INTEGER     NOT NULL DEFAULT 0,
	page_views         INTEGER     NOT NULL DEFAULT 0,
	consent_given      BOOLEAN     NOT NULL DEFAULT FALSE,
	geolocation        JSONB,
	engagement_score   DOUBLE PRECISION,
	session_ended      BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_created_at ON telemetry_events (created_at);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_session ON telemetry_events (session_id);
`

type Repository struct {
	db    *sqlx.DB
	retry RetryConfig
}

func NewRepository(dsn string, maxConns, maxIdleConns, maxRetries int) (*Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	retry := DefaultRetryConfig
	if maxRetries > 0 {
		retry.MaxAttempts = maxRetries
	}
	return &Repository{db: db, retry: retry}, nil
}

// EnsureSchema creates the event table and its indexes if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return ErrNoConnection
	}
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const insertEvent = `
	INSERT INTO telemetry_events (
		session_id, user_id, device_fingerprint, device_type, device_brand, device_model,
		browser, browser_version, os, os_version, screen_resolution, timezone, language,
		page_url, page_title, referrer, time_spent, scroll_depth, clicks, page_views,
		consent_given, geolocation, engagement_score, session_ended, created_at
	) VALUES (
		:session_id, :user_id, :device_fingerprint, :device_type, :device_brand, :device_model,
		:browser, :browser_version, :os, :os_version, :screen_resolution, :timezone, :language,
		:page_url, :page_title, :referrer, :time_spent, :scroll_depth, :clicks, :page_views,
		:consent_given, :geolocation, :engagement_score, :session_ended, :created_at
	)
`

// InsertEvent appends one snapshot.
func (r *Repository) InsertEvent(ctx context.Context, event *models.TelemetryEvent) error {
	if r.db == nil {
		return ErrNoConnection
	}
	row, err := toRow(event)
	if err != nil {
		return err
	}

	return WithRetry(ctx, r.retry, func() error {
		if _, err := r.db.NamedExecContext(ctx, insertEvent, row); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

// ListEventsSince returns snapshots stored at or after since, oldest first,
// capped at limit rows (the most recent rows win when capped).
func (r *Repository) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]models.TelemetryEvent, error) {
	if r.db == nil {
		return nil, ErrNoConnection
	}
	query := `
		SELECT * FROM (
			SELECT * FROM telemetry_events
			WHERE created_at >= $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	var rows []eventRow
	err := WithRetry(ctx, r.retry, func() error {
		rows = rows[:0]
		if err := r.db.SelectContext(ctx, &rows, query, since, limit); err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.TelemetryEvent, 0, len(rows))
	for _, row := range rows {
		event, err := row.toEvent()
		if err != nil {
			logger.Warn("Skipping unreadable event row", map[string]any{
				"id":    row.ID,
				"error": err.Error(),
			})
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// CountSessionsSince counts distinct sessions with a snapshot at or after since.
func (r *Repository) CountSessionsSince(ctx context.Context, since time.Time) (int, error) {
	if r.db == nil {
		return 0, ErrNoConnection
	}
	var count int
	err := WithRetry(ctx, r.retry, func() error {
		return r.db.GetContext(ctx, &count,
			`SELECT COUNT(DISTINCT session_id) FROM telemetry_events WHERE created_at >= $1`, since)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// HealthCheck verifies database connectivity.
func (r *Repository) HealthCheck(ctx context.Context) error {
	if r.db == nil {
		return ErrNoConnection
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (r *Repository) Stats() sql.DBStats {
	return r.db.Stats()
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type eventRow struct {
	ID                int64           `db:"id"`
	SessionID         string          `db:"session_id"`
	UserID            sql.NullString  `db:"user_id"`
	DeviceFingerprint string          `db:"device_fingerprint"`
	DeviceType        string          `db:"device_type"`
	DeviceBrand       string          `db:"device_brand"`
	DeviceModel       string          `db:"device_model"`
	Browser           string          `db:"browser"`
	BrowserVersion    string          `db:"browser_version"`
	OS                string          `db:"os"`
	OSVersion         string          `db:"os_version"`
	ScreenResolution  string          `db:"screen_resolution"`
	Timezone          string          `db:"timezone"`
	Language          string          `db:"language"`
	PageURL           string          `db:"page_url"`
	PageTitle         string          `db:"page_title"`
	Referrer          string          `db:"referrer"`
	TimeSpent         int64           `db:"time_spent"`
	ScrollDepth       float64         `db:"scroll_depth"`
	Clicks            int             `db:"clicks"`
	PageViews         int             `db:"page_views"`
	ConsentGiven      bool            `db:"consent_given"`
	Geolocation       []byte          `db:"geolocation"`
	EngagementScore   sql.NullFloat64 `db:"engagement_score"`
	SessionEnded      bool            `db:"session_ended"`
	CreatedAt         time.Time       `db:"created_at"`
}

func toRow(e *models.TelemetryEvent) (eventRow, error) {
	row := eventRow{
		SessionID:         e.SessionID,
		DeviceFingerprint: e.DeviceFingerprint,
		DeviceType:        string(e.DeviceType),
		DeviceBrand:       e.DeviceBrand,
		DeviceModel:       e.DeviceModel,
		Browser:           e.Browser,
		BrowserVersion:    e.BrowserVersion,
		OS:                e.OS,
		OSVersion:         e.OSVersion,
		ScreenResolution:  e.ScreenResolution,
		Timezone:          e.Timezone,
		Language:          e.Language,
		PageURL:           e.PageURL,
		PageTitle:         e.PageTitle,
		Referrer:          e.Referrer,
		TimeSpent:         e.TimeSpent,
		ScrollDepth:       e.ScrollDepth,
		Clicks:            e.Clicks,
		PageViews:         e.PageViews,
		ConsentGiven:      e.ConsentGiven,
		SessionEnded:      e.SessionEnded,
		CreatedAt:         e.Timestamp,
	}
	if e.UserID != nil {
		row.UserID = sql.NullString{String: *e.UserID, Valid: true}
	}
	if e.EngagementScore != nil {
		row.EngagementScore = sql.NullFloat64{Float64: *e.EngagementScore, Valid: true}
	}
	if e.Geolocation != nil {
		geo, err := json.Marshal(e.Geolocation)
		if err != nil {
			return row, fmt.Errorf("failed to marshal geolocation: %w", err)
		}
		row.Geolocation = geo
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

func (row eventRow) toEvent() (models.TelemetryEvent, error) {
	e := models.TelemetryEvent{
		SessionID:         row.SessionID,
		DeviceFingerprint: row.DeviceFingerprint,
		DeviceType:        models.DeviceType(row.DeviceType),
		DeviceBrand:       row.DeviceBrand,
		DeviceModel:       row.DeviceModel,
		Browser:           row.Browser,
		BrowserVersion:    row.BrowserVersion,
		OS:                row.OS,
		OSVersion:         row.OSVersion,
		ScreenResolution:  row.ScreenResolution,
		Timezone:          row.Timezone,
		Language:          row.Language,
		PageURL:           row.PageURL,
		PageTitle:         row.PageTitle,
		Referrer:          row.Referrer,
		TimeSpent:         row.TimeSpent,
		ScrollDepth:       row.ScrollDepth,
		Clicks:            row.Clicks,
		PageViews:         row.PageViews,
		ConsentGiven:      row.ConsentGiven,
		SessionEnded:      row.SessionEnded,
		Timestamp:         row.CreatedAt,
	}
	if row.UserID.Valid {
		uid := row.UserID.String
		e.UserID = &uid
	}
	if row.EngagementScore.Valid {
		score := row.EngagementScore.Float64
		e.EngagementScore = &score
	}
	if len(row.Geolocation) > 0 {
		var geo models.Geolocation
		if err := json.Unmarshal(row.Geolocation, &geo); err != nil {
			return e, fmt.Errorf("failed to unmarshal geolocation: %w", err)
		}
		e.Geolocation = &geo
	}
	return e, nil
}
