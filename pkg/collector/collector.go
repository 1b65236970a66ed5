// Package collector accumulates per-session engagement and flushes cumulative
// snapshots to the collection service.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/fingerprint"
	"github.com/iamgideonidoko/pulse/pkg/logger"
	"github.com/iamgideonidoko/pulse/pkg/useragent"
)

const (
	DefaultFlushInterval      = 30 * time.Second
	DefaultGeolocationTimeout = 3 * time.Second

	anonymousUser = "anonymous"
)

var (
	ErrAlreadyStarted = errors.New("collector already started")
	ErrNotActive      = errors.New("collector is not active")
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateFlushing
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fingerprinter produces the device fingerprint once per session.
type Fingerprinter interface {
	Generate() fingerprint.DeviceFingerprint
}

type Page struct {
	URL      string
	Title    string
	Referrer string
}

// Session is the mutable per-session accumulator. Counters only grow.
type Session struct {
	ID               string
	UserID           *string
	StartTime        time.Time
	PageViewCount    int
	ClickCount       int
	ScrollDepth      float64
	LastActivityTime time.Time
}

type Options struct {
	Fingerprinter Fingerprinter
	Transport     Transport
	// Beacon carries the terminal snapshot. Defaults to Transport.
	Beacon     Transport
	Scheduler  Scheduler
	Clock      Clock
	Geolocator Geolocator
	Consent    ConsentSource
	Page       Page

	FlushInterval      time.Duration
	GeolocationTimeout time.Duration
}

type Collector struct {
	mu    sync.Mutex
	state State
	opts  Options

	session *Session
	fp      fingerprint.DeviceFingerprint
	device  models.DeviceInfo
	geo     *models.Geolocation
	page    Page

	cancelFlush CancelHandle
	cancelGeo   context.CancelFunc
	log         *logger.Logger
}

func New(opts Options) *Collector {
	if opts.Beacon == nil {
		opts.Beacon = opts.Transport
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTickerScheduler()
	}
	if opts.Clock == nil {
		if clock, ok := opts.Scheduler.(Clock); ok {
			opts.Clock = clock
		} else {
			opts.Clock = SystemClock{}
		}
	}
	if opts.Consent == nil {
		opts.Consent = NewConsentFlag(false)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.GeolocationTimeout <= 0 {
		opts.GeolocationTimeout = DefaultGeolocationTimeout
	}
	return &Collector{
		opts: opts,
		page: opts.Page,
		log:  logger.WithField("component", "collector"),
	}
}

func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the live session, or false once terminated.
func (c *Collector) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Fingerprint returns the digest computed at start.
func (c *Collector) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fp.Fingerprint
}

// Start opens the session, emits the initial snapshot and schedules periodic
// flushes. It may be called once.
func (c *Collector) Start(ctx context.Context, userID *string) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateInitializing

	now := c.opts.Clock.Now()
	c.session = &Session{
		ID:               newSessionID(userID, now),
		UserID:           userID,
		StartTime:        now,
		PageViewCount:    1,
		LastActivityTime: now,
	}
	c.log = c.log.WithField("session_id", c.session.ID)

	if c.opts.Fingerprinter != nil {
		c.fp = c.opts.Fingerprinter.Generate()
	} else {
		c.fp = fingerprint.NewGenerator(fingerprint.Environment{}, nil, nil, nil).Generate()
	}
	c.device = deviceFromComponents(c.fp.Components)

	if c.opts.Geolocator != nil {
		geoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.GeolocationTimeout)
		c.cancelGeo = cancel
		go c.resolveGeolocation(geoCtx)
	}

	event := c.snapshotLocked(false)
	c.state = StateActive
	c.mu.Unlock()

	c.deliver(ctx, c.opts.Transport, event)

	cancel := c.opts.Scheduler.Schedule(func() { c.Flush(ctx) }, c.opts.FlushInterval)
	c.opts.Scheduler.OnTeardown(func() { c.Terminate(ctx) })

	c.mu.Lock()
	if c.state == StateTerminated || c.state == StateTerminating {
		c.mu.Unlock()
		cancel.Cancel()
		return nil
	}
	c.cancelFlush = cancel
	c.mu.Unlock()

	c.log.Info("Telemetry session started", map[string]any{
		"fingerprint": c.fp.Fingerprint,
		"device_type": string(c.device.DeviceType),
	})
	return nil
}

func (c *Collector) RecordClick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	c.session.ClickCount++
	c.session.LastActivityTime = c.opts.Clock.Now()
}

// RecordScroll converts a scroll position into a percentage and keeps the
// maximum seen so far.
func (c *Collector) RecordScroll(scrollY, documentHeight, viewportHeight float64) {
	depth := ScrollPercentage(scrollY, documentHeight, viewportHeight)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	if depth > c.session.ScrollDepth {
		c.session.ScrollDepth = depth
	}
	c.session.LastActivityTime = c.opts.Clock.Now()
}

// RecordPageView counts a navigation within the session and makes page the
// current page for later snapshots.
func (c *Collector) RecordPageView(page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked() {
		return
	}
	c.session.PageViewCount++
	c.session.LastActivityTime = c.opts.Clock.Now()
	c.page = page
}

// Flush sends a cumulative snapshot. Counters are never reset.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = StateFlushing
	event := c.snapshotLocked(false)
	c.mu.Unlock()

	c.deliver(ctx, c.opts.Transport, event)

	c.mu.Lock()
	if c.state == StateFlushing {
		c.state = StateActive
	}
	c.mu.Unlock()
	return nil
}

// Terminate sends the terminal snapshot through the beacon transport and stops
// the collector. Later calls are no-ops.
func (c *Collector) Terminate(ctx context.Context) {
	c.mu.Lock()
	if !c.liveLocked() {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminating
	if c.cancelFlush != nil {
		c.cancelFlush.Cancel()
		c.cancelFlush = nil
	}
	if c.cancelGeo != nil {
		c.cancelGeo()
		c.cancelGeo = nil
	}
	event := c.snapshotLocked(true)
	c.mu.Unlock()

	c.deliver(ctx, c.opts.Beacon, event)

	c.mu.Lock()
	c.state = StateTerminated
	c.session = nil
	c.mu.Unlock()

	c.log.Info("Telemetry session ended", map[string]any{
		"time_spent_ms": event.TimeSpent,
		"clicks":        event.Clicks,
	})
}

func (c *Collector) liveLocked() bool {
	return c.session != nil && (c.state == StateActive || c.state == StateFlushing)
}

func (c *Collector) snapshotLocked(ended bool) models.TelemetryEvent {
	s := c.session
	elapsed := c.opts.Clock.Now().Sub(s.StartTime).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	event := models.TelemetryEvent{
		SessionID:         s.ID,
		UserID:            s.UserID,
		DeviceFingerprint: c.fp.Fingerprint,
		DeviceType:        c.device.DeviceType,
		DeviceBrand:       c.device.DeviceBrand,
		DeviceModel:       c.device.DeviceModel,
		Browser:           c.device.Browser,
		BrowserVersion:    c.device.BrowserVersion,
		OS:                c.device.OS,
		OSVersion:         c.device.OSVersion,
		ScreenResolution:  c.device.ScreenResolution,
		Timezone:          c.device.Timezone,
		Language:          c.device.Language,
		PageURL:           c.page.URL,
		PageTitle:         c.page.Title,
		Referrer:          c.page.Referrer,
		TimeSpent:         elapsed,
		ScrollDepth:       s.ScrollDepth,
		Clicks:            s.ClickCount,
		PageViews:         s.PageViewCount,
		ConsentGiven:      c.opts.Consent.ConsentGiven(),
		SessionEnded:      ended,
	}
	if c.geo != nil {
		geo := *c.geo
		event.Geolocation = &geo
	}
	return event
}

func (c *Collector) deliver(ctx context.Context, t Transport, event models.TelemetryEvent) {
	if t == nil {
		return
	}
	if err := t.Send(ctx, event); err != nil {
		c.log.Warn("Failed to send telemetry snapshot", map[string]any{
			"error":         err.Error(),
			"session_ended": event.SessionEnded,
		})
	}
}

func (c *Collector) resolveGeolocation(ctx context.Context) {
	geo, err := c.opts.Geolocator.Locate(ctx)
	if err != nil || geo == nil {
		msg := "no location"
		if err != nil {
			msg = err.Error()
		}
		c.log.Debug("Geolocation unavailable", map[string]any{"error": msg})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked() || c.state == StateInitializing {
		c.geo = geo
	}
}

// ScrollPercentage maps a scroll offset to 0..100. A document that fits in the
// viewport counts as fully read.
func ScrollPercentage(scrollY, documentHeight, viewportHeight float64) float64 {
	scrollable := documentHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := scrollY / scrollable * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

func newSessionID(userID *string, now time.Time) string {
	owner := anonymousUser
	if userID != nil && *userID != "" {
		owner = *userID
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", owner, now.UnixMilli(), suffix)
}

func deviceFromComponents(c fingerprint.Components) models.DeviceInfo {
	info := useragent.Classify(c.UserAgent)
	if c.ScreenResolution != "" && c.ScreenResolution != "0x0" {
		info.ScreenResolution = c.ScreenResolution
	}
	if c.Timezone != "" && c.Timezone != fingerprint.SentinelUnknown {
		info.Timezone = c.Timezone
	}
	if c.Language != "" && c.Language != fingerprint.SentinelUnknown {
		info.Language = c.Language
	}
	return info
}
