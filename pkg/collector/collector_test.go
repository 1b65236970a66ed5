package collector

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/fingerprint"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingTransport struct {
	mu     sync.Mutex
	events []models.TelemetryEvent
	err    error
}

func (r *recordingTransport) Send(_ context.Context, event models.TelemetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingTransport) sent() []models.TelemetryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TelemetryEvent(nil), r.events...)
}

func (r *recordingTransport) last(t *testing.T) models.TelemetryEvent {
	t.Helper()
	events := r.sent()
	if len(events) == 0 {
		t.Fatal("Expected at least one event")
	}
	return events[len(events)-1]
}

type staticFingerprinter struct{}

func (staticFingerprinter) Generate() fingerprint.DeviceFingerprint {
	components := fingerprint.Components{
		UserAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1.2 Mobile/15E148 Safari/604.1",
		ScreenResolution: "390x844",
		ColorDepth:       24,
		Timezone:         "Europe/Lisbon",
		Language:         "pt-PT",
		Canvas:           fingerprint.SentinelCanvasUnavailable,
		WebGL:            fingerprint.SentinelWebGLUnavailable,
		Fonts:            []string{},
	}
	return fingerprint.DeviceFingerprint{Fingerprint: fingerprint.Digest(components), Components: components}
}

type fakeGeolocator struct {
	geo *models.Geolocation
	err error
}

func (g fakeGeolocator) Locate(context.Context) (*models.Geolocation, error) {
	return g.geo, g.err
}

type harness struct {
	sched     *VirtualScheduler
	transport *recordingTransport
	beacon    *recordingTransport
	consent   *ConsentFlag
	collector *Collector
}

func newHarness(t *testing.T, geo Geolocator) *harness {
	t.Helper()
	h := &harness{
		sched:     NewVirtualScheduler(epoch),
		transport: &recordingTransport{},
		beacon:    &recordingTransport{},
		consent:   NewConsentFlag(false),
	}
	h.collector = New(Options{
		Fingerprinter: staticFingerprinter{},
		Transport:     h.transport,
		Beacon:        h.beacon,
		Scheduler:     h.sched,
		Geolocator:    geo,
		Consent:       h.consent,
		Page:          Page{URL: "https://example.com/", Title: "Home"},
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	user := "user-42"
	if err := h.collector.Start(context.Background(), &user); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestStart_EmitsInitialSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	events := h.transport.sent()
	if len(events) != 1 {
		t.Fatalf("Expected 1 initial event, got %d", len(events))
	}
	e := events[0]
	if e.TimeSpent != 0 || e.ScrollDepth != 0 || e.Clicks != 0 {
		t.Errorf("Initial snapshot should be zeroed, got timeSpent=%d scroll=%f clicks=%d", e.TimeSpent, e.ScrollDepth, e.Clicks)
	}
	if e.PageViews != 1 {
		t.Errorf("Expected 1 page view, got %d", e.PageViews)
	}
	if e.DeviceType != models.DeviceMobile || e.DeviceBrand != "Apple" || e.OS != "iOS" {
		t.Errorf("Unexpected device facts: %+v", e)
	}
	if e.ScreenResolution != "390x844" || e.Timezone != "Europe/Lisbon" || e.Language != "pt-PT" {
		t.Errorf("Environment facts should come from the fingerprint, got %s %s %s", e.ScreenResolution, e.Timezone, e.Language)
	}
	if e.DeviceFingerprint != h.collector.Fingerprint() {
		t.Error("Snapshot should carry the session fingerprint")
	}
	if e.SessionEnded {
		t.Error("Initial snapshot should not be terminal")
	}
	if h.collector.State() != StateActive {
		t.Errorf("Expected state active, got %s", h.collector.State())
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if err := h.collector.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSessionID_Format(t *testing.T) {
	user := "user-42"
	tests := []struct {
		name   string
		userID *string
		want   *regexp.Regexp
	}{
		{"identified", &user, regexp.MustCompile(`^user-42-1709294400000-[a-f0-9]{9}$`)},
		{"anonymous", nil, regexp.MustCompile(`^anonymous-1709294400000-[a-f0-9]{9}$`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id := newSessionID(tt.userID, epoch); !tt.want.MatchString(id) {
				t.Errorf("Unexpected session id %q", id)
			}
		})
	}

	if newSessionID(nil, epoch) == newSessionID(nil, epoch) {
		t.Error("Session ids should not collide at the same instant")
	}
}

func TestFlush_Cadence(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.sched.Advance(29 * time.Second)
	if got := len(h.transport.sent()); got != 1 {
		t.Fatalf("Expected no flush before the interval, got %d events", got)
	}

	h.sched.Advance(61 * time.Second)
	events := h.transport.sent()
	if len(events) != 4 {
		t.Fatalf("Expected 4 events after 90s, got %d", len(events))
	}

	want := []int64{0, 30000, 60000, 90000}
	for i, e := range events {
		if e.TimeSpent != want[i] {
			t.Errorf("event %d: timeSpent = %d, want %d", i, e.TimeSpent, want[i])
		}
		if e.SessionID != events[0].SessionID {
			t.Errorf("event %d: session id changed", i)
		}
	}
}

func TestFlush_CumulativeClicks(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	for i := 0; i < 3; i++ {
		h.collector.RecordClick()
	}
	h.sched.Advance(30 * time.Second)
	h.collector.RecordClick()
	h.sched.Advance(30 * time.Second)

	events := h.transport.sent()
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[1].Clicks != 3 || events[2].Clicks != 4 {
		t.Errorf("Clicks should accumulate across flushes, got %d then %d", events[1].Clicks, events[2].Clicks)
	}
}

func TestRecordScroll_Monotonic(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	steps := []struct {
		scrollY float64
		want    float64
	}{
		{500, 50},
		{100, 50},
		{750, 75},
		{0, 75},
		{5000, 100},
	}

	for _, step := range steps {
		h.collector.RecordScroll(step.scrollY, 2000, 1000)
		s, _ := h.collector.Session()
		if s.ScrollDepth != step.want {
			t.Errorf("after scrollY=%.0f depth = %.1f, want %.1f", step.scrollY, s.ScrollDepth, step.want)
		}
	}
}

func TestScrollPercentage(t *testing.T) {
	tests := []struct {
		name                        string
		scrollY, document, viewport float64
		want                        float64
	}{
		{"top", 0, 3000, 1000, 0},
		{"middle", 1000, 3000, 1000, 50},
		{"bottom", 2000, 3000, 1000, 100},
		{"overscroll", 2500, 3000, 1000, 100},
		{"negative", -40, 3000, 1000, 0},
		{"fits viewport", 0, 800, 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScrollPercentage(tt.scrollY, tt.document, tt.viewport); got != tt.want {
				t.Errorf("ScrollPercentage() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRecordPageView(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.collector.RecordPageView(Page{URL: "https://example.com/pricing", Title: "Pricing", Referrer: "https://example.com/"})
	_ = h.collector.Flush(context.Background())

	e := h.transport.last(t)
	if e.PageViews != 2 {
		t.Errorf("Expected 2 page views, got %d", e.PageViews)
	}
	if e.PageURL != "https://example.com/pricing" || e.Referrer != "https://example.com/" {
		t.Errorf("Snapshot should carry the current page, got %s from %s", e.PageURL, e.Referrer)
	}
}

func TestTerminate(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.collector.RecordClick()
	h.collector.RecordScroll(750, 2500, 1000)
	h.sched.Advance(45 * time.Second)
	h.collector.Terminate(context.Background())

	beacons := h.beacon.sent()
	if len(beacons) != 1 {
		t.Fatalf("Expected 1 terminal event on the beacon transport, got %d", len(beacons))
	}
	final := beacons[0]
	if !final.SessionEnded {
		t.Error("Terminal snapshot should be marked ended")
	}
	if final.TimeSpent != 45000 || final.Clicks != 1 || final.ScrollDepth != 50 {
		t.Errorf("Unexpected terminal snapshot: timeSpent=%d clicks=%d scroll=%f", final.TimeSpent, final.Clicks, final.ScrollDepth)
	}

	if h.collector.State() != StateTerminated {
		t.Errorf("Expected state terminated, got %s", h.collector.State())
	}
	if h.sched.Pending() != 0 {
		t.Error("Periodic flush should be cancelled")
	}

	sentBefore := len(h.transport.sent())
	h.collector.RecordClick()
	h.sched.Advance(5 * time.Minute)
	if err := h.collector.Flush(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive after terminate, got %v", err)
	}
	h.collector.Terminate(context.Background())

	if got := len(h.transport.sent()); got != sentBefore {
		t.Errorf("No snapshots should follow termination, got %d more", got-sentBefore)
	}
	if got := len(h.beacon.sent()); got != 1 {
		t.Errorf("Terminate should be idempotent, got %d terminal events", got)
	}
	if _, ok := h.collector.Session(); ok {
		t.Error("Session should be released after termination")
	}
}

func TestTeardownTerminates(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.sched.Advance(10 * time.Second)
	h.sched.Teardown()

	if got := len(h.beacon.sent()); got != 1 {
		t.Fatalf("Expected teardown to send the terminal event, got %d", got)
	}
	if h.collector.State() != StateTerminated {
		t.Errorf("Expected state terminated, got %s", h.collector.State())
	}
}

func TestTransportFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.err = &TransportError{StatusCode: 503, Err: errRejected}
	h.start(t)

	h.collector.RecordClick()
	if err := h.collector.Flush(context.Background()); err != nil {
		t.Errorf("Flush should not surface transport errors, got %v", err)
	}
	h.sched.Advance(30 * time.Second)

	if h.collector.State() != StateActive {
		t.Errorf("Expected collector to stay active, got %s", h.collector.State())
	}
	if got := h.transport.last(t).Clicks; got != 1 {
		t.Errorf("Failed sends should not reset counters, got %d clicks", got)
	}
}

func TestConsentReadAtSendTime(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if h.transport.last(t).ConsentGiven {
		t.Error("Expected no consent on the initial snapshot")
	}
	h.consent.Set(true)
	_ = h.collector.Flush(context.Background())
	if !h.transport.last(t).ConsentGiven {
		t.Error("Expected consent to be picked up on the next snapshot")
	}
}

func TestGeolocationAttachedWhenResolved(t *testing.T) {
	geo := &models.Geolocation{Country: "Portugal", City: "Lisbon", Latitude: 38.7223, Longitude: -9.1393}
	h := newHarness(t, fakeGeolocator{geo: geo})
	h.start(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.collector.mu.Lock()
		resolved := h.collector.geo != nil
		h.collector.mu.Unlock()
		if resolved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Geolocation was never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = h.collector.Flush(context.Background())
	e := h.transport.last(t)
	if e.Geolocation == nil || e.Geolocation.City != "Lisbon" {
		t.Errorf("Expected Lisbon geolocation, got %+v", e.Geolocation)
	}
}

func TestGeolocationFailureIsSilent(t *testing.T) {
	h := newHarness(t, fakeGeolocator{err: errors.New("denied")})
	h.start(t)

	time.Sleep(10 * time.Millisecond)
	_ = h.collector.Flush(context.Background())

	if e := h.transport.last(t); e.Geolocation != nil {
		t.Errorf("Expected no geolocation, got %+v", e.Geolocation)
	}
	if h.collector.State() != StateActive {
		t.Errorf("Expected state active, got %s", h.collector.State())
	}
}

func TestVirtualScheduler_CancelAndOrder(t *testing.T) {
	sched := NewVirtualScheduler(epoch)

	var fired []string
	fast := sched.Schedule(func() { fired = append(fired, "fast") }, 10*time.Second)
	sched.Schedule(func() { fired = append(fired, "slow") }, 25*time.Second)

	sched.Advance(30 * time.Second)
	want := "fast,fast,slow,fast"
	if got := join(fired); got != want {
		t.Errorf("fired = %s, want %s", got, want)
	}

	fast.Cancel()
	fast.Cancel()
	fired = nil
	sched.Advance(30 * time.Second)
	if got := join(fired); got != "slow" {
		t.Errorf("after cancel fired = %s, want slow", got)
	}
	if !sched.Now().Equal(epoch.Add(60 * time.Second)) {
		t.Errorf("Clock should land on the advance target, got %s", sched.Now())
	}
}

func join(s []string) string {
	out := ""
	for i, v := range s {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func BenchmarkRecordClick(b *testing.B) {
	c := New(Options{
		Fingerprinter: staticFingerprinter{},
		Transport:     &recordingTransport{},
		Scheduler:     NewVirtualScheduler(epoch),
	})
	_ = c.Start(context.Background(), nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.RecordClick()
	}
}
