package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

const (
	TrackPath       = "/analytics/track"
	GeolocationPath = "/analytics/geolocation"
)

// Transport delivers one snapshot. Implementations may deliver asynchronously;
// the collector never retries.
type Transport interface {
	Send(ctx context.Context, event models.TelemetryEvent) error
}

// TransportError describes a failed delivery.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var errRejected = errors.New("event rejected by collector endpoint")

// HTTPTransport posts snapshots in the background and returns immediately.
// Failures are logged, never returned.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	wg       sync.WaitGroup
	failures atomic.Int64
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + TrackPath,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Send(ctx context.Context, event models.TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return &TransportError{Err: err}
	}

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := post(ctx, t.client, t.endpoint, body); err != nil {
			t.failures.Add(1)
			logger.Warn("Telemetry delivery failed", map[string]any{
				"session_id": event.SessionID,
				"error":      err.Error(),
			})
		}
	}()
	return nil
}

// Wait blocks until in-flight sends finish.
func (t *HTTPTransport) Wait() {
	t.wg.Wait()
}

func (t *HTTPTransport) Failures() int64 {
	return t.failures.Load()
}

// BeaconTransport delivers synchronously within a short deadline so the send
// completes before the process or page goes away.
type BeaconTransport struct {
	endpoint string
	client   *http.Client
}

func NewBeaconTransport(baseURL string, timeout time.Duration) *BeaconTransport {
	return &BeaconTransport{
		endpoint: strings.TrimRight(baseURL, "/") + TrackPath,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *BeaconTransport) Send(ctx context.Context, event models.TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return &TransportError{Err: err}
	}
	return post(context.WithoutCancel(ctx), b.client, b.endpoint, body)
}

func post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &TransportError{StatusCode: resp.StatusCode, Err: errRejected}
	}

	var result models.TrackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if !result.Success {
		return &TransportError{StatusCode: resp.StatusCode, Err: errRejected}
	}
	return nil
}

// Geolocator resolves the visitor location. It is best-effort.
type Geolocator interface {
	Locate(ctx context.Context) (*models.Geolocation, error)
}

type HTTPGeolocator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPGeolocator(baseURL string, timeout time.Duration) *HTTPGeolocator {
	return &HTTPGeolocator{
		endpoint: strings.TrimRight(baseURL, "/") + GeolocationPath,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGeolocator) Locate(ctx context.Context) (*models.Geolocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation request failed: status %d", resp.StatusCode)
	}

	var geo models.Geolocation
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return nil, fmt.Errorf("failed to decode geolocation: %w", err)
	}
	return &geo, nil
}

// ConsentSource reports the visitor's current consent decision.
type ConsentSource interface {
	ConsentGiven() bool
}

type ConsentFlag struct {
	given atomic.Bool
}

func NewConsentFlag(given bool) *ConsentFlag {
	f := &ConsentFlag{}
	f.given.Store(given)
	return f
}

func (f *ConsentFlag) Set(given bool) { f.given.Store(given) }

func (f *ConsentFlag) ConsentGiven() bool { return f.given.Load() }

// FileConsent reads a persisted "true"/"false" flag on every call. A missing or
// unreadable file means no consent.
type FileConsent struct {
	Path string
}

func (f FileConsent) ConsentGiven() bool {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return false
	}
	given, err := strconv.ParseBool(strings.TrimSpace(string(data)))
	return err == nil && given
}
