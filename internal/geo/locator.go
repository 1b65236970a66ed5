// Package geo resolves client IP addresses to coarse locations through an
// external lookup provider guarded by a circuit breaker.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/iamgideonidoko/pulse/internal/models"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

var (
	ErrUnavailable    = errors.New("geolocation provider unavailable")
	ErrUpstream       = errors.New("geolocation provider failed")
	ErrNotFound       = errors.New("location not found")
	ErrPrivateAddress = errors.New("address is not publicly routable")
)

type Config struct {
	// ProviderURL contains an {ip} placeholder, e.g. http://ip-api.com/json/{ip}.
	ProviderURL        string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

type Locator struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*models.Geolocation]
}

// providerResponse follows the ip-api.com field names.
type providerResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
}

func NewLocator(cfg Config) *Locator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	failures := cfg.BreakerMaxFailures
	if failures == 0 {
		failures = 5
	}

	l := &Locator{
		url:    cfg.ProviderURL,
		client: &http.Client{Timeout: timeout},
	}
	l.breaker = gobreaker.NewCircuitBreaker[*models.Geolocation](gobreaker.Settings{
		Name:        "geolocation",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Lookups that resolve to "no such location" are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return l
}

// Locate looks up ip. Private and loopback addresses are rejected without a
// provider call.
func (l *Locator) Locate(ctx context.Context, ip string) (*models.Geolocation, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return nil, ErrPrivateAddress
	}

	loc, err := l.breaker.Execute(func() (*models.Geolocation, error) {
		return l.lookup(ctx, addr.String())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	return loc, err
}

// State reports the breaker state: closed, half-open or open.
func (l *Locator) State() string {
	return l.breaker.State().String()
}

func (l *Locator) lookup(ctx context.Context, ip string) (*models.Geolocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.ReplaceAll(l.url, "{ip}", ip), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: provider returned %d", ErrUpstream, resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, body.Message)
	}

	return &models.Geolocation{
		Country:   body.Country,
		State:     body.RegionName,
		City:      body.City,
		Latitude:  body.Lat,
		Longitude: body.Lon,
		ISP:       body.ISP,
	}, nil
}
