package anomaly

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds holds every tunable of the rule families. Fractions are 0..1.
type Thresholds struct {
	Bot     BotThresholds     `yaml:"bot"`
	Spike   SpikeThresholds   `yaml:"spike"`
	Geo     GeoThresholds     `yaml:"geo"`
	Unusual UnusualThresholds `yaml:"unusual"`
}

type BotThresholds struct {
	MaxEngagement      float64 `yaml:"max_engagement"`
	MinPageViews       int     `yaml:"min_page_views"`
	MinClicks          int     `yaml:"min_clicks"`
	RegularMinSessions int     `yaml:"regular_min_sessions"`
	RegularMaxCV       float64 `yaml:"regular_max_cv"`
	NoiseFloor         float64 `yaml:"noise_floor"`
	Medium             float64 `yaml:"medium"`
	High               float64 `yaml:"high"`
	Critical           float64 `yaml:"critical"`
}

type SpikeThresholds struct {
	Buckets           int     `yaml:"buckets"`
	MinRecentSessions int     `yaml:"min_recent_sessions"`
	Medium            float64 `yaml:"medium"`
	High              float64 `yaml:"high"`
	Critical          float64 `yaml:"critical"`
}

type GeoThresholds struct {
	MinSessions        int     `yaml:"min_sessions"`
	ClusterShare       float64 `yaml:"cluster_share"`
	ClusterShareHigh   float64 `yaml:"cluster_share_high"`
	CoordinatePlaces   int     `yaml:"coordinate_places"`
	MaxSpeedKmH        float64 `yaml:"max_speed_kmh"`
	MinDistanceKm      float64 `yaml:"min_distance_km"`
	CriticalTravellers int     `yaml:"critical_travellers"`
}

type UnusualThresholds struct {
	MinSessions           int     `yaml:"min_sessions"`
	ZeroScrollMinTime     int64   `yaml:"zero_scroll_min_time_ms"`
	ZeroScrollShare       float64 `yaml:"zero_scroll_share"`
	InconsistentMin       int     `yaml:"inconsistent_min_sessions"`
	UnrecognizedShare     float64 `yaml:"unrecognized_share"`
	UnrecognizedHighShare float64 `yaml:"unrecognized_high_share"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Bot: BotThresholds{
			MaxEngagement:      5,
			MinPageViews:       5,
			MinClicks:          20,
			RegularMinSessions: 4,
			RegularMaxCV:       0.05,
			NoiseFloor:         0.005,
			Medium:             0.02,
			High:               0.10,
			Critical:           0.20,
		},
		Spike: SpikeThresholds{
			Buckets:           12,
			MinRecentSessions: 10,
			Medium:            3,
			High:              5,
			Critical:          10,
		},
		Geo: GeoThresholds{
			MinSessions:        10,
			ClusterShare:       0.5,
			ClusterShareHigh:   0.8,
			CoordinatePlaces:   4,
			MaxSpeedKmH:        900,
			MinDistanceKm:      100,
			CriticalTravellers: 5,
		},
		Unusual: UnusualThresholds{
			MinSessions:           10,
			ZeroScrollMinTime:     30_000,
			ZeroScrollShare:       0.3,
			InconsistentMin:       3,
			UnrecognizedShare:     0.10,
			UnrecognizedHighShare: 0.30,
		},
	}
}

// LoadThresholds overlays the YAML file at path on the defaults. An empty path
// or a missing file yields the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	th := DefaultThresholds()
	if path == "" {
		return th, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return th, nil
		}
		return th, fmt.Errorf("failed to read detector rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return DefaultThresholds(), fmt.Errorf("failed to parse detector rules: %w", err)
	}
	if err := th.Validate(); err != nil {
		return DefaultThresholds(), err
	}
	return th, nil
}

func (t Thresholds) Validate() error {
	if !(t.Bot.Medium <= t.Bot.High && t.Bot.High <= t.Bot.Critical) {
		return errors.New("bot severity fractions must be ascending")
	}
	if t.Spike.Buckets < 2 {
		return errors.New("spike buckets must be at least 2")
	}
	if !(t.Spike.Medium <= t.Spike.High && t.Spike.High <= t.Spike.Critical) {
		return errors.New("spike ratios must be ascending")
	}
	if t.Geo.ClusterShare <= 0 || t.Geo.ClusterShare > 1 {
		return errors.New("geo cluster share must be in (0, 1]")
	}
	if t.Geo.MaxSpeedKmH <= 0 {
		return errors.New("geo max speed must be positive")
	}
	return nil
}
