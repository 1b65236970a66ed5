package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/iamgideonidoko/pulse/internal/models"
)

// coordinateEpsilon treats (0, 0) as an unknown location rather than a point.
const coordinateEpsilon = 1e-7

func knownLocation(g *models.Geolocation) bool {
	return g != nil && (math.Abs(g.Latitude) >= coordinateEpsilon || math.Abs(g.Longitude) >= coordinateEpsilon)
}

func geoRule(th Thresholds, b batch) []models.AnomalyAlert {
	var alerts []models.AnomalyAlert
	if alert, ok := coordinateCluster(th.Geo, b.sessions); ok {
		alerts = append(alerts, alert)
	}
	if alert, ok := impossibleTravel(th.Geo, b.events); ok {
		alerts = append(alerts, alert)
	}
	return alerts
}

// coordinateCluster flags a single coordinate pair carrying a share of
// sessions no organic audience produces.
func coordinateCluster(th GeoThresholds, sessions []models.TelemetryEvent) (models.AnomalyAlert, bool) {
	counts := map[string]int{}
	located := 0
	for _, s := range sessions {
		if !knownLocation(s.Geolocation) {
			continue
		}
		located++
		counts[coordinateKey(s.Geolocation, th.CoordinatePlaces)]++
	}
	if located < th.MinSessions {
		return models.AnomalyAlert{}, false
	}

	var topKey string
	var topCount int
	for key, count := range counts {
		if count > topCount || (count == topCount && key < topKey) {
			topKey, topCount = key, count
		}
	}

	fraction := share(topCount, located)
	if fraction < th.ClusterShare {
		return models.AnomalyAlert{}, false
	}
	severity := models.SeverityMedium
	if fraction >= th.ClusterShareHigh {
		severity = models.SeverityHigh
	}

	return models.AnomalyAlert{
		Type:     models.AlertGeoAnomaly,
		Severity: severity,
		Description: fmt.Sprintf("%.0f%% of geolocated sessions report identical coordinates %s",
			fraction*100, topKey),
		Data: map[string]any{
			"kind":        "coordinate_cluster",
			"coordinates": topKey,
			"sessions":    topCount,
			"located":     located,
			"percentage":  math.Round(fraction*1000) / 10,
		},
	}, true
}

func coordinateKey(g *models.Geolocation, places int) string {
	return fmt.Sprintf("%.*f,%.*f", places, g.Latitude, places, g.Longitude)
}

type travelLeg struct {
	fingerprint string
	distanceKm  float64
	speedKmH    float64
	from, to    string
}

// impossibleTravel flags fingerprints seen at two places further apart than
// MaxSpeedKmH allows in the time between the sightings.
func impossibleTravel(th GeoThresholds, events []models.TelemetryEvent) (models.AnomalyAlert, bool) {
	byFingerprint := map[string][]models.TelemetryEvent{}
	for _, e := range events {
		if knownLocation(e.Geolocation) {
			byFingerprint[e.DeviceFingerprint] = append(byFingerprint[e.DeviceFingerprint], e)
		}
	}

	var legs []travelLeg
	for fp, sightings := range byFingerprint {
		sort.Slice(sightings, func(i, j int) bool {
			return sightings[i].Timestamp.Before(sightings[j].Timestamp)
		})

		var worst *travelLeg
		for i := 1; i < len(sightings); i++ {
			prev, cur := sightings[i-1].Geolocation, sightings[i].Geolocation
			distance := haversineDistance(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
			if distance < th.MinDistanceKm {
				continue
			}
			hours := sightings[i].Timestamp.Sub(sightings[i-1].Timestamp).Hours()
			speed := math.Inf(1)
			if hours > 0 {
				speed = distance / hours
			}
			if speed <= th.MaxSpeedKmH {
				continue
			}
			if worst == nil || distance > worst.distanceKm {
				worst = &travelLeg{
					fingerprint: fp,
					distanceKm:  distance,
					speedKmH:    speed,
					from:        placeName(prev),
					to:          placeName(cur),
				}
			}
		}
		if worst != nil {
			legs = append(legs, *worst)
		}
	}
	if len(legs) == 0 {
		return models.AnomalyAlert{}, false
	}

	sort.Slice(legs, func(i, j int) bool {
		if legs[i].distanceKm == legs[j].distanceKm {
			return legs[i].fingerprint < legs[j].fingerprint
		}
		return legs[i].distanceKm > legs[j].distanceKm
	})

	severity := models.SeverityHigh
	if len(legs) >= th.CriticalTravellers {
		severity = models.SeverityCritical
	}

	worst := legs[0]
	fingerprints := make([]string, 0, min(len(legs), maxListedFingerprints))
	for _, leg := range legs[:min(len(legs), maxListedFingerprints)] {
		fingerprints = append(fingerprints, leg.fingerprint)
	}

	data := map[string]any{
		"kind":             "impossible_travel",
		"fingerprintCount": len(legs),
		"fingerprints":     fingerprints,
		"distanceKm":       math.Round(worst.distanceKm),
		"from":             worst.from,
		"to":               worst.to,
	}
	if !math.IsInf(worst.speedKmH, 1) {
		data["speedKmH"] = math.Round(worst.speedKmH)
	}

	return models.AnomalyAlert{
		Type:     models.AlertGeoAnomaly,
		Severity: severity,
		Description: fmt.Sprintf("%d device fingerprint(s) moved faster than %.0f km/h, e.g. %s to %s (%.0f km)",
			len(legs), th.MaxSpeedKmH, worst.from, worst.to, worst.distanceKm),
		Data: data,
	}, true
}

func placeName(g *models.Geolocation) string {
	switch {
	case g.City != "" && g.Country != "":
		return g.City + ", " + g.Country
	case g.Country != "":
		return g.Country
	default:
		return fmt.Sprintf("%.2f,%.2f", g.Latitude, g.Longitude)
	}
}

// haversineDistance returns the great-circle distance in kilometres.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
