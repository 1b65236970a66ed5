package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/iamgideonidoko/pulse/internal/models"
)

func unusualRule(th Thresholds, b batch) []models.AnomalyAlert {
	var alerts []models.AnomalyAlert
	for _, check := range []func(UnusualThresholds, []models.TelemetryEvent) (models.AnomalyAlert, bool){
		zeroScroll,
		inconsistentDevices,
		unrecognizedAgents,
	} {
		if alert, ok := check(th.Unusual, b.sessions); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// zeroScroll: long visits that never moved the page.
func zeroScroll(th UnusualThresholds, sessions []models.TelemetryEvent) (models.AnomalyAlert, bool) {
	if len(sessions) < th.MinSessions {
		return models.AnomalyAlert{}, false
	}
	var stuck int
	for _, s := range sessions {
		if s.ScrollDepth == 0 && s.TimeSpent >= th.ZeroScrollMinTime {
			stuck++
		}
	}
	fraction := share(stuck, len(sessions))
	if stuck == 0 || fraction < th.ZeroScrollShare {
		return models.AnomalyAlert{}, false
	}

	severity := models.SeverityMedium
	if fraction >= 2*th.ZeroScrollShare {
		severity = models.SeverityHigh
	}
	return models.AnomalyAlert{
		Type:     models.AlertUnusualPattern,
		Severity: severity,
		Description: fmt.Sprintf("%d sessions (%.0f%%) stayed over %ds without scrolling",
			stuck, fraction*100, th.ZeroScrollMinTime/1000),
		Data: map[string]any{
			"kind":       "zero_scroll",
			"sessions":   stuck,
			"percentage": math.Round(fraction*1000) / 10,
		},
	}, true
}

// combinationIssue names the contradiction in a device/browser/OS triple, or
// returns "" when the triple is plausible.
func combinationIssue(s models.TelemetryEvent) string {
	osName, brand, browser := s.OS, s.DeviceBrand, s.Browser
	switch {
	case osName == "iOS" && brand != models.Unknown && brand != "Apple":
		return "iOS on " + brand
	case osName == "macOS" && brand != models.Unknown && brand != "Apple":
		return "macOS on " + brand
	case osName == "iOS" && s.DeviceType == models.DeviceDesktop:
		return "iOS on desktop"
	case (osName == "Windows" || osName == "macOS") && s.DeviceType == models.DeviceMobile:
		return osName + " on mobile"
	case browser == "Safari" && (osName == "Windows" || osName == "Android" || osName == "Linux"):
		return "Safari on " + osName
	case browser == "Samsung Internet" && osName != "Android" && osName != models.Unknown:
		return "Samsung Internet on " + osName
	case browser == "Internet Explorer" && osName != "Windows" && osName != models.Unknown:
		return "Internet Explorer on " + osName
	}
	return ""
}

func inconsistentDevices(th UnusualThresholds, sessions []models.TelemetryEvent) (models.AnomalyAlert, bool) {
	issues := map[string]int{}
	var total int
	for _, s := range sessions {
		if issue := combinationIssue(s); issue != "" {
			issues[issue]++
			total++
		}
	}
	if total < th.InconsistentMin {
		return models.AnomalyAlert{}, false
	}

	names := make([]string, 0, len(issues))
	for name := range issues {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if issues[names[i]] == issues[names[j]] {
			return names[i] < names[j]
		}
		return issues[names[i]] > issues[names[j]]
	})

	fraction := share(total, len(sessions))
	severity := models.SeverityLow
	if fraction >= th.UnrecognizedShare {
		severity = models.SeverityMedium
	}
	return models.AnomalyAlert{
		Type:     models.AlertUnusualPattern,
		Severity: severity,
		Description: fmt.Sprintf("%d sessions report contradictory device facts (%s)",
			total, strings.Join(names, "; ")),
		Data: map[string]any{
			"kind":         "inconsistent_device",
			"sessions":     total,
			"combinations": issues,
		},
	}, true
}

func unrecognizedAgents(th UnusualThresholds, sessions []models.TelemetryEvent) (models.AnomalyAlert, bool) {
	if len(sessions) < th.MinSessions {
		return models.AnomalyAlert{}, false
	}
	var unknown int
	for _, s := range sessions {
		if isUnrecognized(s.Browser) && isUnrecognized(s.OS) {
			unknown++
		}
	}
	fraction := share(unknown, len(sessions))
	if unknown == 0 || fraction <= th.UnrecognizedShare {
		return models.AnomalyAlert{}, false
	}

	severity := models.SeverityLow
	if fraction > th.UnrecognizedHighShare {
		severity = models.SeverityMedium
	}
	return models.AnomalyAlert{
		Type:     models.AlertUnusualPattern,
		Severity: severity,
		Description: fmt.Sprintf("%.0f%% of sessions came from unrecognized user agents",
			fraction*100),
		Data: map[string]any{
			"kind":       "unrecognized_agent",
			"sessions":   unknown,
			"percentage": math.Round(fraction*1000) / 10,
		},
	}, true
}

func isUnrecognized(v string) bool {
	return v == "" || v == models.Unknown
}
