// Package useragent turns a raw user agent string into structured device facts.
package useragent

import (
	"regexp"
	"strings"

	"github.com/iamgideonidoko/pulse/internal/models"
)

// pattern is an ordered match rule; the first rule that matches wins.
type pattern struct {
	name string
	re   *regexp.Regexp
}

var (
	tabletToken = regexp.MustCompile(`(?i)ipad|tablet|playbook|silk|kindle|sm-t\d+`)
	mobileToken = regexp.MustCompile(`(?i)mobi|iphone|ipod|android|blackberry|opera mini|iemobile|windows phone`)
)

// RE2 has no lookahead, so "android without mobile" is checked by hand.
func isTablet(ua string) bool {
	lower := strings.ToLower(ua)
	if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
		return true
	}
	return tabletToken.MatchString(ua)
}

type brandRule struct {
	brand string
	re    *regexp.Regexp
	model string // fixed model when re has no capture group
}

var brandRules = []brandRule{
	{brand: "Apple", re: regexp.MustCompile(`iPhone`), model: "iPhone"},
	{brand: "Apple", re: regexp.MustCompile(`iPad`), model: "iPad"},
	{brand: "Apple", re: regexp.MustCompile(`iPod`), model: "iPod"},
	{brand: "Samsung", re: regexp.MustCompile(`\b(SM-[A-Z0-9]+|GT-[A-Z0-9]+)`)},
	{brand: "Google", re: regexp.MustCompile(`\b(Pixel(?: [0-9][0-9a-zA-Z ]*?)?)(?:[;)]| Build)`)},
	{brand: "Huawei", re: regexp.MustCompile(`(?i)huawei[ _-]?([A-Za-z0-9-]+)?`)},
	{brand: "Xiaomi", re: regexp.MustCompile(`\b((?:Redmi|Mi|POCO) [A-Za-z0-9 ]+?)(?:[;)]| Build)`)},
	{brand: "OnePlus", re: regexp.MustCompile(`\b(ONEPLUS [A-Z0-9]+)`)},
	{brand: "Amazon", re: regexp.MustCompile(`\b(KF[A-Z]{2,4})\b`), model: "Kindle Fire"},
	{brand: "Apple", re: regexp.MustCompile(`Macintosh`), model: "Mac"},
}

// OS families used as the brand when no vendor token is present.
var osBrandRules = []brandRule{
	{brand: "Windows", re: regexp.MustCompile(`Windows`), model: "PC"},
	{brand: "Android", re: regexp.MustCompile(`Android`), model: "Android Device"},
	{brand: "Chrome OS", re: regexp.MustCompile(`CrOS`), model: "Chromebook"},
	{brand: "Linux", re: regexp.MustCompile(`Linux`), model: "PC"},
}

// Most specific first: every Chromium derivative also carries "Chrome/", and
// Chrome carries "Safari/".
var browserRules = []pattern{
	{name: "Edge", re: regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{name: "Opera", re: regexp.MustCompile(`(?:OPR|Opera)/([\d.]+)`)},
	{name: "Samsung Internet", re: regexp.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{name: "Firefox", re: regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{name: "Chrome", re: regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{name: "Safari", re: regexp.MustCompile(`Version/([\d.]+).*Safari/`)},
	{name: "Safari", re: regexp.MustCompile(`(?:iPhone|iPad|Macintosh).*AppleWebKit/([\d.]+)`)},
	{name: "Internet Explorer", re: regexp.MustCompile(`(?:MSIE |Trident/.*rv:)([\d.]+)`)},
}

var osRules = []pattern{
	{name: "Windows Phone", re: regexp.MustCompile(`Windows Phone(?: OS)? ([\d.]+)`)},
	{name: "Windows", re: regexp.MustCompile(`Windows NT ([\d.]+)`)},
	{name: "iOS", re: regexp.MustCompile(`(?:iPhone|iPad|iPod).*? OS ([\d_]+)`)},
	{name: "Android", re: regexp.MustCompile(`Android ([\d.]+)`)},
	{name: "macOS", re: regexp.MustCompile(`Mac OS X ([\d_.]+)`)},
	{name: "Chrome OS", re: regexp.MustCompile(`CrOS [a-z0-9_]+ ([\d.]+)`)},
	{name: "Linux", re: regexp.MustCompile(`Linux()`)},
}

var windowsVersions = map[string]string{
	"10.0": "10",
	"6.3":  "8.1",
	"6.2":  "8",
	"6.1":  "7",
	"6.0":  "Vista",
	"5.1":  "XP",
}

// Classify derives device facts from a raw user agent. It is total: any fact
// that cannot be resolved is models.Unknown.
func Classify(ua string) models.DeviceInfo {
	info := models.DeviceInfo{
		DeviceType:       deviceType(ua),
		DeviceBrand:      models.Unknown,
		DeviceModel:      models.Unknown,
		Browser:          models.Unknown,
		BrowserVersion:   models.Unknown,
		OS:               models.Unknown,
		OSVersion:        models.Unknown,
		ScreenResolution: models.Unknown,
		Timezone:         models.Unknown,
		Language:         models.Unknown,
	}
	if strings.TrimSpace(ua) == "" {
		return info
	}

	info.DeviceBrand, info.DeviceModel = brandAndModel(ua)
	info.Browser, info.BrowserVersion = firstMatch(browserRules, ua)
	info.OS, info.OSVersion = firstMatch(osRules, ua)

	switch info.OS {
	case "Windows":
		if v, ok := windowsVersions[info.OSVersion]; ok {
			info.OSVersion = v
		}
	case "iOS", "macOS":
		info.OSVersion = strings.ReplaceAll(info.OSVersion, "_", ".")
	}
	return info
}

func deviceType(ua string) models.DeviceType {
	switch {
	case isTablet(ua):
		return models.DeviceTablet
	case mobileToken.MatchString(ua):
		return models.DeviceMobile
	default:
		return models.DeviceDesktop
	}
}

func brandAndModel(ua string) (string, string) {
	for _, rule := range brandRules {
		m := rule.re.FindStringSubmatch(ua)
		if m == nil {
			continue
		}
		model := rule.model
		if model == "" {
			model = capture(m)
		}
		return rule.brand, model
	}
	for _, rule := range osBrandRules {
		if rule.re.MatchString(ua) {
			return rule.brand, rule.model
		}
	}
	return models.Unknown, models.Unknown
}

func firstMatch(rules []pattern, ua string) (string, string) {
	for _, rule := range rules {
		if m := rule.re.FindStringSubmatch(ua); m != nil {
			return rule.name, capture(m)
		}
	}
	return models.Unknown, models.Unknown
}

// capture returns the first non-empty capture group, or Unknown.
func capture(m []string) string {
	for _, g := range m[1:] {
		if g = strings.TrimSpace(g); g != "" {
			return g
		}
	}
	return models.Unknown
}
