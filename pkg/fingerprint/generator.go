package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/pulse/pkg/logger"
)

const (
	canvasWidth   = 240
	canvasHeight  = 60
	canvasText    = "Cwm fjordbank glyphs vext quiz, 1.0"
	fontProbeText = "mmmmmmmmmmlli"
	fontProbeSize = "72px"
	fallbackFont  = "monospace"
)

// Components is the environment descriptor a fingerprint is computed from.
// Field order is the canonical serialization order.
type Components struct {
	UserAgent        string   `json:"userAgent"`
	ScreenResolution string   `json:"screenResolution"`
	ColorDepth       int      `json:"colorDepth"`
	Timezone         string   `json:"timezone"`
	Language         string   `json:"language"`
	Canvas           string   `json:"canvas"`
	WebGL            string   `json:"webgl"`
	Fonts            []string `json:"fonts"`
}

// DeviceFingerprint pairs the digest with the components it was computed from.
// Only Fingerprint is meaningful for identity comparison.
type DeviceFingerprint struct {
	Fingerprint string     `json:"fingerprint"`
	Components  Components `json:"components"`
}

type Generator struct {
	env      Environment
	canvas   CanvasFactory
	graphics GraphicsAdapterInfo
	fonts    FontProbe
	families []string
}

type Option func(*Generator)

// WithCandidateFonts overrides the font families probed for installation.
func WithCandidateFonts(families []string) Option {
	return func(g *Generator) {
		g.families = append([]string(nil), families...)
	}
}

// NewGenerator builds a generator. Any capability may be nil, in which case its
// probe degrades to a sentinel value.
func NewGenerator(env Environment, canvas CanvasFactory, graphics GraphicsAdapterInfo, fonts FontProbe, opts ...Option) *Generator {
	g := &Generator{
		env:      env,
		canvas:   canvas,
		graphics: graphics,
		fonts:    fonts,
		families: DefaultCandidateFonts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate collects every probe and digests them. It never fails: a probe that
// cannot run contributes a sentinel instead.
func (g *Generator) Generate() DeviceFingerprint {
	components := Components{
		UserAgent:        orSentinel(g.env.UserAgent),
		ScreenResolution: fmt.Sprintf("%dx%d", g.env.ScreenWidth, g.env.ScreenHeight),
		ColorDepth:       g.env.ColorDepth,
		Timezone:         orSentinel(g.env.Timezone),
		Language:         orSentinel(g.env.Language),
		Canvas:           g.canvasSignature(),
		WebGL:            g.graphicsSignature(),
		Fonts:            g.detectFonts(),
	}

	return DeviceFingerprint{
		Fingerprint: Digest(components),
		Components:  components,
	}
}

// Digest returns the hex SHA-256 of the canonical JSON form of c.
func Digest(c Components) string {
	data, err := json.Marshal(c)
	if err != nil {
		// Components only holds strings and ints.
		data = fmt.Appendf(nil, "%v", c)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func (g *Generator) canvasSignature() (sig string) {
	if g.canvas == nil {
		return SentinelCanvasUnavailable
	}
	defer recoverProbe("canvas", &sig, SentinelCanvasError)

	r, err := g.canvas.NewRenderer(canvasWidth, canvasHeight)
	if err != nil || r == nil {
		return SentinelCanvasUnavailable
	}

	r.FillStyle("#f60")
	r.FillRect(125, 1, 62, 20)

	r.SetFont("14px 'Arial'")
	r.FillStyle("#069")
	r.FillText(canvasText, 2, 15)

	// Second, overlapping, semi-transparent layer.
	r.FillStyle("rgba(102, 204, 0, 0.7)")
	r.FillText(canvasText, 4, 17)

	url, err := r.DataURL()
	if err != nil {
		return SentinelCanvasError
	}
	return url
}

func (g *Generator) graphicsSignature() (sig string) {
	if g.graphics == nil {
		return SentinelWebGLUnavailable
	}
	defer recoverProbe("webgl", &sig, SentinelWebGLError)

	if !g.graphics.ContextAvailable() {
		return SentinelWebGLUnavailable
	}
	vendor, renderer, ok, err := g.graphics.UnmaskedVendorRenderer()
	if err != nil {
		return SentinelWebGLError
	}
	if !ok {
		return SentinelWebGLLimited
	}
	return vendor + "~" + renderer
}

func (g *Generator) detectFonts() (fonts []string) {
	if g.fonts == nil {
		return []string{SentinelFontsUnavailable}
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Font probe panicked", map[string]any{"panic": fmt.Sprint(r)})
			fonts = []string{SentinelFontsUnavailable}
		}
	}()

	baseline, err := g.fonts.MeasureText(fontProbeText, fontProbeSize+" "+fallbackFont)
	if err != nil {
		return []string{SentinelFontsUnavailable}
	}

	installed := make([]string, 0, len(g.families))
	for _, family := range g.families {
		width, err := g.fonts.MeasureText(fontProbeText, fmt.Sprintf("%s '%s', %s", fontProbeSize, family, fallbackFont))
		if err != nil {
			continue
		}
		if width != baseline {
			installed = append(installed, family)
		}
	}
	sort.Strings(installed)
	return installed
}

func recoverProbe(probe string, sig *string, sentinel string) {
	if r := recover(); r != nil {
		logger.Warn("Fingerprint probe panicked", map[string]any{
			"probe": probe,
			"panic": fmt.Sprint(r),
		})
		*sig = sentinel
	}
}

func orSentinel(s string) string {
	if s == "" {
		return SentinelUnknown
	}
	return s
}
