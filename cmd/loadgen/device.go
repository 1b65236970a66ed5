package main

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/iamgideonidoko/pulse/pkg/fingerprint"
)

// profile is a synthetic device: what the runtime reports and how its
// canvas, graphics adapter and font stack respond to probes.
type profile struct {
	name     string
	env      fingerprint.Environment
	vendor   string
	renderer string
	fonts    []string
}

var profiles = []profile{
	{
		name: "iphone",
		env: fingerprint.Environment{
			UserAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
			ScreenWidth:  390,
			ScreenHeight: 844,
			ColorDepth:   24,
			Timezone:     "Europe/Lisbon",
			Language:     "pt-PT",
		},
		vendor:   "Apple Inc.",
		renderer: "Apple GPU",
		fonts:    []string{"Arial", "Georgia", "Helvetica", "Times New Roman", "Verdana"},
	},
	{
		name: "pixel",
		env: fingerprint.Environment{
			UserAgent:    "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
			ScreenWidth:  412,
			ScreenHeight: 915,
			ColorDepth:   24,
			Timezone:     "America/New_York",
			Language:     "en-US",
		},
		vendor:   "Qualcomm",
		renderer: "Adreno (TM) 740",
		fonts:    []string{"Arial", "Courier New", "Georgia"},
	},
	{
		name: "windows",
		env: fingerprint.Environment{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			ColorDepth:   24,
			Timezone:     "Europe/Berlin",
			Language:     "de-DE",
		},
		vendor:   "Google Inc. (NVIDIA)",
		renderer: "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		fonts:    []string{"Arial", "Calibri", "Cambria", "Consolas", "Segoe UI", "Tahoma", "Verdana"},
	},
	{
		name: "mac",
		env: fingerprint.Environment{
			UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
			ScreenWidth:  1512,
			ScreenHeight: 982,
			ColorDepth:   30,
			Timezone:     "Asia/Tokyo",
			Language:     "ja-JP",
		},
		vendor:   "Apple Inc.",
		renderer: "Apple M2",
		fonts:    []string{"Arial", "Helvetica", "Lucida Grande", "Menlo", "Monaco", "Palatino"},
	},
	{
		name: "headless",
		env: fingerprint.Environment{
			UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
			ScreenWidth:  800,
			ScreenHeight: 600,
			ColorDepth:   24,
			Timezone:     "UTC",
			Language:     "en-US",
		},
		vendor:   "Google Inc. (Google)",
		renderer: "ANGLE (Google, Vulkan 1.3.0 (SwiftShader Device (Subzero)), SwiftShader driver)",
	},
}

func (p profile) generator() *fingerprint.Generator {
	return fingerprint.NewGenerator(p.env, canvas{salt: p.renderer}, graphics{vendor: p.vendor, renderer: p.renderer}, fontStack(p.fonts))
}

// canvas hashes the draw calls together with a per-device salt, which is
// how real rasterizers end up differing.
type canvas struct {
	salt string
}

func (c canvas) NewRenderer(width, height int) (fingerprint.Renderer2D, error) {
	r := &renderer{}
	fmt.Fprintf(&r.ops, "%s|%dx%d", c.salt, width, height)
	return r, nil
}

type renderer struct {
	ops strings.Builder
}

func (r *renderer) SetFont(font string) {
	fmt.Fprintf(&r.ops, "|font:%s", font)
}

func (r *renderer) FillStyle(color string) {
	fmt.Fprintf(&r.ops, "|fill:%s", color)
}

func (r *renderer) FillRect(x, y, w, h float64) {
	fmt.Fprintf(&r.ops, "|rect:%g,%g,%g,%g", x, y, w, h)
}

func (r *renderer) FillText(text string, x, y float64) {
	fmt.Fprintf(&r.ops, "|text:%s@%g,%g", text, x, y)
}

func (r *renderer) DataURL() (string, error) {
	h := fnv.New128a()
	h.Write([]byte(r.ops.String()))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

type graphics struct {
	vendor, renderer string
}

func (g graphics) ContextAvailable() bool { return g.renderer != "" }

func (g graphics) UnmaskedVendorRenderer() (string, string, bool, error) {
	return g.vendor, g.renderer, g.vendor != "", nil
}

// fontStack measures text wider for installed families than for the
// monospace fallback.
type fontStack []string

func (f fontStack) MeasureText(text, font string) (float64, error) {
	width := float64(len(text)) * 43.2
	for i, family := range f {
		if strings.Contains(font, "'"+family+"'") {
			return width + float64(i+1)*1.5, nil
		}
	}
	return width, nil
}
