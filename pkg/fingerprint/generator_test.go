package fingerprint

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

type fakeRenderer struct {
	ops    []string
	font   string
	style  string
	failed bool
}

func (r *fakeRenderer) SetFont(font string) { r.font = font }
func (r *fakeRenderer) FillStyle(color string) { r.style = color }
func (r *fakeRenderer) FillRect(x, y, w, h float64) {
	r.ops = append(r.ops, fmt.Sprintf("rect:%s:%.0f,%.0f,%.0f,%.0f", r.style, x, y, w, h))
}
func (r *fakeRenderer) FillText(text string, x, y float64) {
	r.ops = append(r.ops, fmt.Sprintf("text:%s:%s:%.0f,%.0f", r.font, r.style, x, y))
}
func (r *fakeRenderer) DataURL() (string, error) {
	if r.failed {
		return "", errors.New("tainted canvas")
	}
	return "data:image/png;base64," + strings.Join(r.ops, "|"), nil
}

type fakeCanvas struct {
	err        error
	failDraw   bool
	panicOnNew bool
}

func (c fakeCanvas) NewRenderer(width, height int) (Renderer2D, error) {
	if c.panicOnNew {
		panic("canvas exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	return &fakeRenderer{failed: c.failDraw}, nil
}

type fakeGraphics struct {
	available bool
	vendor    string
	renderer  string
	ok        bool
	err       error
}

func (g fakeGraphics) ContextAvailable() bool { return g.available }
func (g fakeGraphics) UnmaskedVendorRenderer() (string, string, bool, error) {
	return g.vendor, g.renderer, g.ok, g.err
}

// fakeFonts reports a distinct width for installed families.
type fakeFonts struct {
	installed map[string]bool
	err       error
}

func (f fakeFonts) MeasureText(text, font string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	for name := range f.installed {
		if strings.Contains(font, "'"+name+"'") {
			return 120.5, nil
		}
	}
	return 100, nil
}

func testEnvironment() Environment {
	return Environment{
		UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		ColorDepth:   24,
		Timezone:     "America/New_York",
		Language:     "en-US",
	}
}

func testGenerator(env Environment) *Generator {
	return NewGenerator(
		env,
		fakeCanvas{},
		fakeGraphics{available: true, vendor: "NVIDIA Corporation", renderer: "GeForce GTX 1080", ok: true},
		fakeFonts{installed: map[string]bool{"Verdana": true, "Arial": true, "Menlo": true}},
	)
}

var hexDigest = regexp.MustCompile(`^[a-f0-9]{64}$`)

func TestGenerate_Deterministic(t *testing.T) {
	fp1 := testGenerator(testEnvironment()).Generate()
	fp2 := testGenerator(testEnvironment()).Generate()

	if fp1.Fingerprint != fp2.Fingerprint {
		t.Errorf("Fingerprint should be deterministic: %s != %s", fp1.Fingerprint, fp2.Fingerprint)
	}
	if !hexDigest.MatchString(fp1.Fingerprint) {
		t.Errorf("Fingerprint should be 64 hex chars, got %q", fp1.Fingerprint)
	}
	if fp1.Fingerprint != Digest(fp1.Components) {
		t.Error("Fingerprint should be the digest of its components")
	}
}

func TestGenerate_SensitiveToEachComponent(t *testing.T) {
	base := testGenerator(testEnvironment()).Generate().Fingerprint

	tests := []struct {
		name   string
		mutate func(*Environment)
	}{
		{"screen", func(e *Environment) { e.ScreenWidth = 1366 }},
		{"color depth", func(e *Environment) { e.ColorDepth = 30 }},
		{"timezone", func(e *Environment) { e.Timezone = "Europe/Berlin" }},
		{"language", func(e *Environment) { e.Language = "de-DE" }},
		{"user agent", func(e *Environment) { e.UserAgent += " Edg/120.0" }},
	}

	for _, tt := range tests {
		env := testEnvironment()
		tt.mutate(&env)
		if got := testGenerator(env).Generate().Fingerprint; got == base {
			t.Errorf("changing %s should change the fingerprint", tt.name)
		}
	}

	gpu := NewGenerator(testEnvironment(), fakeCanvas{},
		fakeGraphics{available: true, vendor: "NVIDIA Corporation", renderer: "GeForce RTX 3080", ok: true},
		fakeFonts{installed: map[string]bool{"Verdana": true, "Arial": true, "Menlo": true}},
	).Generate().Fingerprint
	if gpu == base {
		t.Error("changing the graphics adapter should change the fingerprint")
	}

	fonts := NewGenerator(testEnvironment(), fakeCanvas{},
		fakeGraphics{available: true, vendor: "NVIDIA Corporation", renderer: "GeForce GTX 1080", ok: true},
		fakeFonts{installed: map[string]bool{"Verdana": true}},
	).Generate().Fingerprint
	if fonts == base {
		t.Error("changing installed fonts should change the fingerprint")
	}
}

func TestGenerate_FontsSortedAndDetected(t *testing.T) {
	fp := testGenerator(testEnvironment()).Generate()

	want := []string{"Arial", "Menlo", "Verdana"}
	if strings.Join(fp.Components.Fonts, ",") != strings.Join(want, ",") {
		t.Errorf("Expected fonts %v, got %v", want, fp.Components.Fonts)
	}
	if fp.Components.ScreenResolution != "1920x1080" {
		t.Errorf("Expected screen resolution 1920x1080, got %s", fp.Components.ScreenResolution)
	}
	if fp.Components.WebGL != "NVIDIA Corporation~GeForce GTX 1080" {
		t.Errorf("Unexpected webgl signature %q", fp.Components.WebGL)
	}
	if !strings.HasPrefix(fp.Components.Canvas, "data:image/png;base64,") {
		t.Errorf("Unexpected canvas signature %q", fp.Components.Canvas)
	}
}

func TestGenerate_DegradesToSentinels(t *testing.T) {
	tests := []struct {
		name       string
		gen        *Generator
		wantCanvas string
		wantWebGL  string
		wantFonts  string
	}{
		{
			name:       "no capabilities",
			gen:        NewGenerator(testEnvironment(), nil, nil, nil),
			wantCanvas: SentinelCanvasUnavailable,
			wantWebGL:  SentinelWebGLUnavailable,
			wantFonts:  SentinelFontsUnavailable,
		},
		{
			name: "probe errors",
			gen: NewGenerator(testEnvironment(),
				fakeCanvas{failDraw: true},
				fakeGraphics{available: true, err: errors.New("lost context")},
				fakeFonts{err: errors.New("no layout")}),
			wantCanvas: SentinelCanvasError,
			wantWebGL:  SentinelWebGLError,
			wantFonts:  SentinelFontsUnavailable,
		},
		{
			name: "context missing and extension hidden",
			gen: NewGenerator(testEnvironment(),
				fakeCanvas{err: errors.New("no 2d context")},
				fakeGraphics{available: true, ok: false},
				fakeFonts{}),
			wantCanvas: SentinelCanvasUnavailable,
			wantWebGL:  SentinelWebGLLimited,
			wantFonts:  "",
		},
		{
			name: "panicking canvas",
			gen: NewGenerator(testEnvironment(),
				fakeCanvas{panicOnNew: true},
				fakeGraphics{available: false},
				fakeFonts{}),
			wantCanvas: SentinelCanvasError,
			wantWebGL:  SentinelWebGLUnavailable,
			wantFonts:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := tt.gen.Generate()
			if fp.Components.Canvas != tt.wantCanvas {
				t.Errorf("canvas = %q, want %q", fp.Components.Canvas, tt.wantCanvas)
			}
			if fp.Components.WebGL != tt.wantWebGL {
				t.Errorf("webgl = %q, want %q", fp.Components.WebGL, tt.wantWebGL)
			}
			if got := strings.Join(fp.Components.Fonts, ","); got != tt.wantFonts {
				t.Errorf("fonts = %q, want %q", got, tt.wantFonts)
			}
			if !hexDigest.MatchString(fp.Fingerprint) {
				t.Errorf("degraded inputs should still produce a digest, got %q", fp.Fingerprint)
			}
		})
	}
}

func TestGenerate_EmptyEnvironmentUsesUnknown(t *testing.T) {
	fp := NewGenerator(Environment{}, nil, nil, nil).Generate()
	if fp.Components.UserAgent != SentinelUnknown || fp.Components.Timezone != SentinelUnknown {
		t.Errorf("Expected unknown sentinels, got %+v", fp.Components)
	}
}

func BenchmarkGenerate(b *testing.B) {
	gen := testGenerator(testEnvironment())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gen.Generate()
	}
}
