package fingerprint

// Renderer2D is an offscreen 2D drawing surface.
type Renderer2D interface {
	SetFont(font string)
	FillStyle(color string)
	FillRect(x, y, width, height float64)
	FillText(text string, x, y float64)
	// DataURL serializes the pixel buffer, e.g. "data:image/png;base64,...".
	DataURL() (string, error)
}

// CanvasFactory creates offscreen renderers.
type CanvasFactory interface {
	NewRenderer(width, height int) (Renderer2D, error)
}

// GraphicsAdapterInfo exposes the graphics context and its debug extension.
type GraphicsAdapterInfo interface {
	// ContextAvailable reports whether a graphics context could be created.
	ContextAvailable() bool
	// UnmaskedVendorRenderer returns the unmasked vendor and renderer strings.
	// ok is false when the debug extension is not exposed.
	UnmaskedVendorRenderer() (vendor, renderer string, ok bool, err error)
}

// FontProbe measures the rendered width of text in a CSS font.
type FontProbe interface {
	MeasureText(text, font string) (float64, error)
}

// Environment holds the attributes read directly from the runtime.
type Environment struct {
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	ColorDepth   int
	Timezone     string
	Language     string
}

const (
	SentinelCanvasUnavailable = "canvas-unavailable"
	SentinelCanvasError       = "canvas-error"
	SentinelWebGLUnavailable  = "webgl-unavailable"
	SentinelWebGLLimited      = "webgl-limited"
	SentinelWebGLError        = "webgl-error"
	SentinelFontsUnavailable  = "fonts-unavailable"
	SentinelUnknown           = "unknown"
)

// DefaultCandidateFonts is the list probed when no list is configured.
var DefaultCandidateFonts = []string{
	"Arial", "Arial Black", "Calibri", "Cambria", "Comic Sans MS", "Consolas",
	"Courier New", "Georgia", "Helvetica", "Impact", "Lucida Console",
	"Lucida Grande", "Menlo", "Monaco", "Palatino", "Segoe UI", "Tahoma",
	"Times New Roman", "Trebuchet MS", "Ubuntu", "Verdana",
}
