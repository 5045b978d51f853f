// Package export implements the §4.5 Export Engine and Export Orchestrator:
// the per-request pipeline that resolves an input to a concrete rasterizable
// artifact, and the public Export/BatchExport/InitExport/Shutdown surface.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputFormat is the requested artifact encoding, §3 RenderRequest.outputFormat.
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatPDF  OutputFormat = "pdf"
	FormatSVG  OutputFormat = "svg"
)

// ParseOutputFormat accepts the §6 HTTP "type" values, including the "jpg"
// alias for jpeg.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "pdf":
		return FormatPDF, nil
	case "svg":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("export: unrecognized output format %q", s)
	}
}

// MIME returns the Content-Type for the format.
func (f OutputFormat) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the output filename extension for the format, §9 Design
// Notes: "the extension is a pure function of outputFormat... keep the
// mapping in one place."
func (f OutputFormat) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	case FormatPDF:
		return ".pdf"
	case FormatSVG:
		return ".svg"
	default:
		return ""
	}
}

// Constructor selects which charting-library entry point builds the chart,
// §3 RenderRequest.constructor.
type Constructor string

const (
	ConstructorChart      Constructor = "Chart"
	ConstructorStockChart Constructor = "StockChart"
	ConstructorMapChart   Constructor = "MapChart"
	ConstructorGanttChart Constructor = "GanttChart"
)

// ParseConstructor accepts the §6 HTTP "constr" values (lowerCamelCase) and
// maps them onto the library's PascalCase entry points.
func ParseConstructor(s string) (Constructor, error) {
	switch strings.ToLower(s) {
	case "", "chart":
		return ConstructorChart, nil
	case "stockchart":
		return ConstructorStockChart, nil
	case "mapchart":
		return ConstructorMapChart, nil
	case "ganttchart":
		return ConstructorGanttChart, nil
	default:
		return "", fmt.Errorf("export: unrecognized constructor %q", s)
	}
}

// RenderRequest is the normalized request, §3.
type RenderRequest struct {
	RequestID string

	ChartOptions json.RawMessage // opaque tree, preserved verbatim; set when kind = ChartConfig
	SVGDocument  string          // set when kind = InlineSvg

	OutputFormat OutputFormat
	Constructor  Constructor

	Width, Height int     // optional positive numbers; 0 means unset
	Scale         float64 // clamped to [0.1, 5.0]; 0 means unset (defaults to 1)

	GlobalOptions json.RawMessage
	ThemeOptions  json.RawMessage

	Callback   string
	CustomCode string
	Resources  string

	AllowCodeExecution bool
	AllowFileResources bool
}

// Kind is the §3 RenderRequest.kind discriminant.
type Kind string

const (
	KindChartConfig Kind = "chartConfig"
	KindInlineSVG   Kind = "inlineSvg"
)

// EffectiveKind resolves which of ChartOptions/SVGDocument governs the
// request, §4.5 step 1: "choose ChartConfig vs InlineSvg. If both,
// ChartConfig wins."
func (r *RenderRequest) EffectiveKind() Kind {
	if len(r.ChartOptions) > 0 {
		return KindChartConfig
	}
	if r.SVGDocument != "" {
		return KindInlineSVG
	}
	return KindChartConfig
}

// EffectiveScale clamps Scale to [0.1, 5.0], defaulting unset (0) to 1.
func (r *RenderRequest) EffectiveScale() float64 {
	s := r.Scale
	if s == 0 {
		s = 1
	}
	if s < 0.1 {
		s = 0.1
	}
	if s > 5.0 {
		s = 5.0
	}
	return s
}

// requiresCodeExecution reports whether the request carries any field that
// must execute as JavaScript inside the page context, §4.5 step 2.
func (r *RenderRequest) requiresCodeExecution() bool {
	return r.Callback != "" || r.CustomCode != "" || resourcesContainJS(r.Resources)
}

// resourcesContainJS is a deliberately coarse heuristic: the resources
// bundle is a free-form CSS/JS/files blob (§3); anything that looks like a
// <script> tag or a bare .js reference counts as code, forcing the policy
// gate rather than trying to fully parse the bundle.
func resourcesContainJS(resources string) bool {
	if resources == "" {
		return false
	}
	lower := strings.ToLower(resources)
	return strings.Contains(lower, "<script") || strings.Contains(lower, ".js")
}

// namesFilesystemPath is a coarse heuristic for §4.5 step 2's "any field
// that names a filesystem path": absolute paths, parent traversal, and the
// file:// scheme.
func namesFilesystemPath(fields ...string) bool {
	for _, f := range fields {
		if f == "" {
			continue
		}
		if strings.Contains(f, "../") || strings.HasPrefix(f, "file://") {
			return true
		}
		if strings.HasPrefix(f, "/") && !strings.HasPrefix(f, "//") {
			return true
		}
	}
	return false
}

// Artifact is the §3 response payload.
type Artifact struct {
	Bytes     []byte
	MIME      string
	Format    OutputFormat
	RequestID string
}
