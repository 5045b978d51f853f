// Package template implements the §4.4 Render Template: given a cached
// bundle and a request's rendering inputs, produce the bytes of the HTML
// page that hosts exactly one chart pinned to #container, wrapped in
// #chart-container.
package template

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"text/template"

	"chartexport/internal/cache"
)

// Input is the minimal, decoupled set of fields the template needs. Defined
// here rather than importing export.RenderRequest to avoid a package cycle
// (export depends on template, not the reverse); export.Engine populates an
// Input from its RenderRequest before calling Render.
type Input struct {
	Constructor       string
	ChartOptionsJSON  string // raw JSON object text, e.g. `{"chart":{"type":"column"}}`
	GlobalOptionsJSON string // raw JSON object text, or "" if absent
	ThemeOptionsJSON  string // raw JSON object text, or "" if absent
	Callback          string // raw JS function expression, or ""
	CustomCode        string // raw JS statements, or ""
	ContainerWidth    int    // 0 means size via viewport after load
	ContainerHeight   int
}

// templateData is the text/template-facing view of Input plus the bundle.
type templateData struct {
	BundleSource      string
	Constructor       string
	ChartOptionsJSON  string
	GlobalOptionsJSON string
	ThemeOptionsJSON  string
	Callback          string
	CustomCode        string
	HasExplicitSize   bool
	ContainerWidth    int
	ContainerHeight   int
}

const pageSource = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
html, body { margin: 0; padding: 0; background: #ffffff; }
#chart-container { {{if .HasExplicitSize}}width: {{.ContainerWidth}}px; height: {{.ContainerHeight}}px;{{end}} }
</style>
</head>
<body>
<div id="chart-container"><div id="container"></div></div>
<script>{{.BundleSource}}</script>
<script>
window.isRenderComplete = false;
(function() {
  var priorGlobalOptions = null;
  if (window.Highcharts && Highcharts.getOptions) {
    priorGlobalOptions = JSON.parse(JSON.stringify(Highcharts.getOptions()));
  }

  var origInit = Highcharts.Chart.prototype.init;
  Highcharts.Chart.prototype.init = function(userOptions, callback) {
    userOptions = userOptions || {};
    userOptions.chart = userOptions.chart || {};
    userOptions.chart.animation = false;
    userOptions.plotOptions = userOptions.plotOptions || {};
    userOptions.plotOptions.series = userOptions.plotOptions.series || {};
    userOptions.plotOptions.series.animation = false;
    return origInit.call(this, userOptions, callback);
  };

  {{if .ThemeOptionsJSON}}
  if (window.Highcharts && Highcharts.setOptions) {
    Highcharts.setOptions({{.ThemeOptionsJSON}});
  }
  {{end}}
  {{if .GlobalOptionsJSON}}
  if (window.Highcharts && Highcharts.setOptions) {
    Highcharts.setOptions({{.GlobalOptionsJSON}});
  }
  {{end}}

  {{if .CustomCode}}
  (function(options) {
    {{.CustomCode}}
  })({{.ChartOptionsJSON}});
  {{end}}

  var chartOptions = {{.ChartOptionsJSON}};
  var postRenderCallback = {{if .Callback}}({{.Callback}}){{else}}undefined{{end}};

  var chart = new Highcharts[{{printf "%q" .Constructor}}]('container', chartOptions, postRenderCallback);
  window.isRenderComplete = true;

  if (window.Highcharts && Highcharts.setOptions && priorGlobalOptions) {
    Highcharts.setOptions(priorGlobalOptions);
  }
})();
</script>
</body>
</html>`

var pageTmpl = template.Must(template.New("chart-export-page").Parse(pageSource))

// Render produces the page shell for the given bundle and input. It is a
// deterministic function of (bundle.SHA, request hash): identical inputs
// always render to byte-identical HTML, the property the §4.4 contract and
// the §8 idempotence test depend on.
func Render(bundle *cache.Bundle, in Input) ([]byte, error) {
	if bundle == nil {
		return nil, fmt.Errorf("template: nil bundle")
	}

	constructor := in.Constructor
	if constructor == "" {
		constructor = "Chart"
	}

	data := templateData{
		BundleSource:      bundle.SourceText,
		Constructor:       constructor,
		ChartOptionsJSON:  nonEmptyJSON(in.ChartOptionsJSON),
		GlobalOptionsJSON: in.GlobalOptionsJSON,
		ThemeOptionsJSON:  in.ThemeOptionsJSON,
		Callback:          in.Callback,
		CustomCode:        in.CustomCode,
		HasExplicitSize:   in.ContainerWidth > 0 && in.ContainerHeight > 0,
		ContainerWidth:    in.ContainerWidth,
		ContainerHeight:   in.ContainerHeight,
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template: render failed: %w", err)
	}
	return buf.Bytes(), nil
}

func nonEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// Hash is an FNV-1a fingerprint of the canonicalized request fields feeding
// the template, used to reason about the §4.4 determinism contract (e.g. in
// logs/caching) without re-hashing the full rendered HTML.
func Hash(in Input) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d|%d",
		in.Constructor, in.ChartOptionsJSON, in.GlobalOptionsJSON, in.ThemeOptionsJSON,
		in.Callback, in.CustomCode, in.ContainerWidth, in.ContainerHeight)
	return fmt.Sprintf("%x", h.Sum64())
}
