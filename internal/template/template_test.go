package template

import (
	"strings"
	"testing"

	"chartexport/internal/cache"
)

func TestRender_Deterministic(t *testing.T) {
	bundle := &cache.Bundle{SHA: "abc", SourceText: "/* highcharts */"}
	in := Input{Constructor: "Chart", ChartOptionsJSON: `{"chart":{"type":"column"}}`}

	a, err := Render(bundle, in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render(bundle, in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical inputs to render byte-identical HTML")
	}
}

func TestRender_ContainsContainerIDs(t *testing.T) {
	bundle := &cache.Bundle{SHA: "abc", SourceText: "/* highcharts */"}
	html, err := Render(bundle, Input{ChartOptionsJSON: `{}`})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	s := string(html)
	if !strings.Contains(s, `id="chart-container"`) || !strings.Contains(s, `id="container"`) {
		t.Fatalf("expected both container ids present in rendered HTML")
	}
}

func TestRender_ExplicitSizeAppliesCSS(t *testing.T) {
	bundle := &cache.Bundle{SHA: "abc", SourceText: ""}
	html, err := Render(bundle, Input{ChartOptionsJSON: `{}`, ContainerWidth: 600, ContainerHeight: 400})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(html), "width: 600px") {
		t.Fatalf("expected explicit width in CSS when ContainerWidth/Height are set")
	}
}

func TestRender_NoExplicitSizeOmitsCSS(t *testing.T) {
	bundle := &cache.Bundle{SHA: "abc", SourceText: ""}
	html, err := Render(bundle, Input{ChartOptionsJSON: `{}`})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(string(html), "width:") {
		t.Fatalf("expected no explicit CSS sizing when container dimensions are unset")
	}
}

func TestHash_DiffersOnOptionsChange(t *testing.T) {
	a := Hash(Input{ChartOptionsJSON: `{"a":1}`})
	b := Hash(Input{ChartOptionsJSON: `{"a":2}`})
	if a == b {
		t.Fatalf("expected different chart options to produce different hashes")
	}
}

func TestHash_Stable(t *testing.T) {
	in := Input{Constructor: "StockChart", ChartOptionsJSON: `{"a":1}`}
	if Hash(in) != Hash(in) {
		t.Fatalf("expected Hash to be stable for identical input")
	}
}
