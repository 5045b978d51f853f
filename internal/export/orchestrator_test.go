package export

import (
	"context"
	"testing"

	"chartexport/internal/config"
)

func testOrchestratorConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "chartexport-test", Version: "0.0.0-test"},
		Pool: config.PoolConfig{
			Min:       0,
			Max:       2,
			WorkLimit: 10,
			QueueSize: 1,
		},
		Cache:  config.CacheConfig{Origin: "https://example.invalid"},
		Policy: config.PolicyConfig{AllowCodeExecution: false, AllowFileResources: false},
	}
}

func TestOrchestrator_HealthBeforeInit(t *testing.T) {
	o := NewOrchestrator(testOrchestratorConfig(), nil)
	report := o.Health()
	if report.Status != "ok" {
		t.Fatalf("expected status ok, got %q", report.Status)
	}
	if report.AttemptedExports != 0 || report.PerformedExports != 0 {
		t.Fatalf("expected zeroed counters before any export, got %+v", report)
	}
}

func TestOrchestrator_BatchExportSVGEcho(t *testing.T) {
	o := NewOrchestrator(testOrchestratorConfig(), nil)

	items := []BatchItem{
		{Label: "a", Request: &RenderRequest{RequestID: "a", SVGDocument: "<svg>a</svg>", OutputFormat: FormatSVG}},
		{Label: "b", Request: &RenderRequest{RequestID: "b", SVGDocument: "<svg>b</svg>", OutputFormat: FormatSVG}},
		{Label: "c", Request: &RenderRequest{RequestID: "c", SVGDocument: "<svg>c</svg>", OutputFormat: FormatSVG}},
	}

	results := o.BatchExport(context.Background(), items)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d (%s): unexpected error: %v", i, r.Label, r.Err)
		}
		if r.Label != items[i].Label {
			t.Fatalf("expected result %d to preserve label %q, got %q", i, items[i].Label, r.Label)
		}
		if string(r.Artifact.Bytes) != items[i].Request.SVGDocument {
			t.Fatalf("expected echoed SVG for %q, got %q", r.Label, r.Artifact.Bytes)
		}
	}

	report := o.Health()
	if report.AttemptedExports != 3 || report.PerformedExports != 3 {
		t.Fatalf("expected 3 attempted and 3 performed exports, got %+v", report)
	}
}

func TestOrchestrator_BatchExportPartialFailureIsolated(t *testing.T) {
	o := NewOrchestrator(testOrchestratorConfig(), nil)

	items := []BatchItem{
		{Label: "good", Request: &RenderRequest{RequestID: "good", SVGDocument: "<svg/>", OutputFormat: FormatSVG}},
		{Label: "bad", Request: &RenderRequest{
			RequestID:    "bad",
			ChartOptions: []byte(`{"chart":{}}`),
			Callback:     "function(){}",
			OutputFormat: FormatPNG,
		}},
	}

	results := o.BatchExport(context.Background(), items)
	if results[0].Err != nil {
		t.Fatalf("expected the SVG echo item to succeed, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("expected the code-execution item to fail the policy gate")
	}
}

func TestOrchestrator_Shutdown(t *testing.T) {
	o := NewOrchestrator(testOrchestratorConfig(), nil)
	// Shutdown must be safe to call even without a prior InitExport; it only
	// stops timers (none registered yet) and tears down the (empty) pool.
	o.Shutdown(context.Background())
}
