package export

import (
	"encoding/json"
	"testing"
)

func TestIsLegacyOptions(t *testing.T) {
	if !IsLegacyOptions(json.RawMessage(`{"xAxis.title.text":"Time"}`)) {
		t.Fatalf("expected a dotted top-level key to be detected as legacy")
	}
	if IsLegacyOptions(json.RawMessage(`{"xAxis":{"title":{"text":"Time"}}}`)) {
		t.Fatalf("did not expect an already-nested document to be detected as legacy")
	}
}

func TestMigrateLegacyOptions(t *testing.T) {
	legacy := json.RawMessage(`{"xAxis.title.text":"Time","chart.type":"column"}`)
	migrated, err := MigrateLegacyOptions(legacy)
	if err != nil {
		t.Fatalf("MigrateLegacyOptions: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(migrated, &got); err != nil {
		t.Fatalf("unmarshal migrated: %v", err)
	}

	xAxis, ok := got["xAxis"].(map[string]any)
	if !ok {
		t.Fatalf("expected xAxis to be a nested object, got %T", got["xAxis"])
	}
	title, ok := xAxis["title"].(map[string]any)
	if !ok {
		t.Fatalf("expected xAxis.title to be a nested object, got %T", xAxis["title"])
	}
	if title["text"] != "Time" {
		t.Fatalf("expected xAxis.title.text = Time, got %v", title["text"])
	}

	chart, ok := got["chart"].(map[string]any)
	if !ok || chart["type"] != "column" {
		t.Fatalf("expected chart.type = column, got %v", got["chart"])
	}
}
