package export

import (
	"encoding/json"
	"strings"
)

// IsLegacyOptions reports whether raw looks like the legacy flat option
// layout: a JSON object whose top-level keys are dotted paths (e.g.
// "xAxis.title.text") rather than nested objects, §9 Open Question 2.
func IsLegacyOptions(raw json.RawMessage) bool {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return false
	}
	for k := range flat {
		if strings.Contains(k, ".") {
			return true
		}
	}
	return false
}

// MigrateLegacyOptions performs a best-effort, one-shot transform of the
// legacy flat key layout into the nested layout the charting library and
// the rest of the pipeline assume. Per §9 Open Question 2, this does not
// guarantee round-trip preservation: a value already present under a
// dotted-key prefix that collides with a nested object populated by another
// key is overwritten by whichever key is visited last (Go map iteration
// order, effectively unspecified).
func MigrateLegacyOptions(raw json.RawMessage) (json.RawMessage, error) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return raw, err
	}

	nested := map[string]any{}
	for k, v := range flat {
		insertNested(nested, strings.Split(k, "."), v)
	}

	return json.Marshal(nested)
}

func insertNested(dst map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		dst[parts[0]] = value
		return
	}
	child, ok := dst[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		dst[parts[0]] = child
	}
	insertNested(child, parts[1:], value)
}
