package httpapi

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"chartexport/internal/config"
	"chartexport/internal/export"
)

// maxMultipartMemory bounds the in-memory portion of a parsed multipart
// form; larger file parts spill to temp files via net/http's own handling.
const maxMultipartMemory = 32 << 20

// wireRequest is the flattened view of the §6 `POST /` fields, independent
// of whether they arrived as a JSON body or a multipart form.
type wireRequest struct {
	chartOptions  json.RawMessage
	svg           string
	typ           string
	constr        string
	scale         string
	globalOptions json.RawMessage
	themeOptions  json.RawMessage
	callback      string
	customCode    string
	resources     string
	b64           string
	noDownload    string
}

// decodeWireRequest reads the request body per its Content-Type, recognizing
// both a JSON document and a multipart form, §6 `POST /`.
func decodeWireRequest(r *http.Request) (*wireRequest, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return decodeMultipartWireRequest(r)
	default:
		return decodeJSONWireRequest(r)
	}
}

func decodeJSONWireRequest(r *http.Request) (*wireRequest, error) {
	var doc map[string]json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	w := &wireRequest{}
	w.chartOptions = firstRaw(doc, "infile", "instr", "options", "data")
	w.svg = rawString(doc["svg"])
	w.typ = rawString(doc["type"])
	w.constr = rawString(doc["constr"])
	w.scale = rawString(doc["scale"])
	w.globalOptions = doc["globalOptions"]
	w.themeOptions = doc["themeOptions"]
	w.callback = rawString(doc["callback"])
	w.customCode = rawString(doc["customCode"])
	w.resources = rawString(doc["resources"])
	w.b64 = rawString(doc["b64"])
	w.noDownload = rawString(doc["noDownload"])
	return w, nil
}

func decodeMultipartWireRequest(r *http.Request) (*wireRequest, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	w := &wireRequest{}
	if v := firstForm(r, "infile", "instr", "options", "data"); v != "" {
		w.chartOptions = json.RawMessage(v)
	}
	w.svg = r.FormValue("svg")
	w.typ = r.FormValue("type")
	w.constr = r.FormValue("constr")
	w.scale = r.FormValue("scale")
	if v := r.FormValue("globalOptions"); v != "" {
		w.globalOptions = json.RawMessage(v)
	}
	if v := r.FormValue("themeOptions"); v != "" {
		w.themeOptions = json.RawMessage(v)
	}
	w.callback = r.FormValue("callback")
	w.customCode = r.FormValue("customCode")
	w.resources = r.FormValue("resources")
	w.b64 = r.FormValue("b64")
	w.noDownload = r.FormValue("noDownload")
	return w, nil
}

func firstRaw(doc map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if raw, ok := doc[k]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw
		}
	}
	return nil
}

func firstForm(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := r.FormValue(k); v != "" {
			return v
		}
	}
	return ""
}

// rawString unquotes a JSON string value, tolerating it being absent or
// already a bare scalar (numbers/bools come through as their literal text).
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// buildRenderRequest translates the wire-level fields into the engine's
// RenderRequest, applying the §4.5 defaults and the service's policy gate
// inputs (the gate itself runs inside the engine).
func buildRenderRequest(w *wireRequest, policy config.PolicyConfig) (*export.RenderRequest, error) {
	chartOptions := w.chartOptions
	if export.IsLegacyOptions(chartOptions) {
		if migrated, err := export.MigrateLegacyOptions(chartOptions); err == nil {
			chartOptions = migrated
		}
	}

	req := &export.RenderRequest{
		ChartOptions:       chartOptions,
		SVGDocument:        w.svg,
		GlobalOptions:      w.globalOptions,
		ThemeOptions:       w.themeOptions,
		Callback:           w.callback,
		CustomCode:         w.customCode,
		Resources:          w.resources,
		AllowCodeExecution: policy.AllowCodeExecution,
		AllowFileResources: policy.AllowFileResources,
	}

	format := w.typ
	if format == "" {
		if w.svg != "" {
			format = "svg"
		} else {
			format = "png"
		}
	}
	outputFormat, err := export.ParseOutputFormat(format)
	if err != nil {
		return nil, err
	}
	req.OutputFormat = outputFormat

	constr := w.constr
	if constr == "" {
		constr = "chart"
	}
	constructor, err := export.ParseConstructor(constr)
	if err != nil {
		return nil, err
	}
	req.Constructor = constructor

	if w.scale != "" {
		scale, err := strconv.ParseFloat(w.scale, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid scale %q: %w", w.scale, err)
		}
		req.Scale = scale
	}

	// width/height aren't top-level wire fields (§6); derive a sizing hint
	// from the chart options so the template can apply explicit CSS sizing.
	req.Width, req.Height = chartDimensionHint(w.chartOptions)

	return req, nil
}

// chartDimensionHint extracts chart.width/chart.height from the options
// document, if present, for the template's explicit-size CSS path.
func chartDimensionHint(raw json.RawMessage) (width, height int) {
	if len(raw) == 0 {
		return 0, 0
	}
	var doc struct {
		Chart struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, 0
	}
	return doc.Chart.Width, doc.Chart.Height
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
