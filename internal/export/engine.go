package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"chartexport/internal/apperror"
	"chartexport/internal/cache"
	"chartexport/internal/chrome"
	"chartexport/internal/config"
	"chartexport/internal/logging"
	"chartexport/internal/pool"
	"chartexport/internal/template"
)

// Engine executes one export end-to-end, §4.5.
type Engine struct {
	pool    *pool.Pool
	cache   *cache.Cache
	policy  config.PolicyConfig
	timeout config.PoolConfig
	stats   *Stats
	metrics *Metrics
	log     *logging.Logger
}

// NewEngine constructs an Engine wired to the given pool, cache, and policy.
func NewEngine(p *pool.Pool, c *cache.Cache, policy config.PolicyConfig, timeout config.PoolConfig, stats *Stats, metrics *Metrics, log *logging.Logger) *Engine {
	return &Engine{pool: p, cache: c, policy: policy, timeout: timeout, stats: stats, metrics: metrics, log: log}
}

// Export runs the full pipeline: classify, policy gate, short-circuit SVG
// echo, acquire, load, measure, viewport, rasterize, encode, release.
func (e *Engine) Export(ctx context.Context, req *RenderRequest) (*Artifact, error) {
	span, ctx := tracer.StartSpanFromContext(ctx, "export.Export")
	span.SetTag("request_id", req.RequestID)
	span.SetTag("output_format", string(req.OutputFormat))
	defer span.Finish()

	start := time.Now()
	e.stats.RecordAttempt()
	if e.metrics != nil {
		e.metrics.RecordAttempt(string(req.OutputFormat))
	}

	artifact, err := e.export(ctx, req)
	if err != nil {
		span.SetTag("error", err.Error())
		e.stats.RecordFailure()
		if e.metrics != nil {
			e.metrics.RecordFailure(string(req.OutputFormat), string(apperror.Code(err)))
		}
		if e.log != nil {
			e.log.WithRequestID(req.RequestID).Error("export failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		}
		return nil, err
	}

	e.stats.RecordSuccess(time.Since(start))
	if e.metrics != nil {
		e.metrics.RecordSuccess(string(req.OutputFormat), time.Since(start))
	}
	if e.log != nil {
		e.log.WithRequestID(req.RequestID).Notice("export completed", "duration_ms", time.Since(start).Milliseconds())
	}
	return artifact, nil
}

func (e *Engine) export(ctx context.Context, req *RenderRequest) (*Artifact, error) {
	// Step 1: classify.
	kind := req.EffectiveKind()

	// Step 2: policy gate.
	if kind == KindChartConfig {
		if req.requiresCodeExecution() && !req.AllowCodeExecution {
			return nil, apperror.NewWithField(apperror.CodeCodeExecutionForbidden,
				"request carries callback/customCode/resources but code execution is disabled", "callback").
				WithRequestID(req.RequestID)
		}
		if namesFilesystemPath(req.Resources, req.CustomCode, req.Callback) && !req.AllowFileResources {
			return nil, apperror.NewWithField(apperror.CodeFileResourceForbidden,
				"request names a filesystem path but file resources are disabled", "resources").
				WithRequestID(req.RequestID)
		}
	}

	// Step 3: short-circuit SVG echo.
	if kind == KindInlineSVG && req.OutputFormat == FormatSVG {
		return &Artifact{
			Bytes:     []byte(req.SVGDocument),
			MIME:      FormatSVG.MIME(),
			Format:    FormatSVG,
			RequestID: req.RequestID,
		}, nil
	}

	if kind == KindInlineSVG {
		// An InlineSvg request targeting a raster/PDF format still needs a
		// worker: the document is hosted in the template and rasterized
		// like any other DOM region.
		return e.renderInlineSVG(ctx, req)
	}

	return e.renderChart(ctx, req)
}

func (e *Engine) renderChart(ctx context.Context, req *RenderRequest) (*Artifact, error) {
	deadline := e.timeout.AcquireTimeout + e.timeout.RasterizationTimeout
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	acquireCtx, acquireCancel := context.WithTimeout(jobCtx, e.timeout.AcquireTimeout)
	worker, err := e.pool.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return nil, wrapAcquireErr(err).WithRequestID(req.RequestID)
	}

	outcome := pool.OutcomeOK
	defer func() { e.pool.Release(worker, outcome) }()

	pageCtx := worker.Page.Context()

	in := template.Input{
		Constructor:       string(req.Constructor),
		ChartOptionsJSON:  string(req.ChartOptions),
		GlobalOptionsJSON: string(req.GlobalOptions),
		ThemeOptionsJSON:  string(req.ThemeOptions),
		ContainerWidth:    req.Width,
		ContainerHeight:   req.Height,
	}
	if req.AllowCodeExecution {
		in.Callback = req.Callback
		in.CustomCode = req.CustomCode
	}

	bundle := e.cache.Get()
	html, err := template.Render(bundle, in)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeRasterizeFailed, "failed to render page template").WithRequestID(req.RequestID)
	}

	if err := chrome.LoadTemplate(pageCtx, string(html), e.timeout.RasterizationTimeout); err != nil {
		outcome = classifyFault(err)
		return nil, renderLoadError(err).WithRequestID(req.RequestID)
	}

	return e.measureAndRasterize(pageCtx, req, &outcome)
}

func (e *Engine) renderInlineSVG(ctx context.Context, req *RenderRequest) (*Artifact, error) {
	deadline := e.timeout.AcquireTimeout + e.timeout.RasterizationTimeout
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	acquireCtx, acquireCancel := context.WithTimeout(jobCtx, e.timeout.AcquireTimeout)
	worker, err := e.pool.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return nil, wrapAcquireErr(err).WithRequestID(req.RequestID)
	}

	outcome := pool.OutcomeOK
	defer func() { e.pool.Release(worker, outcome) }()

	pageCtx := worker.Page.Context()

	html := fmt.Sprintf(`<!DOCTYPE html><html><body style="margin:0"><div id="chart-container">%s</div></body></html>`, req.SVGDocument)
	if err := chrome.LoadTemplate(pageCtx, html, e.timeout.RasterizationTimeout); err != nil {
		outcome = classifyFault(err)
		return nil, renderLoadError(err).WithRequestID(req.RequestID)
	}

	return e.measureAndRasterize(pageCtx, req, &outcome)
}

func (e *Engine) measureAndRasterize(pageCtx context.Context, req *RenderRequest, outcome *pool.Outcome) (*Artifact, error) {
	// Step 6: measure.
	rect, err := chrome.Measure(pageCtx)
	if err != nil {
		*outcome = classifyFault(err)
		return nil, apperror.Wrap(err, apperror.CodeRasterizeFailed, "failed to measure chart container").WithRequestID(req.RequestID)
	}
	height := chrome.EffectiveHeight(rect.Width, rect.RawHeight)

	// Step 7: viewport.
	scale := req.EffectiveScale()
	if err := chrome.SetViewport(pageCtx, int(rect.Width), height, scale); err != nil {
		*outcome = classifyFault(err)
		return nil, apperror.Wrap(err, apperror.CodeRasterizeFailed, "failed to set viewport").WithRequestID(req.RequestID)
	}

	// Step 8+9: rasterize and encode.
	var bytes []byte
	switch req.OutputFormat {
	case FormatPNG:
		bytes, err = chrome.Screenshot(pageCtx, rect.X, rect.Y, rect.Width, float64(height), false, 0)
	case FormatJPEG:
		bytes, err = chrome.Screenshot(pageCtx, rect.X, rect.Y, rect.Width, float64(height), true, 90)
	case FormatPDF:
		bytes, err = chrome.PDF(pageCtx, rect.Width, float64(height))
	case FormatSVG:
		var svg string
		svg, err = chrome.ExtractSVG(pageCtx)
		bytes = []byte(svg)
	default:
		return nil, apperror.New(apperror.CodeConfigInvalid, fmt.Sprintf("unsupported output format %q", req.OutputFormat)).
			WithRequestID(req.RequestID).WithDetails("format", string(req.OutputFormat))
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeOutputEncodeFailed, "failed to rasterize chart").
			WithRequestID(req.RequestID).WithSeverity(apperror.SeverityCritical).WithDetails("format", string(req.OutputFormat))
	}

	return &Artifact{
		Bytes:     bytes,
		MIME:      req.OutputFormat.MIME(),
		Format:    req.OutputFormat,
		RequestID: req.RequestID,
	}, nil
}

// wrapAcquireErr maps a pool.Acquire error onto the apperror taxonomy,
// preserving apperror.Error values that already carry the right code.
func wrapAcquireErr(err error) *apperror.Error {
	if ae, ok := err.(*apperror.Error); ok {
		return ae
	}
	if err == context.DeadlineExceeded {
		return apperror.Wrap(err, apperror.CodeAcquireTimeout, "timed out waiting for a worker")
	}
	return apperror.Wrap(err, apperror.CodeAcquireTimeout, "failed to acquire a worker")
}

// renderLoadError maps a template-load failure onto RenderTimeout when it
// looks like a deadline was exceeded, or RasterizeFailed otherwise.
// errors.Is is used rather than string-matching or `==` so the check still
// works through chrome.LoadTemplate's %w wrapping, including the case where
// a synchronous customCode infinite loop blocks Navigate itself rather than
// the render-complete poll loop, per spec §8 scenario 4.
func renderLoadError(err error) *apperror.Error {
	if errors.Is(err, chrome.ErrRenderTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(err, apperror.CodeRenderTimeout, "rendering exceeded the rasterization deadline")
	}
	return apperror.Wrap(err, apperror.CodeRasterizeFailed, "failed to load render template")
}

// classifyFault distinguishes a page-level fault (navigation crash,
// uncaught page error, or a hung render past the deadline) — which recycles
// the worker — from an ordinary render failure, per §4.3 "Failure
// semantics". A deadline is a fault too: the page's customCode may still be
// spinning in the still-open tab, so the worker must not go back to Idle.
func classifyFault(err error) pool.Outcome {
	if errors.Is(err, chrome.ErrRenderTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return pool.OutcomeFault
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "websocket") {
		return pool.OutcomeFault
	}
	return pool.OutcomeOK
}
