// Package chrome implements the per-page rendering primitives shared by the
// worker pool (bundle installation at worker creation) and the export
// engine (template load, measurement, and rasterization), §4.2-§4.5.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"chartexport/internal/cache"
)

// renderPollInterval is the §4.5 step 5 poll period for the page-side
// isRenderComplete flag.
const renderPollInterval = 10 * time.Millisecond

// ErrRenderTimeout marks every path in LoadTemplate where the render
// deadline expired, whether the page never fired its load event (navigation
// blocked on a synchronous customCode infinite loop) or isRenderComplete
// never flipped true. Engine callers match on this with errors.Is rather
// than string-matching, since it survives %w wrapping.
var ErrRenderTimeout = errors.New("chrome: render did not complete within the rasterization deadline")

// SetupChartingLibrary installs the cached bundle into a freshly created
// page, run once per worker at creation per §4.3 Init.
func SetupChartingLibrary(ctx context.Context, bundle *cache.Bundle) error {
	if bundle == nil {
		return fmt.Errorf("chrome: nil bundle")
	}
	if err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(bundle.SourceText, nil),
	); err != nil {
		return fmt.Errorf("chrome: failed to install charting library: %w", err)
	}
	return nil
}

// LoadTemplate navigates the page to the rendered HTML document (via a
// data: URI, so no external HTTP server is needed) and polls the page-side
// isRenderComplete flag at 10ms intervals up to timeout, §4.5 step 5.
func LoadTemplate(ctx context.Context, html string, timeout time.Duration) error {
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dataURL := "data:text/html;charset=utf-8," + url.PathEscape(html)
	if err := chromedp.Run(loadCtx, chromedp.Navigate(dataURL)); err != nil {
		// A synchronous customCode infinite loop (spec §8 scenario 4) blocks
		// Navigate on the page's load-event CDP signal until loadCtx expires,
		// so this branch — not the ticker loop below — is what actually
		// observes the deadline in that case. Preserve the same timeout
		// marker here instead of bare-wrapping the raw navigate error, so
		// callers can still tell a hang from a genuine navigation failure.
		if loadCtx.Err() != nil {
			return fmt.Errorf("chrome: render did not complete within %s: %w", timeout, ErrRenderTimeout)
		}
		return fmt.Errorf("chrome: navigation failed: %w", err)
	}

	ticker := time.NewTicker(renderPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-loadCtx.Done():
			return fmt.Errorf("chrome: render did not complete within %s: %w", timeout, ErrRenderTimeout)
		case <-ticker.C:
			var complete bool
			if err := chromedp.Run(loadCtx, chromedp.Evaluate(`window.isRenderComplete === true`, &complete)); err != nil {
				return fmt.Errorf("chrome: render-complete poll failed: %w", err)
			}
			if complete {
				return nil
			}
		}
	}
}

// Rect is the bounding client rect of #chart-container, §3 Export step 6.
type Rect struct {
	X, Y, Width, RawHeight float64
}

// Measure queries #chart-container's bounding client rect, §4.5 step 6.
func Measure(ctx context.Context) (Rect, error) {
	var raw struct {
		X, Y, Width, Height float64
	}
	const script = `(() => {
		const el = document.getElementById('chart-container');
		const r = el.getBoundingClientRect();
		return {X: r.x, Y: r.y, Width: r.width, Height: r.height};
	})()`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return Rect{}, fmt.Errorf("chrome: measure failed: %w", err)
	}
	return Rect{X: raw.X, Y: raw.Y, Width: raw.Width, RawHeight: raw.Height}, nil
}

// EffectiveHeight applies the §4.5 step 6 heuristic that prevents
// pathological aspect ratios from producing enormous outputs:
// truncate(h0 > 1.25*w ? w*0.7 : h0).
func EffectiveHeight(width, rawHeight float64) int {
	h := rawHeight
	if width > 0 && rawHeight > 1.25*width {
		h = width * 0.7
	}
	return int(h)
}

// SetViewport sets the viewport to (width, height) with the given device
// scale factor, §4.5 step 7.
func SetViewport(ctx context.Context, width, height int, scale float64) error {
	if err := chromedp.Run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), scale, false)); err != nil {
		return fmt.Errorf("chrome: set viewport failed: %w", err)
	}
	return nil
}

// Screenshot captures the page clipped to (x, y, width, height) and encodes
// it as PNG or JPEG, §4.5 step 8.
func Screenshot(ctx context.Context, x, y, width, height float64, asJPEG bool, jpegQuality int) ([]byte, error) {
	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithClip(&page.Viewport{
			X: x, Y: y, Width: width, Height: height, Scale: 1,
		})
		if asJPEG {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(jpegQuality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}
		data, err := params.Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("chrome: screenshot failed: %w", err)
	}
	return buf, nil
}

// PDF renders the page to a PDF sized to (width, height) in CSS pixels,
// §4.5 step 8.
func PDF(ctx context.Context, width, height float64) ([]byte, error) {
	const cssPixelsPerInch = 96.0
	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(width / cssPixelsPerInch).
			WithPaperHeight(height / cssPixelsPerInch).
			WithPrintBackground(true).
			WithMarginTop(0).WithMarginBottom(0).WithMarginLeft(0).WithMarginRight(0).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("chrome: pdf render failed: %w", err)
	}
	return buf, nil
}

// ExtractSVG calls the charting library's export-to-SVG entry point and
// returns the page-side SVG markup, §4.5 step 8.
func ExtractSVG(ctx context.Context) (string, error) {
	const script = `(() => {
		const chart = (window.Highcharts && Highcharts.charts || []).find(c => c);
		return chart ? chart.getSVG() : '';
	})()`
	var svg string
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &svg)); err != nil {
		return "", fmt.Errorf("chrome: svg extraction failed: %w", err)
	}
	return svg, nil
}
