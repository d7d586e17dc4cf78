package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/pageshot/capture"
)

// iPhone UA applied for mobile viewports, matching what the SEO reporting
// expects to see in server logs.
const mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15"

// A4 paper in inches, for PDF rendering.
const (
	pdfPaperWidth  = 8.27
	pdfPaperHeight = 11.69
)

// Page wraps a Rod page as a capture.Page. Not safe for concurrent use;
// the pool guarantees single ownership.
type Page struct {
	p       *rod.Page
	stealth bool
	mobile  bool
	gen     uint64
	log     *slog.Logger
}

// emulationTransition decides what Setup must do to the UA and touch
// overrides when a page that last emulated wasMobile is asked for
// wantMobile. Pooled pages are reused across captures, so a desktop
// request after a mobile one must actively undo the overrides.
func emulationTransition(wasMobile, wantMobile bool) (applyMobile, clearMobile bool) {
	return wantMobile, !wantMobile && wasMobile
}

// Setup applies viewport metrics and, for mobile, UA and touch emulation.
// Reused pages carry emulation state from the previous capture; Setup
// clears it when the new viewport is not mobile.
func (pg *Page) Setup(v capture.Viewport) error {
	err := pg.p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: 1,
		Mobile:            v.Mobile,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}

	applyMobile, clearMobile := emulationTransition(pg.mobile, v.Mobile)
	switch {
	case applyMobile:
		if err := pg.p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: mobileUserAgent,
		}); err != nil {
			return fmt.Errorf("browser: set user agent: %w", err)
		}
		if err := (proto.EmulationSetTouchEmulationEnabled{
			Enabled: true,
		}).Call(pg.p); err != nil {
			return fmt.Errorf("browser: touch emulation: %w", err)
		}
	case clearMobile:
		// nil restores rod's default desktop user agent.
		if err := pg.p.SetUserAgent(nil); err != nil {
			return fmt.Errorf("browser: reset user agent: %w", err)
		}
		if err := (proto.EmulationSetTouchEmulationEnabled{
			Enabled: false,
		}).Call(pg.p); err != nil {
			return fmt.Errorf("browser: disable touch emulation: %w", err)
		}
	}
	pg.mobile = v.Mobile
	return nil
}

// Navigate loads url and waits for the load event, both bounded by ctx.
func (pg *Page) Navigate(ctx context.Context, url string) error {
	page := pg.p.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// Evaluate runs a script in the page.
func (pg *Page) Evaluate(ctx context.Context, js string) error {
	_, err := pg.p.Context(ctx).Eval(js)
	return err
}

// Info reads the rendered document dimensions and title.
func (pg *Page) Info(ctx context.Context) (capture.PageInfo, error) {
	res, err := pg.p.Context(ctx).Eval(`() => ({
		width: Math.max(document.body.scrollWidth, document.documentElement.scrollWidth),
		height: Math.max(document.body.scrollHeight, document.documentElement.scrollHeight),
		title: document.title
	})`)
	if err != nil {
		return capture.PageInfo{}, fmt.Errorf("browser: page info: %w", err)
	}
	return capture.PageInfo{
		Width:  res.Value.Get("width").Int(),
		Height: res.Value.Get("height").Int(),
		Title:  res.Value.Get("title").Str(),
	}, nil
}

// Screenshot renders PNG or JPEG bytes, optionally full page.
func (pg *Page) Screenshot(ctx context.Context, format capture.Format, quality int, fullPage bool) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	}
	if format == capture.FormatJPEG {
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = gson.Int(quality)
	}
	data, err := pg.p.Context(ctx).Screenshot(fullPage, req)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// PDF renders the page as an A4 PDF with backgrounds.
func (pg *Page) PDF(ctx context.Context) ([]byte, error) {
	w, h := pdfPaperWidth, pdfPaperHeight
	r, err := pg.p.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      &w,
		PaperHeight:     &h,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: pdf: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("browser: pdf read: %w", err)
	}
	return data, nil
}

// HTML serialises the complete DOM as outer HTML.
func (pg *Page) HTML(ctx context.Context) (string, error) {
	res, err := pg.p.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

func (pg *Page) close() {
	if pg.p == nil {
		return
	}
	if err := pg.p.Close(); err != nil {
		pg.log.Debug("browser: close page", "error", err)
	}
	pg.p = nil
}
