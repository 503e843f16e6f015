package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/rankwatch/internal/pager"
)

// Tab wraps a Rod page with tracker-specific setup: stealth, realistic UA
// and viewport, resource blocking. It implements pager.Driver, which is the
// only surface the tracking pipeline sees.
type Tab struct {
	page *rod.Page
	cfg  *Config
}

var _ pager.Driver = (*Tab)(nil)

// newTab creates a pre-warmed stealth tab on b.
func newTab(b *rod.Browser, cfg *Config) (*Tab, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent: cfg.UserAgent,
	}).Call(page); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set user agent: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, cfg.ResourceBlocking); err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	return &Tab{page: page, cfg: cfg}, nil
}

// Navigate loads url and waits for the load event. A WaitLoad timeout is
// logged but not fatal: script-rendered pages are often usable before load
// fires, and the pipeline waits for the result markup anyway.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.cfg.NavTimeout)
	defer cancel()

	if err := t.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		t.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// EnterFrame resolves the results iframe and returns a driver scoped to its
// document.
func (t *Tab) EnterFrame(ctx context.Context, selector string) (pager.Driver, error) {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: frame %s not found: %w", selector, err)
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("browser: enter frame %s: %w", selector, err)
	}
	if err := frame.WaitLoad(); err != nil {
		t.cfg.Logger.Warn("browser: frame load wait", "selector", selector, "error", err)
	}
	return &Tab{page: frame, cfg: t.cfg}, nil
}

// Eval runs a JS function literal in the page and returns its result as a
// string.
func (t *Tab) Eval(ctx context.Context, js string) (string, error) {
	res, err := t.page.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// Count reports how many nodes currently match selector. It never waits.
func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	res, err := t.page.Context(ctx).Eval(
		`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, fmt.Errorf("browser: count %s: %w", selector, err)
	}
	return res.Value.Int(), nil
}

// Click clicks the first node matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: click %s: element: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	return nil
}

// ScrollBottom scrolls the container matching selector (or the window when
// selector is empty) to its bottom, the trigger infinite-scroll surfaces
// listen for.
func (t *Tab) ScrollBottom(ctx context.Context, selector string) error {
	_, err := t.page.Context(ctx).Eval(`(sel) => {
		const el = sel ? document.querySelector(sel) : null;
		if (el) {
			el.scrollBy(0, el.scrollHeight);
		} else {
			window.scrollTo(0, document.body.scrollHeight);
		}
	}`, selector)
	if err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// HTML serialises the subtree matching selector as outer HTML. Missing
// markup yields an empty string, not an error — selector drift degrades to
// zero parsed entries upstream.
func (t *Tab) HTML(ctx context.Context, selector string) (string, error) {
	res, err := t.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		return el ? el.outerHTML : "";
	}`, selector)
	if err != nil {
		return "", fmt.Errorf("browser: html %s: %w", selector, err)
	}
	return res.Value.Str(), nil
}

// healthy reports whether the underlying page still answers.
func (t *Tab) healthy(ctx context.Context) bool {
	_, err := t.page.Context(ctx).Eval(`() => 1`)
	return err == nil
}

// close tears the page down. Pool teardown only; tasks release, not close.
func (t *Tab) close() {
	if t.page != nil {
		t.page.Close()
	}
}
