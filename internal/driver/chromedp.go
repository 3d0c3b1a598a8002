// File: internal/driver/chromedp.go
package driver

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
)

// ChromedpAutomator drives a real browser through the Chrome DevTools
// Protocol. It owns the allocator and a single browser context; sessions are
// serialized by the engine, so one tab is enough.
type ChromedpAutomator struct {
	logger *zap.Logger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

var _ Automator = (*ChromedpAutomator)(nil)

// NewChromedpAutomator starts the browser process and opens one context.
func NewChromedpAutomator(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromedpAutomator, error) {
	a := &ChromedpAutomator{logger: logger.Named("driver")}

	opts := allocatorOptions(cfg)
	a.allocatorCtx, a.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	a.browserCtx, a.browserCancel = chromedp.NewContext(a.allocatorCtx,
		chromedp.WithLogf(a.logger.Sugar().Debugf),
		chromedp.WithErrorf(a.logger.Sugar().Errorf),
	)

	// First Run call actually launches the executable.
	if err := chromedp.Run(a.browserCtx, chromedp.Navigate("about:blank")); err != nil {
		a.allocatorCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	a.logger.Info("Browser started", zap.Bool("headless", cfg.Headless))
	return a, nil
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// Automation markers give the whole game away.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
	)

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	if cfg.ProxyAddress != "" {
		proxyURL := "http://" + cfg.ProxyAddress
		if _, err := url.Parse(proxyURL); err == nil {
			opts = append(opts, chromedp.ProxyServer(proxyURL))
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
	}

	return opts
}

// run executes actions inside the browser context while honoring the caller's
// deadline. Chromedp tasks run against the tab context; we watch the caller's
// ctx separately and bail out on cancellation.
func (a *ChromedpAutomator) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(a.browserCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ChromedpAutomator) Navigate(ctx context.Context, pageURL string) error {
	a.logger.Debug("navigate", zap.String("url", pageURL))
	if err := a.run(ctx, chromedp.Navigate(pageURL), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

func (a *ChromedpAutomator) Click(ctx context.Context, selector string) error {
	if err := a.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (a *ChromedpAutomator) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ChromedpAutomator) TypeChar(ctx context.Context, ch rune) error {
	if err := a.run(ctx, chromedp.KeyEvent(string(ch))); err != nil {
		return fmt.Errorf("type char: %w", err)
	}
	return nil
}

func (a *ChromedpAutomator) Backspace(ctx context.Context) error {
	if err := a.run(ctx, chromedp.KeyEvent(kb.Backspace)); err != nil {
		return fmt.Errorf("backspace: %w", err)
	}
	return nil
}

func (a *ChromedpAutomator) MoveMouse(ctx context.Context, pos schemas.MousePosition) error {
	move := input.DispatchMouseEvent(input.MouseMoved, pos.X, pos.Y)
	if err := a.run(ctx, move); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	return nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (a *ChromedpAutomator) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := a.run(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// ElementBox resolves the bounding rectangle of the first element matching the
// selector, in CSS pixels.
func (a *ChromedpAutomator) ElementBox(ctx context.Context, selector string) (*schemas.ElementBox, error) {
	var box *schemas.ElementBox
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		doc, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		nodeID, err := dom.QuerySelector(doc.NodeID, selector).Do(ctx)
		if err != nil {
			return err
		}
		if nodeID == 0 {
			return fmt.Errorf("no element matches %q", selector)
		}
		model, err := dom.GetBoxModel().WithNodeID(nodeID).Do(ctx)
		if err != nil {
			return err
		}
		// Content quad: x1,y1, x2,y2, x3,y3, x4,y4 clockwise from top-left.
		q := model.Content
		if len(q) < 8 {
			return fmt.Errorf("degenerate box model for %q", selector)
		}
		box = &schemas.ElementBox{
			X:      q[0],
			Y:      q[1],
			Width:  q[2] - q[0],
			Height: q[5] - q[1],
		}
		return nil
	})
	if err := a.run(ctx, action); err != nil {
		return nil, fmt.Errorf("element box %s: %w", selector, err)
	}
	return box, nil
}

func (a *ChromedpAutomator) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := a.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("text %s: %w", selector, err)
	}
	return text, nil
}

// Close tears down the tab and the browser process.
func (a *ChromedpAutomator) Close() error {
	if a.browserCancel != nil {
		a.browserCancel()
	}
	if a.allocatorCancel != nil {
		a.allocatorCancel()
	}
	a.logger.Info("Browser closed")
	return nil
}
