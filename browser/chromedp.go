package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
)

const (
	// Resolves once no DOM mutation has been seen for 300ms.
	domStableJS = `new Promise(resolve => {
		let timer;
		const observer = new MutationObserver(() => {
			clearTimeout(timer);
			timer = setTimeout(done, 300);
		});
		function done() {
			observer.disconnect();
			resolve(true);
		}
		observer.observe(document, {subtree: true, childList: true, attributes: true, characterData: true});
		timer = setTimeout(done, 300);
	})`

	idleJS = `new Promise(resolve => requestIdleCallback(() => resolve(true)))`
)

// ChromedpDriver launches Chromium through chromedp
type ChromedpDriver struct {
	config *config.BrowserConfig
	logger *logger.Logger
}

// NewChromedpDriver creates a chromedp-backed driver
func NewChromedpDriver(cfg *config.BrowserConfig, log *logger.Logger) *ChromedpDriver {
	return &ChromedpDriver{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"module": "browser", "driver": config.DriverChromedp}),
	}
}

// Name returns the driver name
func (d *ChromedpDriver) Name() string { return config.DriverChromedp }

// options returns the exec allocator options for this configuration
func (d *ChromedpDriver) options() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.WindowSize(d.config.ViewportWidth, d.config.ViewportHeight),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	if d.config.Stealth {
		opts = append(opts, chromedp.Flag("disable-blink-features", "AutomationControlled"))
	}
	if d.config.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.config.BinPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.BinPath))
	}

	return opts
}

// Launch starts a browser process
func (d *ChromedpDriver) Launch(ctx context.Context) (Browser, error) {
	d.logger.Info("Launching browser")

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.options()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run allocates the browser and its first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	d.logger.Debug("Browser launched successfully")

	return &chromedpBrowser{
		config:        d.config,
		logger:        d.logger,
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromedpBrowser struct {
	config        *config.BrowserConfig
	logger        *logger.Logger
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu         sync.Mutex
	tabCancels []context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a new tab with the configured viewport
func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	page := &chromedpPage{
		ctx:        tabCtx,
		logger:     b.logger,
		navTimeout: b.config.GetNavigationTimeout(),
	}

	if err := ctx.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	// The first Run creates the target and ties it to tabCtx, so it must not
	// run under a shorter-lived context.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	b.mu.Lock()
	b.tabCancels = append(b.tabCancels, cancel)
	b.mu.Unlock()

	err := page.run(ctx, emulation.SetDeviceMetricsOverride(
		int64(b.config.ViewportWidth),
		int64(b.config.ViewportHeight),
		1,
		false,
	))
	if err != nil {
		b.logger.WithError(err).Warn("Failed to set viewport")
	}

	b.logger.Debug("Page created")
	return page, nil
}

// Close shuts the browser down and releases the allocator
func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("Closing browser")
		if err := chromedp.Cancel(b.ctx); err != nil {
			b.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}

		b.mu.Lock()
		for _, cancel := range b.tabCancels {
			cancel()
		}
		b.tabCancels = nil
		b.mu.Unlock()

		b.browserCancel()
		// Cancelling the allocator kills the process if it is still around and waits for it.
		b.allocCancel()
	})
	return b.closeErr
}

type chromedpPage struct {
	ctx        context.Context
	logger     *logger.Logger
	navTimeout time.Duration
}

// run executes actions on the tab, bounded by the caller's context
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	p.logger.BrowserAction("navigate", url)

	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG.
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *chromedpPage) WaitLoad(ctx context.Context) error {
	return p.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromedpPage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromedpPage) WaitStable(ctx context.Context) error {
	var ok bool
	return p.run(ctx, chromedp.Evaluate(domStableJS, &ok, awaitPromise))
}

func (p *chromedpPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var ok bool
	return p.run(ctx, chromedp.Evaluate(idleJS, &ok, awaitPromise))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}
