package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
)

// RodDriver launches Chromium through go-rod
type RodDriver struct {
	config *config.BrowserConfig
	logger *logger.Logger
}

// NewRodDriver creates a rod-backed driver
func NewRodDriver(cfg *config.BrowserConfig, log *logger.Logger) *RodDriver {
	return &RodDriver{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"module": "browser", "driver": config.DriverRod}),
	}
}

// Name returns the driver name
func (d *RodDriver) Name() string { return config.DriverRod }

// Launch starts a browser process and connects to it
func (d *RodDriver) Launch(ctx context.Context) (Browser, error) {
	d.logger.Info("Launching browser")

	// Leakless guards against an orphaned browser if this process dies.
	l := launcher.New().
		Context(ctx).
		Headless(d.config.Headless).
		NoSandbox(d.config.NoSandbox).
		Leakless(true).
		Set("disable-dev-shm-usage").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("window-size", fmt.Sprintf("%d,%d", d.config.ViewportWidth, d.config.ViewportHeight))

	if d.config.BinPath != "" {
		l = l.Bin(d.config.BinPath)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	d.logger.WithField("control_url", url).Debug("Browser launched successfully")

	return &rodBrowser{
		config:   d.config,
		logger:   d.logger,
		launcher: l,
		browser:  b,
	}, nil
}

type rodBrowser struct {
	config   *config.BrowserConfig
	logger   *logger.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser

	closeOnce sync.Once
	closeErr  error
}

// NewPage creates a blank page with the configured viewport
func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	// Detach the page from the creation context so later calls pick their own.
	page = page.Context(context.Background())

	if b.config.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			b.logger.WithError(err).Warn("Failed to inject stealth script")
		}
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.config.ViewportWidth,
		Height:            b.config.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		b.logger.WithError(err).Warn("Failed to set viewport")
	}

	b.logger.Debug("Page created")
	return &rodPage{
		page:       page,
		logger:     b.logger,
		navTimeout: b.config.GetNavigationTimeout(),
	}, nil
}

// Close closes the browser and waits for the process to go away
func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.logger.Info("Closing browser")
		if err := b.browser.Close(); err != nil {
			b.closeErr = fmt.Errorf("failed to close browser: %w", err)
			b.launcher.Kill()
		}
		b.launcher.Cleanup()
	})
	return b.closeErr
}

type rodPage struct {
	page       *rod.Page
	logger     *logger.Logger
	navTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	p.logger.BrowserAction("navigate", url)

	page := p.page.Context(ctx)
	if p.navTimeout > 0 {
		page = page.Timeout(p.navTimeout)
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load failed: %w", err)
	}
	return nil
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *rodPage) WaitLoad(ctx context.Context) error {
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (p *rodPage) WaitStable(ctx context.Context) error {
	return p.page.Context(ctx).WaitDOMStable(300*time.Millisecond, 0.1)
}

func (p *rodPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	return p.page.Context(ctx).WaitIdle(timeout)
}
