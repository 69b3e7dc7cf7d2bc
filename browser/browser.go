// Package browser provides headless browser setup and page handling.
// Two backends are available: go-rod (default) and chromedp. Both hand out a
// Browser that owns one browser process and releases it exactly once.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
)

// Driver launches browser instances
type Driver interface {
	Name() string
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser process.
// Close may be called any number of times; the process is released once.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. It is released together with its Browser.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	// Screenshot returns a full-page PNG
	Screenshot(ctx context.Context) ([]byte, error)

	WaitLoad(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string) error
	WaitStable(ctx context.Context) error
	WaitIdle(ctx context.Context, timeout time.Duration) error
}

// New returns the driver selected in the configuration
func New(cfg *config.BrowserConfig, log *logger.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverRod, "":
		return NewRodDriver(cfg, log), nil
	case config.DriverChromedp:
		return NewChromedpDriver(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown browser driver: %s", cfg.Driver)
	}
}
