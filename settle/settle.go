// Package settle implements the wait that runs between navigation and
// inspection of a page. The default plan is a plain fixed delay; condition
// based waits (load event, visible selector, stable DOM, idle JS) can be
// layered in front of it.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
)

// Waiter is the part of a page that settle needs
type Waiter interface {
	WaitLoad(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string) error
	WaitStable(ctx context.Context) error
	WaitIdle(ctx context.Context, timeout time.Duration) error
}

// Plan describes which waits run, in order
type Plan struct {
	WaitLoad        bool
	Selector        string
	SelectorTimeout time.Duration
	Stable          bool
	IdleTimeout     time.Duration
	Delay           time.Duration
}

// DefaultPlan is the unconditional 5 second delay. SelectorTimeout only
// applies once a selector is set.
func DefaultPlan() Plan {
	return Plan{SelectorTimeout: 10 * time.Second, Delay: 5 * time.Second}
}

// FromConfig builds a plan from the settle section of the configuration
func FromConfig(cfg *config.SettleConfig) Plan {
	return Plan{
		WaitLoad:        cfg.WaitLoad,
		Selector:        cfg.Selector,
		SelectorTimeout: cfg.GetSelectorTimeout(),
		Stable:          cfg.WaitStable,
		IdleTimeout:     cfg.GetIdleTimeout(),
		Delay:           cfg.GetDelay(),
	}
}

// Validate rejects negative durations
func (p Plan) Validate() error {
	if p.Delay < 0 {
		return fmt.Errorf("settle delay must not be negative: %v", p.Delay)
	}
	if p.SelectorTimeout < 0 {
		return fmt.Errorf("selector timeout must not be negative: %v", p.SelectorTimeout)
	}
	if p.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative: %v", p.IdleTimeout)
	}
	return nil
}

// Run executes the plan against the page
func Run(ctx context.Context, w Waiter, p Plan, log *logger.Logger) error {
	if err := p.Validate(); err != nil {
		return err
	}
	log = log.WithModule("settle")

	if p.WaitLoad {
		log.Debug("Waiting for load event")
		if err := w.WaitLoad(ctx); err != nil {
			return fmt.Errorf("page load failed: %w", err)
		}
	}

	if p.Selector != "" {
		log.WithField("selector", p.Selector).Debug("Waiting for selector")
		sctx := ctx
		if p.SelectorTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, p.SelectorTimeout)
			defer cancel()
		}
		if err := w.WaitVisible(sctx, p.Selector); err != nil {
			return fmt.Errorf("selector %q not visible: %w", p.Selector, err)
		}
	}

	// Stable and idle are best effort: a page that never settles is still inspected.
	if p.Stable {
		if err := w.WaitStable(ctx); err != nil {
			log.WithError(err).Debug("DOM did not stabilise, proceeding")
		}
	}

	if p.IdleTimeout > 0 {
		if err := w.WaitIdle(ctx, p.IdleTimeout); err != nil {
			log.WithError(err).Debug("Page did not go idle, proceeding")
		}
	}

	if p.Delay > 0 {
		log.WithField("delay_ms", p.Delay.Milliseconds()).Debug("Settle delay")
		if err := Sleep(ctx, p.Delay); err != nil {
			return fmt.Errorf("settle delay interrupted: %w", err)
		}
	}

	return nil
}

// Sleep blocks for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
