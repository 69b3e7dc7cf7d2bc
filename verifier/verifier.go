// Package verifier opens a page in a headless browser, lets it settle, then
// reports its title and saves a full-page screenshot.
//
// Progress is written to the console as plain lines:
//
//	Navigating to Kanban...
//	Page title: <title>
//	Screenshot saved to verification.png
//
// or, when anything goes wrong, a single "Error: <message>" line. Errors are
// never returned; Run hands back an Outcome and the caller picks the exit code.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nikshitha/kanban-verifier/browser"
	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
	"github.com/nikshitha/kanban-verifier/settle"
	"github.com/nikshitha/kanban-verifier/storage"
)

// Recorder persists finished runs
type Recorder interface {
	SaveVerification(v *storage.Verification) (int64, error)
}

// Verifier runs a single page verification
type Verifier struct {
	target   config.TargetConfig
	plan     settle.Plan
	driver   browser.Driver
	recorder Recorder
	out      io.Writer
	logger   *logger.Logger
	now      func() time.Time
}

// New creates a verifier for the configured target
func New(cfg *config.Config, driver browser.Driver, log *logger.Logger) *Verifier {
	return &Verifier{
		target: cfg.Target,
		plan:   settle.FromConfig(&cfg.Settle),
		driver: driver,
		out:    os.Stdout,
		logger: log.WithModule("verifier"),
		now:    time.Now,
	}
}

// SetRecorder stores every outcome through r
func (v *Verifier) SetRecorder(r Recorder) {
	v.recorder = r
}

// SetOutput sends console lines to w instead of stdout
func (v *Verifier) SetOutput(w io.Writer) {
	v.out = w
}

// SetPlan overrides the settle plan
func (v *Verifier) SetPlan(p settle.Plan) {
	v.plan = p
}

// Run performs the verification. The browser is closed before Run returns,
// whatever happened.
func (v *Verifier) Run(ctx context.Context) Outcome {
	outcome := Outcome{
		URL:       v.target.URL,
		StartedAt: v.now(),
	}

	title, err := v.verify(ctx)
	outcome.Duration = v.now().Sub(outcome.StartedAt)
	if err != nil {
		fmt.Fprintf(v.out, "Error: %v\n", err)
		outcome.Status = StatusFailure
		outcome.Err = err
	} else {
		outcome.Status = StatusSuccess
		outcome.Title = title
		outcome.ScreenshotPath = v.target.ScreenshotPath
	}

	v.logger.VerificationResult(outcome.URL, string(outcome.Status), outcome.Duration)
	v.record(outcome)
	return outcome
}

func (v *Verifier) verify(ctx context.Context) (title string, err error) {
	b, err := v.driver.Launch(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			v.logger.WithError(cerr).Warn("Failed to close browser")
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(v.out, "Navigating to %s...\n", v.target.Name)
	if err := page.Navigate(ctx, v.target.URL); err != nil {
		return "", err
	}

	if err := settle.Run(ctx, page, v.plan, v.logger); err != nil {
		return "", err
	}

	title, err = page.Title(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(v.out, "Page title: %s\n", title)

	data, err := page.Screenshot(ctx)
	if err != nil {
		return title, err
	}
	if err := writeScreenshot(v.target.ScreenshotPath, data); err != nil {
		return title, err
	}
	fmt.Fprintf(v.out, "Screenshot saved to %s\n", v.target.ScreenshotPath)

	return title, nil
}

// writeScreenshot writes data to path, replacing any previous file
func writeScreenshot(path string, data []byte) error {
	if len(data) == 0 {
		return errors.New("screenshot is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

func (v *Verifier) record(o Outcome) {
	if v.recorder == nil {
		return
	}

	_, err := v.recorder.SaveVerification(&storage.Verification{
		URL:            o.URL,
		Title:          o.Title,
		ScreenshotPath: o.ScreenshotPath,
		Status:         string(o.Status),
		Error:          o.Message(),
		DurationMs:     o.Duration.Milliseconds(),
		StartedAt:      o.StartedAt,
	})
	if err != nil {
		v.logger.WithError(err).Warn("Failed to record verification")
	}
}
