package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/nikshitha/kanban-verifier/config"
	"github.com/nikshitha/kanban-verifier/logger"
)

const kanbanPage = `<!DOCTYPE html>
<html>
<head><title>Kanban Board</title></head>
<body>
	<div id="board">
		<section class="column">A Fazer</section>
		<section class="column">Em Andamento</section>
	</div>
</body>
</html>`

// slowPage only gets its final title from the load event, which waits on a
// delayed image.
const slowPage = `<!DOCTYPE html>
<html>
<head><title>Loading</title></head>
<body>
	<div id="board"></div>
	<img src="/slow.png">
	<script>
		window.addEventListener("load", () => { document.title = "Kanban Board"; });
	</script>
</body>
</html>`

// testConfig returns a browser config for the given driver, skipping the
// test when no local Chromium is installed.
func testConfig(t *testing.T, driver string) *config.BrowserConfig {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no Chromium binary found")
	}

	cfg := config.DefaultConfig().Browser
	cfg.Driver = driver
	cfg.BinPath = bin
	cfg.NoSandbox = true
	return &cfg
}

func kanbanServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kanban":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, kanbanPage)
		case "/slow":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, slowPage)
		case "/slow.png":
			time.Sleep(1500 * time.Millisecond)
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := config.DefaultConfig().Browser

	d, err := New(&cfg, logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.Name() != config.DriverRod {
		t.Errorf("Expected rod driver by default, got %s", d.Name())
	}

	cfg.Driver = config.DriverChromedp
	d, err = New(&cfg, logger.Discard())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.Name() != config.DriverChromedp {
		t.Errorf("Expected chromedp driver, got %s", d.Name())
	}

	cfg.Driver = "playwright"
	if _, err := New(&cfg, logger.Discard()); err == nil {
		t.Error("New should fail for an unknown driver")
	}
}

func TestChromedpOptions(t *testing.T) {
	cfg := config.DefaultConfig().Browser
	base := len(NewChromedpDriver(&cfg, logger.Discard()).options())

	cfg.NoSandbox = true
	cfg.Stealth = true
	cfg.BinPath = "/usr/bin/chromium"
	if got := len(NewChromedpDriver(&cfg, logger.Discard()).options()); got != base+3 {
		t.Errorf("Expected 3 extra allocator options, got %d", got-base)
	}
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{config.DriverRod, config.DriverChromedp} {
		t.Run(driver, func(t *testing.T) {
			t.Run("kanban page", func(t *testing.T) {
				testKanbanPage(t, driver)
			})
			t.Run("navigate waits for load", func(t *testing.T) {
				testNavigateWaitsForLoad(t, driver)
			})
			t.Run("unreachable server", func(t *testing.T) {
				testUnreachable(t, driver)
			})
		})
	}
}

func testKanbanPage(t *testing.T, driver string) {
	cfg := testConfig(t, driver)
	srv := kanbanServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := New(cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	if err := page.Navigate(ctx, srv.URL+"/kanban"); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if err := page.WaitLoad(ctx); err != nil {
		t.Fatalf("WaitLoad failed: %v", err)
	}

	sctx, scancel := context.WithTimeout(ctx, 10*time.Second)
	defer scancel()
	if err := page.WaitVisible(sctx, "#board"); err != nil {
		t.Fatalf("WaitVisible failed: %v", err)
	}
	if err := page.WaitStable(ctx); err != nil {
		t.Errorf("WaitStable failed: %v", err)
	}

	title, err := page.Title(ctx)
	if err != nil {
		t.Fatalf("Title failed: %v", err)
	}
	if title != "Kanban Board" {
		t.Errorf("Expected title Kanban Board, got %q", title)
	}

	data, err := page.Screenshot(ctx)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Screenshot should be a PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Error("Screenshot should not be empty")
	}

	if err := b.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func testNavigateWaitsForLoad(t *testing.T, driver string) {
	cfg := testConfig(t, driver)
	srv := kanbanServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := New(cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	if err := page.Navigate(ctx, srv.URL+"/slow"); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	// No explicit WaitLoad: Navigate itself must return after the load event.
	title, err := page.Title(ctx)
	if err != nil {
		t.Fatalf("Title failed: %v", err)
	}
	if title != "Kanban Board" {
		t.Errorf("Expected title set by the load handler, got %q", title)
	}
}

func testUnreachable(t *testing.T, driver string) {
	cfg := testConfig(t, driver)

	// Grab a free port, then stop listening on it.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/kanban"
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := New(cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage failed: %v", err)
	}

	if err := page.Navigate(ctx, url); err == nil {
		t.Error("Navigate should fail when nothing listens on the port")
	}
}
