// Package browser owns the Playwright driver and browser process and hands out
// one isolated browser context per scenario.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/logutil"
	"github.com/kuitang/blogcheck/internal/obs"
)

// DefaultTimeout is the per-action driver timeout when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Options selects and tunes the browser.
type Options struct {
	Browser  string // chromium, firefox or webkit; empty means chromium
	Headless bool
	SlowMo   time.Duration
	Timeout  time.Duration // applied to every page action and navigation
}

// Launcher holds a running driver and browser.
type Launcher struct {
	opts    Options
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch starts the Playwright driver and the selected browser.
func Launch(opts Options) (*Launcher, error) {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright driver (run `blogcheck install`)", err)
	}

	browserType, err := engine(pw, opts.Browser)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	b, err := browserType.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "launch "+opts.Browser, err)
	}

	obs.Pkg("browser").Info("browser_launched",
		"browser", opts.Browser,
		"version", b.Version(),
		"headless", opts.Headless,
		"timeout", opts.Timeout.String(),
	)
	return &Launcher{opts: opts, pw: pw, browser: b}, nil
}

func engine(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "chromium":
		return pw.Chromium, nil
	case "firefox":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown browser %q", name))
	}
}

// Timeout returns the per-action timeout pages are configured with.
func (l *Launcher) Timeout() time.Duration {
	return l.opts.Timeout
}

// NewPage opens a page in a fresh browser context, so cookies and
// localStorage never leak between scenarios. The returned func closes the
// context and every page in it.
func (l *Launcher) NewPage(ctx context.Context) (playwright.Page, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	b := l.browser
	l.mu.Unlock()
	if b == nil {
		return nil, nil, errs.New(errs.Unavailable, "browser is closed")
	}

	bctx, err := b.NewContext()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Unavailable, "create browser context", err)
	}
	timeoutMS := float64(l.opts.Timeout.Milliseconds())
	bctx.SetDefaultTimeout(timeoutMS)
	bctx.SetDefaultNavigationTimeout(timeoutMS)

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, nil, errs.Wrap(errs.Unavailable, "create page", err)
	}
	return page, func() error { return bctx.Close() }, nil
}

// Close stops the browser and the driver.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = err
		}
		l.browser = nil
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.pw = nil
	}
	return firstErr
}

// Install downloads the Playwright driver and the named browsers.
func Install(browsers ...string) error {
	if len(browsers) == 0 {
		browsers = []string{"chromium"}
	}
	obs.Pkg("browser").Info("installing_playwright", "browsers", strings.Join(browsers, ","))
	if err := playwright.Install(&playwright.RunOptions{Browsers: browsers, Verbose: true}); err != nil {
		return errs.Wrap(errs.Unavailable, "install playwright", err)
	}
	return nil
}

// Diagnostics is a snapshot of a page for failure reports.
type Diagnostics struct {
	URL     string
	Title   string
	Content string
}

const diagnosticContentChars = 500

// Diagnose captures URL, title and a truncated content preview.
func Diagnose(page playwright.Page) Diagnostics {
	d := Diagnostics{URL: page.URL()}
	if title, err := page.Title(); err == nil {
		d.Title = title
	}
	if content, err := page.Content(); err == nil {
		d.Content = logutil.TruncateForLog(content, diagnosticContentChars)
	}
	return d
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ScreenshotName turns a case name into a file name.
func ScreenshotName(caseName string) string {
	slug := strings.Trim(unsafeFileChars.ReplaceAllString(strings.ToLower(caseName), "-"), "-.")
	if slug == "" {
		slug = "case"
	}
	if len(slug) > 120 {
		slug = slug[:120]
	}
	return slug + ".png"
}

// Screenshot saves a full-page PNG of page into dir and returns its path.
func Screenshot(page playwright.Page, dir, caseName string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, ScreenshotName(caseName))
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		return "", fmt.Errorf("screenshot %s: %w", caseName, err)
	}
	return path, nil
}
