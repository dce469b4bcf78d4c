// Package browser holds Playwright tests that drive the blog list application
// through a real browser. All tests use BrowserTestEnv via SetupBrowserTestEnv(t).
//
// By default the tests run against an in-process blog twin. Setting
// BLOGCHECK_BASE_URL points them at an external deployment instead.
package browser

import (
	"context"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/backend"
	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/blogui"
	browserpkg "github.com/kuitang/blogcheck/internal/browser"
	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/twin"
)

// Always use this timeout for browser tests. Never introduce a larger timeout
// value anywhere in tests/browser.
const browserMaxTimeout = 5 * time.Second

var browserFixtureMu sync.Mutex
var browserSharedFixture *BrowserTestEnv

// BrowserTestEnv is the shared environment for all browser tests.
type BrowserTestEnv struct {
	Server  *httptest.Server // nil when targeting an external app
	Twin    *twin.Server
	BaseURL string
	Backend *backend.Client
	Seed    blog.NewUser
	Other   blog.NewUser
	Config  *config.Config

	launcherMu sync.Mutex
	launcher   *browserpkg.Launcher
}

// SetupBrowserTestEnv returns the shared environment with application state
// reset and both test users created.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}

	env := getOrCreateSharedBrowserTestEnv(t)
	resetBrowserTestEnvState(t, env)
	return env
}

func getOrCreateSharedBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()

	if browserSharedFixture != nil {
		return browserSharedFixture
	}

	cfg := config.MustLoad(os.Getenv("BLOGCHECK_CONFIG"))
	env := &BrowserTestEnv{
		Config: cfg,
		Seed:   toNewUser(cfg.Runner.SeedUser),
		Other:  toNewUser(cfg.Runner.OtherUser),
	}

	if os.Getenv("BLOGCHECK_BASE_URL") == "" {
		srv, err := twin.New(twin.Options{Config: cfg.Twin, Hasher: auth.FakeInsecureHasher{}, Version: "browser-test"})
		if err != nil {
			t.Fatalf("Failed to create blog twin: %v", err)
		}
		env.Twin = srv
		env.Server = httptest.NewServer(srv)
		env.BaseURL = env.Server.URL
		env.Backend = backend.New(env.BaseURL, nil)
	} else {
		env.BaseURL = cfg.Runner.BaseURL
		env.Backend = backend.New(cfg.Runner.APIBase(), nil)
	}

	browserSharedFixture = env
	return env
}

func resetBrowserTestEnvState(t *testing.T, env *BrowserTestEnv) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), browserMaxTimeout)
	defer cancel()

	if err := env.Backend.Reset(ctx); err != nil {
		t.Fatalf("Failed to reset application state: %v", err)
	}
	for _, u := range []blog.NewUser{env.Seed, env.Other} {
		if _, err := env.Backend.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user %s: %v", u.Username, err)
		}
	}
}

func cleanupSharedBrowserTestEnv() {
	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()

	env := browserSharedFixture
	if env == nil {
		return
	}
	browserSharedFixture = nil

	if env.launcher != nil {
		_ = env.launcher.Close()
	}
	if env.Server != nil {
		env.Server.Close()
	}
	if env.Twin != nil {
		_ = env.Twin.Close()
	}
}

// InitBrowser launches the configured browser once. Tests are skipped when
// Playwright or the browser is not installed.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) {
	t.Helper()

	env.launcherMu.Lock()
	defer env.launcherMu.Unlock()

	if env.launcher != nil {
		return
	}

	launcher, err := browserpkg.Launch(browserpkg.Options{
		Browser:  env.Config.Runner.Browser,
		Headless: env.Config.Runner.Headless,
		SlowMo:   env.Config.Runner.SlowMo,
		Timeout:  browserMaxTimeout,
	})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	env.launcher = launcher
}

// Launcher returns the browser launcher. InitBrowser must have been called.
func (env *BrowserTestEnv) Launcher() *browserpkg.Launcher {
	return env.launcher
}

// NewPage opens a page in a fresh browser context, closed with the test.
func (env *BrowserTestEnv) NewPage(t *testing.T) playwright.Page {
	t.Helper()

	page, closePage, err := env.launcher.NewPage(context.Background())
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	t.Cleanup(func() { _ = closePage() })
	return page
}

// OpenApp opens a page on the application front page.
func (env *BrowserTestEnv) OpenApp(t *testing.T) *blogui.App {
	t.Helper()

	env.InitBrowser(t)
	app := blogui.New(env.NewPage(t), env.BaseURL, browserMaxTimeout)
	if err := app.Open(); err != nil {
		t.Fatalf("Failed to open app: %v", err)
	}
	return app
}

// LoginAs opens the app and logs u in through the form.
func (env *BrowserTestEnv) LoginAs(t *testing.T, u blog.NewUser) *blogui.App {
	t.Helper()

	app := env.OpenApp(t)
	if err := app.Login(u); err != nil {
		t.Fatalf("Failed to log in as %s: %v", u.Username, err)
	}
	return app
}

// SeedBlogs creates blogs owned by u through the API.
func (env *BrowserTestEnv) SeedBlogs(t *testing.T, u blog.NewUser, blogs ...blog.NewBlog) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), browserMaxTimeout)
	defer cancel()

	login, err := env.Backend.Login(ctx, u.Credentials())
	if err != nil {
		t.Fatalf("Failed to log in %s through the API: %v", u.Username, err)
	}
	for _, b := range blogs {
		if _, err := env.Backend.CreateBlog(ctx, login.Token, b); err != nil {
			t.Fatalf("Failed to create blog %q: %v", b.Title, err)
		}
	}
}

// Blogs returns the stored blogs through the API.
func (env *BrowserTestEnv) Blogs(t *testing.T) []blog.Blog {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), browserMaxTimeout)
	defer cancel()

	blogs, err := env.Backend.Blogs(ctx)
	if err != nil {
		t.Fatalf("Failed to list blogs: %v", err)
	}
	return blogs
}

func toNewUser(u config.User) blog.NewUser {
	return blog.NewUser{Name: u.Name, Username: u.Username, Password: u.Password}
}
