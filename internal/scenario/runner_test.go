package scenario

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	resetErr error
	userErr  error
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBackend) Reset(ctx context.Context) error {
	b.record("reset")
	return b.resetErr
}

func (b *fakeBackend) CreateUser(ctx context.Context, u blog.NewUser) (blog.User, error) {
	b.record("user:" + u.Username)
	return blog.User{ID: "id-" + u.Username, Name: u.Name, Username: u.Username}, b.userErr
}

func (b *fakeBackend) Login(ctx context.Context, creds blog.Credentials) (blog.Login, error) {
	b.record("login:" + creds.Username)
	return blog.Login{Token: "token", Username: creds.Username}, nil
}

func (b *fakeBackend) CreateBlog(ctx context.Context, token string, nb blog.NewBlog) (blog.Blog, error) {
	b.record("blog:" + nb.Title)
	return blog.Blog{ID: "b", Title: nb.Title, Author: nb.Author, URL: nb.URL, Likes: nb.Likes}, nil
}

type fakePage struct {
	playwright.Page
}

func (fakePage) OnDialog(func(playwright.Dialog)) {}
func (fakePage) URL() string { return "http://app.test/" }
func (fakePage) Title() (string, error) { return "blogs", nil }
func (fakePage) Content() (string, error) { return "<html><body>blogs</body></html>", nil }

func (fakePage) Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error) {
	png := []byte("\x89PNG")
	if len(options) > 0 && options[0].Path != nil {
		if err := os.WriteFile(*options[0].Path, png, 0o644); err != nil {
			return nil, err
		}
	}
	return png, nil
}

type fakePages struct {
	mu     sync.Mutex
	opened int
	closed int
	err    error
}

func (p *fakePages) NewPage(ctx context.Context) (playwright.Page, func() error, error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.mu.Lock()
	p.opened++
	p.mu.Unlock()
	return fakePage{}, func() error {
		p.mu.Lock()
		p.closed++
		p.mu.Unlock()
		return nil
	}, nil
}

var (
	testSeed  = blog.NewUser{Name: "Matti Luukkainen", Username: "mluukkai", Password: "salainen"}
	testOther = blog.NewUser{Name: "Arto Hellas", Username: "hellas", Password: "sekret"}
)

func newTestRunner(opts Options) (*Runner, *fakeBackend, *fakePages) {
	if opts.SeedUser.Username == "" {
		opts.SeedUser = testSeed
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://app.test"
	}
	backend := &fakeBackend{}
	pages := &fakePages{}
	return &Runner{Backend: backend, Pages: pages, Options: opts}, backend, pages
}

func recordingStep(name string, log *[]string, err error) Step {
	return Step{Name: name, Run: func(e *Env) error {
		*log = append(*log, name)
		return err
	}}
}

func TestRunner_PassingCases(t *testing.T) {
	r, backend, pages := newTestRunner(Options{ExtraUsers: []blog.NewUser{testOther}})
	var ran []string
	cases := []Case{
		{Path: []string{"g"}, Name: "one", Steps: []Step{recordingStep("a", &ran, nil), recordingStep("b", &ran, nil)}},
		{Path: []string{"g"}, Name: "two", Steps: []Step{recordingStep("c", &ran, nil)}},
	}

	report := r.Run(context.Background(), cases)

	if !report.Passed() {
		t.Fatalf("report should pass: %+v", report.Results)
	}
	if report.RunID == "" {
		t.Fatal("missing run id")
	}
	if strings.Join(ran, ",") != "a,b,c" {
		t.Fatalf("steps ran out of order: %v", ran)
	}
	wantCalls := "reset,user:mluukkai,user:hellas,reset,user:mluukkai,user:hellas"
	if got := strings.Join(backend.calls, ","); got != wantCalls {
		t.Fatalf("backend calls = %s, want %s", got, wantCalls)
	}
	if pages.opened != 2 || pages.closed != 2 {
		t.Fatalf("pages opened=%d closed=%d, want 2/2", pages.opened, pages.closed)
	}
	if report.Results[0].Name != "g/one" {
		t.Fatalf("result name = %q", report.Results[0].Name)
	}
}

func TestRunner_AssertionFailureStopsCaseAndScreenshots(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := newTestRunner(Options{ScreenshotDir: dir})
	var ran []string
	cases := []Case{
		{Name: "broken", Steps: []Step{
			recordingStep("a", &ran, nil),
			recordingStep("b", &ran, errs.Assertf("likes went from 0 to 2")),
			recordingStep("c", &ran, nil),
		}},
		{Name: "next", Steps: []Step{recordingStep("d", &ran, nil)}},
	}

	report := r.Run(context.Background(), cases)

	if strings.Join(ran, ",") != "a,b,d" {
		t.Fatalf("steps after a failure must not run: %v", ran)
	}
	res := report.Results[0]
	if res.Status != Failed || res.Step != "b" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Message(), "likes went from 0 to 2") {
		t.Fatalf("message = %q", res.Message())
	}
	if res.Screenshot != filepath.Join(dir, "broken.png") {
		t.Fatalf("screenshot = %q", res.Screenshot)
	}
	if _, err := os.Stat(res.Screenshot); err != nil {
		t.Fatalf("screenshot not written: %v", err)
	}
	if report.Results[1].Status != Passed {
		t.Fatalf("later case should still run: %+v", report.Results[1])
	}
	if report.Passed() {
		t.Fatal("report with a failure must not pass")
	}
}

func TestRunner_SetupFailureIsAnError(t *testing.T) {
	r, backend, pages := newTestRunner(Options{})
	backend.resetErr = errs.New(errs.Unavailable, "connection refused")
	var ran []string

	report := r.Run(context.Background(), []Case{{Name: "x", Steps: []Step{recordingStep("a", &ran, nil)}}})

	res := report.Results[0]
	if res.Status != Errored || res.Step != "setup" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !errs.Is(res.Err, errs.FailedPrecondition) {
		t.Fatalf("setup error should be FailedPrecondition, got %v", res.Err)
	}
	if len(ran) != 0 || pages.opened != 0 {
		t.Fatalf("nothing should run after a failed setup: ran=%v opened=%d", ran, pages.opened)
	}
}

func TestRunner_PageOpenFailureIsAnError(t *testing.T) {
	r, _, pages := newTestRunner(Options{})
	pages.err = errors.New("browser has been closed")

	report := r.Run(context.Background(), []Case{{Name: "x", Steps: []Step{noop("a")}}})
	if res := report.Results[0]; res.Status != Errored || !errs.Is(res.Err, errs.Unavailable) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunner_FailFastSkipsRemaining(t *testing.T) {
	r, _, _ := newTestRunner(Options{FailFast: true})
	var ran []string
	cases := []Case{
		{Name: "first", Steps: []Step{recordingStep("a", &ran, errs.New(errs.NotFound, "no button"))}},
		{Name: "second", Steps: []Step{recordingStep("b", &ran, nil)}},
		{Name: "third", Steps: []Step{recordingStep("c", &ran, nil)}},
	}

	report := r.Run(context.Background(), cases)
	c := report.Counts()
	if c.Failed != 1 || c.Skipped != 2 || c.Total != 3 {
		t.Fatalf("counts = %+v", c)
	}
	if len(ran) != 1 {
		t.Fatalf("only the first case should run: %v", ran)
	}
}

func TestRunner_CancelBetweenSteps(t *testing.T) {
	r, _, _ := newTestRunner(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran []string
	cases := []Case{
		{Name: "first", Steps: []Step{
			{Name: "cancel", Run: func(*Env) error { cancel(); return nil }},
			recordingStep("after-cancel", &ran, nil),
		}},
		{Name: "second", Steps: []Step{recordingStep("b", &ran, nil)}},
	}

	report := r.Run(ctx, cases)
	if len(ran) != 0 {
		t.Fatalf("no step may run after cancellation: %v", ran)
	}
	if res := report.Results[0]; res.Status != Errored || res.Step != "after-cancel" {
		t.Fatalf("interrupted case: %+v", res)
	}
	if res := report.Results[1]; res.Status != Skipped {
		t.Fatalf("remaining case should be skipped: %+v", res)
	}
}

func TestRunner_PanickingStepIsAnError(t *testing.T) {
	r, _, pages := newTestRunner(Options{})
	report := r.Run(context.Background(), []Case{{Name: "x", Steps: []Step{
		{Name: "boom", Run: func(*Env) error { panic("nil map") }},
	}}})

	res := report.Results[0]
	if res.Status != Errored || !strings.Contains(res.Message(), "nil map") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if pages.closed != 1 {
		t.Fatal("page must be released after a panic")
	}
}

func TestRunner_StepsSeeEnvAndCorrelation(t *testing.T) {
	var logs bytes.Buffer
	restore := obs.SetOutputForTests(&logs)
	defer restore()

	r, backend, _ := newTestRunner(Options{ExtraUsers: []blog.NewUser{testOther}})
	var seen Env
	var corr obs.Correlation
	report := r.Run(context.Background(), []Case{{Path: []string{"g"}, Name: "env", Steps: []Step{
		{Name: "inspect", Run: func(e *Env) error {
			seen = *e
			corr = obs.CorrelationFromContext(e.Context())
			_, err := e.Backend.Login(e.Context(), e.Seed.Credentials())
			return err
		}},
	}}})

	if !report.Passed() {
		t.Fatalf("run failed: %+v", report.Results)
	}
	if seen.App == nil || seen.Seed != testSeed {
		t.Fatalf("env not populated: %+v", seen)
	}
	if other, err := seen.Other(); err != nil || other != testOther {
		t.Fatalf("Other() = %+v, %v", other, err)
	}
	if corr.RunID != report.RunID || corr.Scenario != "g/env" || corr.Step != "inspect" {
		t.Fatalf("correlation = %+v", corr)
	}
	if backend.calls[len(backend.calls)-1] != "login:mluukkai" {
		t.Fatalf("backend calls = %v", backend.calls)
	}
	if !strings.Contains(logs.String(), `"scenario":"g/env"`) {
		t.Fatalf("case logs lack scenario field: %s", logs.String())
	}
}
