package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/blogui"
	"github.com/kuitang/blogcheck/internal/browser"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
)

// Backend resets and seeds the application under test.
type Backend interface {
	Reset(ctx context.Context) error
	CreateUser(ctx context.Context, u blog.NewUser) (blog.User, error)
	Login(ctx context.Context, creds blog.Credentials) (blog.Login, error)
	CreateBlog(ctx context.Context, token string, b blog.NewBlog) (blog.Blog, error)
}

// PageOpener hands out a page in a fresh browser context. The returned func
// releases the context.
type PageOpener interface {
	NewPage(ctx context.Context) (playwright.Page, func() error, error)
}

// Options tunes a run.
type Options struct {
	SeedUser      blog.NewUser   // created before every case
	ExtraUsers    []blog.NewUser // also created before every case
	BaseURL       string         // where the browser opens the app
	Timeout       time.Duration  // bound on every UI expectation
	ScreenshotDir string         // failure screenshots go here; empty disables them
	FailFast      bool           // skip the remaining cases after the first non-pass
}

// Runner executes cases one at a time against a shared application, resetting
// it before each case.
type Runner struct {
	Backend Backend
	Pages   PageOpener
	Options Options
}

// Run executes cases in order. Cancelling ctx stops the run between steps;
// cases that never started are reported as skipped.
func (r *Runner) Run(ctx context.Context, cases []Case) *Report {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: report.RunID})
	logger := obs.From(ctx).With("pkg", "scenario")
	logger.Info("run_started", "cases", len(cases), "base_url", r.Options.BaseURL)

	halted := false
	for _, c := range cases {
		if halted || ctx.Err() != nil {
			report.Results = append(report.Results, Result{Name: c.FullName(), Status: Skipped})
			continue
		}
		res := r.runCase(ctx, c)
		report.Results = append(report.Results, res)
		if res.Status != Passed && r.Options.FailFast {
			logger.Info("fail_fast", "case", res.Name)
			halted = true
		}
	}

	report.Duration = time.Since(report.Started)
	counts := report.Counts()
	logger.Info("run_finished",
		"passed", counts.Passed,
		"failed", counts.Failed,
		"errored", counts.Errored,
		"skipped", counts.Skipped,
		"dur_ms", report.Duration.Milliseconds(),
	)
	return report
}

func (r *Runner) runCase(ctx context.Context, c Case) (res Result) {
	res.Name = c.FullName()
	ctx = obs.WithScenario(ctx, res.Name)
	logger := obs.From(ctx).With("pkg", "scenario")
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		r.logResult(ctx, res)
	}()

	logger.Debug("case_started", "steps", len(c.Steps))
	if err := r.setup(ctx); err != nil {
		res.Status, res.Step, res.Err = Errored, "setup", err
		return res
	}

	page, closePage, err := r.Pages.NewPage(ctx)
	if err != nil {
		res.Status, res.Step, res.Err = Errored, "open page", errs.Wrap(errs.Unavailable, "open page", err)
		return res
	}
	defer func() {
		if err := closePage(); err != nil {
			logger.Warn("close_page_failed", "err", err)
		}
	}()

	env := &Env{
		App:     blogui.New(page, r.Options.BaseURL, r.Options.Timeout),
		Backend: r.Backend,
		Seed:    r.Options.SeedUser,
		Extra:   r.Options.ExtraUsers,
	}
	for _, s := range c.Steps {
		if err := ctx.Err(); err != nil {
			res.Status, res.Step, res.Err = Errored, s.Name, errs.Wrap(errs.Unavailable, "run cancelled", err)
			return res
		}
		stepCtx := obs.WithCorrelation(ctx, obs.Correlation{Step: s.Name})
		env.ctx = stepCtx
		if err := runStep(s, env); err != nil {
			res.Status, res.Step, res.Err = StatusOf(err), s.Name, err
			res.Screenshot = r.captureFailure(stepCtx, page, res.Name)
			return res
		}
	}
	res.Status = Passed
	return res
}

// setup resets the application and creates the configured users.
func (r *Runner) setup(ctx context.Context) error {
	if err := r.Backend.Reset(ctx); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "reset application", err)
	}
	users := append([]blog.NewUser{r.Options.SeedUser}, r.Options.ExtraUsers...)
	for _, u := range users {
		if _, err := r.Backend.CreateUser(ctx, u); err != nil {
			return errs.Wrap(errs.FailedPrecondition, "create user "+u.Username, err)
		}
	}
	return nil
}

func runStep(s Step, env *Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.New(errs.Internal, fmt.Sprintf("step %q panicked: %v", s.Name, p))
		}
	}()
	obs.From(env.Context()).With("pkg", "scenario").Debug("step_started")
	return s.Run(env)
}

// captureFailure logs page diagnostics and, when configured, saves a
// screenshot. It returns the screenshot path or "".
func (r *Runner) captureFailure(ctx context.Context, page playwright.Page, name string) string {
	logger := obs.From(ctx).With("pkg", "scenario")
	d := browser.Diagnose(page)
	logger.Info("page_at_failure", "url", d.URL, "title", d.Title, "content", d.Content)

	if r.Options.ScreenshotDir == "" {
		return ""
	}
	path, err := browser.Screenshot(page, r.Options.ScreenshotDir, name)
	if err != nil {
		logger.Warn("screenshot_failed", "err", err)
		return ""
	}
	return path
}

func (r *Runner) logResult(ctx context.Context, res Result) {
	logger := obs.From(ctx).With("pkg", "scenario")
	if res.Status == Passed {
		logger.Info("case_passed", "dur_ms", res.Duration.Milliseconds())
		return
	}
	logger.Warn("case_"+string(res.Status),
		"step", res.Step,
		"code", errs.CodeOf(res.Err),
		"err", res.Err,
		"screenshot", res.Screenshot,
		"dur_ms", res.Duration.Milliseconds(),
	)
}
