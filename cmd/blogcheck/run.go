package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kuitang/blogcheck/internal/artifacts"
	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/backend"
	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/browser"
	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/report"
	"github.com/kuitang/blogcheck/internal/scenario"
	"github.com/kuitang/blogcheck/internal/twin"
)

// runFlags mirrors RunnerConfig. Only flags the user set override the config.
type runFlags struct {
	baseURL       string
	apiURL        string
	browser       string
	headed        bool
	slowMo        time.Duration
	timeout       time.Duration
	readyTimeout  time.Duration
	run           string
	report        string
	reportFile    string
	screenshotDir string
	failFast      bool
	install       bool
	twin          bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenario catalogue against the blog application",
		Long: `Resets the application, seeds users, and drives a browser through every
scenario. Exits 1 when any case fails, errors, or is skipped.

With --twin, a built-in copy of the blog application is started on a free
local port and the run targets it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd.Flags(), &c.cfg.Runner)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSuite(ctx, c.cfg, f.twin, cmd.ErrOrStderr())
		},
	}

	f.bind(cmd.Flags())
	return cmd
}

func (f *runFlags) bind(fl *pflag.FlagSet) {
	fl.StringVar(&f.baseURL, "base-url", "", "where the browser opens the app (default "+config.DefaultBaseURL+")")
	fl.StringVar(&f.apiURL, "api-url", "", "where reset and seed requests go (default: base URL)")
	fl.StringVar(&f.browser, "browser", "", "chromium, firefox or webkit")
	fl.BoolVar(&f.headed, "headed", false, "show the browser window")
	fl.DurationVar(&f.slowMo, "slow-mo", 0, "delay between browser operations")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-action timeout (default 5s)")
	fl.DurationVar(&f.readyTimeout, "ready-timeout", 0, "how long to wait for the app before the first case")
	fl.StringVar(&f.run, "run", "", "only run cases whose full name matches this regexp")
	fl.StringVar(&f.report, "report", "", "report format: text, json or junit")
	fl.StringVar(&f.reportFile, "report-file", "", "write the report here instead of stdout")
	fl.StringVar(&f.screenshotDir, "screenshot-dir", "", "save a screenshot of every failing case here")
	fl.BoolVar(&f.failFast, "fail-fast", false, "skip the remaining cases after the first failure")
	fl.BoolVar(&f.install, "install", false, "install the Playwright driver and browser first")
	fl.BoolVar(&f.twin, "twin", false, "run against a built-in blog application")
}

func (f *runFlags) apply(fl *pflag.FlagSet, r *config.RunnerConfig) {
	if fl.Changed("base-url") {
		r.BaseURL = f.baseURL
	}
	if fl.Changed("api-url") {
		r.APIURL = f.apiURL
	}
	if fl.Changed("browser") {
		r.Browser = f.browser
	}
	if fl.Changed("headed") {
		r.Headless = !f.headed
	}
	if fl.Changed("slow-mo") {
		r.SlowMo = f.slowMo
	}
	if fl.Changed("timeout") {
		r.Timeout = f.timeout
	}
	if fl.Changed("ready-timeout") {
		r.ReadyTimeout = f.readyTimeout
	}
	if fl.Changed("run") {
		r.Run = f.run
	}
	if fl.Changed("report") {
		r.Report = f.report
	}
	if fl.Changed("report-file") {
		r.ReportFile = f.reportFile
	}
	if fl.Changed("screenshot-dir") {
		r.ScreenshotDir = f.screenshotDir
	}
	if fl.Changed("fail-fast") {
		r.FailFast = f.failFast
	}
	if fl.Changed("install") {
		r.Install = f.install
	}
}

func runSuite(ctx context.Context, cfg *config.Config, withTwin bool, summary io.Writer) error {
	logger := obs.Pkg("blogcheck")

	if withTwin {
		if err := cfg.ValidateTwin(); err != nil {
			return err
		}
		srv, err := twin.New(twin.Options{Config: cfg.Twin, Hasher: auth.BcryptHasher{Cost: cfg.Twin.BcryptCost}, Version: version})
		if err != nil {
			return err
		}
		defer srv.Close()
		baseURL, stopTwin, err := srv.Start("127.0.0.1:0")
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := stopTwin(shutdownCtx); err != nil {
				logger.Warn("twin_shutdown_failed", "err", err)
			}
		}()
		cfg.Runner.BaseURL, cfg.Runner.APIURL = baseURL, ""
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	r := cfg.Runner
	cfg.Summary(summary)

	cases, err := scenario.Filter(scenario.Cases(), r.Run)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("no cases match %q", r.Run)
	}
	write, err := report.ForFormat(r.Report)
	if err != nil {
		return err
	}

	if r.Install {
		if err := browser.Install(r.Browser); err != nil {
			return err
		}
	}

	client := backend.New(r.APIBase(), nil)
	if err := client.WaitReady(ctx, r.BaseURL, r.ReadyTimeout); err != nil {
		return err
	}

	launcher, err := browser.Launch(browser.Options{
		Browser:  r.Browser,
		Headless: r.Headless,
		SlowMo:   r.SlowMo,
		Timeout:  r.Timeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn("browser_close_failed", "err", err)
		}
	}()

	runner := &scenario.Runner{
		Backend: client,
		Pages:   launcher,
		Options: scenario.Options{
			SeedUser:      newUser(r.SeedUser),
			ExtraUsers:    []blog.NewUser{newUser(r.OtherUser)},
			BaseURL:       r.BaseURL,
			Timeout:       r.Timeout,
			ScreenshotDir: r.ScreenshotDir,
			FailFast:      r.FailFast,
		},
	}
	rep := runner.Run(ctx, cases)

	if err := report.WriteFile(r.ReportFile, write, rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if cfg.Artifacts.Enabled() {
		if err := uploadArtifacts(ctx, cfg.Artifacts, rep, summary); err != nil {
			return err
		}
	}
	if !rep.Passed() {
		return errCasesFailed
	}
	return nil
}

func uploadArtifacts(ctx context.Context, cfg config.ArtifactsConfig, rep *scenario.Report, out io.Writer) error {
	store, err := artifacts.New(ctx, cfg)
	if err != nil {
		return err
	}
	objects, err := (&artifacts.Uploader{Store: store, Prefix: cfg.Prefix}).Upload(ctx, rep)
	if err != nil {
		return fmt.Errorf("upload artifacts: %w", err)
	}
	for _, o := range objects {
		fmt.Fprintf(out, "  uploaded %s\n", o.URL)
	}
	return nil
}

func newUser(u config.User) blog.NewUser {
	return blog.NewUser{Name: u.Name, Username: u.Username, Password: u.Password}
}
