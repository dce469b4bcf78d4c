// Package config provides centralized configuration for blogcheck.
// Values are layered: built-in defaults, then an optional TOML file, then
// environment variables, then CLI flags (applied by cmd/blogcheck).
//
// BLOGCHECK_* variables configure the scenario runner; TWIN_* variables
// configure the fixture blog application.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/kuitang/blogcheck/internal/urlutil"
)

const (
	DefaultBaseURL   = "http://localhost:5173"
	DefaultTwinAddr  = "127.0.0.1:5173"
	DefaultTimeout   = 5 * time.Second
	DefaultReadyWait = 30 * time.Second

	defaultArtifactsRegion = "auto"
)

// Browsers lists the Playwright browser engines blogcheck can drive.
var Browsers = []string{"chromium", "firefox", "webkit"}

// ReportFormats lists the supported report encodings.
var ReportFormats = []string{"text", "json", "junit"}

// User is a seeded account.
type User struct {
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// RunnerConfig configures the browser scenario runner.
type RunnerConfig struct {
	BaseURL      string        // Where the browser navigates
	APIURL       string        // Where reset/seed requests go; empty means BaseURL
	Browser      string        // chromium, firefox or webkit
	Headless     bool          // false opens a visible window
	SlowMo       time.Duration // Delay between driver operations
	Timeout      time.Duration // Per-action driver timeout
	ReadyTimeout time.Duration // How long to wait for the server before the first case

	SeedUser  User // Logged in by most scenarios
	OtherUser User // Used to check that non-owners cannot remove blogs

	Run           string // Regexp over full case names; empty runs all
	Report        string // text, json or junit
	ReportFile    string // Empty writes to stdout
	ScreenshotDir string // Empty disables failure screenshots
	FailFast      bool
	Install       bool // Install the Playwright driver and browser before running
}

// TwinConfig configures the fixture blog application.
type TwinConfig struct {
	Addr            string
	JWTSecret       string // Empty generates a random secret per process
	BcryptCost      int
	DatabasePath    string // Empty keeps data in memory
	LoginRPS        float64
	LoginBurst      int
	CleanupInterval time.Duration
}

// ArtifactsConfig configures uploading the report and failure screenshots
// to S3-compatible storage after a run. An empty Bucket disables uploads.
// Credentials come from the standard AWS_ environment variables.
type ArtifactsConfig struct {
	Bucket          string // BLOGCHECK_ARTIFACTS_BUCKET
	Prefix          string // Key prefix; the run ID is appended
	Endpoint        string // AWS_ENDPOINT_URL_S3; empty uses AWS S3
	Region          string // AWS_REGION
	AccessKeyID     string // AWS_ACCESS_KEY_ID
	SecretAccessKey string // AWS_SECRET_ACCESS_KEY
	PublicURL       string // S3_PUBLIC_URL; derived from Endpoint and Bucket when empty
	UsePathStyle    bool
}

// Enabled reports whether uploads are configured.
func (a ArtifactsConfig) Enabled() bool {
	return strings.TrimSpace(a.Bucket) != ""
}

// Config holds all blogcheck configuration.
type Config struct {
	LogLevel  string
	Runner    RunnerConfig
	Twin      TwinConfig
	Artifacts ArtifactsConfig
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Defaults returns the built-in configuration, matching the blog list
// application's development setup.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Runner: RunnerConfig{
			BaseURL:      DefaultBaseURL,
			Browser:      "chromium",
			Headless:     true,
			Timeout:      DefaultTimeout,
			ReadyTimeout: DefaultReadyWait,
			SeedUser: User{
				Name:     "Matti Luukkainen",
				Username: "mluukkai",
				Password: "salainen",
			},
			OtherUser: User{
				Name:     "Arto Hellas",
				Username: "hellas",
				Password: "sekret",
			},
			Report: "text",
		},
		Twin: TwinConfig{
			Addr:            DefaultTwinAddr,
			BcryptCost:      bcrypt.DefaultCost,
			LoginRPS:        50,
			LoginBurst:      100,
			CleanupInterval: time.Hour,
		},
		Artifacts: ArtifactsConfig{
			Prefix: "blogcheck",
			Region: defaultArtifactsRegion,
		},
	}
}

// Load builds a configuration from defaults, the TOML file at path (if
// non-empty), and the environment. It does not validate; callers apply CLI
// flags first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// fileConfig mirrors the TOML layout. Durations are strings ("5s") and
// booleans are pointers so that an absent key leaves the default alone.
type fileConfig struct {
	LogLevel string `toml:"log_level"`
	Runner   struct {
		BaseURL       string `toml:"base_url"`
		APIURL        string `toml:"api_url"`
		Browser       string `toml:"browser"`
		Headless      *bool  `toml:"headless"`
		SlowMo        string `toml:"slow_mo"`
		Timeout       string `toml:"timeout"`
		ReadyTimeout  string `toml:"ready_timeout"`
		SeedUser      User   `toml:"seed_user"`
		OtherUser     User   `toml:"other_user"`
		Run           string `toml:"run"`
		Report        string `toml:"report"`
		ReportFile    string `toml:"report_file"`
		ScreenshotDir string `toml:"screenshot_dir"`
		FailFast      *bool  `toml:"fail_fast"`
	} `toml:"runner"`
	Twin struct {
		Addr         string  `toml:"addr"`
		JWTSecret    string  `toml:"jwt_secret"`
		BcryptCost   int     `toml:"bcrypt_cost"`
		DatabasePath string  `toml:"database_path"`
		LoginRPS     float64 `toml:"login_rps"`
		LoginBurst   int     `toml:"login_burst"`
	} `toml:"twin"`
	Artifacts struct {
		Bucket       string `toml:"bucket"`
		Prefix       string `toml:"prefix"`
		Endpoint     string `toml:"endpoint"`
		Region       string `toml:"region"`
		PublicURL    string `toml:"public_url"`
		UsePathStyle *bool  `toml:"use_path_style"`
	} `toml:"artifacts"`
}

// MergeFile overlays the non-empty values of a TOML file onto c.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.MergeTOML(data)
}

// MergeTOML overlays the non-empty values of a TOML document onto c.
func (c *Config) MergeTOML(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.LogLevel, fc.LogLevel)

	r := &c.Runner
	setString(&r.BaseURL, fc.Runner.BaseURL)
	setString(&r.APIURL, fc.Runner.APIURL)
	setString(&r.Browser, fc.Runner.Browser)
	if fc.Runner.Headless != nil {
		r.Headless = *fc.Runner.Headless
	}
	if fc.Runner.FailFast != nil {
		r.FailFast = *fc.Runner.FailFast
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.Runner.SlowMo, &r.SlowMo, "runner.slow_mo"},
		{fc.Runner.Timeout, &r.Timeout, "runner.timeout"},
		{fc.Runner.ReadyTimeout, &r.ReadyTimeout, "runner.ready_timeout"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	mergeUser(&r.SeedUser, fc.Runner.SeedUser)
	mergeUser(&r.OtherUser, fc.Runner.OtherUser)
	setString(&r.Run, fc.Runner.Run)
	setString(&r.Report, fc.Runner.Report)
	setString(&r.ReportFile, fc.Runner.ReportFile)
	setString(&r.ScreenshotDir, fc.Runner.ScreenshotDir)

	tw := &c.Twin
	setString(&tw.Addr, fc.Twin.Addr)
	setString(&tw.JWTSecret, fc.Twin.JWTSecret)
	setString(&tw.DatabasePath, fc.Twin.DatabasePath)
	if fc.Twin.BcryptCost != 0 {
		tw.BcryptCost = fc.Twin.BcryptCost
	}
	if fc.Twin.LoginRPS != 0 {
		tw.LoginRPS = fc.Twin.LoginRPS
	}
	if fc.Twin.LoginBurst != 0 {
		tw.LoginBurst = fc.Twin.LoginBurst
	}

	a := &c.Artifacts
	setString(&a.Bucket, fc.Artifacts.Bucket)
	setString(&a.Prefix, fc.Artifacts.Prefix)
	setString(&a.Endpoint, fc.Artifacts.Endpoint)
	setString(&a.Region, fc.Artifacts.Region)
	setString(&a.PublicURL, fc.Artifacts.PublicURL)
	if fc.Artifacts.UsePathStyle != nil {
		a.UsePathStyle = *fc.Artifacts.UsePathStyle
	}
	return nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() {
	c.LogLevel = getEnvOrDefault("BLOGCHECK_LOG_LEVEL", c.LogLevel)

	r := &c.Runner
	r.BaseURL = getEnvOrDefault("BLOGCHECK_BASE_URL", r.BaseURL)
	r.APIURL = getEnvOrDefault("BLOGCHECK_API_URL", r.APIURL)
	r.Browser = getEnvOrDefault("BLOGCHECK_BROWSER", r.Browser)
	r.Headless = parseBoolOrDefault("BLOGCHECK_HEADLESS", r.Headless)
	r.SlowMo = parseDurationOrDefault("BLOGCHECK_SLOW_MO", r.SlowMo)
	r.Timeout = parseDurationOrDefault("BLOGCHECK_TIMEOUT", r.Timeout)
	r.ReadyTimeout = parseDurationOrDefault("BLOGCHECK_READY_TIMEOUT", r.ReadyTimeout)
	r.SeedUser.Name = getEnvOrDefault("BLOGCHECK_SEED_NAME", r.SeedUser.Name)
	r.SeedUser.Username = getEnvOrDefault("BLOGCHECK_SEED_USERNAME", r.SeedUser.Username)
	r.SeedUser.Password = getEnvOrDefault("BLOGCHECK_SEED_PASSWORD", r.SeedUser.Password)
	r.OtherUser.Name = getEnvOrDefault("BLOGCHECK_OTHER_NAME", r.OtherUser.Name)
	r.OtherUser.Username = getEnvOrDefault("BLOGCHECK_OTHER_USERNAME", r.OtherUser.Username)
	r.OtherUser.Password = getEnvOrDefault("BLOGCHECK_OTHER_PASSWORD", r.OtherUser.Password)
	r.Run = getEnvOrDefault("BLOGCHECK_RUN", r.Run)
	r.Report = getEnvOrDefault("BLOGCHECK_REPORT", r.Report)
	r.ReportFile = getEnvOrDefault("BLOGCHECK_REPORT_FILE", r.ReportFile)
	r.ScreenshotDir = getEnvOrDefault("BLOGCHECK_SCREENSHOT_DIR", r.ScreenshotDir)
	r.FailFast = parseBoolOrDefault("BLOGCHECK_FAIL_FAST", r.FailFast)

	tw := &c.Twin
	tw.Addr = getEnvOrDefault("TWIN_ADDR", tw.Addr)
	tw.JWTSecret = getEnvOrDefault("TWIN_JWT_SECRET", tw.JWTSecret)
	tw.BcryptCost = parseIntOrDefault("TWIN_BCRYPT_COST", tw.BcryptCost)
	tw.DatabasePath = getEnvOrDefault("TWIN_DATABASE_PATH", tw.DatabasePath)
	tw.LoginRPS = parseFloat64OrDefault("TWIN_LOGIN_RPS", tw.LoginRPS)
	tw.LoginBurst = parseIntOrDefault("TWIN_LOGIN_BURST", tw.LoginBurst)
	tw.CleanupInterval = parseDurationOrDefault("TWIN_CLEANUP_INTERVAL", tw.CleanupInterval)

	// S3 settings use the AWS_ names `fly storage create` sets.
	a := &c.Artifacts
	a.Bucket = getEnvOrDefault("BLOGCHECK_ARTIFACTS_BUCKET", a.Bucket)
	a.Prefix = getEnvOrDefault("BLOGCHECK_ARTIFACTS_PREFIX", a.Prefix)
	a.Endpoint = getEnvOrDefault("AWS_ENDPOINT_URL_S3", a.Endpoint)
	a.Region = getEnvOrDefault("AWS_REGION", a.Region)
	a.AccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", a.AccessKeyID)
	a.SecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", a.SecretAccessKey)
	a.PublicURL = getEnvOrDefault("S3_PUBLIC_URL", a.PublicURL)
	a.UsePathStyle = parseBoolOrDefault("BLOGCHECK_ARTIFACTS_PATH_STYLE", a.UsePathStyle)
	if a.PublicURL == "" && a.Endpoint != "" && a.Bucket != "" {
		a.PublicURL = strings.TrimRight(a.Endpoint, "/") + "/" + a.Bucket
	}
}

// APIBase returns the URL reset and seed requests are sent to.
func (r RunnerConfig) APIBase() string {
	if strings.TrimSpace(r.APIURL) != "" {
		return urlutil.NormalizeBaseURL(r.APIURL)
	}
	return urlutil.NormalizeBaseURL(r.BaseURL)
}

// Validate checks runner and twin configuration.
func (c *Config) Validate() error {
	errs := c.Runner.problems()
	errs = append(errs, c.Twin.problems()...)
	errs = append(errs, c.Artifacts.problems()...)
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateTwin checks only the fixture application settings.
func (c *Config) ValidateTwin() error {
	if errs := c.Twin.problems(); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (r RunnerConfig) problems() []string {
	var errs []string

	if err := urlutil.ValidateBaseURL(r.BaseURL); err != nil {
		errs = append(errs, "BLOGCHECK_BASE_URL is invalid: "+err.Error())
	}
	if strings.TrimSpace(r.APIURL) != "" {
		if err := urlutil.ValidateBaseURL(r.APIURL); err != nil {
			errs = append(errs, "BLOGCHECK_API_URL is invalid: "+err.Error())
		}
	}
	if !oneOf(r.Browser, Browsers) {
		errs = append(errs, fmt.Sprintf("BLOGCHECK_BROWSER must be one of %s", strings.Join(Browsers, ", ")))
	}
	if r.Timeout <= 0 {
		errs = append(errs, "BLOGCHECK_TIMEOUT must be positive")
	}
	if r.ReadyTimeout < 0 {
		errs = append(errs, "BLOGCHECK_READY_TIMEOUT must not be negative")
	}
	if r.SlowMo < 0 {
		errs = append(errs, "BLOGCHECK_SLOW_MO must not be negative")
	}
	errs = append(errs, userProblems("BLOGCHECK_SEED", r.SeedUser)...)
	errs = append(errs, userProblems("BLOGCHECK_OTHER", r.OtherUser)...)
	if r.SeedUser.Username != "" && r.SeedUser.Username == r.OtherUser.Username {
		errs = append(errs, "BLOGCHECK_OTHER_USERNAME must differ from BLOGCHECK_SEED_USERNAME")
	}
	if r.Run != "" {
		if _, err := regexp.Compile(r.Run); err != nil {
			errs = append(errs, "BLOGCHECK_RUN is not a valid regexp: "+err.Error())
		}
	}
	if !oneOf(r.Report, ReportFormats) {
		errs = append(errs, fmt.Sprintf("BLOGCHECK_REPORT must be one of %s", strings.Join(ReportFormats, ", ")))
	}
	return errs
}

func (t TwinConfig) problems() []string {
	var errs []string

	if strings.TrimSpace(t.Addr) == "" {
		errs = append(errs, "TWIN_ADDR is required")
	}
	if t.BcryptCost < bcrypt.MinCost || t.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("TWIN_BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if t.JWTSecret != "" && len(t.JWTSecret) < 16 {
		errs = append(errs, "TWIN_JWT_SECRET must be at least 16 characters")
	}
	if t.LoginRPS <= 0 {
		errs = append(errs, "TWIN_LOGIN_RPS must be positive")
	}
	if t.LoginBurst <= 0 {
		errs = append(errs, "TWIN_LOGIN_BURST must be positive")
	}
	if t.CleanupInterval <= 0 {
		errs = append(errs, "TWIN_CLEANUP_INTERVAL must be positive")
	}
	return errs
}

func (a ArtifactsConfig) problems() []string {
	if !a.Enabled() {
		return nil
	}
	var errs []string
	if strings.TrimSpace(a.Region) == "" {
		errs = append(errs, "AWS_REGION is required when BLOGCHECK_ARTIFACTS_BUCKET is set")
	}
	if a.Endpoint != "" {
		if err := urlutil.ValidateBaseURL(a.Endpoint); err != nil {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is invalid: "+err.Error())
		}
	}
	if (a.AccessKeyID == "") != (a.SecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	return errs
}

// usernames and passwords shorter than three characters are rejected by the
// blog application's user endpoint.
func userProblems(prefix string, u User) []string {
	var errs []string
	if strings.TrimSpace(u.Name) == "" {
		errs = append(errs, prefix+"_NAME is required")
	}
	if len(u.Username) < 3 {
		errs = append(errs, prefix+"_USERNAME must be at least 3 characters")
	}
	if len(u.Password) < 3 {
		errs = append(errs, prefix+"_PASSWORD must be at least 3 characters")
	}
	return errs
}

// Summary writes a human-readable summary of the runner configuration.
func (c *Config) Summary(w io.Writer) {
	r := c.Runner
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "blogcheck")
	fmt.Fprintf(w, "  App:      %s\n", urlutil.NormalizeBaseURL(r.BaseURL))
	fmt.Fprintf(w, "  API:      %s\n", r.APIBase())
	mode := "headless"
	if !r.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "  Browser:  %s (%s, timeout %s)\n", r.Browser, mode, r.Timeout)
	fmt.Fprintf(w, "  Seed:     %s (%s)\n", r.SeedUser.Name, r.SeedUser.Username)
	if r.Run != "" {
		fmt.Fprintf(w, "  Filter:   %s\n", r.Run)
	}
	if c.Artifacts.Enabled() {
		fmt.Fprintf(w, "  Upload:   s3://%s/%s\n", c.Artifacts.Bucket, c.Artifacts.Prefix)
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func setString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = value
	}
}

func mergeUser(dst *User, src User) {
	setString(&dst.Name, src.Name)
	setString(&dst.Username, src.Username)
	setString(&dst.Password, src.Password)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// MustLoad loads configuration and panics if loading or validation fails.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
