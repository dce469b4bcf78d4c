// Package twin assembles the blog twin: a small, self-contained rendition of
// the blog list application that renders the UI the suite drives.
package twin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kuitang/blogcheck/internal/api"
	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/db"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/ratelimit"
	"github.com/kuitang/blogcheck/internal/web"
)

// Options configures a twin.
type Options struct {
	Config  config.TwinConfig
	Hasher  auth.PasswordHasher // nil uses bcrypt at Config.BcryptCost
	Clock   auth.Clock          // nil uses the system clock
	Version string
}

// Server is a running or runnable blog twin.
type Server struct {
	Router  *chi.Mux
	store   *db.Store
	limiter *ratelimit.RateLimiter
	cfg     config.TwinConfig
}

// New opens storage and builds the router.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	hasher := opts.Hasher
	if hasher == nil {
		hasher = auth.BcryptHasher{Cost: cfg.BcryptCost}
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, opts.Clock)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open twin database: %w", err)
	}
	renderer, err := web.NewRenderer()
	if err != nil {
		store.Close()
		return nil, err
	}

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		RPS:             cfg.LoginRPS,
		Burst:           cfg.LoginBurst,
		CleanupInterval: cfg.CleanupInterval,
	})

	apiHandler := api.NewHandler(store, hasher, tokens, opts.Clock)
	apiHandler.OnReset(limiter.Reset)
	webHandler := web.NewHandler(renderer, "/api", opts.Version)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obs.RequestContextMiddleware)
	r.Use(func(next http.Handler) http.Handler { return obs.AccessLogMiddleware("twin", next) })

	apiHandler.Routes(r, ratelimit.RateLimitMiddleware(limiter, ratelimit.ClientIP))
	webHandler.Routes(r)

	return &Server{Router: r, store: store, limiter: limiter, cfg: cfg}, nil
}

// ServeHTTP implements http.Handler so the twin can be mounted in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Close releases the limiter and the database.
func (s *Server) Close() error {
	s.limiter.Stop()
	return s.store.Close()
}

// Start listens on addr and serves in the background. It returns the base
// URL and a function that shuts the listener down.
func (s *Server) Start(addr string) (string, func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger := obs.Pkg("twin")
	baseURL := "http://" + ln.Addr().String()
	go func() {
		logger.Info("twin_started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("twin_serve_failed", "err", err)
		}
	}()

	stop := func(ctx context.Context) error {
		logger.Info("twin_stopping")
		return srv.Shutdown(ctx)
	}
	return baseURL, stop, nil
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	_, stop, err := s.Start(s.cfg.Addr)
	if err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stop(shutdownCtx)
}
