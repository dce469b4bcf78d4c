// Package backend talks to the blog application's HTTP API to reset state and
// seed fixtures before each browser scenario.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/logutil"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/urlutil"
)

const (
	resetPath = "/api/testing/reset"
	usersPath = "/api/users"
	loginPath = "/api/login"
	blogsPath = "/api/blogs"

	maxResponseBytes = 1 << 20
	pollInterval     = 250 * time.Millisecond
)

// Client calls the blog API. The zero value is not usable; use New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API rooted at baseURL. A nil httpClient uses a
// client with a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: urlutil.NormalizeBaseURL(baseURL), http: httpClient}
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Reset clears all users and blogs on the server.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, resetPath, "", nil, nil, http.StatusNoContent, http.StatusOK)
}

// CreateUser registers u.
func (c *Client) CreateUser(ctx context.Context, u blog.NewUser) (blog.User, error) {
	var out blog.User
	err := c.do(ctx, http.MethodPost, usersPath, "", u, &out, http.StatusCreated, http.StatusOK)
	return out, err
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds blog.Credentials) (blog.Login, error) {
	var out blog.Login
	err := c.do(ctx, http.MethodPost, loginPath, "", creds, &out, http.StatusOK)
	return out, err
}

// CreateBlog creates b on behalf of the user that owns token.
func (c *Client) CreateBlog(ctx context.Context, token string, b blog.NewBlog) (blog.Blog, error) {
	var out blog.Blog
	err := c.do(ctx, http.MethodPost, blogsPath, token, b, &out, http.StatusCreated, http.StatusOK)
	return out, err
}

// Blogs lists every blog in the order the server returns them.
func (c *Client) Blogs(ctx context.Context) ([]blog.Blog, error) {
	var out []blog.Blog
	err := c.do(ctx, http.MethodGet, blogsPath, "", nil, &out, http.StatusOK)
	return out, err
}

// WaitReady polls pageURL until it answers with a non-5xx status or timeout
// elapses. A zero timeout checks once.
func (c *Client) WaitReady(ctx context.Context, pageURL string, timeout time.Duration) error {
	logger := obs.From(ctx).With("pkg", "backend")
	deadline := time.Now().Add(timeout)
	attempts := 0
	var lastErr error

	for {
		attempts++
		lastErr = c.probe(ctx, pageURL)
		if lastErr == nil {
			logger.Debug("server_ready", "host", urlutil.HostOf(pageURL), "attempts", attempts)
			return nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Unavailable, "waiting for "+pageURL, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
	logger.Warn("server_not_ready", "host", urlutil.HostOf(pageURL), "attempts", attempts, "err", lastErr)
	return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s not ready after %s", pageURL, timeout), lastErr)
}

func (c *Client) probe(ctx context.Context, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// do sends one JSON request. Unexpected statuses become FailedPrecondition
// errors carrying the server's message; transport failures are Unavailable.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any, want ...int) error {
	var body io.Reader
	var raw []byte
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return errs.Wrap(errs.Internal, "encode request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlutil.BuildAbsolute(c.baseURL, path), body)
	if err != nil {
		return errs.Wrap(errs.Internal, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if runID := obs.CorrelationFromContext(ctx).RunID; runID != "" {
		req.Header.Set(obs.RunIDHeader, runID)
	}

	logger := obs.From(ctx).With("pkg", "backend")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("api_request_failed", "method", method, "path", path, "err", err)
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("read %s %s response", method, path), err)
	}

	logger.Debug("api_request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
		"headers", logutil.FormatHeadersForLog(req.Header),
		"body", logutil.TruncateForLog(logutil.RedactJSON(raw), 300),
	)

	if !statusIn(resp.StatusCode, want) {
		return errs.New(errs.FailedPrecondition, fmt.Sprintf("%s %s: status %d: %s",
			method, path, resp.StatusCode, serverMessage(respBody)))
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.FailedPrecondition, fmt.Sprintf("decode %s %s response", method, path), err)
	}
	return nil
}

func statusIn(status int, want []int) bool {
	for _, w := range want {
		if status == w {
			return true
		}
	}
	return false
}

// serverMessage extracts {"error": "..."} from a failure body, falling back to
// a truncated copy of the raw body.
func serverMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return payload.Error
	}
	if msg := logutil.TruncateForLog(string(body), 200); msg != "" {
		return msg
	}
	return "empty response"
}
