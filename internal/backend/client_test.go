package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/twin"
)

var seed = blog.NewUser{Name: "Matti Luukkainen", Username: "mluukkai", Password: "salainen"}

func newTwinClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	srv, err := twin.New(twin.Options{Config: config.Defaults().Twin, Hasher: auth.FakeInsecureHasher{}})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return New(ts.URL+"/", nil), ts
}

func TestClient_SeedFlow(t *testing.T) {
	c, _ := newTwinClient(t)
	ctx := context.Background()

	require.NoError(t, c.Reset(ctx))

	user, err := c.CreateUser(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, seed.Username, user.Username)
	assert.Equal(t, seed.Name, user.Name)

	login, err := c.Login(ctx, seed.Credentials())
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, seed.Name, login.Name)

	created, err := c.CreateBlog(ctx, login.Token, blog.NewBlog{Title: "first", Author: "a", URL: "http://x", Likes: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, created.Likes)

	_, err = c.CreateBlog(ctx, login.Token, blog.NewBlog{Title: "second", Author: "a", URL: "http://y", Likes: 9})
	require.NoError(t, err)

	blogs, err := c.Blogs(ctx)
	require.NoError(t, err)
	require.Len(t, blogs, 2)
	assert.Equal(t, "second", blogs[0].Title)

	require.NoError(t, c.Reset(ctx))
	blogs, err = c.Blogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, blogs)
}

func TestClient_ErrorsAreCoded(t *testing.T) {
	c, _ := newTwinClient(t)
	ctx := context.Background()

	_, err := c.CreateUser(ctx, seed)
	require.NoError(t, err)

	_, err = c.CreateUser(ctx, seed)
	require.Error(t, err)
	assert.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "unique")

	_, err = c.Login(ctx, blog.Credentials{Username: seed.Username, Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid username or password")

	_, err = c.CreateBlog(ctx, "not-a-token", blog.NewBlog{Title: "t", URL: "u"})
	assert.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	err := New(url, nil).Reset(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
}

func TestClient_SendsRunIDAndRedactsLogs(t *testing.T) {
	var gotRunID atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRunID.Store(r.Header.Get(obs.RunIDHeader))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"1","name":"n","username":"u"}`))
	}))
	defer ts.Close()

	var logs bytes.Buffer
	restore := obs.SetOutputForTests(&logs)
	defer restore()

	ctx := obs.WithCorrelation(context.Background(), obs.Correlation{RunID: "run-42"})
	_, err := New(ts.URL, nil).CreateUser(ctx, seed)
	require.NoError(t, err)

	assert.Equal(t, "run-42", gotRunID.Load())
	assert.Contains(t, logs.String(), `"run_id":"run-42"`)
	assert.NotContains(t, logs.String(), seed.Password)
	assert.Contains(t, logs.String(), "[REDACTED]")
}

func TestClient_WaitReady(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, nil)
	require.NoError(t, c.WaitReady(context.Background(), ts.URL, 5*time.Second))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestClient_WaitReadyTimesOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := New(ts.URL, nil).WaitReady(context.Background(), ts.URL, 300*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
	assert.True(t, strings.Contains(err.Error(), "not ready"), err.Error())
}

func TestClient_WaitReadyHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := New(ts.URL, nil).WaitReady(ctx, ts.URL, time.Minute)
	require.Error(t, err)
	assert.Equal(t, errs.Unavailable, errs.CodeOf(err))
}
