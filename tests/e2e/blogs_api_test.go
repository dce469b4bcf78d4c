// Package e2e provides end-to-end property-based tests for the blog twin API.
// These tests hit the real router via httptest.Server through the same client
// the runner uses for reset and seeding.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/backend"
	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/config"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/twin"
)

// Tests share one twin and must not interleave resets.
var apiTestMutex sync.Mutex
var apiSharedMu sync.Mutex
var apiSharedFixture *apiTestServer

type apiTestServer struct {
	twin   *twin.Server
	server *httptest.Server
	client *backend.Client
}

func (s *apiTestServer) close() {
	s.server.Close()
	_ = s.twin.Close()
}

var (
	owner = blog.NewUser{Name: "Matti Luukkainen", Username: "mluukkai", Password: "salainen"}
	other = blog.NewUser{Name: "Arto Hellas", Username: "hellas", Password: "sekret"}
)

func getOrCreateSharedAPIServer(t testing.TB) *apiTestServer {
	apiSharedMu.Lock()
	defer apiSharedMu.Unlock()

	if apiSharedFixture != nil {
		return apiSharedFixture
	}

	cfg := config.Defaults().Twin
	// Property runs log in hundreds of times.
	cfg.LoginRPS = 10000
	cfg.LoginBurst = 10000
	srv, err := twin.New(twin.Options{Config: cfg, Hasher: auth.FakeInsecureHasher{}, Version: "e2e"})
	if err != nil {
		t.Fatalf("Failed to create twin: %v", err)
	}
	ts := httptest.NewServer(srv)
	apiSharedFixture = &apiTestServer{twin: srv, server: ts, client: backend.New(ts.URL, ts.Client())}
	return apiSharedFixture
}

// fataler is the part of testing.TB that *rapid.T also provides.
type fataler interface {
	Fatalf(format string, args ...any)
}

// session is a logged-in API user.
type session struct {
	user  blog.User
	token string
}

// resetAndSeed clears the twin and creates both users, returning their sessions.
func resetAndSeed(t fataler, srv *apiTestServer) (session, session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.client.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	var sessions []session
	for _, u := range []blog.NewUser{owner, other} {
		created, err := srv.client.CreateUser(ctx, u)
		if err != nil {
			t.Fatalf("create user %s: %v", u.Username, err)
		}
		login, err := srv.client.Login(ctx, u.Credentials())
		if err != nil {
			t.Fatalf("login %s: %v", u.Username, err)
		}
		sessions = append(sessions, session{user: created, token: login.Token})
	}
	return sessions[0], sessions[1]
}

func doRequest(t fataler, srv *apiTestServer, method, path, token string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	resp.Body.Close()
	return resp
}

// =============================================================================
// Property: the blog list matches a model under random create, like, delete
// =============================================================================

func testBlogsAPI_MatchesModel(t *rapid.T, srv *apiTestServer) {
	first, second := resetAndSeed(t, srv)
	sessions := []session{first, second}
	ctx := context.Background()

	type modelBlog struct {
		likes   int
		ownerID string
	}
	model := map[string]*modelBlog{}
	ids := func() []string {
		out := make([]string, 0, len(model))
		for id := range model {
			out = append(out, id)
		}
		sort.Strings(out)
		return out
	}

	t.Repeat(map[string]func(*rapid.T){
		"create": func(t *rapid.T) {
			s := rapid.SampledFrom(sessions).Draw(t, "as")
			nb := blog.NewBlog{
				Title:  rapid.StringMatching(`[A-Za-z][A-Za-z ]{0,20}`).Draw(t, "title"),
				Author: rapid.StringMatching(`[A-Za-z ]{0,15}`).Draw(t, "author"),
				URL:    fmt.Sprintf("http://blog.test/%d", rapid.IntRange(0, 1000).Draw(t, "path")),
				Likes:  rapid.IntRange(0, 20).Draw(t, "likes"),
			}
			created, err := srv.client.CreateBlog(ctx, s.token, nb)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.User == nil || created.User.ID != s.user.ID {
				t.Fatalf("creator = %+v, want %s", created.User, s.user.ID)
			}
			model[created.ID] = &modelBlog{likes: nb.Likes, ownerID: s.user.ID}
		},
		"like": func(t *rapid.T) {
			if len(model) == 0 {
				t.Skip("no blogs")
			}
			id := rapid.SampledFrom(ids()).Draw(t, "id")
			m := model[id]
			resp := doRequest(t, srv, http.MethodPut, "/api/blogs/"+id, "", map[string]int{"likes": m.likes + 1})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("like status = %d", resp.StatusCode)
			}
			m.likes++
		},
		"delete": func(t *rapid.T) {
			if len(model) == 0 {
				t.Skip("no blogs")
			}
			id := rapid.SampledFrom(ids()).Draw(t, "id")
			s := rapid.SampledFrom(sessions).Draw(t, "as")
			resp := doRequest(t, srv, http.MethodDelete, "/api/blogs/"+id, s.token, nil)
			if s.user.ID == model[id].ownerID {
				if resp.StatusCode != http.StatusNoContent {
					t.Fatalf("owner delete status = %d", resp.StatusCode)
				}
				delete(model, id)
				return
			}
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("non-owner delete status = %d, want 403", resp.StatusCode)
			}
		},
		"": func(t *rapid.T) {
			blogs, err := srv.client.Blogs(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(blogs) != len(model) {
				t.Fatalf("listed %d blogs, model has %d", len(blogs), len(model))
			}
			likes := make([]int, len(blogs))
			for i, b := range blogs {
				m, ok := model[b.ID]
				if !ok {
					t.Fatalf("unexpected blog %s", b.ID)
				}
				if b.Likes != m.likes {
					t.Fatalf("blog %s likes = %d, model %d", b.ID, b.Likes, m.likes)
				}
				likes[i] = b.Likes
			}
			if err := blog.CheckNonIncreasing(likes); err != nil {
				t.Fatalf("list not ordered by likes: %v", err)
			}
		},
	})
}

func TestBlogsAPI_MatchesModel(t *testing.T) {
	apiTestMutex.Lock()
	defer apiTestMutex.Unlock()
	srv := getOrCreateSharedAPIServer(t)

	rapid.Check(t, func(rt *rapid.T) {
		testBlogsAPI_MatchesModel(rt, srv)
	})
}

// =============================================================================
// Property: invalid blogs are rejected and never stored
// =============================================================================

func testBlogsAPI_RejectsInvalid(t *rapid.T, srv *apiTestServer) {
	s, _ := resetAndSeed(t, srv)

	nb := blog.NewBlog{
		Title:  rapid.SampledFrom([]string{"", "   ", "ok"}).Draw(t, "title"),
		Author: "someone",
		URL:    rapid.SampledFrom([]string{"", "\t", "http://ok.test"}).Draw(t, "url"),
	}
	if nb.Title == "ok" && nb.URL == "http://ok.test" {
		nb.Likes = -rapid.IntRange(1, 5).Draw(t, "negLikes")
	}

	_, err := srv.client.CreateBlog(context.Background(), s.token, nb)
	if err == nil {
		t.Fatalf("invalid blog %+v accepted", nb)
	}
	if !errs.Is(err, errs.FailedPrecondition) {
		t.Fatalf("client error code = %s, want failed_precondition", errs.CodeOf(err))
	}

	blogs, err := srv.client.Blogs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(blogs) != 0 {
		t.Fatalf("rejected blog was stored: %+v", blogs)
	}
}

func TestBlogsAPI_RejectsInvalid(t *testing.T) {
	apiTestMutex.Lock()
	defer apiTestMutex.Unlock()
	srv := getOrCreateSharedAPIServer(t)

	rapid.Check(t, func(rt *rapid.T) {
		testBlogsAPI_RejectsInvalid(rt, srv)
	})
}

// =============================================================================
// Auth
// =============================================================================

func TestBlogsAPI_CreateRequiresToken(t *testing.T) {
	apiTestMutex.Lock()
	defer apiTestMutex.Unlock()
	srv := getOrCreateSharedAPIServer(t)
	resetAndSeed(t, srv)

	for _, token := range []string{"", "not-a-jwt"} {
		resp := doRequest(t, srv, http.MethodPost, "/api/blogs", token, blog.NewBlog{Title: "t", URL: "http://u.test"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}
}

func TestBlogsAPI_TokenOfDeletedUserIsRejected(t *testing.T) {
	apiTestMutex.Lock()
	defer apiTestMutex.Unlock()
	srv := getOrCreateSharedAPIServer(t)
	s, _ := resetAndSeed(t, srv)

	// Reset drops users but the token still verifies.
	if err := srv.client.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err := srv.client.CreateBlog(context.Background(), s.token, blog.NewBlog{Title: "t", URL: "http://u.test"})
	if err == nil {
		t.Fatal("blog created with a token for a deleted user")
	}
}
