// Package api implements the blog twin's JSON API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kuitang/blogcheck/internal/auth"
	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/db"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/logutil"
	"github.com/kuitang/blogcheck/internal/obs"
)

const maxBodyBytes = 1 << 20

// Handler serves the blog API from a Store.
type Handler struct {
	store   *db.Store
	hasher  auth.PasswordHasher
	tokens  *auth.TokenIssuer
	authMW  *auth.Middleware
	clock   auth.Clock
	onReset []func()
}

// NewHandler creates the API handler.
func NewHandler(store *db.Store, hasher auth.PasswordHasher, tokens *auth.TokenIssuer, clock auth.Clock) *Handler {
	if clock == nil {
		clock = auth.RealClock()
	}
	h := &Handler{store: store, hasher: hasher, tokens: tokens, clock: clock}
	h.authMW = auth.NewMiddleware(tokens, func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, http.StatusUnauthorized, err.Error())
	})
	return h
}

// OnReset registers fn to run after POST /api/testing/reset clears storage.
func (h *Handler) OnReset(fn func()) {
	h.onReset = append(h.onReset, fn)
}

// Routes mounts the API under /api. login wraps the login endpoint, which
// lets the caller add throttling.
func (h *Handler) Routes(r chi.Router, login func(http.Handler) http.Handler) {
	if login == nil {
		login = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/testing/reset", h.Reset)

		r.Post("/users", h.CreateUser)
		r.Get("/users", h.ListUsers)

		r.With(login).Post("/login", h.Login)

		r.Get("/blogs", h.ListBlogs)
		r.Get("/blogs/{id}", h.GetBlog)
		r.Put("/blogs/{id}", h.UpdateBlog)
		r.Group(func(r chi.Router) {
			r.Use(h.authMW.RequireAuth)
			r.Post("/blogs", h.CreateBlog)
			r.Delete("/blogs/{id}", h.DeleteBlog)
		})
	})
	r.Get("/health", h.Health)
}

// Reset handles POST /api/testing/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(r.Context()); err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "reset failed", err))
		return
	}
	for _, fn := range h.onReset {
		fn()
	}
	obs.From(r.Context()).With("pkg", "api").Info("state_reset")
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser handles POST /api/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in userRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := checkStruct(in, "username and password must be at least 3 characters long"); err != nil {
		h.fail(w, r, err)
		return
	}

	hash, err := h.hasher.HashPassword(in.Password)
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "hash password", err))
		return
	}
	user := db.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Username:     in.Username,
		PasswordHash: hash,
		CreatedAt:    h.clock.Now(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			h.fail(w, r, errs.New(errs.InvalidArgument, "expected `username` to be unique"))
			return
		}
		h.fail(w, r, errs.Wrap(errs.Internal, "create user", err))
		return
	}

	obs.From(r.Context()).With("pkg", "api").Info("user_created", "username", user.Username)
	writeJSON(w, http.StatusCreated, user.Public())
}

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "list users", err))
		return
	}
	out := make([]blog.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

// Login handles POST /api/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds blog.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.store.UserByUsername(r.Context(), strings.TrimSpace(creds.Username))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.fail(w, r, errs.Wrap(errs.Internal, "lookup user", err))
		return
	}
	if err != nil || !h.hasher.VerifyPassword(creds.Password, user.PasswordHash) {
		obs.From(r.Context()).With("pkg", "api").Info("login_failed", "username", creds.Username)
		h.fail(w, r, errs.New(errs.Unauthenticated, auth.ErrInvalidCredentials.Error()))
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, blog.Login{Token: token, Username: user.Username, Name: user.Name})
}

// ListBlogs handles GET /api/blogs, most liked first.
func (h *Handler) ListBlogs(w http.ResponseWriter, r *http.Request) {
	blogs, err := h.store.ListBlogs(r.Context())
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "list blogs", err))
		return
	}
	writeJSON(w, http.StatusOK, blogs)
}

// GetBlog handles GET /api/blogs/{id}.
func (h *Handler) GetBlog(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBlog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, storeError("get blog", err))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CreateBlog handles POST /api/blogs for the authenticated user.
func (h *Handler) CreateBlog(w http.ResponseWriter, r *http.Request) {
	var in blogRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.trim()
	if err := checkStruct(in, "title and url are required and likes must not be negative"); err != nil {
		h.fail(w, r, err)
		return
	}

	userID := auth.GetUserID(r.Context())
	if _, err := h.store.UserByID(r.Context(), userID); err != nil {
		h.fail(w, r, errs.Wrap(errs.Unauthenticated, "token user no longer exists", err))
		return
	}

	created, err := h.store.CreateBlog(r.Context(), blog.Blog{
		ID:     uuid.NewString(),
		Title:  in.Title,
		Author: in.Author,
		URL:    in.URL,
		Likes:  in.Likes,
	}, userID, h.clock.Now())
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.Internal, "create blog", err))
		return
	}

	obs.From(r.Context()).With("pkg", "api").Info("blog_created", "blog_id", created.ID, "title", created.Title)
	writeJSON(w, http.StatusCreated, created)
}

// blogUpdate holds the fields PUT may change; absent fields keep their value.
type blogUpdate struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
	URL    *string `json:"url"`
	Likes  *int    `json:"likes"`
}

// UpdateBlog handles PUT /api/blogs/{id}. Anyone may update, which is how
// likes are recorded.
func (h *Handler) UpdateBlog(w http.ResponseWriter, r *http.Request) {
	var in blogUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}

	current, err := h.store.GetBlog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, storeError("get blog", err))
		return
	}
	next := blogRequest{Title: current.Title, Author: current.Author, URL: current.URL, Likes: current.Likes}
	if in.Title != nil {
		next.Title = *in.Title
	}
	if in.Author != nil {
		next.Author = *in.Author
	}
	if in.URL != nil {
		next.URL = *in.URL
	}
	if in.Likes != nil {
		next.Likes = *in.Likes
	}
	next.trim()
	if err := checkStruct(next, "title and url are required and likes must not be negative"); err != nil {
		h.fail(w, r, err)
		return
	}
	current.Title, current.Author, current.URL, current.Likes = next.Title, next.Author, next.URL, next.Likes

	updated, err := h.store.UpdateBlog(r.Context(), current)
	if err != nil {
		h.fail(w, r, storeError("update blog", err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteBlog handles DELETE /api/blogs/{id}. Only the creator may delete.
func (h *Handler) DeleteBlog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.store.GetBlog(r.Context(), id)
	if err != nil {
		h.fail(w, r, storeError("get blog", err))
		return
	}
	if b.User == nil || b.User.ID != auth.GetUserID(r.Context()) {
		h.fail(w, r, errs.New(errs.PermissionDenied, "only the creator can delete a blog"))
		return
	}
	if err := h.store.DeleteBlog(r.Context(), id); err != nil {
		h.fail(w, r, storeError("delete blog", err))
		return
	}

	obs.From(r.Context()).With("pkg", "api").Info("blog_deleted", "blog_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.fail(w, r, errs.Wrap(errs.Unavailable, "database unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func storeError(op string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, "blog not found")
	}
	return errs.Wrap(errs.Internal, op, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid JSON body", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	logger := obs.From(r.Context()).With("pkg", "api")
	if status >= http.StatusInternalServerError {
		logger.Error("request_failed", "path", r.URL.Path, "code", code, "err", err)
	} else {
		logger.Debug("request_rejected", "path", r.URL.Path, "code", code, "err", logutil.TruncateForLog(err.Error(), 200))
	}
	writeError(w, status, errs.MessageOf(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
