package scenario

import (
	"fmt"
	"regexp"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/errs"
)

// PlaywrightBlog is the blog the "and a blog exists" cases create through
// the UI.
var PlaywrightBlog = blog.NewBlog{
	Title:  "a blog created by playwright",
	Author: "roman riquelme",
	URL:    "http://blog.com/1",
}

// SeededBlogs are created through the API for the multi-blog ordering case.
// Their likes are distinct so the expected order is unambiguous.
var SeededBlogs = []blog.NewBlog{
	{Title: "React patterns", Author: "Michael Chan", URL: "https://reactpatterns.com/", Likes: 1},
	{Title: "Canonical string reduction", Author: "Edsger W. Dijkstra", URL: "http://www.cs.utexas.edu/~EWD/transcriptions/EWD08xx/EWD808.html", Likes: 4},
	{Title: "Type wars", Author: "Robert C. Martin", URL: "http://blog.cleancoder.com/uncle-bob/2016/05/01/TypeWars.html", Likes: 3},
}

var titlePattern = regexp.MustCompile(`blogs`)

// Catalogue returns the blog app suite.
func Catalogue() Group {
	return Group{
		Name:   "Blog app",
		Before: []Step{openApp},
		Tests: []Test{
			{Name: "has title", Steps: []Step{{
				Name: "expect title",
				Run:  func(e *Env) error { return e.App.ExpectTitle(titlePattern) },
			}}},
			{Name: "login form is shown", Steps: []Step{{
				Name: "expect login form",
				Run:  func(e *Env) error { return e.App.ExpectLoginForm() },
			}}},
			{Name: "user can login", Steps: []Step{loginAsSeed}},
		},
		Groups: []Group{
			loginGroup(),
			loggedInGroup(),
		},
	}
}

// Cases flattens the catalogue.
func Cases() []Case {
	return Catalogue().Flatten()
}

var openApp = Step{
	Name: "open app",
	Run:  func(e *Env) error { return e.App.Open() },
}

var loginAsSeed = Step{
	Name: "log in as seed user",
	Run:  func(e *Env) error { return e.App.Login(e.Seed) },
}

func loginGroup() Group {
	return Group{
		Name: "Login",
		Tests: []Test{
			{Name: "succeeds with correct credentials", Steps: []Step{loginAsSeed}},
			{Name: "fails with wrong credentials", Steps: []Step{{
				Name: "log in with a wrong password",
				Run: func(e *Env) error {
					if err := e.App.LoginWith(e.Seed.Username, e.Seed.Password+"-wrong"); err != nil {
						return err
					}
					return e.App.ExpectLoginFailed(e.Seed.Name)
				},
			}}},
		},
	}
}

func loggedInGroup() Group {
	return Group{
		Name:   "When logged in",
		Before: []Step{loginAsSeed},
		Tests: []Test{
			{Name: "a new blog can be created", Steps: []Step{createPlaywrightBlog}},
		},
		Groups: []Group{
			blogExistsGroup(),
			severalBlogsGroup(),
		},
	}
}

var createPlaywrightBlog = Step{
	Name: "create blog",
	Run:  func(e *Env) error { return e.App.CreateBlog(PlaywrightBlog) },
}

var viewPlaywrightBlog = Step{
	Name: "view blog",
	Run:  func(e *Env) error { return e.App.Item(PlaywrightBlog.Title).View() },
}

func blogExistsGroup() Group {
	return Group{
		Name:   "and a blog exists",
		Before: []Step{createPlaywrightBlog},
		Tests: []Test{
			{Name: "like can be changed", Steps: []Step{
				viewPlaywrightBlog,
				{Name: "like", Run: func(e *Env) error {
					_, err := e.App.Item(PlaywrightBlog.Title).Like()
					return err
				}},
			}},
			{Name: "only the owner can see the delete button", Steps: []Step{
				viewPlaywrightBlog,
				{Name: "expect creator", Run: func(e *Env) error {
					return e.App.Item(PlaywrightBlog.Title).ExpectCreator(e.Seed.Name)
				}},
				{Name: "expect remove button", Run: func(e *Env) error {
					return e.App.Item(PlaywrightBlog.Title).ExpectRemoveVisible()
				}},
			}},
			{Name: "another user cannot see the delete button", Steps: []Step{
				{Name: "log out", Run: func(e *Env) error { return e.App.Logout() }},
				{Name: "log in as other user", Run: func(e *Env) error {
					other, err := e.Other()
					if err != nil {
						return err
					}
					return e.App.Login(other)
				}},
				viewPlaywrightBlog,
				{Name: "expect no remove button", Run: func(e *Env) error {
					return e.App.Item(PlaywrightBlog.Title).ExpectRemoveHidden()
				}},
			}},
			{Name: "a blog can be deleted", Steps: []Step{
				viewPlaywrightBlog,
				{Name: "remove", Run: func(e *Env) error {
					return e.App.Item(PlaywrightBlog.Title).Remove(PlaywrightBlog.Author)
				}},
			}},
			{Name: "blogs are ordered by likes", Steps: []Step{expectOrderedByLikes}},
		},
	}
}

var expectOrderedByLikes = Step{
	Name: "expect ordered by likes",
	Run:  func(e *Env) error { return e.App.ExpectOrderedByLikes() },
}

func severalBlogsGroup() Group {
	return Group{
		Name:   "and several blogs exist",
		Before: []Step{seedBlogsViaAPI, openApp},
		Tests: []Test{
			{Name: "blogs are ordered by likes", Steps: []Step{
				{Name: "expect seeded order", Run: func(e *Env) error {
					return e.App.ExpectTitlesInOrder(titlesByLikes(SeededBlogs))
				}},
				expectOrderedByLikes,
				{Name: "like the second blog past the first", Run: likeSecondToTop},
				expectOrderedByLikes,
			}},
		},
	}
}

var seedBlogsViaAPI = Step{
	Name: "seed blogs via API",
	Run: func(e *Env) error {
		login, err := e.Backend.Login(e.Context(), e.Seed.Credentials())
		if err != nil {
			return errs.Wrap(errs.FailedPrecondition, "log in seed user via API", err)
		}
		for _, b := range SeededBlogs {
			if _, err := e.Backend.CreateBlog(e.Context(), login.Token, b); err != nil {
				return errs.Wrap(errs.FailedPrecondition, fmt.Sprintf("seed blog %q", b.Title), err)
			}
		}
		return nil
	},
}

// likeSecondToTop likes the second most liked blog until it leads, then
// checks the list reordered.
func likeSecondToTop(e *Env) error {
	ordered := byLikes(SeededBlogs)
	first, second := ordered[0], ordered[1]

	item := e.App.Item(second.Title)
	if err := item.View(); err != nil {
		return err
	}
	for likes := second.Likes; likes <= first.Likes; likes++ {
		if _, err := item.Like(); err != nil {
			return err
		}
	}

	want := append([]string{second.Title, first.Title}, titlesByLikes(ordered[2:])...)
	return e.App.ExpectTitlesInOrder(want)
}

func byLikes(blogs []blog.NewBlog) []blog.NewBlog {
	asBlogs := make([]blog.Blog, len(blogs))
	for i, b := range blogs {
		asBlogs[i] = blog.Blog{Title: b.Title, Author: b.Author, URL: b.URL, Likes: b.Likes}
	}
	blog.SortByLikes(asBlogs)
	out := make([]blog.NewBlog, len(asBlogs))
	for i, b := range asBlogs {
		out[i] = blog.NewBlog{Title: b.Title, Author: b.Author, URL: b.URL, Likes: b.Likes}
	}
	return out
}

func titlesByLikes(blogs []blog.NewBlog) []string {
	sorted := byLikes(blogs)
	titles := make([]string, len(sorted))
	for i, b := range sorted {
		titles[i] = b.Title
	}
	return titles
}
