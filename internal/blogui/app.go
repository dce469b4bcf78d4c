// Package blogui drives the blog list UI through Playwright. Every helper
// returns a coded error: errs.AssertionFailed when the page disagrees with an
// expectation and errs.NotFound when an element never shows up.
package blogui

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
	"github.com/kuitang/blogcheck/internal/urlutil"
)

// Visible texts and test ids of the blog list UI.
const (
	LoginHeading     = "Log in to application"
	WrongCredentials = "Wrong username or password"
	LoggedInSuffix   = " logged in"

	TestIDUsername = "username"
	TestIDPassword = "password"
	TestIDTitle    = "title"
	TestIDAuthor   = "author"
	TestIDURL      = "url"
	TestIDItem     = "blog-item"
	TestIDLikes    = "blog-likes"
	TestIDOwner    = "blog-owner"

	ButtonLogin   = "login"
	ButtonLogout  = "logout"
	ButtonNewBlog = "create new blog"
	ButtonCreate  = "create"
	ButtonView    = "view"
	ButtonLike    = "Like"
	ButtonRemove  = "remove"
)

// App is a page object for one browser page showing the blog list app.
type App struct {
	page    playwright.Page
	baseURL string
	timeout time.Duration
	expect  playwright.PlaywrightAssertions

	dialogMu sync.Mutex
	dialog   *dialogWait
}

// New wraps page. timeout bounds every expectation; zero uses 5s.
func New(page playwright.Page, baseURL string, timeout time.Duration) *App {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &App{
		page:    page,
		baseURL: urlutil.NormalizeBaseURL(baseURL),
		timeout: timeout,
		expect:  playwright.NewPlaywrightAssertions(float64(timeout.Milliseconds())),
	}
	page.OnDialog(a.handleDialog)
	return a
}

// Page returns the underlying Playwright page.
func (a *App) Page() playwright.Page {
	return a.page
}

// Open navigates to the application root.
func (a *App) Open() error {
	if _, err := a.page.Goto(a.baseURL+"/", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return errs.Wrap(errs.Unavailable, "open "+a.baseURL, err)
	}
	return nil
}

// ExpectTitle checks the document title against pattern.
func (a *App) ExpectTitle(pattern *regexp.Regexp) error {
	if err := a.expect.Page(a.page).ToHaveTitle(pattern); err != nil {
		title, _ := a.page.Title()
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("page title %q does not match %s", title, pattern), err)
	}
	return nil
}

// ExpectLoginForm checks that the login heading and both inputs are visible.
func (a *App) ExpectLoginForm() error {
	if err := a.visible(a.text(LoginHeading), "login heading"); err != nil {
		return err
	}
	if err := a.visible(a.page.GetByTestId(TestIDUsername), "username input"); err != nil {
		return err
	}
	return a.visible(a.page.GetByTestId(TestIDPassword), "password input")
}

// LoginWith fills the login form and submits it.
func (a *App) LoginWith(username, password string) error {
	if err := fill(a.page.GetByTestId(TestIDUsername), "username input", username); err != nil {
		return err
	}
	if err := fill(a.page.GetByTestId(TestIDPassword), "password input", password); err != nil {
		return err
	}
	return click(a.button(ButtonLogin), "login button")
}

// ExpectLoggedIn checks that "<name> logged in" is visible.
func (a *App) ExpectLoggedIn(name string) error {
	return a.visible(a.text(name+LoggedInSuffix), fmt.Sprintf("%q", name+LoggedInSuffix))
}

// ExpectLoginFailed checks that the wrong-credentials notice is visible and
// that name is not shown as logged in.
func (a *App) ExpectLoginFailed(name string) error {
	if err := a.visible(a.text(WrongCredentials), fmt.Sprintf("%q", WrongCredentials)); err != nil {
		return err
	}
	if err := a.expect.Locator(a.text(name + LoggedInSuffix)).ToBeHidden(); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("%q is shown after a failed login", name+LoggedInSuffix), err)
	}
	return nil
}

// Login logs in and waits for the logged-in header.
func (a *App) Login(u blog.NewUser) error {
	if err := a.LoginWith(u.Username, u.Password); err != nil {
		return err
	}
	return a.ExpectLoggedIn(u.Name)
}

// Logout clicks logout and waits for the login form.
func (a *App) Logout() error {
	if err := click(a.button(ButtonLogout), "logout button"); err != nil {
		return err
	}
	return a.visible(a.text(LoginHeading), "login heading after logout")
}

// CreateBlog opens the creation form, submits b and waits for its title to
// appear in the list.
func (a *App) CreateBlog(b blog.NewBlog) error {
	if err := click(a.button(ButtonNewBlog), "create new blog button"); err != nil {
		return err
	}
	if err := fill(a.page.GetByTestId(TestIDTitle), "title input", b.Title); err != nil {
		return err
	}
	if err := fill(a.page.GetByTestId(TestIDAuthor), "author input", b.Author); err != nil {
		return err
	}
	if err := fill(a.page.GetByTestId(TestIDURL), "url input", b.URL); err != nil {
		return err
	}
	if err := click(a.button(ButtonCreate), "create button"); err != nil {
		return err
	}
	return a.visible(a.Item(b.Title).loc, fmt.Sprintf("blog %q in the list", b.Title))
}

// ExpectBlogGone checks that no list item carries title.
func (a *App) ExpectBlogGone(title string) error {
	if err := a.expect.Locator(a.items().Filter(playwright.LocatorFilterOptions{HasText: title})).ToHaveCount(0); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("blog %q is still listed", title), err)
	}
	return nil
}

// ExpectTitlesInOrder checks that the list shows exactly len(titles) items
// and that they appear in the given order.
func (a *App) ExpectTitlesInOrder(titles []string) error {
	if err := a.expect.Locator(a.items()).ToHaveCount(len(titles)); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("expected %d blogs in the list", len(titles)), err)
	}
	if len(titles) == 0 {
		return nil
	}
	if err := a.expect.Locator(a.items()).ToContainText(titles); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("blogs not listed in order %q", titles), err)
	}
	return nil
}

// LikesInOrder returns the like count of every listed blog, top to bottom.
// Collapsed items are expanded first so their counts are rendered.
func (a *App) LikesInOrder() ([]int, error) {
	items := a.items()
	n, err := items.Count()
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "count blog items", err)
	}

	likes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		item := items.Nth(i)
		view := item.GetByRole(*playwright.AriaRoleButton, playwright.LocatorGetByRoleOptions{
			Name:  ButtonView,
			Exact: playwright.Bool(true),
		})
		if visible, _ := view.IsVisible(); visible {
			if err := click(view, fmt.Sprintf("view button of item %d", i)); err != nil {
				return nil, err
			}
		}
		text, err := item.GetByTestId(TestIDLikes).TextContent()
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("likes of item %d", i), err)
		}
		count, err := blog.ParseLikes(text)
		if err != nil {
			return nil, errs.Wrap(errs.AssertionFailed, fmt.Sprintf("likes of item %d", i), err)
		}
		likes = append(likes, count)
	}
	return likes, nil
}

// ExpectOrderedByLikes checks that rendered like counts never increase down
// the list.
func (a *App) ExpectOrderedByLikes() error {
	likes, err := a.LikesInOrder()
	if err != nil {
		return err
	}
	if err := blog.CheckNonIncreasing(likes); err != nil {
		return errs.Wrap(errs.AssertionFailed, "list order", err)
	}
	obs.Pkg("blogui").Debug("likes_in_order", "likes", likes)
	return nil
}

func (a *App) items() playwright.Locator {
	return a.page.GetByTestId(TestIDItem)
}

func (a *App) text(s string) playwright.Locator {
	return a.page.GetByText(s, playwright.PageGetByTextOptions{Exact: playwright.Bool(true)})
}

func (a *App) button(name string) playwright.Locator {
	return a.page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{
		Name:  name,
		Exact: playwright.Bool(true),
	})
}

func (a *App) visible(loc playwright.Locator, what string) error {
	if err := a.expect.Locator(loc).ToBeVisible(); err != nil {
		return errs.Wrap(errs.NotFound, what+" not visible", err)
	}
	return nil
}

func fill(loc playwright.Locator, what, value string) error {
	if err := loc.Fill(value); err != nil {
		return errs.Wrap(errs.NotFound, "fill "+what, err)
	}
	return nil
}

func click(loc playwright.Locator, what string) error {
	if err := loc.Click(); err != nil {
		return errs.Wrap(errs.NotFound, "click "+what, err)
	}
	return nil
}
