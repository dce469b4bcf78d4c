package blogui

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/obs"
)

// Item is one blog in the list, located by its title.
type Item struct {
	app   *App
	title string
	loc   playwright.Locator
}

// Item returns the first list entry whose text contains title.
func (a *App) Item(title string) *Item {
	loc := a.items().Filter(playwright.LocatorFilterOptions{HasText: title}).First()
	return &Item{app: a, title: title, loc: loc}
}

// Title returns the title the item was located by.
func (it *Item) Title() string {
	return it.title
}

// View opens the item's details.
func (it *Item) View() error {
	if err := click(it.button(ButtonView), fmt.Sprintf("view button of %q", it.title)); err != nil {
		return err
	}
	return it.app.visible(it.button(ButtonLike), fmt.Sprintf("like button of %q", it.title))
}

// Likes reads the item's rendered like count.
func (it *Item) Likes() (int, error) {
	text, err := it.loc.GetByTestId(TestIDLikes).TextContent()
	if err != nil {
		return 0, errs.Wrap(errs.NotFound, fmt.Sprintf("likes of %q", it.title), err)
	}
	n, err := blog.ParseLikes(text)
	if err != nil {
		return 0, errs.Wrap(errs.AssertionFailed, fmt.Sprintf("likes of %q", it.title), err)
	}
	return n, nil
}

// Like clicks the like button and checks the count went up by exactly one.
// The details must already be open.
func (it *Item) Like() (int, error) {
	before, err := it.Likes()
	if err != nil {
		return 0, err
	}
	if err := click(it.button(ButtonLike), fmt.Sprintf("like button of %q", it.title)); err != nil {
		return 0, err
	}

	want := blog.FormatLikes(before + 1)
	if err := it.app.expect.Locator(it.loc.GetByTestId(TestIDLikes)).ToHaveText(want); err != nil {
		after, _ := it.Likes()
		return 0, errs.Wrap(errs.AssertionFailed,
			fmt.Sprintf("likes of %q went from %d to %d, want %d", it.title, before, after, before+1), err)
	}
	return before + 1, nil
}

// ExpectCreator checks that the details name name as the blog's creator.
func (it *Item) ExpectCreator(name string) error {
	if err := it.app.expect.Locator(it.loc.GetByTestId(TestIDOwner)).ToContainText(name); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("creator of %q is not %q", it.title, name), err)
	}
	return nil
}

// ExpectRemoveVisible checks that the remove control is shown.
func (it *Item) ExpectRemoveVisible() error {
	if err := it.app.expect.Locator(it.button(ButtonRemove)).ToBeVisible(); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("remove button of %q not visible to its creator", it.title), err)
	}
	return nil
}

// ExpectRemoveHidden checks that the remove control is absent or hidden.
func (it *Item) ExpectRemoveHidden() error {
	if err := it.app.expect.Locator(it.button(ButtonRemove)).ToBeHidden(); err != nil {
		return errs.Wrap(errs.AssertionFailed, fmt.Sprintf("remove button of %q visible to a non-creator", it.title), err)
	}
	return nil
}

// Remove clicks remove, accepts the confirmation dialog if its message is
// "Remove blog <title> by <author>", and waits for the item to disappear.
// Any other message is dismissed and reported as a failure.
func (it *Item) Remove(author string) error {
	want := blog.RemoveConfirmMessage(it.title, author)
	wait := it.app.expectDialog(want)
	defer it.app.clearDialog(wait)

	if err := click(it.button(ButtonRemove), fmt.Sprintf("remove button of %q", it.title)); err != nil {
		return err
	}

	select {
	case got := <-wait.done:
		if got.err != nil {
			return errs.Wrap(errs.Internal, "answer confirmation dialog", got.err)
		}
		if got.message != want {
			return errs.Assertf("confirmation dialog said %q, want %q", got.message, want)
		}
	case <-time.After(it.app.timeout):
		return errs.New(errs.NotFound, fmt.Sprintf("no confirmation dialog within %s after removing %q", it.app.timeout, it.title))
	}
	return it.app.ExpectBlogGone(it.title)
}

func (it *Item) button(name string) playwright.Locator {
	return it.loc.GetByRole(*playwright.AriaRoleButton, playwright.LocatorGetByRoleOptions{
		Name:  name,
		Exact: playwright.Bool(true),
	})
}

type dialogResult struct {
	message string
	err     error
}

// dialogWait is a pending expectation of one native dialog.
type dialogWait struct {
	want string
	done chan dialogResult
}

func (a *App) expectDialog(want string) *dialogWait {
	w := &dialogWait{want: want, done: make(chan dialogResult, 1)}
	a.dialogMu.Lock()
	a.dialog = w
	a.dialogMu.Unlock()
	return w
}

func (a *App) clearDialog(w *dialogWait) {
	a.dialogMu.Lock()
	if a.dialog == w {
		a.dialog = nil
	}
	a.dialogMu.Unlock()
}

// handleDialog answers every native dialog on the page. A dialog nobody is
// waiting for is dismissed.
func (a *App) handleDialog(d playwright.Dialog) {
	message := d.Message()

	a.dialogMu.Lock()
	w := a.dialog
	a.dialog = nil
	a.dialogMu.Unlock()

	logger := obs.Pkg("blogui")
	if w == nil {
		logger.Warn("unexpected_dialog", "type", d.Type(), "message", message)
		if err := d.Dismiss(); err != nil {
			logger.Warn("dialog_dismiss_failed", "err", err)
		}
		return
	}

	var err error
	if message == w.want {
		err = d.Accept()
	} else {
		err = d.Dismiss()
	}
	logger.Debug("dialog_answered", "type", d.Type(), "message", message, "accepted", message == w.want)
	w.done <- dialogResult{message: message, err: err}
}
