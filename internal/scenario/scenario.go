// Package scenario describes browser test cases as a tree of groups and runs
// them against a blog application, one isolated browser context per case.
package scenario

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kuitang/blogcheck/internal/blog"
	"github.com/kuitang/blogcheck/internal/blogui"
	"github.com/kuitang/blogcheck/internal/errs"
)

// Env is what a step acts on: the page, the API, and the seeded users.
type Env struct {
	ctx     context.Context
	App     *blogui.App
	Backend Backend
	Seed    blog.NewUser
	Extra   []blog.NewUser
}

// Context returns the context of the step being run.
func (e *Env) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Other returns the first extra user, the one used for non-owner checks.
func (e *Env) Other() (blog.NewUser, error) {
	if len(e.Extra) == 0 {
		return blog.NewUser{}, errs.New(errs.FailedPrecondition, "no second user configured")
	}
	return e.Extra[0], nil
}

// Step is one named action or assertion.
type Step struct {
	Name string
	Run  func(*Env) error
}

// Test is a leaf of the tree.
type Test struct {
	Name  string
	Steps []Step
}

// Group nests tests. Its Before steps run ahead of every test below it,
// outermost group first.
type Group struct {
	Name   string
	Before []Step
	Tests  []Test
	Groups []Group
}

// Case is a test with the Before steps of all enclosing groups prepended.
type Case struct {
	Path  []string // enclosing group names, outermost first
	Name  string
	Steps []Step
}

// FullName joins the group path and the test name with "/".
func (c Case) FullName() string {
	parts := make([]string, 0, len(c.Path)+1)
	parts = append(parts, c.Path...)
	parts = append(parts, c.Name)
	return strings.Join(parts, "/")
}

// Flatten expands g into cases in declaration order: a group's own tests come
// before the tests of its subgroups.
func (g Group) Flatten() []Case {
	return g.flatten(nil, nil)
}

func (g Group) flatten(path []string, before []Step) []Case {
	path = append(append([]string(nil), path...), g.Name)
	before = append(append([]Step(nil), before...), g.Before...)

	var cases []Case
	for _, t := range g.Tests {
		steps := make([]Step, 0, len(before)+len(t.Steps))
		steps = append(steps, before...)
		steps = append(steps, t.Steps...)
		cases = append(cases, Case{Path: path, Name: t.Name, Steps: steps})
	}
	for _, sub := range g.Groups {
		cases = append(cases, sub.flatten(path, before)...)
	}
	return cases
}

// Filter keeps the cases whose full name matches pattern. An empty pattern
// keeps everything.
func Filter(cases []Case, pattern string) ([]Case, error) {
	if strings.TrimSpace(pattern) == "" {
		return cases, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid case filter %q", pattern), err)
	}
	var kept []Case
	for _, c := range cases {
		if re.MatchString(c.FullName()) {
			kept = append(kept, c)
		}
	}
	return kept, nil
}
