// Package blog defines the data exchanged with the blog list application and
// the small pieces of UI text the suite asserts on.
package blog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NewUser is the body of POST /api/users.
type NewUser struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Credentials returns the login body for u.
func (u NewUser) Credentials() Credentials {
	return Credentials{Username: u.Username, Password: u.Password}
}

// User is an account as returned by the API.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Credentials is the body of POST /api/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login is the response of a successful POST /api/login.
type Login struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// NewBlog is the body of POST /api/blogs. Likes is only honored by API seeding.
type NewBlog struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
	Likes  int    `json:"likes,omitempty"`
}

// Blog is a blog entry as returned by the API.
type Blog struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
	Likes  int    `json:"likes"`
	User   *User  `json:"user,omitempty"`
}

const likesPrefix = "likes "

// FormatLikes renders a like count the way the blog list shows it.
func FormatLikes(n int) string {
	return likesPrefix + strconv.Itoa(n)
}

// ParseLikes reads a rendered like count ("likes 3").
func ParseLikes(text string) (int, error) {
	text = strings.TrimSpace(text)
	rest, ok := strings.CutPrefix(text, likesPrefix)
	if !ok {
		return 0, fmt.Errorf("like count %q does not start with %q", text, likesPrefix)
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, fmt.Errorf("like count %q: %w", text, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("like count %q is negative", text)
	}
	return n, nil
}

// RemoveConfirmMessage is the text of the confirmation dialog shown before a
// blog is removed.
func RemoveConfirmMessage(title, author string) string {
	return fmt.Sprintf("Remove blog %s by %s", title, author)
}

// SortByLikes orders blogs by likes, most liked first. Ties keep their order.
func SortByLikes(blogs []Blog) {
	sort.SliceStable(blogs, func(i, j int) bool {
		return blogs[i].Likes > blogs[j].Likes
	})
}

// CheckNonIncreasing reports the first position where likes goes up.
func CheckNonIncreasing(likes []int) error {
	for i := 1; i < len(likes); i++ {
		if likes[i] > likes[i-1] {
			return fmt.Errorf("blogs not ordered by likes: position %d has %d likes after %d (all: %v)", i, likes[i], likes[i-1], likes)
		}
	}
	return nil
}
