package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kuitang/blogcheck/internal/errs"
)

var validate = validator.New()

// userRequest is the validated form of POST /api/users.
type userRequest struct {
	Name     string `json:"name" validate:"max=200"`
	Username string `json:"username" validate:"min=3,max=100"`
	Password string `json:"password" validate:"min=3,max=200"`
}

// blogRequest is the validated form of a blog write.
type blogRequest struct {
	Title  string `json:"title" validate:"required,max=500"`
	Author string `json:"author" validate:"max=200"`
	URL    string `json:"url" validate:"required,max=2000"`
	Likes  int    `json:"likes" validate:"gte=0"`
}

func (b *blogRequest) trim() {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.URL = strings.TrimSpace(b.URL)
}

// checkStruct runs the struct's validate tags. Any violation becomes an
// InvalidArgument error carrying message, with the field detail wrapped.
func checkStruct(v any, message string) error {
	if err := validate.Struct(v); err != nil {
		return errs.Wrap(errs.InvalidArgument, message, err)
	}
	return nil
}
