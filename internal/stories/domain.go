package stories

import (
	"fmt"
	"time"

	"github.com/rolegate/rolegate/internal/platform/httpx"
)

// ErrNotFound is returned when a story does not exist.
var ErrNotFound = fmt.Errorf("stories: %w", httpx.ErrNotFound)

// Story is a user-authored post.
type Story struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput carries the fields a caller may set.
type CreateInput struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required"`
}
