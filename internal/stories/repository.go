package stories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns one page of stories matching scope and the total count.
func (r *Repository) List(ctx context.Context, scope rbac.OwnerFilter, page shared.Pagination) ([]Story, int, error) {
	where, args := scope.Where("author_id", nil)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM stories WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`
		SELECT id, author_id, title, body, created_at
		FROM stories
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	stories, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Story])
	if err != nil {
		return nil, 0, err
	}
	return stories, total, nil
}

// Get loads a story by id.
func (r *Repository) Get(ctx context.Context, id int64) (Story, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, author_id, title, body, created_at FROM stories WHERE id = $1`, id)
	if err != nil {
		return Story{}, err
	}
	story, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Story])
	if errors.Is(err, pgx.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	return story, err
}

// Create inserts a story and returns it.
func (r *Repository) Create(ctx context.Context, authorID int64, in CreateInput) (Story, error) {
	const query = `
		INSERT INTO stories (author_id, title, body)
		VALUES ($1, $2, $3)
		RETURNING id, author_id, title, body, created_at`
	rows, err := r.pool.Query(ctx, query, authorID, in.Title, in.Body)
	if err != nil {
		return Story{}, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Story])
}

// Delete removes a story.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
