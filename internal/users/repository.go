package users

import (
	"context"
	"fmt"
	"strings"

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

// ListUsers returns one page of users visible through scope, plus the total
// row count.
func (r *Repository) ListUsers(ctx context.Context, scope rbac.OwnerFilter, filter ListFilter, page shared.Pagination) ([]User, int, error) {
	where, args := scope.Where("u.id", nil)
	clauses := []string{where}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		clauses = append(clauses, fmt.Sprintf("(u.email ILIKE $%d OR u.name ILIKE $%d)", len(args), len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("u.is_active = $%d", len(args)))
	}
	predicate := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM users u WHERE "+predicate, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`
		SELECT u.id, u.email, COALESCE(u.name, ''), COALESCE(r.name, ''), u.is_active, u.created_at, u.updated_at
		FROM users u
		LEFT JOIN LATERAL (
			SELECT ro.name FROM user_roles ur JOIN roles ro ON ro.id = ur.role_id
			WHERE ur.user_id = u.id ORDER BY ro.level DESC LIMIT 1
		) r ON TRUE
		WHERE %s
		ORDER BY u.id
		LIMIT $%d OFFSET $%d`, predicate, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		var u User
		err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
		return u, err
	})
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
