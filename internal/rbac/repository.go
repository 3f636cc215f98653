package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rolegate/rolegate/internal/platform/db"
	"github.com/rolegate/rolegate/internal/platform/httpx"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)

// Subject is the stored identity of a user together with its active role.
type Subject struct {
	UserID int64
	Email  string
	Name   string
	Role   string
}

// Repository defines persistence operations for role data.
type Repository interface {
	FindSubject(ctx context.Context, userID int64) (Subject, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	UserIDsWithRole(ctx context.Context, role RoleName) ([]int64, error)
	SyncCatalog(ctx context.Context, roles []Role, grants map[RoleName][]string) error
	AssignRole(ctx context.Context, userID int64, role RoleName) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindSubject loads a user and the role with the highest level assigned to it.
func (r *PGRepository) FindSubject(ctx context.Context, userID int64) (Subject, error) {
	const query = `
		SELECT u.id, u.email, COALESCE(u.name, ''), COALESCE(r.name, '')
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN roles r ON r.id = ur.role_id
		WHERE u.id = $1 AND u.is_active
		ORDER BY r.level DESC NULLS LAST
		LIMIT 1`
	var s Subject
	err := r.pool.QueryRow(ctx, query, userID).Scan(&s.UserID, &s.Email, &s.Name, &s.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, err
	}
	return s, nil
}

// EffectivePermissions returns deduplicated permission names for a user.
func (r *PGRepository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	const query = `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UserIDsWithRole lists users currently holding role.
func (r *PGRepository) UserIDsWithRole(ctx context.Context, role RoleName) ([]int64, error) {
	const query = `
		SELECT ur.user_id
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = $1
		ORDER BY ur.user_id`
	rows, err := r.pool.Query(ctx, query, string(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// SyncCatalog upserts roles and permissions and replaces every role's grant
// set in one transaction.
func (r *PGRepository) SyncCatalog(ctx context.Context, roles []Role, grants map[RoleName][]string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, role := range roles {
			var roleID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO roles (name, level, description)
				VALUES ($1, $2, $3)
				ON CONFLICT (name) DO UPDATE SET level = EXCLUDED.level, description = EXCLUDED.description, updated_at = NOW()
				RETURNING id`, string(role.Name), int(role.Level), role.Description).Scan(&roleID)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
				return err
			}
			for _, perm := range grants[role.Name] {
				var permID int64
				err := tx.QueryRow(ctx, `
					INSERT INTO permissions (name)
					VALUES ($1)
					ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
					RETURNING id`, perm).Scan(&permID)
				if err != nil {
					return err
				}
				if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// AssignRole replaces the role held by userID.
func (r *PGRepository) AssignRole(ctx context.Context, userID int64, role RoleName) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var roleID int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, string(role)).Scan(&roleID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
		return err
	})
}

var _ Repository = (*PGRepository)(nil)
