package users

import (
	"context"

	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, scope rbac.OwnerFilter, filter ListFilter, page shared.Pagination) ([]User, int, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
	gate *rbac.Gate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gate *rbac.Gate) *Service {
	return &Service{repo: repo, gate: gate}
}

// ListUsers returns the users the caller may list. Callers holding only
// user:list:own see themselves.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter, page shared.Pagination) ([]User, shared.Pagination, error) {
	scope, err := s.gate.Scope(ctx, rbac.ResourceUser, rbac.ActionList)
	if err != nil {
		return nil, page, err
	}
	users, total, err := s.repo.ListUsers(ctx, scope, filter, page)
	if err != nil {
		return nil, page, err
	}
	if users == nil {
		users = []User{}
	}
	return users, page.WithTotal(total), nil
}
