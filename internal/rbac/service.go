package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rolegate/rolegate/internal/shared"
)

// Invalidation describes which cached snapshots must be rebuilt.
type Invalidation struct {
	UserIDs []int64  `json:"user_ids,omitempty"`
	Role    RoleName `json:"role,omitempty"`
	All     bool     `json:"all,omitempty"`
}

// Invalidator schedules snapshot invalidation, typically through a queue.
type Invalidator interface {
	EnqueueInvalidation(ctx context.Context, inv Invalidation) error
}

// PrincipalLoader resolves the snapshot of an authenticated user.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID int64) (*Principal, error)
}

// RoleGrants pairs a role with the permissions it grants.
type RoleGrants struct {
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// Service orchestrates RBAC operations.
type Service struct {
	repo        Repository
	cache       SnapshotCache
	invalidator Invalidator
	auditor     shared.Auditor
	logger      *slog.Logger
	loads       singleflight.Group
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithSnapshotCache enables snapshot caching.
func WithSnapshotCache(cache SnapshotCache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithInvalidator routes invalidations through inv instead of applying them
// inline.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// WithAuditor records role assignments.
func WithAuditor(a shared.Auditor) ServiceOption {
	return func(s *Service) { s.auditor = a }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service backed by repo.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// principalLoadTimeout bounds a shared load once it is detached from the
// request that started it.
const principalLoadTimeout = 10 * time.Second

// LoadPrincipal returns the snapshot for userID, from cache when possible.
// Concurrent loads for the same user share one repository round trip. The
// shared load does not inherit any caller's cancellation; each caller stops
// waiting when its own ctx ends.
func (s *Service) LoadPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	if s.cache != nil {
		p, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("rbac snapshot cache get", slog.Int64("user_id", userID), slog.Any("error", err))
		} else if ok {
			return p, nil
		}
	}
	ch := s.loads.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), principalLoadTimeout)
		defer cancel()
		return s.buildPrincipal(loadCtx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Principal), nil
	}
}

func (s *Service) buildPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	subject, err := s.repo.FindSubject(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := s.repo.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, raw := range perms {
		if _, ok := NormalizePermission(raw); !ok {
			s.logger.Warn("rbac malformed stored permission", slog.String("permission", raw))
		}
	}
	var roles []string
	if subject.Role != "" {
		roles = []string{subject.Role}
	}
	p := NewPrincipal(subject.UserID, subject.Email, subject.Name, roles, perms)
	if p.Level() == LevelNone {
		s.logger.Warn("rbac user without known role", slog.Int64("user_id", userID), slog.String("role", subject.Role))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.Warn("rbac snapshot cache set", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return p, nil
}

// Identity returns the sign-in payload for userID.
func (s *Service) Identity(ctx context.Context, userID int64) (*Identity, error) {
	p, err := s.LoadPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Identity(), nil
}

// ListRoles returns the built-in roles with their default grants.
func (s *Service) ListRoles() []RoleGrants {
	grants := DefaultGrants()
	roles := Roles()
	out := make([]RoleGrants, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleGrants{Role: r, Permissions: grants[r.Name]})
	}
	return out
}

// SyncCatalog writes the built-in roles and grants to storage and
// invalidates every cached snapshot.
func (s *Service) SyncCatalog(ctx context.Context) error {
	if err := s.repo.SyncCatalog(ctx, Roles(), DefaultGrants()); err != nil {
		return fmt.Errorf("rbac: sync catalog: %w", err)
	}
	return s.Invalidate(ctx, Invalidation{All: true})
}

// AssignRole gives userID the role target on behalf of actor. Actors need
// user:assign:all and may not hand out roles above their own level.
func (s *Service) AssignRole(ctx context.Context, actor *Principal, userID int64, target RoleName) error {
	if actor == nil {
		return ErrUnauthorized
	}
	if !actor.Can(Perm(ResourceUser, ActionAssign, ScopeAll)) {
		return &ForbiddenError{Clause: "missing user:assign:all"}
	}
	if !CanAssignRole(actor.Level(), target) {
		return &ForbiddenError{Clause: fmt.Sprintf("cannot assign %s", target)}
	}
	current, err := s.repo.FindSubject(ctx, userID)
	if err != nil {
		return err
	}
	if current.Role != "" && LevelOf(current.Role) > actor.Level() {
		return &ForbiddenError{Clause: "target outranks actor"}
	}
	if err := s.repo.AssignRole(ctx, userID, target); err != nil {
		return err
	}
	if s.auditor != nil {
		entry := shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "role.assign",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"from": current.Role, "to": string(target)},
		}
		if err := s.auditor.Record(ctx, entry); err != nil {
			s.logger.Warn("rbac audit role assignment", slog.Any("error", err))
		}
	}
	return s.Invalidate(ctx, Invalidation{UserIDs: []int64{userID}})
}

// Invalidate schedules or applies a snapshot invalidation.
func (s *Service) Invalidate(ctx context.Context, inv Invalidation) error {
	if s.invalidator != nil {
		err := s.invalidator.EnqueueInvalidation(ctx, inv)
		if err == nil {
			return nil
		}
		s.logger.Warn("rbac enqueue invalidation, applying inline", slog.Any("error", err))
	}
	return s.ApplyInvalidation(ctx, inv)
}

// ApplyInvalidation drops the cached snapshots selected by inv.
func (s *Service) ApplyInvalidation(ctx context.Context, inv Invalidation) error {
	if s.cache == nil {
		return nil
	}
	if inv.All {
		return s.cache.Purge(ctx)
	}
	ids := append([]int64{}, inv.UserIDs...)
	if inv.Role != "" {
		holders, err := s.repo.UserIDsWithRole(ctx, inv.Role)
		if err != nil {
			return fmt.Errorf("rbac: role holders: %w", err)
		}
		ids = append(ids, holders...)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.cache.Delete(ctx, ids...)
}

// IsNotFound reports whether err means the user does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
