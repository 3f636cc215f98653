package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rolegate/rolegate/internal/rbac"
)

// RoleAdmin is the slice of *rbac.Service the operator commands use.
type RoleAdmin interface {
	SyncCatalog(ctx context.Context) error
	AssignRole(ctx context.Context, actor *rbac.Principal, userID int64, target rbac.RoleName) error
}

// AdminCLI runs operator commands against storage and the job queue.
type AdminCLI struct {
	roles       RoleAdmin
	invalidator rbac.Invalidator
}

// NewAdminCLI wires the helper. Either dependency may be nil when the
// corresponding commands are not used.
func NewAdminCLI(roles RoleAdmin, invalidator rbac.Invalidator) *AdminCLI {
	return &AdminCLI{roles: roles, invalidator: invalidator}
}

// operator acts for CLI invocations. It holds the top role so that every
// assignment is in range.
func operator() *rbac.Principal {
	return rbac.NewPrincipal(0, "rolegate-admin", "operator", []string{string(rbac.RoleSuperAdmin)},
		rbac.DefaultGrants()[rbac.RoleSuperAdmin])
}

// SeedCommand writes the built-in catalog.
func (c *AdminCLI) SeedCommand(ctx context.Context, opts Output) int {
	out := opts.withDefaults()
	if c.roles == nil {
		return out.fail("seed", errors.New("storage not configured"))
	}
	if err := c.roles.SyncCatalog(ctx); err != nil {
		return out.fail("seed", err)
	}
	roles := rbac.Roles()
	summary := struct {
		Roles       int `json:"roles"`
		Permissions int `json:"permissions"`
	}{len(roles), len(rbac.CatalogPermissions())}
	if err := out.write(summary, func(w io.Writer) {
		fmt.Fprintf(w, "seeded %d roles and %d permissions\n", summary.Roles, summary.Permissions)
	}); err != nil {
		return out.fail("seed", err)
	}
	return 0
}

// AssignOptions configures the assign command.
type AssignOptions struct {
	Output
	UserID int64
	Role   string
}

// AssignCommand moves a user to another role.
func (c *AdminCLI) AssignCommand(ctx context.Context, opts AssignOptions) int {
	out := opts.Output.withDefaults()
	if c.roles == nil {
		return out.fail("assign", errors.New("storage not configured"))
	}
	if opts.UserID <= 0 {
		return out.fail("assign", errors.New("--user is required"))
	}
	role, ok := rbac.RoleByName(opts.Role)
	if !ok {
		return out.fail("assign", fmt.Errorf("unknown role %q", opts.Role))
	}
	if err := c.roles.AssignRole(ctx, operator(), opts.UserID, role.Name); err != nil {
		if rbac.IsNotFound(err) {
			return out.fail("assign", fmt.Errorf("user %d not found", opts.UserID))
		}
		return out.fail("assign", err)
	}
	result := struct {
		UserID int64         `json:"user_id"`
		Role   rbac.RoleName `json:"role"`
	}{opts.UserID, role.Name}
	if err := out.write(result, func(w io.Writer) {
		fmt.Fprintf(w, "user %d is now %s\n", opts.UserID, role.Name)
	}); err != nil {
		return out.fail("assign", err)
	}
	return 0
}

// InvalidateOptions selects the snapshots to drop.
type InvalidateOptions struct {
	Output
	All     bool
	Role    string
	UserIDs []int64
}

// InvalidateCommand enqueues a snapshot invalidation for the worker.
func (c *AdminCLI) InvalidateCommand(ctx context.Context, opts InvalidateOptions) int {
	out := opts.Output.withDefaults()
	if c.invalidator == nil {
		return out.fail("invalidate", errors.New("queue not configured"))
	}
	inv := rbac.Invalidation{All: opts.All, UserIDs: opts.UserIDs}
	if opts.Role != "" {
		role, ok := rbac.RoleByName(opts.Role)
		if !ok {
			return out.fail("invalidate", fmt.Errorf("unknown role %q", opts.Role))
		}
		inv.Role = role.Name
	}
	if !inv.All && inv.Role == "" && len(inv.UserIDs) == 0 {
		return out.fail("invalidate", errors.New("one of --all, --role or --user is required"))
	}
	if err := c.invalidator.EnqueueInvalidation(ctx, inv); err != nil {
		return out.fail("invalidate", err)
	}
	if err := out.write(inv, func(w io.Writer) {
		fmt.Fprintln(w, "invalidation enqueued")
	}); err != nil {
		return out.fail("invalidate", err)
	}
	return 0
}
