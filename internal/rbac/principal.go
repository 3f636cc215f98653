package rbac

import (
	"context"
	"strconv"
	"strings"
)

// Identity is the sign-in payload describing an authenticated user. It is
// what clients persist and what the server hands back on login.
type Identity struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Principal is the authorization view of one authenticated user: the role
// and permission snapshot taken when the session was built. A nil
// *Principal is the anonymous caller and is denied everything.
type Principal struct {
	UserID      int64
	Email       string
	Name        string
	Role        Role
	Permissions PermissionSet
}

// NewPrincipal builds a snapshot. The first role is authoritative; an empty
// or unknown role leaves the principal at LevelNone.
func NewPrincipal(userID int64, email, name string, roles, permissions []string) *Principal {
	role := Role{Level: LevelNone}
	if len(roles) > 0 {
		role, _ = RoleByName(roles[0])
	}
	return &Principal{
		UserID:      userID,
		Email:       strings.TrimSpace(email),
		Name:        strings.TrimSpace(name),
		Role:        role,
		Permissions: NewPermissionSet(permissions...),
	}
}

// Principal converts the payload into a snapshot. A payload whose user id
// is not numeric yields nil.
func (id *Identity) Principal() *Principal {
	if id == nil {
		return nil
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(id.UserID), 10, 64)
	if err != nil {
		return nil
	}
	return NewPrincipal(userID, id.Email, id.Name, id.Roles, id.Permissions)
}

// Identity returns the wire payload for p.
func (p *Principal) Identity() *Identity {
	if p == nil {
		return nil
	}
	var roles []string
	if p.Role.Name != "" {
		roles = []string{string(p.Role.Name)}
	}
	return &Identity{
		UserID:      strconv.FormatInt(p.UserID, 10),
		Email:       p.Email,
		Name:        p.Name,
		Roles:       roles,
		Permissions: p.Permissions.Slice(),
	}
}

// Level returns the role level, LevelNone for the anonymous caller.
func (p *Principal) Level() Level {
	if p == nil {
		return LevelNone
	}
	return p.Role.Level
}

// Can reports whether p holds perm.
func (p *Principal) Can(perm string) bool {
	if p == nil {
		return false
	}
	return HasPermission(p.Permissions, perm)
}

// CanAny reports whether p holds at least one of perms.
func (p *Principal) CanAny(perms ...string) bool {
	if p == nil {
		return false
	}
	return HasAnyPermission(p.Permissions, perms)
}

// CanAll reports whether p holds every one of perms.
func (p *Principal) CanAll(perms ...string) bool {
	if p == nil {
		return false
	}
	return HasAllPermissions(p.Permissions, perms)
}

// AtLeast reports whether p meets the minimum level.
func (p *Principal) AtLeast(min Level) bool {
	return HasRoleLevel(p.Level(), min)
}

// Scope resolves how far p reaches for resource:action.
func (p *Principal) Scope(resource, action string) Scope {
	if p == nil {
		return ScopeNone
	}
	return ResolveScope(p.Permissions, resource, action)
}

// Fingerprint identifies the access surface of p: two principals with the
// same fingerprint see exactly the same things.
func (p *Principal) Fingerprint() string {
	if p == nil {
		return "anonymous"
	}
	return strconv.Itoa(int(p.Role.Level)) + "|" + p.Permissions.Fingerprint()
}

type principalContextKey struct{}

// ContextWithPrincipal stores the caller snapshot in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the caller snapshot from ctx.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
