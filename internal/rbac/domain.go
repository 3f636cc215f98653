package rbac

import "strings"

// Level ranks a role by privilege. Higher levels satisfy every minimum
// satisfied by lower ones.
type Level int

// Built-in role levels.
const (
	LevelNone       Level = -1
	LevelGuest      Level = 0
	LevelUser       Level = 1
	LevelPremium    Level = 2
	LevelAdmin      Level = 3
	LevelSuperAdmin Level = 4
)

// MaxLevel is the highest level any role can hold.
const MaxLevel = LevelSuperAdmin

// Ptr returns a pointer to l for use in Requirement literals.
func (l Level) Ptr() *Level {
	return &l
}

// RoleName identifies one of the built-in roles.
type RoleName string

// Built-in role names.
const (
	RoleGuest      RoleName = "guest"
	RoleUser       RoleName = "user"
	RolePremium    RoleName = "premium_user"
	RoleAdmin      RoleName = "admin"
	RoleSuperAdmin RoleName = "super_admin"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64    `json:"id,omitempty"`
	Name        RoleName `json:"name"`
	Level       Level    `json:"level"`
	Description string   `json:"description"`
}

var builtInRoles = []Role{
	{Name: RoleGuest, Level: LevelGuest, Description: "Unverified visitor"},
	{Name: RoleUser, Level: LevelUser, Description: "Registered member"},
	{Name: RolePremium, Level: LevelPremium, Description: "Paying member with team features"},
	{Name: RoleAdmin, Level: LevelAdmin, Description: "Moderates content and manages users"},
	{Name: RoleSuperAdmin, Level: LevelSuperAdmin, Description: "Full system access"},
}

// Roles returns the built-in roles ordered by ascending level.
func Roles() []Role {
	out := make([]Role, len(builtInRoles))
	copy(out, builtInRoles)
	return out
}

// RoleByName resolves a role name. Unknown names return ok=false and a role
// at LevelNone so that callers that ignore ok still fail closed.
func RoleByName(name string) (Role, bool) {
	key := RoleName(strings.TrimSpace(strings.ToLower(name)))
	for _, r := range builtInRoles {
		if r.Name == key {
			return r, true
		}
	}
	return Role{Name: key, Level: LevelNone}, false
}

// LevelOf returns the level of the named role, or LevelNone.
func LevelOf(name string) Level {
	role, _ := RoleByName(name)
	return role.Level
}

// CanAssignRole reports whether an actor at actorLevel may hand out target.
// Actors can only assign roles up to their own level.
func CanAssignRole(actorLevel Level, target RoleName) bool {
	role, ok := RoleByName(string(target))
	if !ok || actorLevel == LevelNone {
		return false
	}
	return actorLevel >= role.Level
}
