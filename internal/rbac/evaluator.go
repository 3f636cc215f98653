package rbac

// HasPermission reports whether required is held. Empty sets and malformed
// requirements answer false.
func HasPermission(held PermissionSet, required string) bool {
	return held.Contains(required)
}

// HasAnyPermission reports whether at least one required permission is held.
// An empty requirement list cannot be satisfied.
func HasAnyPermission(held PermissionSet, required []string) bool {
	for _, r := range required {
		if held.Contains(r) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every required permission is held. An
// empty requirement list is vacuously satisfied.
func HasAllPermissions(held PermissionSet, required []string) bool {
	for _, r := range required {
		if !held.Contains(r) {
			return false
		}
	}
	return true
}

// HasRoleLevel reports whether userLevel meets minLevel.
func HasRoleLevel(userLevel, minLevel Level) bool {
	if userLevel == LevelNone {
		return false
	}
	return userLevel >= minLevel
}

// ResolveScope returns the widest scope held for resource:action. all is
// checked before own.
func ResolveScope(held PermissionSet, resource, action string) Scope {
	if held.Contains(Perm(resource, action, ScopeAll)) {
		return ScopeAll
	}
	if held.Contains(Perm(resource, action, ScopeOwn)) {
		return ScopeOwn
	}
	return ScopeNone
}
