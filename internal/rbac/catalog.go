package rbac

var userGrants = []string{
	Perm(ResourceDashboard, ActionView, ScopeOwn),
	Perm(ResourceStory, ActionView, ScopeAll),
	Perm(ResourceStory, ActionCreate, ScopeOwn),
	Perm(ResourceStory, ActionEdit, ScopeOwn),
	Perm(ResourceStory, ActionDelete, ScopeOwn),
	Perm(ResourceCalendar, ActionView, ScopeOwn),
	Perm(ResourceCalendar, ActionCreate, ScopeOwn),
	Perm(ResourceCalendar, ActionEdit, ScopeOwn),
	Perm(ResourceCalendar, ActionDelete, ScopeOwn),
	Perm(ResourceMessage, ActionView, ScopeOwn),
	Perm(ResourceMessage, ActionSend, ScopeOwn),
	Perm(ResourceMessage, ActionDelete, ScopeOwn),
	Perm(ResourceConnection, ActionView, ScopeOwn),
	Perm(ResourceConnection, ActionCreate, ScopeOwn),
	Perm(ResourceConnection, ActionDelete, ScopeOwn),
	Perm(ResourceNotification, ActionView, ScopeOwn),
	Perm(ResourceProfile, ActionView, ScopeAll),
	Perm(ResourceProfile, ActionEdit, ScopeOwn),
	Perm(ResourceUser, ActionList, ScopeOwn),
}

var premiumGrants = []string{
	Perm(ResourceTeam, ActionView, ScopeOwn),
	Perm(ResourceTeam, ActionCreate, ScopeOwn),
	Perm(ResourceTeam, ActionEdit, ScopeOwn),
	Perm(ResourceTeam, ActionManage, ScopeOwn),
	Perm(ResourceCalendar, ActionView, ScopeAll),
}

var adminGrants = []string{
	Perm(ResourceDashboard, ActionView, ScopeAll),
	Perm(ResourceUser, ActionView, ScopeAll),
	Perm(ResourceUser, ActionList, ScopeAll),
	Perm(ResourceUser, ActionEdit, ScopeAll),
	Perm(ResourceUser, ActionAssign, ScopeAll),
	Perm(ResourceStory, ActionModerate, ScopeAll),
	Perm(ResourceStory, ActionDelete, ScopeAll),
	Perm(ResourceMessage, ActionModerate, ScopeAll),
	Perm(ResourceTeam, ActionView, ScopeAll),
	Perm(ResourceNotification, ActionSend, ScopeAll),
}

var superAdminGrants = []string{
	Perm(ResourceUser, ActionDelete, ScopeAll),
	Perm(ResourceTeam, ActionManage, ScopeAll),
	Perm(ResourceSystem, ActionView, ScopeAll),
	Perm(ResourceSystem, ActionManage, ScopeAll),
}

// DefaultGrants returns the permissions granted to each built-in role. Each
// role includes every grant of the roles below it.
func DefaultGrants() map[RoleName][]string {
	layers := []struct {
		role  RoleName
		perms []string
	}{
		{RoleGuest, nil},
		{RoleUser, userGrants},
		{RolePremium, premiumGrants},
		{RoleAdmin, adminGrants},
		{RoleSuperAdmin, superAdminGrants},
	}
	out := make(map[RoleName][]string, len(layers))
	acc := NewPermissionSet()
	for _, layer := range layers {
		for _, p := range layer.perms {
			acc[p] = struct{}{}
		}
		out[layer.role] = acc.Slice()
	}
	return out
}

// CatalogPermissions lists every permission referenced by DefaultGrants.
func CatalogPermissions() []string {
	all := NewPermissionSet()
	for _, perms := range DefaultGrants() {
		for _, p := range perms {
			all[p] = struct{}{}
		}
	}
	return all.Slice()
}
