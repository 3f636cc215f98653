package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedPermission indicates a permission string outside the
// resource:action:scope grammar.
var ErrMalformedPermission = errors.New("rbac: malformed permission")

// Scope qualifies how far a permission reaches.
type Scope string

// Permission scopes. ScopeNone is only ever a resolution result.
const (
	ScopeNone Scope = "none"
	ScopeOwn  Scope = "own"
	ScopeAll  Scope = "all"
)

// Canonical actions.
const (
	ActionView     = "view"
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionDelete   = "delete"
	ActionList     = "list"
	ActionAssign   = "assign"
	ActionManage   = "manage"
	ActionSend     = "send"
	ActionModerate = "moderate"
)

// Known resources.
const (
	ResourceDashboard    = "dashboard"
	ResourceCalendar     = "calendar"
	ResourceStory        = "story"
	ResourceMessage      = "message"
	ResourceConnection   = "connection"
	ResourceNotification = "notification"
	ResourceProfile      = "profile"
	ResourceTeam         = "team"
	ResourceUser         = "user"
	ResourceSystem       = "system"
)

// actionAliases maps the legacy vocabulary onto the canonical one.
var actionAliases = map[string]string{
	"read":   ActionView,
	"update": ActionEdit,
}

var knownActions = map[string]struct{}{
	ActionView: {}, ActionCreate: {}, ActionEdit: {}, ActionDelete: {}, ActionList: {},
	ActionAssign: {}, ActionManage: {}, ActionSend: {}, ActionModerate: {},
}

var knownResources = map[string]struct{}{
	ResourceDashboard: {}, ResourceCalendar: {}, ResourceStory: {}, ResourceMessage: {},
	ResourceConnection: {}, ResourceNotification: {}, ResourceProfile: {}, ResourceTeam: {},
	ResourceUser: {}, ResourceSystem: {},
}

// Permission is a parsed resource:action:scope token.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    Scope  `json:"scope"`
}

// String returns the canonical string form.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action + ":" + string(p.Scope)
}

// Perm builds the canonical string for resource, action and scope.
func Perm(resource, action string, scope Scope) string {
	return Permission{Resource: resource, Action: CanonicalAction(action), Scope: scope}.String()
}

// CanonicalAction maps legacy action names onto the canonical vocabulary.
func CanonicalAction(action string) string {
	if canonical, ok := actionAliases[action]; ok {
		return canonical
	}
	return action
}

// ParsePermission parses a permission string and maps action aliases.
// Input is taken verbatim: uppercase letters or padding make it malformed.
func ParsePermission(raw string) (Permission, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Permission{}, fmt.Errorf("%w: %q", ErrMalformedPermission, raw)
	}
	for _, part := range parts {
		if !validSegment(part) {
			return Permission{}, fmt.Errorf("%w: %q", ErrMalformedPermission, raw)
		}
	}
	scope := Scope(parts[2])
	if scope != ScopeOwn && scope != ScopeAll {
		return Permission{}, fmt.Errorf("%w: unknown scope in %q", ErrMalformedPermission, raw)
	}
	return Permission{Resource: parts[0], Action: CanonicalAction(parts[1]), Scope: scope}, nil
}

// validSegment accepts non-empty runs of lowercase letters and underscores.
func validSegment(part string) bool {
	if part == "" {
		return false
	}
	for i := 0; i < len(part); i++ {
		c := part[i]
		if (c < 'a' || c > 'z') && c != '_' {
			return false
		}
	}
	return true
}

// NormalizePermission returns the canonical form of raw and whether it is
// well formed.
func NormalizePermission(raw string) (string, bool) {
	p, err := ParsePermission(raw)
	if err != nil {
		return "", false
	}
	return p.String(), true
}

// IsKnown reports whether both resource and action belong to the built-in
// vocabularies. Unknown tokens still parse; config validation flags them.
func (p Permission) IsKnown() bool {
	_, r := knownResources[p.Resource]
	_, a := knownActions[p.Action]
	return r && a
}

// PermissionSet is a normalized set of permission strings.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw strings. Malformed entries are
// dropped so they can never grant anything.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, raw := range perms {
		if p, ok := NormalizePermission(raw); ok {
			set[p] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the normalized form of perm is in the set.
func (s PermissionSet) Contains(perm string) bool {
	if len(s) == 0 {
		return false
	}
	p, ok := NormalizePermission(perm)
	if !ok {
		return false
	}
	_, found := s[p]
	return found
}

// Slice returns the permissions sorted.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Fingerprint returns a stable key for the set.
func (s PermissionSet) Fingerprint() string {
	return strings.Join(s.Slice(), ",")
}
