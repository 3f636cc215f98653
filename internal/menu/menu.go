// Package menu holds the dashboard navigation tree and filters it down to
// what a given principal may see.
package menu

import (
	"github.com/rolegate/rolegate/internal/rbac"
)

// Item is one node of the navigation tree.
type Item struct {
	ID                  string     `yaml:"id" json:"id" validate:"required"`
	Label               string     `yaml:"label" json:"label" validate:"required"`
	Path                string     `yaml:"path,omitempty" json:"path,omitempty"`
	Icon                string     `yaml:"icon,omitempty" json:"icon,omitempty"`
	MinRoleLevel        rbac.Level `yaml:"min_role_level" json:"minRoleLevel" validate:"gte=0,lte=4"`
	RequiredPermissions []string   `yaml:"required_permissions,omitempty" json:"requiredPermissions,omitempty"`
	Children            []Item     `yaml:"children,omitempty" json:"children,omitempty" validate:"dive"`
}

// IsLeaf reports whether the item has no children.
func (it Item) IsLeaf() bool {
	return len(it.Children) == 0
}

// Filter returns the part of items visible to p, preserving order. The
// input is never modified. A nil principal sees nothing.
func Filter(items []Item, p *rbac.Principal) []Item {
	out := make([]Item, 0, len(items))
	if p == nil {
		return out
	}
	for _, it := range items {
		if visible, ok := filterItem(it, p); ok {
			out = append(out, visible)
		}
	}
	return out
}

func filterItem(it Item, p *rbac.Principal) (Item, bool) {
	if !selfVisible(it, p) {
		return Item{}, false
	}
	out := it
	out.RequiredPermissions = append([]string(nil), it.RequiredPermissions...)
	if it.IsLeaf() {
		out.Children = nil
		return out, true
	}
	children := Filter(it.Children, p)
	if len(children) == 0 {
		return Item{}, false
	}
	out.Children = children
	return out, true
}

// Level and permission constraints are ANDed.
func selfVisible(it Item, p *rbac.Principal) bool {
	if !p.AtLeast(it.MinRoleLevel) {
		return false
	}
	return len(it.RequiredPermissions) == 0 || p.CanAny(it.RequiredPermissions...)
}

// Walk visits every node depth-first in order.
func Walk(items []Item, fn func(it Item, depth int)) {
	walk(items, 0, fn)
}

func walk(items []Item, depth int, fn func(Item, int)) {
	for _, it := range items {
		fn(it, depth)
		walk(it.Children, depth+1, fn)
	}
}
