package menu

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rolegate/rolegate/internal/rbac"
)

const defaultCacheSize = 256

// Navigator serves filtered menus for a fixed tree. Results are memoised by
// principal fingerprint, so principals with the same role and grants share
// one entry.
type Navigator struct {
	items []Item
	cache *lru.Cache[string, []Item]
}

// NewNavigator validates items, logs any issues and returns a Navigator.
// A non-positive size selects the default cache size.
func NewNavigator(items []Item, size int, logger *slog.Logger) (*Navigator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	for _, issue := range Validate(items) {
		logger.Warn("menu config issue", slog.String("item", issue.ItemID), slog.String("problem", issue.Problem))
	}
	cache, err := lru.New[string, []Item](size)
	if err != nil {
		return nil, err
	}
	return &Navigator{items: items, cache: cache}, nil
}

// Visible returns the tree as seen by p. The result is shared; callers must
// not modify it.
func (n *Navigator) Visible(p *rbac.Principal) []Item {
	if p == nil {
		return []Item{}
	}
	key := p.Fingerprint()
	if cached, ok := n.cache.Get(key); ok {
		return cached
	}
	visible := Filter(n.items, p)
	n.cache.Add(key, visible)
	return visible
}

// Reset drops memoised results.
func (n *Navigator) Reset() {
	n.cache.Purge()
}
