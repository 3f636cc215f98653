package menu

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rolegate/rolegate/internal/rbac"
)

//go:embed default.yaml
var defaultMenu []byte

type document struct {
	Items []Item `yaml:"items" validate:"dive"`
}

// Issue describes a configuration problem found by Validate.
type Issue struct {
	ItemID  string `json:"itemId"`
	Problem string `json:"problem"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.ItemID, i.Problem)
}

// Parse decodes a YAML menu document. Unknown fields are rejected.
func Parse(r io.Reader) ([]Item, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []Item{}, nil
		}
		return nil, fmt.Errorf("menu: decode: %w", err)
	}
	if doc.Items == nil {
		doc.Items = []Item{}
	}
	return doc.Items, nil
}

// LoadFile reads a menu document from path.
func LoadFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("menu: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Default returns the built-in dashboard menu.
func Default() []Item {
	items, err := Parse(bytes.NewReader(defaultMenu))
	if err != nil {
		panic(err)
	}
	return items
}

// Validate reports structural problems and constraints that can never be
// met. It does not reject anything; callers decide whether issues are fatal.
func Validate(items []Item) []Issue {
	var issues []Issue
	v := validator.New()
	if err := v.Struct(document{Items: items}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, Issue{ItemID: fe.Namespace(), Problem: fmt.Sprintf("failed %s", fe.Tag())})
			}
		} else {
			issues = append(issues, Issue{ItemID: "menu", Problem: err.Error()})
		}
	}

	seen := make(map[string]struct{})
	var check func(items []Item, parentLevel rbac.Level)
	check = func(items []Item, parentLevel rbac.Level) {
		for _, it := range items {
			if it.ID != "" {
				if _, dup := seen[it.ID]; dup {
					issues = append(issues, Issue{ItemID: it.ID, Problem: "duplicate id"})
				}
				seen[it.ID] = struct{}{}
			}
			for _, raw := range it.RequiredPermissions {
				perm, err := rbac.ParsePermission(raw)
				switch {
				case err != nil:
					issues = append(issues, Issue{ItemID: it.ID, Problem: fmt.Sprintf("malformed permission %q", raw)})
				case !perm.IsKnown():
					issues = append(issues, Issue{ItemID: it.ID, Problem: fmt.Sprintf("unknown permission %q", raw)})
				}
			}
			if it.MinRoleLevel < parentLevel {
				issues = append(issues, Issue{ItemID: it.ID, Problem: fmt.Sprintf("level %d below parent level %d", it.MinRoleLevel, parentLevel)})
			}
			if !it.IsLeaf() && it.Path != "" {
				issues = append(issues, Issue{ItemID: it.ID, Problem: "group item has a path"})
			}
			if it.IsLeaf() && it.Path == "" {
				issues = append(issues, Issue{ItemID: it.ID, Problem: "leaf item has no path"})
			}
			check(it.Children, max(parentLevel, it.MinRoleLevel))
		}
	}
	check(items, rbac.LevelGuest)
	return issues
}
