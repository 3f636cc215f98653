package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/session"
)

// CheckOptions describes a requirement and the subject to test it against.
// When Role is empty the subject is the signed-in user of the local store.
// A negative MinLevel leaves the level clause undeclared.
type CheckOptions struct {
	Output
	Role     string
	Grants   []string
	AnyOf    []string
	AllOf    []string
	MinLevel int
}

// CheckResult reports the decision for one requirement.
type CheckResult struct {
	Subject     string `json:"subject"`
	Level       int    `json:"level"`
	Requirement string `json:"requirement"`
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
}

// CheckCommand evaluates a requirement offline. It exits 0 when allowed and
// 10 when denied.
func CheckCommand(ctx context.Context, store *session.Store, opts CheckOptions) int {
	out := opts.Output.withDefaults()

	var subject *rbac.Principal
	switch {
	case opts.Role != "":
		role, ok := rbac.RoleByName(opts.Role)
		if !ok {
			return out.fail("check", fmt.Errorf("unknown role %q", opts.Role))
		}
		grants := opts.Grants
		if len(grants) == 0 {
			grants = rbac.DefaultGrants()[role.Name]
		}
		subject = rbac.NewPrincipal(0, "", "", []string{string(role.Name)}, grants)
	case store != nil:
		if err := store.Restore(ctx); err != nil {
			return out.fail("check", err)
		}
		subject = store.Principal()
	}

	var req rbac.Requirement
	if len(opts.AnyOf) > 0 {
		req = req.WithAny(opts.AnyOf...)
	}
	if len(opts.AllOf) > 0 {
		req = req.WithAll(opts.AllOf...)
	}
	if opts.MinLevel >= 0 {
		req = req.WithLevel(rbac.Level(opts.MinLevel))
	}
	if !req.Declared() {
		return out.fail("check", errors.New("requirement needs --level, --any or --all"))
	}
	for _, p := range append(append([]string{}, opts.AnyOf...), opts.AllOf...) {
		if _, err := rbac.ParsePermission(p); err != nil {
			return out.fail("check", err)
		}
	}

	result := CheckResult{Subject: "anonymous", Level: int(subject.Level()), Requirement: req.String()}
	if subject != nil {
		result.Subject = string(subject.Role.Name)
		if subject.Email != "" {
			result.Subject = subject.Email
		}
	}
	if err := req.Evaluate(subject); err != nil {
		result.Reason = err.Error()
	} else {
		result.Allowed = true
	}

	if err := out.write(result, func(w io.Writer) {
		verdict := "allowed"
		if !result.Allowed {
			verdict = "denied: " + result.Reason
		}
		fmt.Fprintf(w, "%s (level %d) %s: %s\n", result.Subject, result.Level, result.Requirement, verdict)
	}); err != nil {
		return out.fail("check", err)
	}
	if !result.Allowed {
		return 10
	}
	return 0
}
