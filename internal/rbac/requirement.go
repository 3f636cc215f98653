package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rolegate/rolegate/internal/platform/httpx"
)

var (
	// ErrUnauthorized is returned when no authenticated caller is present.
	ErrUnauthorized = fmt.Errorf("rbac: %w", httpx.ErrUnauthorized)
	// ErrForbidden is returned when the caller does not meet a requirement.
	ErrForbidden = fmt.Errorf("rbac: %w", httpx.ErrForbidden)
	// ErrMisconfigured marks a requirement that declares nothing.
	ErrMisconfigured = errors.New("rbac: requirement declares no constraint")
)

// ForbiddenError names the clause an authenticated caller failed.
type ForbiddenError struct {
	Clause string
	Cause  error
}

func (e *ForbiddenError) Error() string {
	return "rbac: forbidden: " + e.Clause
}

// Unwrap lets errors.Is match both ErrForbidden and the cause.
func (e *ForbiddenError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrForbidden, e.Cause}
	}
	return []error{ErrForbidden}
}

// Requirement is the access declaration of a protected operation. Nil
// fields are not declared. Every declared clause must pass. A non-nil empty
// AnyOf can never pass.
type Requirement struct {
	MinRoleLevel *Level
	AnyOf        []string
	AllOf        []string
}

// RequireLevel declares a minimum role level.
func RequireLevel(min Level) Requirement {
	return Requirement{MinRoleLevel: min.Ptr()}
}

// RequireAny declares that at least one of perms must be held.
func RequireAny(perms ...string) Requirement {
	return Requirement{AnyOf: append([]string{}, perms...)}
}

// RequireAll declares that every one of perms must be held.
func RequireAll(perms ...string) Requirement {
	return Requirement{AllOf: append([]string{}, perms...)}
}

// WithLevel adds a minimum role level to r.
func (r Requirement) WithLevel(min Level) Requirement {
	r.MinRoleLevel = min.Ptr()
	return r
}

// WithAny adds an any-of clause to r.
func (r Requirement) WithAny(perms ...string) Requirement {
	r.AnyOf = append([]string{}, perms...)
	return r
}

// WithAll adds an all-of clause to r.
func (r Requirement) WithAll(perms ...string) Requirement {
	r.AllOf = append([]string{}, perms...)
	return r
}

// Declared reports whether r constrains anything.
func (r Requirement) Declared() bool {
	return r.MinRoleLevel != nil || r.AnyOf != nil || r.AllOf != nil
}

// Evaluate checks p against r.
func (r Requirement) Evaluate(p *Principal) error {
	if p == nil {
		return ErrUnauthorized
	}
	if !r.Declared() {
		return &ForbiddenError{Clause: "undeclared requirement", Cause: ErrMisconfigured}
	}
	if r.MinRoleLevel != nil && !p.AtLeast(*r.MinRoleLevel) {
		return &ForbiddenError{Clause: fmt.Sprintf("role level %d below %d", p.Level(), *r.MinRoleLevel)}
	}
	if r.AnyOf != nil && !p.CanAny(r.AnyOf...) {
		return &ForbiddenError{Clause: "none of " + strings.Join(r.AnyOf, ",")}
	}
	if r.AllOf != nil && !p.CanAll(r.AllOf...) {
		return &ForbiddenError{Clause: "missing some of " + strings.Join(r.AllOf, ",")}
	}
	return nil
}

func (r Requirement) String() string {
	var parts []string
	if r.MinRoleLevel != nil {
		parts = append(parts, fmt.Sprintf("level>=%d", *r.MinRoleLevel))
	}
	if r.AnyOf != nil {
		parts = append(parts, "any["+strings.Join(r.AnyOf, ",")+"]")
	}
	if r.AllOf != nil {
		parts = append(parts, "all["+strings.Join(r.AllOf, ",")+"]")
	}
	if len(parts) == 0 {
		return "undeclared"
	}
	return strings.Join(parts, " ")
}
