package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Decision outcomes reported to a DecisionRecorder.
const (
	OutcomeAllowed      = "allowed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeMisconfig    = "misconfigured"
)

// DecisionRecorder receives one outcome per gate decision.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// Gate enforces requirements against the principal carried by the request
// context. It never mutates data and never retries.
type Gate struct {
	logger   *slog.Logger
	recorder DecisionRecorder
}

// NewGate constructs a Gate. Both arguments are optional.
func NewGate(logger *slog.Logger, recorder DecisionRecorder) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger, recorder: recorder}
}

// Check evaluates req for the caller in ctx.
func (g *Gate) Check(ctx context.Context, req Requirement) error {
	p := PrincipalFromContext(ctx)
	err := req.Evaluate(p)
	g.record(ctx, p, req.String(), err)
	return err
}

// Guard runs fn only when the caller satisfies req.
func (g *Gate) Guard(ctx context.Context, req Requirement, fn func(context.Context) error) error {
	if err := g.Check(ctx, req); err != nil {
		return err
	}
	return fn(ctx)
}

// Scope resolves how far the caller reaches for resource:action and returns
// the filter every affected query must apply.
func (g *Gate) Scope(ctx context.Context, resource, action string) (OwnerFilter, error) {
	p := PrincipalFromContext(ctx)
	what := resource + ":" + CanonicalAction(action)
	if p == nil {
		g.record(ctx, nil, what, ErrUnauthorized)
		return OwnerFilter{}, ErrUnauthorized
	}
	scope := p.Scope(resource, action)
	if scope == ScopeNone {
		err := &ForbiddenError{Clause: "no scope for " + what}
		g.record(ctx, p, what, err)
		return OwnerFilter{}, err
	}
	g.record(ctx, p, what, nil)
	return OwnerFilter{Scope: scope, OwnerID: p.UserID}, nil
}

func (g *Gate) record(ctx context.Context, p *Principal, what string, err error) {
	outcome := OutcomeAllowed
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		outcome = OutcomeUnauthorized
	case errors.Is(err, ErrMisconfigured):
		outcome = OutcomeMisconfig
		g.logger.Error("rbac requirement misconfigured", slog.String("requirement", what))
	default:
		outcome = OutcomeForbidden
	}
	if err != nil && outcome != OutcomeMisconfig {
		attrs := []any{slog.String("requirement", what), slog.String("outcome", outcome)}
		if p != nil {
			attrs = append(attrs, slog.Int64("user_id", p.UserID), slog.Int("level", int(p.Level())))
		}
		g.logger.DebugContext(ctx, "rbac denied", attrs...)
	}
	if g.recorder != nil {
		g.recorder.RecordDecision(outcome)
	}
}

// OwnerFilter restricts queries to the rows a caller may touch. The zero
// value matches nothing.
type OwnerFilter struct {
	Scope   Scope
	OwnerID int64
}

// Unrestricted reports whether the filter admits every row.
func (f OwnerFilter) Unrestricted() bool {
	return f.Scope == ScopeAll
}

// Permits reports whether a row owned by ownerID passes the filter.
func (f OwnerFilter) Permits(ownerID int64) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeOwn:
		return ownerID == f.OwnerID
	default:
		return false
	}
}

// Where renders the predicate for column using positional placeholders
// after the existing args.
func (f OwnerFilter) Where(column string, args []any) (string, []any) {
	switch f.Scope {
	case ScopeAll:
		return "TRUE", args
	case ScopeOwn:
		args = append(args, f.OwnerID)
		return fmt.Sprintf("%s = $%d", column, len(args)), args
	default:
		return "FALSE", args
	}
}
