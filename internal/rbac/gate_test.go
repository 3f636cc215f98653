package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decisionLog struct {
	outcomes []string
}

func (d *decisionLog) RecordDecision(outcome string) {
	d.outcomes = append(d.outcomes, outcome)
}

func storyAuthor() *Principal {
	return NewPrincipal(11, "author@example.test", "Author", []string{"user"}, []string{"story:read:own", "story:create:own"})
}

func TestRequirementScenario(t *testing.T) {
	p := storyAuthor()

	allowed := RequireLevel(LevelUser).WithAny("story:read:own", "story:read:all")
	require.NoError(t, allowed.Evaluate(p))

	err := RequireAny("story:read:all").Evaluate(p)
	require.ErrorIs(t, err, ErrForbidden)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestRequirementAnonymousIsUnauthorized(t *testing.T) {
	err := RequireLevel(LevelGuest).Evaluate(nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestRequirementClausesAreAnded(t *testing.T) {
	p := storyAuthor()

	err := RequireLevel(LevelAdmin).WithAny("story:view:own").Evaluate(p)
	require.ErrorIs(t, err, ErrForbidden, "permission alone is not enough")

	err = RequireLevel(LevelUser).WithAll("story:view:own", "story:create:own", "story:delete:own").Evaluate(p)
	require.ErrorIs(t, err, ErrForbidden)

	err = RequireLevel(LevelUser).WithAll("story:view:own", "story:create:own").Evaluate(p)
	require.NoError(t, err)
}

func TestRequirementUndeclaredIsMisconfigured(t *testing.T) {
	err := Requirement{}.Evaluate(storyAuthor())
	require.ErrorIs(t, err, ErrMisconfigured)
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "undeclared", Requirement{}.String())
}

func TestRequirementEmptyAnyOfNeverPasses(t *testing.T) {
	superAdmin := NewPrincipal(1, "root@example.test", "", []string{"super_admin"}, DefaultGrants()[RoleSuperAdmin])
	require.ErrorIs(t, RequireAny().Evaluate(superAdmin), ErrForbidden)
	require.NoError(t, RequireAll().Evaluate(superAdmin), "empty all-of is vacuous")
}

func TestRequirementConstructorsCopy(t *testing.T) {
	perms := []string{"story:view:own"}
	req := RequireAny(perms...)
	perms[0] = "system:manage:all"
	assert.Equal(t, []string{"story:view:own"}, req.AnyOf)
}

func TestRequirementString(t *testing.T) {
	req := RequireLevel(LevelAdmin).WithAny("a:b:own").WithAll("c:d:all")
	assert.Equal(t, "level>=3 any[a:b:own] all[c:d:all]", req.String())
}

func TestForbiddenErrorDetail(t *testing.T) {
	err := RequireAny("story:view:all").Evaluate(storyAuthor())
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "none of story:view:all", fe.Clause)
}

func TestGateCheckRecordsOutcomes(t *testing.T) {
	log := &decisionLog{}
	gate := NewGate(nil, log)
	ctx := ContextWithPrincipal(context.Background(), storyAuthor())

	require.NoError(t, gate.Check(ctx, RequireAny("story:view:own")))
	require.Error(t, gate.Check(ctx, RequireAny("story:view:all")))
	require.Error(t, gate.Check(ctx, Requirement{}))
	require.Error(t, gate.Check(context.Background(), RequireLevel(LevelGuest)))

	assert.Equal(t, []string{OutcomeAllowed, OutcomeForbidden, OutcomeMisconfig, OutcomeUnauthorized}, log.outcomes)
}

func TestGateGuard(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := ContextWithPrincipal(context.Background(), storyAuthor())

	ran := false
	err := gate.Guard(ctx, RequireAny("story:view:all"), func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrForbidden)
	assert.False(t, ran, "denied operation must not run")

	sentinel := errors.New("boom")
	err = gate.Guard(ctx, RequireAny("story:view:own"), func(context.Context) error {
		ran = true
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.True(t, ran)
}

func TestGateScope(t *testing.T) {
	gate := NewGate(nil, nil)

	own, err := gate.Scope(ContextWithPrincipal(context.Background(), storyAuthor()), ResourceStory, "read")
	require.NoError(t, err)
	assert.Equal(t, OwnerFilter{Scope: ScopeOwn, OwnerID: 11}, own)

	admin := NewPrincipal(2, "admin@example.test", "", []string{"admin"}, DefaultGrants()[RoleAdmin])
	all, err := gate.Scope(ContextWithPrincipal(context.Background(), admin), ResourceStory, ActionDelete)
	require.NoError(t, err)
	assert.True(t, all.Unrestricted())

	_, err = gate.Scope(ContextWithPrincipal(context.Background(), storyAuthor()), ResourceStory, ActionDelete)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = gate.Scope(context.Background(), ResourceStory, ActionView)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestOwnerFilter(t *testing.T) {
	own := OwnerFilter{Scope: ScopeOwn, OwnerID: 5}
	assert.True(t, own.Permits(5))
	assert.False(t, own.Permits(6))
	assert.False(t, own.Unrestricted())

	where, args := own.Where("s.author_id", []any{"published"})
	assert.Equal(t, "s.author_id = $2", where)
	assert.Equal(t, []any{"published", int64(5)}, args)

	all := OwnerFilter{Scope: ScopeAll, OwnerID: 5}
	assert.True(t, all.Permits(99))
	where, args = all.Where("s.author_id", nil)
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)

	var zero OwnerFilter
	assert.False(t, zero.Permits(0))
	where, _ = zero.Where("s.author_id", nil)
	assert.Equal(t, "FALSE", where)
}
