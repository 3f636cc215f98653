package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/shared"
)

type fakeRepo struct {
	mu       sync.Mutex
	subjects map[int64]Subject
	grants   map[RoleName][]string
	loads    atomic.Int32
	synced   map[RoleName][]string
	gate     chan struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subjects: map[int64]Subject{
			1: {UserID: 1, Email: "root@example.test", Name: "Root", Role: string(RoleSuperAdmin)},
			2: {UserID: 2, Email: "mod@example.test", Name: "Mod", Role: string(RoleAdmin)},
			3: {UserID: 3, Email: "ana@example.test", Name: "Ana", Role: string(RoleUser)},
		},
		grants: DefaultGrants(),
	}
}

func (f *fakeRepo) FindSubject(ctx context.Context, userID int64) (Subject, error) {
	f.loads.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Subject{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[userID]
	if !ok {
		return Subject{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return f.grants[RoleName(s.Role)], nil
}

func (f *fakeRepo) UserIDsWithRole(ctx context.Context, role RoleName) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, s := range f.subjects {
		if RoleName(s.Role) == role {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) SyncCatalog(ctx context.Context, roles []Role, grants map[RoleName][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = grants
	return nil
}

func (f *fakeRepo) AssignRole(ctx context.Context, userID int64, role RoleName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subjects[userID]
	if !ok {
		return ErrNotFound
	}
	s.Role = string(role)
	f.subjects[userID] = s
	return nil
}

type fakeInvalidator struct {
	got []Invalidation
	err error
}

func (f *fakeInvalidator) EnqueueInvalidation(ctx context.Context, inv Invalidation) error {
	f.got = append(f.got, inv)
	return f.err
}

type fakeAuditor struct {
	entries []shared.AuditLog
}

func (f *fakeAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	f.entries = append(f.entries, log)
	return nil
}

func newCache(t *testing.T) (*RedisSnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSnapshotCache(client, time.Minute), mr
}

func TestLoadPrincipalBuildsSnapshot(t *testing.T) {
	svc := NewService(newFakeRepo())
	p, err := svc.LoadPrincipal(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, LevelUser, p.Level())
	assert.True(t, p.Can("story:create:own"))
	assert.False(t, p.Can("user:assign:all"))

	_, err = svc.LoadPrincipal(context.Background(), 404)
	assert.True(t, IsNotFound(err))
}

func TestLoadPrincipalUsesCache(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newCache(t)
	svc := NewService(repo, WithSnapshotCache(cache))
	ctx := context.Background()

	first, err := svc.LoadPrincipal(ctx, 2)
	require.NoError(t, err)
	assert.True(t, mr.Exists("rbac:principal:2"))

	second, err := svc.LoadPrincipal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.loads.Load())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestLoadPrincipalCoalescesConcurrentLoads(t *testing.T) {
	repo := newFakeRepo()
	repo.gate = make(chan struct{})
	svc := NewService(repo)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Principal, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.LoadPrincipal(context.Background(), 1)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	require.Eventually(t, func() bool { return repo.loads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	assert.Less(t, repo.loads.Load(), int32(callers))
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, LevelSuperAdmin, p.Level())
	}
}

func TestLoadPrincipalSurvivesFirstCallerCancel(t *testing.T) {
	repo := newFakeRepo()
	repo.gate = make(chan struct{})
	svc := NewService(repo)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.LoadPrincipal(firstCtx, 3)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return repo.loads.Load() >= 1 }, time.Second, time.Millisecond)

	type result struct {
		p   *Principal
		err error
	}
	second := make(chan result, 1)
	go func() {
		p, err := svc.LoadPrincipal(context.Background(), 3)
		second <- result{p: p, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(repo.gate)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.NotNil(t, res.p)
		assert.Equal(t, int64(3), res.p.UserID)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
	assert.Equal(t, int32(1), repo.loads.Load())
}

func TestSnapshotCacheDropsCorruptEntries(t *testing.T) {
	cache, mr := newCache(t)
	require.NoError(t, mr.Set("rbac:principal:7", "{broken"))

	p, ok, err := cache.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.False(t, mr.Exists("rbac:principal:7"))
}

func TestSnapshotCachePurge(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()
	for i := int64(1); i <= 150; i++ {
		require.NoError(t, cache.Set(ctx, NewPrincipal(i, "u@x", "", []string{"user"}, nil)))
	}
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.Purge(ctx))
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestAssignRole(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newCache(t)
	auditor := &fakeAuditor{}
	svc := NewService(repo, WithSnapshotCache(cache), WithAuditor(auditor))
	ctx := context.Background()

	_, err := svc.LoadPrincipal(ctx, 3)
	require.NoError(t, err)
	require.True(t, mr.Exists("rbac:principal:3"))

	admin, err := svc.LoadPrincipal(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(ctx, admin, 3, RolePremium))
	assert.False(t, mr.Exists("rbac:principal:3"), "assignment invalidates the snapshot")

	promoted, err := svc.LoadPrincipal(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, LevelPremium, promoted.Level())
	assert.True(t, promoted.Can("team:manage:own"))

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "role.assign", auditor.entries[0].Action)
	assert.Equal(t, "3", auditor.entries[0].EntityID)
	assert.Equal(t, int64(2), auditor.entries[0].ActorID)
}

func TestAssignRoleRejections(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	admin, err := svc.LoadPrincipal(ctx, 2)
	require.NoError(t, err)
	user, err := svc.LoadPrincipal(ctx, 3)
	require.NoError(t, err)

	require.ErrorIs(t, svc.AssignRole(ctx, nil, 3, RoleUser), ErrUnauthorized)
	require.ErrorIs(t, svc.AssignRole(ctx, user, 3, RoleUser), ErrForbidden)
	require.ErrorIs(t, svc.AssignRole(ctx, admin, 3, RoleSuperAdmin), ErrForbidden)
	require.ErrorIs(t, svc.AssignRole(ctx, admin, 1, RoleUser), ErrForbidden, "cannot demote a higher role")
	require.ErrorIs(t, svc.AssignRole(ctx, admin, 404, RoleUser), ErrNotFound)
	require.ErrorIs(t, svc.AssignRole(ctx, admin, 3, "wizard"), ErrForbidden)
}

func TestInvalidateFallsBackInline(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newCache(t)
	inv := &fakeInvalidator{err: errors.New("queue down")}
	svc := NewService(repo, WithSnapshotCache(cache), WithInvalidator(inv))
	ctx := context.Background()

	_, err := svc.LoadPrincipal(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, Invalidation{Role: RoleUser}))
	require.Len(t, inv.got, 1)
	assert.False(t, mr.Exists("rbac:principal:3"))
}

func TestInvalidateEnqueues(t *testing.T) {
	repo := newFakeRepo()
	cache, mr := newCache(t)
	inv := &fakeInvalidator{}
	svc := NewService(repo, WithSnapshotCache(cache), WithInvalidator(inv))
	ctx := context.Background()

	_, err := svc.LoadPrincipal(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, svc.SyncCatalog(ctx))
	assert.Equal(t, []Invalidation{{All: true}}, inv.got)
	assert.True(t, mr.Exists("rbac:principal:3"), "worker applies queued invalidations")
	assert.Equal(t, DefaultGrants(), repo.synced)

	require.NoError(t, svc.ApplyInvalidation(ctx, inv.got[0]))
	assert.False(t, mr.Exists("rbac:principal:3"))
}

func TestListRoles(t *testing.T) {
	roles := NewService(newFakeRepo()).ListRoles()
	require.Len(t, roles, 5)
	assert.Equal(t, RoleGuest, roles[0].Role.Name)
	assert.Empty(t, roles[0].Permissions)
	assert.Contains(t, roles[4].Permissions, "system:manage:all")
}
