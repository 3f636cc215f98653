package stories

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

type memoryRepo struct {
	stories map[int64]Story
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &memoryRepo{
		nextID: 4,
		stories: map[int64]Story{
			1: {ID: 1, AuthorID: 3, Title: "Mine", CreatedAt: now},
			2: {ID: 2, AuthorID: 4, Title: "Theirs", CreatedAt: now},
			3: {ID: 3, AuthorID: 3, Title: "Also mine", CreatedAt: now},
		},
	}
}

func (m *memoryRepo) List(ctx context.Context, scope rbac.OwnerFilter, page shared.Pagination) ([]Story, int, error) {
	var out []Story
	for _, s := range m.stories {
		if scope.Permits(s.AuthorID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Story, error) {
	s, ok := m.stories[id]
	if !ok {
		return Story{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) Create(ctx context.Context, authorID int64, in CreateInput) (Story, error) {
	s := Story{ID: m.nextID, AuthorID: authorID, Title: in.Title, Body: in.Body, CreatedAt: time.Now()}
	m.stories[s.ID] = s
	m.nextID++
	return s, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := m.stories[id]; !ok {
		return ErrNotFound
	}
	delete(m.stories, id)
	return nil
}

type recordingAuditor struct {
	entries []shared.AuditLog
}

func (a *recordingAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type harness struct {
	repo    *memoryRepo
	auditor *recordingAuditor
}

func newHarness() *harness {
	return &harness{repo: newMemoryRepo(), auditor: &recordingAuditor{}}
}

func (h *harness) do(p *rbac.Principal, method, target, body string) *httptest.ResponseRecorder {
	gate := rbac.NewGate(nil, nil)
	handler := NewHandler(nil, NewService(h.repo, gate, h.auditor, nil), rbac.Middleware{Gate: gate})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/stories", handler.MountRoutes)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func author() *rbac.Principal {
	return rbac.NewPrincipal(3, "ana@example.test", "Ana", []string{"user"}, rbac.DefaultGrants()[rbac.RoleUser])
}

func moderator() *rbac.Principal {
	return rbac.NewPrincipal(2, "mod@example.test", "Mod", []string{"admin"}, rbac.DefaultGrants()[rbac.RoleAdmin])
}

func TestListRespectsViewScope(t *testing.T) {
	h := newHarness()
	ownOnly := rbac.NewPrincipal(3, "ana@example.test", "", []string{"user"}, []string{"story:read:own"})

	res := h.do(ownOnly, http.MethodGet, "/stories", "")
	require.Equal(t, http.StatusOK, res.Code)
	var body listResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Stories, 2)
	for _, s := range body.Stories {
		assert.Equal(t, int64(3), s.AuthorID)
	}

	res = h.do(author(), http.MethodGet, "/stories", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Len(t, body.Stories, 3)
	assert.Equal(t, 3, body.Pagination.Total)
}

func TestListWithoutViewPermission(t *testing.T) {
	h := newHarness()
	p := rbac.NewPrincipal(3, "ana@example.test", "", []string{"user"}, []string{"calendar:view:own"})
	assert.Equal(t, http.StatusForbidden, h.do(p, http.MethodGet, "/stories", "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(nil, http.MethodGet, "/stories", "").Code)
}

func TestDeleteOwnStory(t *testing.T) {
	h := newHarness()
	res := h.do(author(), http.MethodDelete, "/stories/1", "")
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.NotContains(t, h.repo.stories, int64(1))
	assert.Empty(t, h.auditor.entries, "authors deleting their own stories are not audited")
}

func TestDeleteOthersStoryForbiddenForAuthor(t *testing.T) {
	h := newHarness()
	res := h.do(author(), http.MethodDelete, "/stories/2", "")
	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, h.repo.stories, int64(2))
}

func TestModeratorDeletesAnyStory(t *testing.T) {
	h := newHarness()
	res := h.do(moderator(), http.MethodDelete, "/stories/2", "")
	assert.Equal(t, http.StatusNoContent, res.Code)

	require.Len(t, h.auditor.entries, 1)
	assert.Equal(t, "story.delete", h.auditor.entries[0].Action)
	assert.Equal(t, int64(2), h.auditor.entries[0].ActorID)
	assert.Equal(t, "2", h.auditor.entries[0].EntityID)
}

func TestDeleteErrors(t *testing.T) {
	h := newHarness()
	assert.Equal(t, http.StatusNotFound, h.do(moderator(), http.MethodDelete, "/stories/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(moderator(), http.MethodDelete, "/stories/abc", "").Code)

	guest := rbac.NewPrincipal(5, "g@example.test", "", []string{"guest"}, nil)
	assert.Equal(t, http.StatusForbidden, h.do(guest, http.MethodDelete, "/stories/1", "").Code)
}

func TestCreateStory(t *testing.T) {
	h := newHarness()

	res := h.do(author(), http.MethodPost, "/stories", `{"title":"Hello","body":"World"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	var story Story
	require.NoError(t, json.NewDecoder(res.Body).Decode(&story))
	assert.Equal(t, int64(3), story.AuthorID)

	assert.Equal(t, http.StatusBadRequest, h.do(author(), http.MethodPost, "/stories", `{"title":""}`).Code)

	allScope := rbac.NewPrincipal(2, "mod@example.test", "", []string{"admin"}, []string{"story:create:all"})
	res = h.do(allScope, http.MethodPost, "/stories", `{"title":"Notice","body":"Posted"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&story))
	assert.Equal(t, int64(2), story.AuthorID)

	readOnly := rbac.NewPrincipal(3, "ana@example.test", "", []string{"user"}, []string{"story:view:all"})
	assert.Equal(t, http.StatusForbidden, h.do(readOnly, http.MethodPost, "/stories", `{"title":"x","body":"y"}`).Code)
}
