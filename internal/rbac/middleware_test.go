package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/platform/httpx"
	"github.com/rolegate/rolegate/internal/shared"
)

type loaderFunc func(ctx context.Context, userID int64) (*Principal, error)

func (f loaderFunc) LoadPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	return f(ctx, userID)
}

func withSessionUser(r *http.Request, userID string) *http.Request {
	sess := &shared.Session{ID: "test"}
	sess.SetUser(userID)
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}

func serviceMiddleware(svc *Service) Middleware {
	return Middleware{Loader: svc, Gate: NewGate(nil, nil)}
}

func TestLoadPrincipalMiddleware(t *testing.T) {
	m := serviceMiddleware(NewService(newFakeRepo()))
	var seen *Principal
	h := m.LoadPrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "3"))
	require.NotNil(t, seen)
	assert.Equal(t, int64(3), seen.UserID)

	seen = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, seen, "no session means anonymous")

	h.ServeHTTP(httptest.NewRecorder(), withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "404"))
	assert.Nil(t, seen, "deleted users continue as anonymous")
}

func TestLoadPrincipalMiddlewareStorageError(t *testing.T) {
	m := Middleware{Loader: loaderFunc(func(context.Context, int64) (*Principal, error) {
		return nil, errors.New("db down")
	})}
	called := false
	h := m.LoadPrincipal(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "3"))
	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
}

func TestRequireMiddlewareStatuses(t *testing.T) {
	m := serviceMiddleware(NewService(newFakeRepo()))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := m.LoadPrincipal(m.Require(RequireLevel(LevelUser).WithAny("story:view:own", "story:view:all"))(ok))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = httptest.NewRecorder()
	h.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "3"))
	assert.Equal(t, http.StatusNoContent, res.Code)

	admin := m.LoadPrincipal(m.RequireLevel(LevelAdmin)(ok))
	res = httptest.NewRecorder()
	admin.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "3"))
	assert.Equal(t, http.StatusForbidden, res.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(res.Body).Decode(&problem))
	assert.Equal(t, "Forbidden", problem.Title)
	assert.Contains(t, problem.Detail, "role level 1 below 3")
}

func TestRequireMiddlewareUndeclared(t *testing.T) {
	m := serviceMiddleware(NewService(newFakeRepo()))
	h := m.LoadPrincipal(m.Require(Requirement{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})))
	res := httptest.NewRecorder()
	h.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/", nil), "1"))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func newRouter(svc *Service) http.Handler {
	m := serviceMiddleware(svc)
	r := chi.NewRouter()
	r.Use(m.LoadPrincipal)
	NewHandler(nil, svc, m).MountRoutes(r)
	return r
}

func TestHandlerListRoles(t *testing.T) {
	router := newRouter(NewService(newFakeRepo()))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/roles", nil), "3"))
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, withSessionUser(httptest.NewRequest(http.MethodGet, "/roles", nil), "2"))
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Roles []RoleGrants `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Len(t, body.Roles, 5)
}

func TestHandlerAssignRole(t *testing.T) {
	repo := newFakeRepo()
	router := newRouter(NewService(repo))

	post := func(userID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/assignments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		router.ServeHTTP(res, withSessionUser(req, userID))
		return res
	}

	assert.Equal(t, http.StatusForbidden, post("3", `{"user_id":3,"role":"admin"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("2", `{"user_id":3,"role":"owner"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("2", `{"user_id":3,"role":"user","extra":1}`).Code)
	assert.Equal(t, http.StatusNotFound, post("2", `{"user_id":99,"role":"user"}`).Code)
	assert.Equal(t, http.StatusForbidden, post("2", `{"user_id":3,"role":"super_admin"}`).Code)

	require.Equal(t, http.StatusNoContent, post("2", `{"user_id":3,"role":"premium_user"}`).Code)
	assert.Equal(t, string(RolePremium), repo.subjects[3].Role)
}
