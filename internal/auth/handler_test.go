package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rolegate/rolegate/internal/auth"
	"github.com/rolegate/rolegate/internal/menu"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
	_ "github.com/rolegate/rolegate/internal/testing/guard"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type stubIdentities struct {
	principals map[int64]*rbac.Principal
}

func (s stubIdentities) Identity(ctx context.Context, userID int64) (*rbac.Identity, error) {
	p, ok := s.principals[userID]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	return p.Identity(), nil
}

func (s stubIdentities) LoadPrincipal(ctx context.Context, userID int64) (*rbac.Principal, error) {
	p, ok := s.principals[userID]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	return p, nil
}

type fixture struct {
	repo     *stubRepo
	sessions *shared.SessionManager
	router   http.Handler
}

func newFixture(t *testing.T, active bool) *fixture {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &stubRepo{
		user:     &auth.User{ID: 1, Email: "user@test.local", Name: "Ana", PasswordHash: string(hashed), IsActive: active},
		sessions: map[string]int64{},
	}
	identities := stubIdentities{principals: map[int64]*rbac.Principal{
		1: rbac.NewPrincipal(1, "user@test.local", "Ana", []string{"user"}, rbac.DefaultGrants()[rbac.RoleUser]),
	}}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)

	nav, err := menu.NewNavigator(menu.Default(), 0, nil)
	require.NoError(t, err)

	handler := auth.NewHandler(nil, auth.NewService(repo), identities, nav, sessions)
	rbacMW := rbac.Middleware{Loader: identities}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(r.Context(), sess)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r.WithContext(ctx))
			require.NoError(t, sessions.Commit(ctx, w, sess))
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	r.Use(rbacMW.LoadPrincipal)
	r.Route("/auth", handler.MountRoutes)

	return &fixture{repo: repo, sessions: sessions, router: r}
}

func (f *fixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestLoginReturnsIdentity(t *testing.T) {
	f := newFixture(t, true)

	res := f.do(http.MethodPost, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code)

	var identity rbac.Identity
	require.NoError(t, json.NewDecoder(res.Body).Decode(&identity))
	assert.Equal(t, "1", identity.UserID)
	assert.Equal(t, []string{"user"}, identity.Roles)
	assert.Contains(t, identity.Permissions, "story:create:own")
	assert.Len(t, f.repo.sessions, 1)

	cookie := sessionCookie(t, res, f.sessions.CookieName())
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.True(t, cookie.HttpOnly)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, true)

	res := f.do(http.MethodPost, "/auth/login", `{"email":"user@test.local","password":"wrongpass"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid Credentials")
	assert.Empty(t, res.Result().Cookies(), "failed login must not persist a session")
}

func TestLoginInactiveUser(t *testing.T) {
	f := newFixture(t, false)
	res := f.do(http.MethodPost, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, true)

	res := f.do(http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"correctpass"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Email failed email")

	res = f.do(http.MethodPost, "/auth/login", `{"email":"user@test.local","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(http.MethodPost, "/auth/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMeRequiresSession(t *testing.T) {
	f := newFixture(t, true)
	res := f.do(http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestMeReturnsFilteredMenuThenLogout(t *testing.T) {
	f := newFixture(t, true)

	login := f.do(http.MethodPost, "/auth/login", `{"email":"user@test.local","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := sessionCookie(t, login, f.sessions.CookieName())

	me := f.do(http.MethodGet, "/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, me.Code)

	var body struct {
		User rbac.Identity `json:"user"`
		Menu []menu.Item   `json:"menu"`
	}
	require.NoError(t, json.NewDecoder(me.Body).Decode(&body))
	assert.Equal(t, "user@test.local", body.User.Email)

	var visible []string
	menu.Walk(body.Menu, func(it menu.Item, _ int) { visible = append(visible, it.ID) })
	assert.Contains(t, visible, "stories")
	assert.NotContains(t, visible, "teams")
	assert.NotContains(t, visible, "admin")

	logout := f.do(http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusNoContent, logout.Code)
	assert.Empty(t, f.repo.sessions)

	after := f.do(http.MethodGet, "/auth/me", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
}
