package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rolegate/rolegate/internal/platform/httpx"
	"github.com/rolegate/rolegate/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Loader PrincipalLoader
	Gate   *Gate
	Logger *slog.Logger
}

// LoadPrincipal resolves the session user into a principal and stores it in
// the request context. Requests without a signed-in user continue as
// anonymous.
func (m Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Loader.LoadPrincipal(r.Context(), userID)
		if err != nil {
			if IsNotFound(err) {
				m.logger().Warn("rbac session user missing", slog.Int64("user_id", userID))
				next.ServeHTTP(w, r)
				return
			}
			m.logger().Error("rbac load principal", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// Require rejects requests whose caller does not satisfy req.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := m.gate().Check(r.Context(), req); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.Require(RequireAny(perms...))
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.Require(RequireAll(perms...))
}

// RequireLevel ensures the current user holds at least min.
func (m Middleware) RequireLevel(min Level) func(http.Handler) http.Handler {
	return m.Require(RequireLevel(min))
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(shared.SessionUser(r.Context()))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger().Error("rbac parse user id", slog.String("value", raw))
		return 0, false
	}
	return id, true
}

func (m Middleware) gate() *Gate {
	if m.Gate == nil {
		return NewGate(m.Logger, nil)
	}
	return m.Gate
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
