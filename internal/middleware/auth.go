package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/config"
	"github.com/trinityai/trinity-gateway/internal/database"
)

type contextKey string

const userContextKey contextKey = "user"

var errNoSession = errors.New("no valid session")

var authDisabledOnce sync.Once

func deny(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// resolveUser maps the request's session cookie to a user. A session whose
// user no longer exists is dropped from the store.
func resolveUser(store *auth.SessionStore, r *http.Request) (*database.User, error) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		return nil, errNoSession
	}
	userID, ok := store.Get(cookie.Value)
	if !ok {
		return nil, errNoSession
	}
	user, err := database.GetUserByID(userID)
	if err != nil {
		store.Delete(cookie.Value)
		return nil, errNoSession
	}
	return user, nil
}

// RequireAuth puts the session's user in the request context. With
// AUTH_DISABLED every request runs as the first admin.
func RequireAuth(store *auth.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var user *database.User
			if config.Cfg.AuthDisabled {
				admin, err := database.GetFirstAdmin()
				if err != nil {
					deny(w, http.StatusInternalServerError, "No admin user found")
					return
				}
				authDisabledOnce.Do(func() {
					log.Printf("[auth] WARNING: AUTH_DISABLED, requests run as %s", admin.Username)
				})
				user = admin
			} else {
				u, err := resolveUser(store, r)
				if err != nil {
					deny(w, http.StatusUnauthorized, "Authentication required")
					return
				}
				user = u
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin admits only users who may also open terminals.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := GetUser(r); user == nil || !user.IsAdmin() {
			deny(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NoStore marks responses as uncacheable. Login and ticket responses carry
// credentials.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// WithUser returns ctx carrying user as the authenticated operator.
func WithUser(ctx context.Context, user *database.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the operator RequireAuth resolved, nil if none.
func UserFromContext(ctx context.Context) *database.User {
	user, _ := ctx.Value(userContextKey).(*database.User)
	return user
}

func GetUser(r *http.Request) *database.User {
	return UserFromContext(r.Context())
}
