package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/config"
	"github.com/trinityai/trinity-gateway/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	if GetUser(r) == nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(GetUser(r).Username))
}

func TestRequireAuth(t *testing.T) {
	setupTestDB(t)
	user := &database.User{Username: "alice", PasswordHash: "x", Role: "admin"}
	database.CreateUser(user)

	store := auth.NewSessionStore()
	sid, _ := store.Create(user.ID)
	h := RequireAuth(store)(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		cookie string
		want   int
	}{
		{"no cookie", "", http.StatusUnauthorized},
		{"unknown session", "nope", http.StatusUnauthorized},
		{"valid session", sid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequireAuth_Disabled(t *testing.T) {
	setupTestDB(t)
	config.Cfg.AuthDisabled = true
	defer func() { config.Cfg.AuthDisabled = false }()

	h := RequireAuth(auth.NewSessionStore())(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without an admin, got %d", w.Code)
	}

	database.CreateUser(&database.User{Username: "root", PasswordHash: "x", Role: "admin"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || w.Body.String() != "root" {
		t.Errorf("expected first admin, got %d %q", w.Code, w.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(okHandler))

	for _, tt := range []struct {
		user *database.User
		want int
	}{
		{nil, http.StatusForbidden},
		{&database.User{Username: "bob", Role: "user"}, http.StatusForbidden},
		{&database.User{Username: "alice", Role: "admin"}, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.user != nil {
			req = req.WithContext(WithUser(req.Context(), tt.user))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("user %v: expected %d, got %d", tt.user, tt.want, w.Code)
		}
	}
}

func TestRequireAuth_DeletedUserDropsSession(t *testing.T) {
	setupTestDB(t)
	user := &database.User{Username: "gone", PasswordHash: "x", Role: "admin"}
	database.CreateUser(user)
	store := auth.NewSessionStore()
	sid, _ := store.Create(user.ID)
	database.DB.Delete(user)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: sid})
	w := httptest.NewRecorder()
	RequireAuth(store)(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if _, ok := store.Get(sid); ok {
		t.Error("session of a deleted user should be dropped")
	}
}

func TestNoStore(t *testing.T) {
	w := httptest.NewRecorder()
	NoStore(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestUserFromContext(t *testing.T) {
	if UserFromContext(context.Background()) != nil {
		t.Error("expected no user on a bare context")
	}
	user := &database.User{Username: "alice", Role: "admin"}
	if got := UserFromContext(WithUser(context.Background(), user)); got != user {
		t.Errorf("expected alice, got %v", got)
	}
}
