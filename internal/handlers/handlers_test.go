package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/crypto"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/middleware"
	"golang.org/x/crypto/bcrypt"
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
	// Every pooled connection to :memory: is a separate database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
	crypto.ResetKeyCache()

	SessionStore = auth.NewSessionStore()
	t.Cleanup(func() {
		crypto.ResetKeyCache()
		sqlDB.Close()
		database.DB = nil
		SessionStore = nil
	})
}

func createTestUser(t *testing.T, username, password, role string) *database.User {
	t.Helper()
	// MinCost keeps the suite fast; CheckPassword accepts any cost.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &database.User{Username: username, PasswordHash: string(hash), Role: role}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

// buildRequest creates an HTTP request with chi URL params and an
// authenticated user in context.
func buildRequest(t *testing.T, method, url string, user *database.User, chiParams map[string]string, body interface{}) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, url, r)

	rctx := chi.NewRouteContext()
	for k, v := range chiParams {
		rctx.URLParams.Add(k, v)
	}
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	if user != nil {
		req = req.WithContext(middleware.WithUser(req.Context(), user))
	}
	return req
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return result
}
