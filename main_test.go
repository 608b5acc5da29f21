package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/config"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/handlers"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDBMain(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db

	prev := config.Cfg
	t.Cleanup(func() {
		sqlDB.Close()
		database.DB = nil
		config.Cfg = prev
		handlers.TerminalGateway = nil
		handlers.AuditLog = nil
		handlers.TicketTTL = auth.DefaultTicketTTL
	})
}

func TestRouter_Auth(t *testing.T) {
	setupTestDBMain(t)
	config.Cfg.AuthDisabled = false
	srv := httptest.NewServer(newRouter(auth.NewSessionStore()))
	defer srv.Close()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/api/v1/terminal/ticket", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/auth/me", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/terminal/sessions", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/audit-logs", http.StatusUnauthorized},
		{http.MethodDelete, "/api/v1/server-logs", http.StatusUnauthorized},
		// Terminal endpoints are not behind the cookie check; without a
		// gateway they report unavailable rather than unauthorized.
		{http.MethodGet, "/api/v1/system/terminal", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/agents/alpha/terminal", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/agents/Not_Valid/terminal", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, resp.StatusCode)
		}
	}
}

func TestRouter_LoginNotCached(t *testing.T) {
	setupTestDBMain(t)
	srv := httptest.NewServer(newRouter(auth.NewSessionStore()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestNewGateway_FromConfig(t *testing.T) {
	setupTestDBMain(t)
	config.Cfg.TerminalShellCommand = []string{"/bin/sh"}
	config.Cfg.TerminalAgentCommand = []string{"claude"}
	config.Cfg.TerminalTicketTTL = "90s"
	config.Cfg.TerminalStaleAfter = "bogus"
	config.Cfg.AuditRetentionDays = 7

	path := filepath.Join(t.TempDir(), "modes.yaml")
	os.WriteFile(path, []byte("modes:\n  agent:\n    command: [claude, --resume]\n"), 0644)
	config.Cfg.TerminalModesFile = path

	gw, _, err := newGateway()
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	if gw.Registry().StaleAfter().String() != "5m0s" {
		t.Errorf("invalid stale-after should fall back to 5m, got %s", gw.Registry().StaleAfter())
	}
	if handlers.TicketTTL.Seconds() != 90 {
		t.Errorf("ticket ttl = %s", handlers.TicketTTL)
	}
	if handlers.AuditLog == nil || handlers.AuditLog.RetentionDays() != 7 {
		t.Errorf("audit log not configured from settings")
	}
}

func TestNewGateway_BadModesFile(t *testing.T) {
	setupTestDBMain(t)
	config.Cfg.TerminalModesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := newGateway(); err == nil {
		t.Fatal("expected error for missing modes file")
	}
}
