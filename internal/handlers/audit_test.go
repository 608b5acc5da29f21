package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trinityai/trinity-gateway/internal/audit"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/terminal"
)

func setupAuditTest(t *testing.T) {
	t.Helper()
	setupTestDB(t)
	AuditLog = audit.NewAuditor(database.DB, 90)
	t.Cleanup(func() {
		AuditLog.Close()
		AuditLog = nil
	})
}

func getAuditLogs(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	GetAuditLogs(w, buildRequest(t, http.MethodGet, url, nil, nil, nil))
	return w
}

func TestGetAuditLogs_Empty(t *testing.T) {
	setupAuditTest(t)

	w := getAuditLogs(t, "/api/v1/audit-logs")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := parseResponse(t, w)
	if entries := result["entries"].([]interface{}); len(entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(entries))
	}
	if total := result["total"].(float64); total != 0 {
		t.Errorf("expected total 0, got %.0f", total)
	}
}

func TestGetAuditLogs_Filters(t *testing.T) {
	setupAuditTest(t)

	for i := 0; i < 3; i++ {
		AuditLog.Emit(terminal.Event{Type: terminal.EventSessionStart, Principal: "1", SessionID: fmt.Sprintf("s%d", i)})
	}
	AuditLog.Emit(terminal.Event{Type: terminal.EventSessionEnd, Principal: "1", SessionID: "s0", Reason: "client_closed"})
	AuditLog.Emit(terminal.Event{Type: terminal.EventSessionRejected, Principal: "2", Reason: "forbidden"})

	tests := []struct {
		query string
		total float64
	}{
		{"", 5},
		{"?principal=1", 4},
		{"?event_type=session.rejected", 1},
		{"?session_id=s0", 2},
		{"?principal=2&event_type=session.start", 0},
	}
	for _, tt := range tests {
		w := getAuditLogs(t, "/api/v1/audit-logs"+tt.query)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, w.Code)
		}
		if total := parseResponse(t, w)["total"].(float64); total != tt.total {
			t.Errorf("%q: expected total %.0f, got %.0f", tt.query, tt.total, total)
		}
	}
}

func TestGetAuditLogs_Pagination(t *testing.T) {
	setupAuditTest(t)
	for i := 0; i < 5; i++ {
		AuditLog.Emit(terminal.Event{Type: terminal.EventSessionStart, Principal: "1"})
	}

	result := parseResponse(t, getAuditLogs(t, "/api/v1/audit-logs?limit=2&offset=4"))
	if entries := result["entries"].([]interface{}); len(entries) != 1 {
		t.Errorf("expected 1 entry on the last page, got %d", len(entries))
	}
	if result["limit"].(float64) != 2 || result["offset"].(float64) != 4 {
		t.Errorf("unexpected pagination %v/%v", result["limit"], result["offset"])
	}
}

func TestGetAuditLogs_TimeBounds(t *testing.T) {
	setupAuditTest(t)
	old := time.Now().Add(-48 * time.Hour)
	AuditLog.Emit(terminal.Event{Type: terminal.EventSessionStart, Principal: "1", Time: old})
	AuditLog.Emit(terminal.Event{Type: terminal.EventSessionStart, Principal: "1"})

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	result := parseResponse(t, getAuditLogs(t, "/api/v1/audit-logs?since="+since))
	if total := result["total"].(float64); total != 1 {
		t.Errorf("expected 1 entry since %s, got %.0f", since, total)
	}
}

func TestGetAuditLogs_BadParams(t *testing.T) {
	setupAuditTest(t)
	for _, q := range []string{"?limit=abc", "?limit=-1", "?offset=x", "?since=yesterday", "?until=1"} {
		if w := getAuditLogs(t, "/api/v1/audit-logs"+q); w.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", q, w.Code)
		}
	}
}

func TestGetAuditLogs_NotInitialized(t *testing.T) {
	AuditLog = nil
	if w := getAuditLogs(t, "/api/v1/audit-logs"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
