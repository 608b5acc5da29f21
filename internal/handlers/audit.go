package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/trinityai/trinity-gateway/internal/audit"
)

// AuditLog is set from main.go during init.
var AuditLog *audit.Auditor

// GetAuditLogs handles GET /api/v1/audit-logs (admin only).
// Query parameters:
//   - principal, event_type, session_id (optional): exact-match filters
//   - since, until (optional): RFC 3339 bounds on created_at
//   - limit (optional): entries per page (default 50, max 1000)
//   - offset (optional): pagination offset
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if AuditLog == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		Principal: q.Get("principal"),
		EventType: q.Get("event_type"),
		SessionID: q.Get("session_id"),
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+p.key)
			return
		}
		*p.dst = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	// Events are written asynchronously; include everything emitted so far.
	AuditLog.Flush()
	result, err := AuditLog.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
