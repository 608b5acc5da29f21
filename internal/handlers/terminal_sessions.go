package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type terminalSessionInfo struct {
	Principal  string `json:"principal"`
	Username   string `json:"username"`
	SessionID  string `json:"session_id"`
	Mode       string `json:"mode"`
	Container  string `json:"container"`
	StartedAt  string `json:"started_at"`
	AgeSeconds int64  `json:"age_seconds"`
}

// ListTerminalSessions handles GET /api/v1/terminal/sessions (admin only).
func ListTerminalSessions(w http.ResponseWriter, r *http.Request) {
	if TerminalGateway == nil {
		writeJSON(w, http.StatusOK, map[string][]terminalSessionInfo{"sessions": {}})
		return
	}

	reg := TerminalGateway.Registry()
	entries := reg.List()
	result := make([]terminalSessionInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, terminalSessionInfo{
			Principal:  e.Principal,
			Username:   e.Username,
			SessionID:  e.SessionID,
			Mode:       string(e.Mode),
			Container:  e.Container,
			StartedAt:  formatTimestamp(e.StartedAt),
			AgeSeconds: int64(reg.Age(e) / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]terminalSessionInfo{"sessions": result})
}

// CloseTerminalSession handles DELETE /api/v1/terminal/sessions/{principal}
// (admin only). The session is closed with the evicted status.
func CloseTerminalSession(w http.ResponseWriter, r *http.Request) {
	if TerminalGateway == nil {
		writeError(w, http.StatusServiceUnavailable, "Terminal gateway not initialized")
		return
	}

	principal := chi.URLParam(r, "principal")
	if principal == "" {
		writeError(w, http.StatusBadRequest, "principal is required")
		return
	}

	if !TerminalGateway.Terminate(principal) {
		writeError(w, http.StatusNotFound, "No active session for principal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
