package handlers

import (
	"net/http"

	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/orchestrator"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.PingContext(r.Context()); err == nil {
				dbStatus = "connected"
			}
		}
	}

	orchStatus := "disconnected"
	orchBackend := "none"
	if orch := orchestrator.Get(); orch != nil && orch.IsAvailable(r.Context()) {
		orchStatus = "connected"
		orchBackend = orch.BackendName()
	}

	activeSessions := 0
	if TerminalGateway != nil {
		activeSessions = TerminalGateway.Registry().Len()
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":               status,
		"orchestrator":         orchStatus,
		"orchestrator_backend": orchBackend,
		"database":             dbStatus,
		"terminal_sessions":    activeSessions,
	})
}
