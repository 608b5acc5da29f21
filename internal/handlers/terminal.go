package handlers

import (
	"log"
	"net/http"
	"regexp"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/trinityai/trinity-gateway/internal/config"
	"github.com/trinityai/trinity-gateway/internal/logutil"
	"github.com/trinityai/trinity-gateway/internal/terminal"
)

// TerminalGateway is set from main.go during init.
var TerminalGateway *terminal.Gateway

var agentNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// AgentTerminalWS handles GET /api/v1/agents/{name}/terminal?mode=shell|agent.
//
// The endpoint is outside cookie auth. The client authenticates in-band with
// a ticket from IssueTerminalTicket as its first message.
func AgentTerminalWS(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !agentNameRe.MatchString(name) {
		writeError(w, http.StatusBadRequest, "Invalid agent name")
		return
	}
	serveTerminal(w, r, config.Cfg.AgentContainerPrefix+name)
}

// SystemTerminalWS handles GET /api/v1/system/terminal?mode=shell|agent.
func SystemTerminalWS(w http.ResponseWriter, r *http.Request) {
	serveTerminal(w, r, config.Cfg.SystemContainer)
}

func serveTerminal(w http.ResponseWriter, r *http.Request, container string) {
	if TerminalGateway == nil {
		writeError(w, http.StatusServiceUnavailable, "Terminal gateway not initialized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Terminal websocket accept failed for %s: %v", logutil.SanitizeForLog(container), err)
		return
	}

	req := terminal.Request{
		Mode:      r.URL.Query().Get("mode"),
		Container: container,
		SourceIP:  clientIP(r),
	}
	if err := TerminalGateway.Serve(r.Context(), conn, req); err != nil {
		log.Printf("Terminal session on %s ended: %v", logutil.SanitizeForLog(container), err)
	}
}
