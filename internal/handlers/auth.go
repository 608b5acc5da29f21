package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/trinityai/trinity-gateway/internal/auth"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/logutil"
	"github.com/trinityai/trinity-gateway/internal/middleware"
)

// SessionStore is set from main.go during init.
var SessionStore *auth.SessionStore

func setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionDuration.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func userResponse(u *database.User) map[string]interface{} {
	return map[string]interface{}{
		"id":       u.ID,
		"username": u.Username,
		"role":     u.Role,
	}
}

func Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := database.GetUserByUsername(body.Username)
	if err != nil || !auth.CheckPassword(body.Password, user.PasswordHash) {
		log.Printf("Failed login for %s from %s", logutil.SanitizeForLog(body.Username), clientIP(r))
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	sessionID, err := SessionStore.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	setSessionCookie(w, r, sessionID)
	writeJSON(w, http.StatusOK, userResponse(user))
}

// Logout ends the caller's session. With ?all=true every session of the
// user is dropped.
func Logout(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		if user := middleware.GetUser(r); user != nil {
			SessionStore.DeleteByUserID(user.ID)
		}
	} else if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		SessionStore.Delete(cookie.Value)
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

// TicketTTL is reported to clients as expires_in. main.go sets it from
// config.
var TicketTTL = auth.DefaultTicketTTL

// IssueTerminalTicket handles POST /api/v1/terminal/ticket. Any logged-in
// user gets a ticket; the gateway decides whether the principal may open a
// terminal.
func IssueTerminalTicket(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	token, err := auth.IssueTicket(user)
	if err != nil {
		log.Printf("Failed to issue terminal ticket for user %d: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(TicketTTL.Seconds()),
	})
}
