package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/trinityai/trinity-gateway/internal/crypto"
	"github.com/trinityai/trinity-gateway/internal/database"
	"github.com/trinityai/trinity-gateway/internal/terminal"
)

// DefaultTicketTTL is how long a terminal ticket stays valid after issue.
const DefaultTicketTTL = 60 * time.Second

// ErrInvalidCredential covers every way a terminal ticket can fail: bad
// signature, expiry, malformed payload or unknown user.
var ErrInvalidCredential = errors.New("invalid credential")

type ticketPayload struct {
	UserID   uint   `json:"user_id"`
	IssuedAt int64  `json:"issued_at"`
	Nonce    string `json:"nonce"`
}

// IssueTicket seals a short-lived, single-use terminal credential for user.
// The browser sends it as the token of the websocket auth message.
func IssueTicket(user *database.User) (string, error) {
	data, err := json.Marshal(ticketPayload{
		UserID:   user.ID,
		IssuedAt: time.Now().Unix(),
		Nonce:    uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	tok, err := crypto.Seal(data)
	if err != nil {
		return "", fmt.Errorf("seal ticket: %w", err)
	}
	return tok, nil
}

// ticketSkew pads how long a spent nonce is remembered past the ticket's
// TTL, covering the second resolution of issued_at.
const ticketSkew = 2 * time.Second

// TicketAuthenticator resolves terminal tickets to principals. Only admins
// are privileged. Each ticket authenticates once; its nonce is remembered
// until the ticket would have expired anyway.
type TicketAuthenticator struct {
	TTL time.Duration

	spent *expiringMap[string, uint]
}

func NewTicketAuthenticator(ttl time.Duration) *TicketAuthenticator {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketAuthenticator{TTL: ttl, spent: newExpiringMap[string, uint]()}
}

// Sweep forgets nonces of tickets that are past their TTL and returns how
// many were dropped.
func (a *TicketAuthenticator) Sweep() int { return a.spent.sweep() }

// Spent is the number of remembered nonces.
func (a *TicketAuthenticator) Spent() int { return a.spent.len() }

// SetNowFunc replaces the clock nonces expire by. Used by tests.
func (a *TicketAuthenticator) SetNowFunc(fn func() time.Time) { a.spent.setClock(fn) }

func (a *TicketAuthenticator) Authenticate(_ context.Context, token string) (terminal.Principal, error) {
	data, err := crypto.Open(token, a.TTL)
	if err != nil {
		return terminal.Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	var p ticketPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == 0 || p.Nonce == "" {
		return terminal.Principal{}, fmt.Errorf("%w: malformed ticket", ErrInvalidCredential)
	}
	until := time.Unix(p.IssuedAt, 0).Add(a.TTL + ticketSkew)
	if !a.spent.claim(p.Nonce, p.UserID, until) {
		return terminal.Principal{}, fmt.Errorf("%w: ticket already used", ErrInvalidCredential)
	}
	user, err := database.GetUserByID(p.UserID)
	if err != nil {
		return terminal.Principal{}, fmt.Errorf("%w: user %d not found", ErrInvalidCredential, p.UserID)
	}
	return terminal.Principal{
		ID:         strconv.FormatUint(uint64(user.ID), 10),
		Name:       user.Username,
		Privileged: user.IsAdmin(),
	}, nil
}

var _ terminal.Authenticator = (*TicketAuthenticator)(nil)
