package terminal

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
)

// DefaultAuthTimeout bounds the wait for the auth message.
const DefaultAuthTimeout = 10 * time.Second

// Principal is the identity behind a terminal session.
type Principal struct {
	ID         string
	Name       string
	Privileged bool
}

// Authenticator decodes the credential carried in the auth message.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

// HandshakeResult is the outcome of a successful handshake.
type HandshakeResult struct {
	Principal Principal
	// Cols and Rows are the optional initial terminal size, already clamped.
	// Both are zero when the client did not send one.
	Cols, Rows uint16
}

type readResult struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Handshake waits up to timeout for the auth message and authenticates it.
// It writes nothing to the connection; failures come back as *Rejection for
// the caller to report.
//
// The read runs detached from ctx because cancelling a websocket read
// closes the connection, which would leave no way to send the rejection.
func Handshake(ctx context.Context, conn *websocket.Conn, auth Authenticator, timeout time.Duration) (HandshakeResult, error) {
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}

	results := make(chan readResult, 1)
	go func() {
		typ, data, err := conn.Read(context.WithoutCancel(ctx))
		results <- readResult{typ: typ, data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res readResult
	select {
	case res = <-results:
	case <-timer.C:
		return HandshakeResult{}, reject(ReasonAuthTimeout, "authentication timed out", nil)
	case <-ctx.Done():
		return HandshakeResult{}, context.Cause(ctx)
	}

	if res.err != nil {
		return HandshakeResult{}, reject(ReasonProtocolError, "connection closed before authentication", res.err)
	}
	if res.typ != websocket.MessageText {
		return HandshakeResult{}, reject(ReasonProtocolError, "first message must be an auth message", nil)
	}
	msg, err := parseControl(res.data)
	if err != nil {
		return HandshakeResult{}, reject(ReasonProtocolError, "malformed auth message", err)
	}
	if msg.Type != typeAuth {
		return HandshakeResult{}, reject(ReasonProtocolError, "first message must be an auth message", nil)
	}
	if msg.Token == "" {
		return HandshakeResult{}, reject(ReasonInvalidCredential, "missing credential", nil)
	}

	principal, err := auth.Authenticate(ctx, msg.Token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return HandshakeResult{}, context.Cause(ctx)
		}
		return HandshakeResult{}, reject(ReasonInvalidCredential, "invalid or expired credential", err)
	}
	if !principal.Privileged {
		return HandshakeResult{}, reject(ReasonForbidden, "terminal access requires an administrator", nil)
	}

	result := HandshakeResult{Principal: principal}
	if cols, rows, ok := ClampSize(msg.Cols, msg.Rows); ok {
		result.Cols, result.Rows = cols, rows
	}
	return result, nil
}
