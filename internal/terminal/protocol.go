package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

// Message types carried in text frames.
const (
	typeAuth        = "auth"
	typeAuthSuccess = "auth_success"
	typeResize      = "resize"
	typeError       = "error"
)

// Reason identifies why a connection was refused before it was attached.
type Reason string

const (
	ReasonAuthTimeout         Reason = "auth_timeout"
	ReasonInvalidCredential   Reason = "invalid_credential"
	ReasonForbidden           Reason = "forbidden"
	ReasonSessionBusy         Reason = "session_busy"
	ReasonContainerNotFound   Reason = "container_not_found"
	ReasonContainerNotRunning Reason = "container_not_running"
	ReasonProtocolError       Reason = "protocol_error"
	ReasonInvalidMode         Reason = "invalid_mode"
	ReasonExecFailed          Reason = "exec_failed"
)

// Close codes outside the rejection set.
const (
	StatusEvicted websocket.StatusCode = 4410
)

var closeCodes = map[Reason]websocket.StatusCode{
	ReasonProtocolError:       4400,
	ReasonInvalidCredential:   4401,
	ReasonForbidden:           4403,
	ReasonContainerNotFound:   4404,
	ReasonAuthTimeout:         4408,
	ReasonSessionBusy:         4409,
	ReasonContainerNotRunning: 4412,
	ReasonInvalidMode:         4422,
	ReasonExecFailed:          4500,
}

// CloseCode returns the websocket close code sent with a rejection.
func (r Reason) CloseCode() websocket.StatusCode {
	if code, ok := closeCodes[r]; ok {
		return code
	}
	return 4500
}

// Rejection is a pre-attach failure that is reported to the client.
type Rejection struct {
	Reason  Reason
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Reason, r.Message, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Err }

// maxCloseText is the longest close reason that fits a control frame.
const maxCloseText = 123

func closeText(s string) string {
	if len(s) <= maxCloseText {
		return s
	}
	return s[:maxCloseText]
}

func reject(reason Reason, message string, err error) *Rejection {
	return &Rejection{Reason: reason, Message: message, Err: err}
}

// RejectionReason extracts the Reason from err, if it carries one.
func RejectionReason(err error) (Reason, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// controlMessage is any client text frame. Cols and rows are only meaningful
// for resize, and optionally for auth as the initial size.
type controlMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
}

func parseControl(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type == "" {
		return msg, errors.New("control message without type")
	}
	return msg, nil
}

type authSuccessMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Mode      Mode   `json:"mode"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	Close   bool   `json:"close"`
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func writeAuthSuccess(ctx context.Context, conn *websocket.Conn, s *Session) error {
	return writeJSON(ctx, conn, authSuccessMessage{
		Type:      typeAuthSuccess,
		SessionID: s.ID,
		Mode:      s.Mode,
	})
}

func writeRejection(ctx context.Context, conn *websocket.Conn, rej *Rejection) error {
	return writeJSON(ctx, conn, errorMessage{
		Type:    typeError,
		Reason:  rej.Reason,
		Message: rej.Message,
		Close:   true,
	})
}
