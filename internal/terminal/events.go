package terminal

import (
	"log"
	"time"

	"github.com/trinityai/trinity-gateway/internal/logutil"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventSessionStart    EventType = "session.start"
	EventSessionEnd      EventType = "session.end"
	EventSessionRejected EventType = "session.rejected"
)

// Event is one session lifecycle record. Duration and byte counts are set
// on session.end; Reason is set on session.end and session.rejected.
type Event struct {
	Type      EventType
	Time      time.Time
	SessionID string
	Principal string
	Username  string
	Mode      Mode
	Container string
	SourceIP  string
	Reason    string
	Duration  time.Duration
	BytesIn   int64
	BytesOut  int64
}

// EventSink receives lifecycle events. Emit must not block for long and
// must not fail the session.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	switch e.Type {
	case EventSessionEnd:
		log.Printf("[terminal] %s session=%s principal=%s mode=%s container=%s duration=%s reason=%s",
			e.Type, e.SessionID, logutil.SanitizeForLog(e.Principal), e.Mode, e.Container, e.Duration.Round(time.Millisecond), e.Reason)
	case EventSessionRejected:
		log.Printf("[terminal] %s session=%s principal=%s mode=%s container=%s reason=%s",
			e.Type, e.SessionID, logutil.SanitizeForLog(e.Principal), e.Mode, e.Container, e.Reason)
	default:
		log.Printf("[terminal] %s session=%s principal=%s mode=%s container=%s",
			e.Type, e.SessionID, logutil.SanitizeForLog(e.Principal), e.Mode, e.Container)
	}
}

func (s *Session) event(t EventType) Event {
	return Event{
		Type:      t,
		Time:      time.Now(),
		SessionID: s.ID,
		Principal: s.Principal.ID,
		Username:  s.Principal.Name,
		Mode:      s.Mode,
		Container: s.Container,
		SourceIP:  s.SourceIP,
	}
}
