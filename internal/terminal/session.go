package terminal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateAuthenticating State = iota
	StateAdmitted
	StateAttached
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAdmitted:
		return "admitted"
	case StateAttached:
		return "attached"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// validTransition reports whether from -> to is allowed. Any live state may
// move to Closing; Closed is only reachable from Closing and is final.
func validTransition(from, to State) bool {
	switch to {
	case StateAdmitted:
		return from == StateAuthenticating
	case StateAttached:
		return from == StateAdmitted
	case StateClosing:
		return from < StateClosing
	case StateClosed:
		return from == StateClosing
	}
	return false
}

type termSize struct {
	cols, rows uint16
}

// Session is one terminal attachment, from the accepted connection until
// teardown.
type Session struct {
	ID        string
	Principal Principal
	Mode      Mode
	Container string
	SourceIP  string

	mu        sync.Mutex
	state     State
	startedAt time.Time
	binding   *ExecBinding
	pending   *termSize

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newSession(id string, mode Mode, container, sourceIP string) *Session {
	return &Session{
		ID:        id,
		Mode:      mode,
		Container: container,
		SourceIP:  sourceIP,
		state:     StateAuthenticating,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves to the given state. Illegal transitions are ignored and
// reported as false.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *Session) admitted(at time.Time) {
	s.mu.Lock()
	s.startedAt = at
	s.mu.Unlock()
	s.transition(StateAdmitted)
}

// StartedAt is the admission time, zero before admission.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Duration is the time since admission.
func (s *Session) Duration() time.Duration {
	started := s.StartedAt()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}

// Resize applies a clamped resize to the attached exec. Before attachment
// the size is held as the single pending resize, replacing any earlier one.
func (s *Session) Resize(ctx context.Context, cols, rows uint16) error {
	cols, rows, ok := ClampSize(cols, rows)
	if !ok {
		return nil
	}
	s.mu.Lock()
	b := s.binding
	if b == nil {
		s.pending = &termSize{cols: cols, rows: rows}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return b.Resize(ctx, cols, rows)
}

// PendingResize returns the size buffered before attachment.
func (s *Session) PendingResize() (cols, rows uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0, 0, false
	}
	return s.pending.cols, s.pending.rows, true
}

// Attach binds the exec session and applies any pending resize.
func (s *Session) Attach(ctx context.Context, b *ExecBinding) error {
	s.mu.Lock()
	s.binding = b
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	s.transition(StateAttached)

	if pending != nil {
		return b.Resize(ctx, pending.cols, pending.rows)
	}
	return nil
}

// Binding returns the attached exec, nil before Attach.
func (s *Session) Binding() *ExecBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// BytesIn counts terminal input bytes written to the exec.
func (s *Session) BytesIn() int64 { return s.bytesIn.Load() }

// BytesOut counts terminal output bytes sent to the client.
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }
