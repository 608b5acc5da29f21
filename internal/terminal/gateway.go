package terminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/trinityai/trinity-gateway/internal/orchestrator"
	"golang.org/x/time/rate"
)

const rejectWriteTimeout = 5 * time.Second

// Options configures a Gateway. Registry, Authenticator and Modes are
// required.
type Options struct {
	Registry      *Registry
	Authenticator Authenticator
	Modes         Modes
	// Runtime returns the current container runtime. Defaults to
	// orchestrator.Get.
	Runtime func() orchestrator.ContainerRuntime
	// Sink receives lifecycle events. Defaults to LogSink.
	Sink EventSink

	// InputLimiter builds the per-connection limiter for client frames.
	// Defaults to NewInputLimiter.
	InputLimiter func() *rate.Limiter

	User         string
	Workdir      string
	AuthTimeout  time.Duration
	PollInterval time.Duration
}

// Request is what the endpoint learned from the upgrade request.
type Request struct {
	Mode      string
	Container string
	SourceIP  string
}

// Gateway bridges accepted websocket connections to container exec
// sessions: handshake, admission, exec binding, forwarding and teardown.
type Gateway struct {
	opts Options

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

func NewGateway(opts Options) *Gateway {
	if opts.Runtime == nil {
		opts.Runtime = orchestrator.Get
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{}
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = DefaultAuthTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InputLimiter == nil {
		opts.InputLimiter = NewInputLimiter
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Gateway{opts: opts, ctx: ctx, cancel: cancel}
}

func (g *Gateway) Registry() *Registry { return g.opts.Registry }

// Shutdown ends every session, including those still authenticating, with
// a going-away close and waits until each has finished teardown and emitted
// its final event, or until ctx is done. Connections served after Shutdown
// are refused.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	g.cancel(ErrShutdown)

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain terminal sessions: %w", ctx.Err())
	}
}

// track counts a connection toward the Shutdown drain. It reports false
// once Shutdown has started.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

// Terminate force-closes the principal's session.
func (g *Gateway) Terminate(principal string) bool {
	return g.opts.Registry.Evict(principal, ErrSessionTerminated)
}

// Serve runs one connection to completion. It always closes conn. Every
// failure before attachment is reported to the client as a rejection and
// leaves no registry entry or exec behind.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, req Request) error {
	if !g.track() {
		code, reason := closeStatus(ErrShutdown)
		conn.Close(code, reason)
		return ErrShutdown
	}
	defer g.active.Done()
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	s := newSession(uuid.New().String(), Mode(req.Mode), req.Container, req.SourceIP)

	// sessCtx ends on gateway shutdown, eviction or termination.
	sessCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(g.ctx, func() { cancel(context.Cause(g.ctx)) })
	defer stop()

	mode, err := ParseMode(req.Mode)
	if err != nil {
		return g.reject(ctx, conn, s, reject(ReasonInvalidMode, err.Error(), err))
	}
	s.Mode = mode
	spec, ok := g.opts.Modes.Resolve(mode)
	if !ok {
		return g.reject(ctx, conn, s, reject(ReasonInvalidMode, "terminal mode "+string(mode)+" is not configured", nil))
	}

	hs, err := Handshake(sessCtx, conn, g.opts.Authenticator, g.opts.AuthTimeout)
	if err != nil {
		return g.reject(ctx, conn, s, err)
	}
	s.Principal = hs.Principal
	if hs.Cols > 0 {
		s.Resize(ctx, hs.Cols, hs.Rows)
	}

	lease, err := g.opts.Registry.Admit(Entry{
		Principal: hs.Principal.ID,
		Username:  hs.Principal.Name,
		SessionID: s.ID,
		Mode:      mode,
		Container: req.Container,
	}, cancel)
	if errors.Is(err, ErrSessionBusy) {
		return g.reject(ctx, conn, s, reject(ReasonSessionBusy, "a terminal session is already active for this user", err))
	}
	if err != nil {
		return g.reject(ctx, conn, s, err)
	}
	defer lease.Release()
	s.admitted(lease.Entry().StartedAt)

	cols, rows, _ := s.PendingResize()
	binding, err := OpenExec(sessCtx, g.opts.Runtime(), req.Container, orchestrator.ExecSpec{
		Cmd:        spec.Command,
		Env:        spec.Environ(g.opts.Workdir),
		User:       g.opts.User,
		WorkingDir: g.opts.Workdir,
		Cols:       cols,
		Rows:       rows,
	})
	if err != nil {
		lease.Release()
		if cause := context.Cause(sessCtx); errors.Is(cause, ErrShutdown) {
			err = cause
		}
		return g.reject(ctx, conn, s, err)
	}

	if err := s.Attach(sessCtx, binding); err != nil {
		log.Printf("[terminal] session=%s initial resize failed: %v", s.ID, err)
	}

	if err := writeAuthSuccess(sessCtx, conn, s); err != nil {
		binding.Close()
		lease.Release()
		s.transition(StateClosing)
		s.transition(StateClosed)
		return err
	}
	log.Printf("[terminal] session=%s attached exec=%s container=%s", s.ID, binding.ExecID(), binding.Container().Name)
	g.opts.Sink.Emit(s.event(EventSessionStart))

	err = Forward(sessCtx, conn, s, ForwardOptions{
		PollInterval: g.opts.PollInterval,
		Limiter:      g.opts.InputLimiter(),
	})
	lease.Release()

	end := s.event(EventSessionEnd)
	end.Duration = s.Duration()
	end.BytesIn = s.BytesIn()
	end.BytesOut = s.BytesOut()
	end.Reason = EndReason(err)
	g.opts.Sink.Emit(end)
	return err
}

func (g *Gateway) reject(ctx context.Context, conn *websocket.Conn, s *Session, err error) error {
	s.transition(StateClosing)
	defer s.transition(StateClosed)

	if errors.Is(err, ErrShutdown) {
		code, reason := closeStatus(err)
		conn.Close(code, reason)
		ev := s.event(EventSessionRejected)
		ev.Reason = EndReason(err)
		g.opts.Sink.Emit(ev)
		return err
	}

	var rej *Rejection
	if !errors.As(err, &rej) {
		// The request context ended; there is no one to tell.
		if ctx.Err() != nil {
			return err
		}
		rej = reject(ReasonExecFailed, "terminal session failed", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rejectWriteTimeout)
	defer cancel()
	if werr := writeRejection(writeCtx, conn, rej); werr != nil {
		log.Printf("[terminal] session=%s failed to send rejection: %v", s.ID, werr)
	}
	conn.Close(rej.Reason.CloseCode(), closeText(rej.Message))

	ev := s.event(EventSessionRejected)
	ev.Reason = string(rej.Reason)
	g.opts.Sink.Emit(ev)
	return rej
}
