package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultPollInterval bounds each exec read so the output pump notices
// cancellation promptly.
const DefaultPollInterval = 100 * time.Millisecond

const outputBufferSize = 32 * 1024

var (
	// ErrProcessExited ends a session whose exec reached end of stream.
	ErrProcessExited = errors.New("terminal process exited")
	// ErrClientGone ends a session whose client connection closed or failed.
	ErrClientGone = errors.New("client connection closed")
	// ErrShutdown ends every session when the gateway shuts down.
	ErrShutdown = errors.New("gateway shutting down")
)

type ForwardOptions struct {
	PollInterval time.Duration
	// Limiter throttles client frames. Nil disables throttling.
	Limiter *rate.Limiter
}

// Forward runs the two directions of an attached session until one of them
// ends, then tears down both: the exec is closed, the connection is closed
// with a code derived from the cause, and the session reaches Closed. The
// returned error is the cause.
func Forward(ctx context.Context, conn *websocket.Conn, s *Session, opts ForwardOptions) error {
	b := s.Binding()
	if b == nil {
		return errors.New("forward: session not attached")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	g, gctx := errgroup.WithContext(ctx)

	// exec -> client
	g.Go(func() error {
		buf := make([]byte, outputBufferSize)
		writeCtx := context.WithoutCancel(gctx)
		for gctx.Err() == nil {
			n, err := b.ReadTimeout(buf, poll)
			if n > 0 {
				if werr := conn.Write(writeCtx, websocket.MessageBinary, buf[:n]); werr != nil {
					return fmt.Errorf("%w: %w", ErrClientGone, werr)
				}
				s.bytesOut.Add(int64(n))
			}
			switch {
			case err == nil, errors.Is(err, ErrReadTimeout):
			case errors.Is(err, io.EOF):
				return ErrProcessExited
			default:
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read exec output: %w", err)
			}
		}
		return nil
	})

	// client -> exec
	g.Go(func() error {
		readCtx := context.WithoutCancel(gctx)
		for {
			typ, data, err := conn.Read(readCtx)
			if gctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %w", ErrClientGone, err)
			}
			if opts.Limiter != nil && !opts.Limiter.Allow() {
				continue
			}

			if typ == websocket.MessageBinary {
				if len(data) > MaxInputMessageSize {
					log.Printf("[terminal] session=%s input frame too large: size=%d limit=%d", s.ID, len(data), MaxInputMessageSize)
					continue
				}
				if _, err := b.Write(data); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("write exec input: %w", err)
				}
				s.bytesIn.Add(int64(len(data)))
				continue
			}

			msg, err := parseControl(data)
			if err != nil || msg.Type != typeResize {
				log.Printf("[terminal] session=%s dropped text frame (%d bytes): not a resize message", s.ID, len(data))
				continue
			}
			if err := s.Resize(gctx, msg.Cols, msg.Rows); err != nil {
				log.Printf("[terminal] session=%s resize %dx%d failed: %v", s.ID, msg.Cols, msg.Rows, err)
			}
		}
	})

	// teardown: unblocks both pumps once either has ended
	g.Go(func() error {
		<-gctx.Done()
		cause := context.Cause(gctx)
		s.transition(StateClosing)
		b.Close()
		code, reason := closeStatus(cause)
		conn.Close(code, reason)
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = context.Cause(gctx)
	}
	b.Close()
	s.transition(StateClosed)
	return err
}

// closeStatus maps a teardown cause to the websocket close frame.
func closeStatus(cause error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(cause, ErrProcessExited):
		return websocket.StatusNormalClosure, "process exited"
	case errors.Is(cause, ErrSessionEvicted):
		return StatusEvicted, "session reclaimed"
	case errors.Is(cause, ErrSessionTerminated):
		return StatusEvicted, "session terminated"
	case errors.Is(cause, ErrShutdown):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(cause, ErrClientGone):
		return websocket.StatusNormalClosure, ""
	}
	return websocket.StatusInternalError, "terminal session failed"
}

// EndReason is a short label for why a session ended, used in audit events.
func EndReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrProcessExited):
		return "process_exited"
	case errors.Is(err, ErrSessionEvicted):
		return "evicted"
	case errors.Is(err, ErrSessionTerminated):
		return "terminated"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrClientGone):
		return "client_closed"
	}
	if reason, ok := RejectionReason(err); ok {
		return string(reason)
	}
	return "error"
}
