package terminal

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/trinityai/trinity-gateway/internal/orchestrator"
)

// ErrReadTimeout is returned by ExecBinding.ReadTimeout when no bytes arrived
// within the wait.
var ErrReadTimeout = errors.New("exec read timed out")

// ExecBinding owns one runtime exec session attached to a container: its
// byte channel and its resize control. The binding is released exactly once.
type ExecBinding struct {
	container orchestrator.ContainerInfo
	handle    orchestrator.ExecHandle
	stream    orchestrator.ExecStream

	closeOnce sync.Once
	closeErr  error
}

// OpenExec resolves container by logical name and starts spec inside it.
// Failures are returned as a *Rejection.
func OpenExec(ctx context.Context, rt orchestrator.ContainerRuntime, container string, spec orchestrator.ExecSpec) (*ExecBinding, error) {
	if rt == nil {
		return nil, reject(ReasonExecFailed, "no container runtime available", nil)
	}

	info, err := rt.LookupContainer(ctx, container)
	switch {
	case errors.Is(err, orchestrator.ErrContainerNotFound):
		return nil, reject(ReasonContainerNotFound, "container "+container+" not found", err)
	case err != nil:
		return nil, reject(ReasonExecFailed, "container lookup failed", err)
	case !info.Running:
		return nil, reject(ReasonContainerNotRunning, "container "+container+" is not running", orchestrator.ErrContainerNotRunning)
	}

	handle, err := rt.CreateExec(ctx, info.ID, spec)
	switch {
	case errors.Is(err, orchestrator.ErrContainerNotFound):
		return nil, reject(ReasonContainerNotFound, "container "+container+" not found", err)
	case errors.Is(err, orchestrator.ErrContainerNotRunning):
		return nil, reject(ReasonContainerNotRunning, "container "+container+" is not running", err)
	case err != nil:
		return nil, reject(ReasonExecFailed, "failed to start terminal process", err)
	}

	return &ExecBinding{
		container: info,
		handle:    handle,
		stream:    handle.Stream(),
	}, nil
}

func (b *ExecBinding) Container() orchestrator.ContainerInfo { return b.container }

func (b *ExecBinding) ExecID() string { return b.handle.ID() }

// ReadTimeout reads whatever the process has produced, waiting at most d.
// It returns ErrReadTimeout when nothing arrived; io.EOF means the process
// exited.
func (b *ExecBinding) ReadTimeout(p []byte, d time.Duration) (int, error) {
	if err := b.stream.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}
	n, err := b.stream.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrReadTimeout
	}
	return n, err
}

// Write sends terminal input to the process verbatim.
func (b *ExecBinding) Write(p []byte) (int, error) {
	return b.stream.Write(p)
}

// Resize changes the pseudo-terminal size through the runtime, never
// through the byte channel.
func (b *ExecBinding) Resize(ctx context.Context, cols, rows uint16) error {
	return b.handle.Resize(ctx, cols, rows)
}

// Close releases the exec session. It is safe to call more than once.
func (b *ExecBinding) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.handle.Close()
	})
	return b.closeErr
}
