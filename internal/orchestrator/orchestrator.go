package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrContainerNotFound is returned by LookupContainer when no container
	// matches the logical name.
	ErrContainerNotFound = errors.New("container not found")
	// ErrContainerNotRunning is returned when an exec is requested on a
	// container that exists but is not running.
	ErrContainerNotRunning = errors.New("container not running")
)

// ContainerRuntime is the thin slice of a container backend the terminal
// gateway needs: find a container and start interactive processes in it.
type ContainerRuntime interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string

	LookupContainer(ctx context.Context, name string) (ContainerInfo, error)
	CreateExec(ctx context.Context, containerID string, spec ExecSpec) (ExecHandle, error)
}

type ContainerInfo struct {
	ID      string
	Name    string
	State   string
	Running bool
}

// ExecSpec describes an interactive process. Stdin, stdout and stderr are
// always attached and a pseudo-terminal is always allocated.
type ExecSpec struct {
	Cmd        []string
	Env        []string
	User       string
	WorkingDir string
	Cols       uint16
	Rows       uint16
}

// ExecStream is the raw duplex byte channel of an exec session. Reads honor
// SetReadDeadline so callers can wait in bounded slices.
type ExecStream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// ExecHandle is one runtime exec session. Close must be safe to call more
// than once.
type ExecHandle interface {
	ID() string
	Stream() ExecStream
	Resize(ctx context.Context, cols, rows uint16) error
	Close() error
}
