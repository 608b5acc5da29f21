package orchestrator

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// SetForTest sets the global runtime for testing.
func SetForTest(rt ContainerRuntime) {
	set(rt)
}

// ResetForTest clears the global runtime.
func ResetForTest() {
	set(nil)
}

// FakeRuntime is an in-process ContainerRuntime for tests. Every exec is
// backed by a net.Pipe: the gateway holds one end and the test plays the
// container process on the other through FakeExec.Process.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]ContainerInfo
	execs      []*FakeExec

	// CreateErr, when set, fails every CreateExec call.
	CreateErr error
	// OnExec runs in its own goroutine for every created exec.
	OnExec func(*FakeExec)
}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{containers: make(map[string]ContainerInfo)}
}

// AddContainer registers a container under its logical name.
func (f *FakeRuntime) AddContainer(name string, running bool) {
	state := "exited"
	if running {
		state = "running"
	}
	f.mu.Lock()
	f.containers[name] = ContainerInfo{ID: "id-" + name, Name: name, State: state, Running: running}
	f.mu.Unlock()
}

func (f *FakeRuntime) Initialize(context.Context) error { return nil }
func (f *FakeRuntime) IsAvailable(context.Context) bool { return true }
func (f *FakeRuntime) BackendName() string              { return "fake" }

func (f *FakeRuntime) LookupContainer(_ context.Context, name string) (ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return ContainerInfo{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
	}
	return info, nil
}

func (f *FakeRuntime) CreateExec(_ context.Context, containerID string, spec ExecSpec) (ExecHandle, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	gatewaySide, processSide := net.Pipe()

	f.mu.Lock()
	exec := &FakeExec{
		Spec:        spec,
		ContainerID: containerID,
		Process:     processSide,
		Resizes:     make(chan [2]uint16, 16),
		id:          fmt.Sprintf("exec-%d", len(f.execs)+1),
		stream:      gatewaySide,
		closed:      make(chan struct{}),
	}
	f.execs = append(f.execs, exec)
	onExec := f.OnExec
	f.mu.Unlock()

	if onExec != nil {
		go onExec(exec)
	}
	return exec, nil
}

// Execs returns every exec created so far.
func (f *FakeRuntime) Execs() []*FakeExec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeExec, len(f.execs))
	copy(out, f.execs)
	return out
}

// OpenExecs counts execs that have not been closed by the gateway.
func (f *FakeRuntime) OpenExecs() int {
	n := 0
	for _, e := range f.Execs() {
		if !e.IsClosed() {
			n++
		}
	}
	return n
}

// FakeExec is one exec created by FakeRuntime.
type FakeExec struct {
	Spec        ExecSpec
	ContainerID string
	// Process is the container side of the exec's byte channel.
	Process net.Conn
	// Resizes receives every Resize call as {cols, rows}.
	Resizes chan [2]uint16

	id        string
	stream    net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (e *FakeExec) ID() string         { return e.id }
func (e *FakeExec) Stream() ExecStream { return e.stream }

func (e *FakeExec) Resize(_ context.Context, cols, rows uint16) error {
	select {
	case e.Resizes <- [2]uint16{cols, rows}:
	default:
	}
	return nil
}

func (e *FakeExec) Close() error {
	e.closeOnce.Do(func() {
		e.stream.Close()
		close(e.closed)
	})
	return nil
}

// Closed is closed once the gateway has released the exec.
func (e *FakeExec) Closed() <-chan struct{} { return e.closed }

func (e *FakeExec) IsClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

var _ ContainerRuntime = (*FakeRuntime)(nil)
