package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/trinityai/trinity-gateway/internal/config"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"
)

type KubernetesRuntime struct {
	clientset  *kubernetes.Clientset
	restConfig *rest.Config
	available  bool
	inCluster  bool
}

func (k *KubernetesRuntime) Initialize(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		k.inCluster = true
	} else {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return fmt.Errorf("k8s config: %w", err)
		}
	}

	k.restConfig = cfg
	k.clientset, err = kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("k8s clientset: %w", err)
	}

	_, err = k.clientset.CoreV1().Namespaces().Get(ctx, k.ns(), metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8s namespace check: %w", err)
	}

	k.available = true
	return nil
}

func (k *KubernetesRuntime) IsAvailable(_ context.Context) bool {
	return k.available
}

func (k *KubernetesRuntime) BackendName() string {
	return "kubernetes"
}

func (k *KubernetesRuntime) ns() string {
	return config.Cfg.K8sNamespace
}

// LookupContainer resolves a logical name to a pod, first by exact pod name
// and then by the app=<name> label.
func (k *KubernetesRuntime) LookupContainer(ctx context.Context, name string) (ContainerInfo, error) {
	pod, err := k.clientset.CoreV1().Pods(k.ns()).Get(ctx, name, metav1.GetOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return ContainerInfo{}, fmt.Errorf("get pod %s: %w", name, err)
	}
	if err != nil {
		pods, err := k.clientset.CoreV1().Pods(k.ns()).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", name),
		})
		if err != nil {
			return ContainerInfo{}, fmt.Errorf("list pods for %s: %w", name, err)
		}
		if len(pods.Items) == 0 {
			return ContainerInfo{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		pod = &pods.Items[0]
		for i := range pods.Items {
			if pods.Items[i].Status.Phase == corev1.PodRunning {
				pod = &pods.Items[i]
				break
			}
		}
	}
	return podInfo(pod), nil
}

func podInfo(pod *corev1.Pod) ContainerInfo {
	running := pod.Status.Phase == corev1.PodRunning && pod.DeletionTimestamp == nil
	if running {
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Running == nil {
				running = false
				break
			}
		}
	}
	return ContainerInfo{
		ID:      pod.Name,
		Name:    pod.Name,
		State:   string(pod.Status.Phase),
		Running: running,
	}
}

// podExecCommand folds user, working directory and environment into the
// command line, since the pod exec API has no fields for them.
func podExecCommand(spec ExecSpec) []string {
	inner := []string{"env"}
	inner = append(inner, spec.Env...)
	inner = append(inner, spec.Cmd...)

	script := "exec " + shellquote.Join(inner...)
	if spec.WorkingDir != "" {
		script = "cd " + shellquote.Join(spec.WorkingDir) + " 2>/dev/null; " + script
	}

	if spec.User != "" && spec.User != "root" {
		return []string{"su", "-s", "/bin/sh", spec.User, "-c", script}
	}
	return []string{"/bin/sh", "-c", script}
}

// termSizeQueue implements remotecommand.TerminalSizeQueue via a channel.
type termSizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func (q *termSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

func (k *KubernetesRuntime) CreateExec(ctx context.Context, containerID string, spec ExecSpec) (ExecHandle, error) {
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(containerID).
		Namespace(k.ns()).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: podExecCommand(spec),
			Stdin:   true,
			Stdout:  true,
			Stderr:  false,
			TTY:     true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	// stdout goes through an OS pipe rather than io.Pipe so reads can carry
	// deadlines.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdinR, stdinW := io.Pipe()

	cols, rows := spec.Cols, spec.Rows
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}
	sizeCh := make(chan remotecommand.TerminalSize, 1)
	sizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &podExec{
		id:     fmt.Sprintf("%s/%d", containerID, time.Now().UnixNano()),
		stream: &pipeStream{r: stdoutR, w: stdinW},
		sizeCh: sizeCh,
		cancel: cancel,
		stdinR: stdinR,
	}

	stdout := &firstWrite{w: stdoutW, started: make(chan struct{})}
	streamErr := make(chan error, 1)
	go func() {
		defer stdoutW.Close()
		err := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            stdout,
			Tty:               true,
			TerminalSizeQueue: &termSizeQueue{ch: sizeCh},
		})
		if err != nil {
			log.Printf("[orchestrator] k8s exec stream %s ended: %v", exec.id, err)
		}
		streamErr <- err
	}()

	if err := awaitStreamStart(ctx, stdout.started, streamErr, execStartGrace); err != nil {
		exec.Close()
		return nil, fmt.Errorf("exec stream: %w", err)
	}
	return exec, nil
}

// execStartGrace is how long CreateExec waits for a pod exec stream to
// either produce output or fail. Upgrade and RBAC failures surface well
// within it; a quiet process is assumed to be running once it passes.
const execStartGrace = time.Second

// awaitStreamStart blocks until the stream has produced output, ended, or
// stayed up for grace. Only a stream that ended with an error, or ctx
// ending first, is a failure.
func awaitStreamStart(ctx context.Context, started <-chan struct{}, ended <-chan error, grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-started:
		return nil
	case err := <-ended:
		return err
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstWrite closes started on the first write through it.
type firstWrite struct {
	w       io.Writer
	once    sync.Once
	started chan struct{}
}

func (f *firstWrite) Write(p []byte) (int, error) {
	f.once.Do(func() { close(f.started) })
	return f.w.Write(p)
}

type podExec struct {
	id     string
	stream *pipeStream
	stdinR *io.PipeReader
	cancel context.CancelFunc

	mu     sync.Mutex
	sizeCh chan remotecommand.TerminalSize
	closed bool
}

func (e *podExec) ID() string { return e.id }

func (e *podExec) Stream() ExecStream { return e.stream }

func (e *podExec) Resize(_ context.Context, cols, rows uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("exec %s closed", e.id)
	}
	// Drain any pending size so the new one is always delivered
	select {
	case <-e.sizeCh:
	default:
	}
	e.sizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}
	return nil
}

func (e *podExec) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.sizeCh)
	e.mu.Unlock()

	e.cancel()
	e.stdinR.Close()
	return e.stream.Close()
}

type pipeStream struct {
	r *os.File
	w *io.PipeWriter
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *pipeStream) SetReadDeadline(t time.Time) error {
	return s.r.SetReadDeadline(t)
}

func (s *pipeStream) Close() error {
	s.w.Close()
	return s.r.Close()
}

var _ ContainerRuntime = (*KubernetesRuntime)(nil)
