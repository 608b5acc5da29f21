package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/trinityai/trinity-gateway/internal/config"
)

// dockerAPI is the subset of the Docker client used by DockerRuntime.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecResize(ctx context.Context, execID string, options container.ResizeOptions) error
}

type DockerRuntime struct {
	client    *dockerclient.Client
	available bool
}

func (d *DockerRuntime) Initialize(ctx context.Context) error {
	var opts []dockerclient.Opt
	opts = append(opts, dockerclient.FromEnv)
	opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	if config.Cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(config.Cfg.DockerHost))
	}
	if config.Cfg.DockerTLSCert != "" || config.Cfg.DockerTLSCA != "" {
		httpClient, err := dockerTLSClient(config.Cfg.DockerTLSCA, config.Cfg.DockerTLSCert, config.Cfg.DockerTLSKey)
		if err != nil {
			return fmt.Errorf("docker tls: %w", err)
		}
		opts = append(opts, dockerclient.WithHTTPClient(httpClient))
	}

	var err error
	d.client, err = dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	d.available = true
	log.Println("[orchestrator] Docker daemon connected")
	return nil
}

func dockerTLSClient(caFile, certFile, keyFile string) (*http.Client, error) {
	tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
		CAFile:             caFile,
		CertFile:           certFile,
		KeyFile:            keyFile,
		ExclusiveRootPools: caFile != "",
	})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

func (d *DockerRuntime) IsAvailable(_ context.Context) bool {
	return d.available
}

func (d *DockerRuntime) BackendName() string {
	return "docker"
}

func (d *DockerRuntime) LookupContainer(ctx context.Context, name string) (ContainerInfo, error) {
	return lookupDockerContainer(ctx, d.client, name)
}

func lookupDockerContainer(ctx context.Context, api dockerAPI, name string) (ContainerInfo, error) {
	inspect, err := api.ContainerInspect(ctx, name)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return ContainerInfo{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return ContainerInfo{}, fmt.Errorf("inspect container %s: %w", name, err)
	}

	info := ContainerInfo{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		info.State = inspect.State.Status
		info.Running = inspect.State.Running && !inspect.State.Paused && !inspect.State.Restarting
	}
	return info, nil
}

func dockerExecOptions(spec ExecSpec) container.ExecOptions {
	opts := container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		User:         spec.User,
		WorkingDir:   spec.WorkingDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
	}
	if spec.Cols > 0 && spec.Rows > 0 {
		opts.ConsoleSize = &[2]uint{uint(spec.Rows), uint(spec.Cols)}
	}
	return opts
}

func (d *DockerRuntime) CreateExec(ctx context.Context, containerID string, spec ExecSpec) (ExecHandle, error) {
	opts := dockerExecOptions(spec)

	created, err := d.client.ContainerExecCreate(ctx, containerID, opts)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{
		Tty:         true,
		ConsoleSize: opts.ConsoleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	return &dockerExec{
		api:    d.client,
		id:     created.ID,
		stream: &hijackedStream{conn: resp.Conn, reader: resp.Reader},
	}, nil
}

type dockerExec struct {
	api    dockerAPI
	id     string
	stream *hijackedStream
	once   sync.Once
	err    error
}

func (e *dockerExec) ID() string { return e.id }

func (e *dockerExec) Stream() ExecStream { return e.stream }

func (e *dockerExec) Resize(ctx context.Context, cols, rows uint16) error {
	return e.api.ContainerExecResize(ctx, e.id, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
}

func (e *dockerExec) Close() error {
	e.once.Do(func() {
		e.err = e.stream.Close()
	})
	return e.err
}

// hijackedStream reads through the attach response's buffered reader so
// bytes the client library already buffered are not lost, while deadlines
// and writes go to the underlying connection.
type hijackedStream struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (s *hijackedStream) Read(p []byte) (int, error) {
	if s.reader != nil {
		return s.reader.Read(p)
	}
	return s.conn.Read(p)
}

func (s *hijackedStream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *hijackedStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *hijackedStream) Close() error {
	return s.conn.Close()
}

var _ ContainerRuntime = (*DockerRuntime)(nil)
