// Package sandbox runs tool commands inside Docker containers, one container
// per task workspace, with the workspace bind-mounted at /workspace.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/gauntlet/tools"
)

// MountPoint is where the workspace appears inside the container.
const MountPoint = "/workspace"

const maxStream = 64 << 10

// ErrUnavailable is returned when the Docker daemon cannot be reached.
var ErrUnavailable = errors.New("sandbox: docker not available")

// Spec describes the container a workspace runs in.
type Spec struct {
	Image        string            `json:"image" yaml:"image" mapstructure:"image"`
	InitCommands []string          `json:"init_commands,omitempty" yaml:"init_commands" mapstructure:"init_commands"`
	Env          map[string]string `json:"env,omitempty" yaml:"env" mapstructure:"env"`
	MemoryLimit  int64             `json:"memory_limit,omitempty" yaml:"memory_limit" mapstructure:"memory_limit"`
	CPULimit     float64           `json:"cpu_limit,omitempty" yaml:"cpu_limit" mapstructure:"cpu_limit"`
	NetworkMode  string            `json:"network_mode,omitempty" yaml:"network_mode" mapstructure:"network_mode"`
}

// Manager owns the containers backing task workspaces.
type Manager struct {
	client client.APIClient
	spec   Spec
	logger *slog.Logger

	mu         sync.Mutex
	containers map[string]string // workspace -> container ID
}

// NewManager connects to the Docker daemon described by the environment.
// It fails with ErrUnavailable when the daemon does not answer a ping.
func NewManager(spec Spec, logger *slog.Logger) (*Manager, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("sandbox: image is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return newManager(cli, spec, logger), nil
}

func newManager(cli client.APIClient, spec Spec, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:     cli,
		spec:       spec,
		logger:     logger,
		containers: make(map[string]string),
	}
}

// Executor returns a tools.Executor running inside the workspace's
// container, creating the container on first use.
func (m *Manager) Executor(ctx context.Context, workspace string) (*Executor, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("sandbox: workspace: %w", err)
	}
	cid, err := m.ensureContainer(ctx, abs)
	if err != nil {
		return nil, err
	}
	return &Executor{m: m, containerID: cid, workspace: abs}, nil
}

func (m *Manager) ensureContainer(ctx context.Context, workspace string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cid, ok := m.containers[workspace]; ok {
		info, err := m.client.ContainerInspect(ctx, cid)
		if err == nil && info.State != nil && info.State.Running {
			return cid, nil
		}
		delete(m.containers, workspace)
	}

	if err := m.ensureImage(ctx, m.spec.Image); err != nil {
		return "", fmt.Errorf("sandbox: pull image: %w", err)
	}

	var env []string
	for k, v := range m.spec.Env {
		env = append(env, k+"="+v)
	}
	containerCfg := &container.Config{
		Image:      m.spec.Image,
		Cmd:        []string{"sleep", "infinity"},
		Env:        env,
		WorkingDir: MountPoint,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: MountPoint,
		}},
	}
	if m.spec.MemoryLimit > 0 {
		hostCfg.Memory = m.spec.MemoryLimit
	}
	if m.spec.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(m.spec.CPULimit * 1e9)
	}
	if m.spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(m.spec.NetworkMode)
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName(workspace))
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = m.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	m.containers[workspace] = resp.ID
	m.logger.Info("sandbox container started", "container", shortID(resp.ID), "image", m.spec.Image, "workspace", workspace)

	for _, initCmd := range m.spec.InitCommands {
		out, err := m.exec(ctx, resp.ID, []string{"sh", "-c", initCmd}, MountPoint, nil, time.Minute)
		if err != nil || out.ExitCode != 0 {
			m.logger.Warn("sandbox init command failed", "command", initCmd, "exit_code", out.ExitCode, "error", err)
		}
	}
	return resp.ID, nil
}

// Release removes the workspace's container.
func (m *Manager) Release(ctx context.Context, workspace string) error {
	abs, _ := filepath.Abs(workspace)
	m.mu.Lock()
	cid, ok := m.containers[abs]
	delete(m.containers, abs)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.client.ContainerRemove(ctx, cid, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("sandbox: remove: %w", err)
	}
	return nil
}

// Close removes every managed container and closes the Docker client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for ws, cid := range m.containers {
		if err := m.client.ContainerRemove(ctx, cid, container.RemoveOptions{Force: true}); err != nil {
			m.logger.Warn("sandbox container not removed", "container", shortID(cid), "error", err)
		}
		delete(m.containers, ws)
	}
	return m.client.Close()
}

func (m *Manager) ensureImage(ctx context.Context, img string) error {
	if _, err := m.client.ImageInspect(ctx, img); err == nil {
		return nil
	}
	reader, err := m.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// exec runs argv in the container. A deadline reached while the command
// runs is reported as a timed out output, not an error.
func (m *Manager) exec(ctx context.Context, containerID string, argv []string, workDir string, env []string, timeout time.Duration) (tools.CommandOutput, error) {
	out := tools.CommandOutput{ExitCode: -1, Timeout: timeout}
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	execResp, err := m.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          argv,
		Env:          env,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return out, fmt.Errorf("container exec create: %w", err)
	}
	attachResp, err := m.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return out, fmt.Errorf("container exec attach: %w", err)
	}
	defer attachResp.Close()

	// The hijacked connection ignores ctx, so close it when the deadline hits.
	stop := context.AfterFunc(execCtx, attachResp.Close)
	defer stop()

	var stdout, stderr bytes.Buffer
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
	out.Stdout = capped(stdout.String())
	out.Stderr = capped(stderr.String())
	out.Duration = time.Since(start)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		return out, nil
	}
	if copyErr != nil {
		return out, fmt.Errorf("container exec read: %w", copyErr)
	}

	inspect, err := m.client.ContainerExecInspect(execCtx, execResp.ID)
	if err != nil {
		return out, fmt.Errorf("container exec inspect: %w", err)
	}
	out.ExitCode = inspect.ExitCode
	return out, nil
}

// Executor runs tool commands in one workspace container.
type Executor struct {
	m           *Manager
	containerID string
	workspace   string
}

// ContainerID returns the backing container.
func (e *Executor) ContainerID() string { return e.containerID }

// Run implements tools.Executor. Command directories under the workspace are
// translated to the mount point.
func (e *Executor) Run(ctx context.Context, c tools.Command) (tools.CommandOutput, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = tools.DefaultTimeout
	}
	timeout = min(timeout, tools.MaxTimeout)
	argv := append([]string{c.Name}, c.Args...)
	return e.m.exec(ctx, e.containerID, argv, e.containerDir(c.Dir), c.Env, timeout)
}

func (e *Executor) containerDir(dir string) string {
	if dir == "" {
		return MountPoint
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return MountPoint
	}
	rel, err := filepath.Rel(e.workspace, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return MountPoint
	}
	if rel == "." {
		return MountPoint
	}
	return MountPoint + "/" + filepath.ToSlash(rel)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func containerName(workspace string) string {
	base := unsafeName.ReplaceAllString(filepath.Base(workspace), "-")
	base = strings.Trim(base, "-.")
	if len(base) > 40 {
		base = base[:40]
	}
	if base == "" {
		base = "task"
	}
	return "gauntlet-" + base + "-" + uuid.NewString()[:8]
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func capped(s string) string {
	if len(s) <= maxStream {
		return s
	}
	return s[:maxStream] + "\n... (output truncated)"
}
