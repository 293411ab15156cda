package sandbox

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/GoCodeAlone/gauntlet/tools"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeDocker implements the exec half of the Docker API. Unused methods fall
// through to the nil embedded interface and would panic if called.
type fakeDocker struct {
	client.APIClient

	mu       sync.Mutex
	execs    []container.ExecOptions
	stdout   string
	stderr   string
	exitCode int
	hang     bool
	removed  []string
	closed   bool
}

func (f *fakeDocker) ContainerExecCreate(_ context.Context, _ string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, opts)
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeDocker) ContainerExecAttach(_ context.Context, _ string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	local, remote := net.Pipe()
	go func() {
		if f.hang {
			// Hold the stream open until the reader gives up.
			_, _ = io.Copy(io.Discard, remote)
			return
		}
		defer remote.Close()
		if f.stdout != "" {
			_, _ = stdcopy.NewStdWriter(remote, stdcopy.Stdout).Write([]byte(f.stdout))
		}
		if f.stderr != "" {
			_, _ = stdcopy.NewStdWriter(remote, stdcopy.Stderr).Write([]byte(f.stderr))
		}
	}()
	return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(local)}, nil
}

func (f *fakeDocker) ContainerExecInspect(_ context.Context, _ string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: "exec-1", ExitCode: f.exitCode}, nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func newTestExecutor(f *fakeDocker) *Executor {
	m := newManager(f, Spec{Image: "python:3.12"}, quiet)
	m.containers["/work/task-1"] = "c1"
	return &Executor{m: m, containerID: "c1", workspace: "/work/task-1"}
}

func TestExecutorRun(t *testing.T) {
	f := &fakeDocker{stdout: "3 passed\n", stderr: "warning\n", exitCode: 1}
	ex := newTestExecutor(f)

	out, err := ex.Run(context.Background(), tools.Command{
		Name: "python",
		Args: []string{"-m", "pytest", "tests/test_a.py"},
		Dir:  "/work/task-1/pkg",
		Env:  []string{"CI=1"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Stdout != "3 passed\n" || out.Stderr != "warning\n" || out.ExitCode != 1 || out.TimedOut {
		t.Errorf("got %+v", out)
	}
	if len(f.execs) != 1 {
		t.Fatalf("execs = %d", len(f.execs))
	}
	opts := f.execs[0]
	if strings.Join(opts.Cmd, " ") != "python -m pytest tests/test_a.py" {
		t.Errorf("cmd = %v", opts.Cmd)
	}
	if opts.WorkingDir != "/workspace/pkg" {
		t.Errorf("workdir = %s", opts.WorkingDir)
	}
	if len(opts.Env) != 1 || opts.Env[0] != "CI=1" {
		t.Errorf("env = %v", opts.Env)
	}
}

func TestExecutorSatisfiesToolsExecutor(t *testing.T) {
	var _ tools.Executor = (*Executor)(nil)

	f := &fakeDocker{stdout: "hello\n"}
	reg := tools.Catalog("/work/task-1", tools.Options{Executor: newTestExecutor(f)})
	res := reg.Execute(context.Background(), "shell", map[string]any{"command": "echo hello"})
	if !res.Success || strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("got %+v", res)
	}
	if got := f.execs[0].Cmd; len(got) != 3 || got[0] != "sh" || got[2] != "echo hello" {
		t.Errorf("cmd = %v", got)
	}
}

func TestExecutorTimeout(t *testing.T) {
	f := &fakeDocker{hang: true}
	ex := newTestExecutor(f)

	start := time.Now()
	out, err := ex.Run(context.Background(), tools.Command{Name: "sleep", Args: []string{"60"}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut || out.Timeout != 50*time.Millisecond {
		t.Errorf("got %+v", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not interrupt the stream")
	}
}

func TestContainerDir(t *testing.T) {
	ex := &Executor{workspace: "/work/task-1"}
	tests := map[string]string{
		"":                     "/workspace",
		"/work/task-1":         "/workspace",
		"/work/task-1/src/app": "/workspace/src/app",
		"/work/task-2":         "/workspace",
		"/etc":                 "/workspace",
	}
	for in, want := range tests {
		if got := ex.containerDir(in); got != want {
			t.Errorf("containerDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContainerName(t *testing.T) {
	name := containerName("/tmp/runs/django__django-11099")
	if !strings.HasPrefix(name, "gauntlet-django__django-11099-") {
		t.Errorf("name = %s", name)
	}
	if n := containerName("/tmp/a b/??"); !strings.HasPrefix(n, "gauntlet-task-") {
		t.Errorf("unsafe name = %s", n)
	}
}

func TestReleaseAndClose(t *testing.T) {
	f := &fakeDocker{}
	m := newManager(f, Spec{Image: "alpine"}, quiet)
	m.containers["/work/a"] = "ca"
	m.containers["/work/b"] = "cb"

	if err := m.Release(context.Background(), "/work/a"); err != nil {
		t.Fatal(err)
	}
	if err := m.Release(context.Background(), "/work/unknown"); err != nil {
		t.Errorf("releasing an unknown workspace: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if strings.Join(f.removed, ",") != "ca,cb" || !f.closed {
		t.Errorf("removed=%v closed=%v", f.removed, f.closed)
	}
	if len(m.containers) != 0 {
		t.Errorf("containers left: %v", m.containers)
	}
}

func TestNewManagerRequiresImage(t *testing.T) {
	if _, err := NewManager(Spec{}, quiet); err == nil {
		t.Error("expected error without image")
	}
}
