package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a shell-executing tool when the caller gives none.
const DefaultTimeout = 30 * time.Second

// MaxTimeout caps caller supplied timeouts.
const MaxTimeout = 10 * time.Minute

// maxOutput caps each captured stream so a chatty command cannot flood the
// conversation.
const maxOutput = 64 << 10

// Command is one process invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string // host path; container executors translate it
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CommandOutput is what a finished (or timed out) command produced.
type CommandOutput struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Timeout  time.Duration `json:"-"`
	Duration time.Duration `json:"duration"`
}

// String renders stdout and stderr for the model.
func (o CommandOutput) String() string {
	var b strings.Builder
	if o.Stdout != "" {
		b.WriteString(o.Stdout)
	}
	if o.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(o.Stdout, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("[stderr]\n")
		b.WriteString(o.Stderr)
	}
	return b.String()
}

// Executor runs commands on behalf of tools.
type Executor interface {
	Run(ctx context.Context, cmd Command) (CommandOutput, error)
}

// HostExecutor runs commands directly on the host.
type HostExecutor struct{}

// Run executes cmd. The timeout is detached from ctx's cancellation so that a
// cancelled evaluation lets in-flight tool calls finish within their own
// budget. A non-zero exit is not an error; failing to start is.
func (HostExecutor) Run(ctx context.Context, c Command) (CommandOutput, error) {
	timeout := clampTimeout(c.Timeout)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// Children that inherit the pipes must not keep Wait blocked past the kill.
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{max: maxOutput}
	stderr := &cappedBuffer{max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := CommandOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Timeout:  timeout,
		Duration: time.Since(start),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("exec %s: %w", c.Name, err)
	}
	return out, nil
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return min(d, MaxTimeout)
}

// cappedBuffer keeps the first max bytes written and notes the overflow.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n... (output truncated)"
	}
	return b.buf.String()
}
