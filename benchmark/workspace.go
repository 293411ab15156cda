package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/GoCodeAlone/gauntlet/task"
	"github.com/GoCodeAlone/gauntlet/tools"
)

// cloneTimeout bounds git clone and checkout.
const cloneTimeout = 10 * time.Minute

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// workspaceName maps a task id to a directory name.
func workspaceName(id string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(id, "_"), "._")
	if name == "" {
		return "task"
	}
	return name
}

// repoSource resolves where to clone a task's repository from: an explicit
// repo_path metadata entry, a URL or local path, or a GitHub owner/name.
func repoSource(t task.Task) (string, error) {
	if p := t.Metadata["repo_path"]; p != "" {
		return p, nil
	}
	repo := strings.TrimSpace(t.Repository)
	switch {
	case repo == "":
		return "", fmt.Errorf("task %s has no repository", t.ID)
	case strings.Contains(repo, "://"), strings.HasPrefix(repo, "git@"):
		return repo, nil
	}
	if info, err := os.Stat(repo); err == nil && info.IsDir() {
		return repo, nil
	}
	return "https://github.com/" + strings.TrimSuffix(repo, ".git") + ".git", nil
}

// git runs one git command in dir and fails on a non-zero exit.
func git(ctx context.Context, ex tools.Executor, dir string, timeout time.Duration, args ...string) (tools.CommandOutput, error) {
	out, err := ex.Run(ctx, tools.Command{Name: "git", Args: args, Dir: dir, Timeout: timeout})
	if err != nil {
		return out, fmt.Errorf("git %s: %w", args[0], err)
	}
	if out.TimedOut {
		return out, fmt.Errorf("git %s: timed out", args[0])
	}
	if out.ExitCode != 0 {
		return out, fmt.Errorf("git %s: exit code %d: %s", args[0], out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return out, nil
}

// prepareWorkspace checks out t's repository at its base revision into ws.
// An existing ws is replaced.
func prepareWorkspace(ctx context.Context, ex tools.Executor, t task.Task, ws string) error {
	src, err := repoSource(t)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ws); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ws), 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	if _, err := git(ctx, ex, filepath.Dir(ws), cloneTimeout, "clone", "--quiet", src, ws); err != nil {
		return err
	}
	if t.BaseRevision != "" {
		if _, err := git(ctx, ex, ws, cloneTimeout, "checkout", "--quiet", t.BaseRevision); err != nil {
			return err
		}
	}
	return nil
}

// applyPatch applies a unified diff to ws. The patch file is written next
// to the workspace so it never shows up in the agent's view.
func applyPatch(ctx context.Context, ex tools.Executor, ws, name, patch string) error {
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	f, err := os.CreateTemp(filepath.Dir(ws), name+"-*.patch")
	if err != nil {
		return fmt.Errorf("write patch: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(patch); err != nil {
		f.Close()
		return fmt.Errorf("write patch: %w", err)
	}
	f.Close()
	_, err = git(ctx, ex, ws, time.Minute, "apply", "--whitespace=nowarn", f.Name())
	return err
}

// hasChanges reports whether the agent left any modification in ws.
func hasChanges(ctx context.Context, ex tools.Executor, ws string) (bool, error) {
	out, err := git(ctx, ex, ws, time.Minute, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out.Stdout) != "", nil
}
