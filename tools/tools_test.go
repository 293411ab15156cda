package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// helper: create a temp workspace with files.
func setupWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	ws := t.TempDir()
	for name, content := range files {
		p := filepath.Join(ws, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return ws
}

// fakeExecutor records commands and replies from a table keyed by the
// command line.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []Command
	replies map[string]CommandOutput
}

func (f *fakeExecutor) Run(_ context.Context, c Command) (CommandOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.replies[c.String()], nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo" }
func (echoTool) Definition() provider.ToolDef {
	return provider.ToolDef{Name: "echo", Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
		},
		"required": []any{"text"},
	}}
}
func (echoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	return strings.Repeat(stringArg(args, "text"), intArg(args, "count", 1)), nil
}

func TestRegistryUnknownToolSuggests(t *testing.T) {
	r := Catalog(t.TempDir(), Options{})
	res := r.Execute(context.Background(), "read_fiel", map[string]any{"path": "x"})
	if res.Success {
		t.Fatal("unknown tool must not succeed")
	}
	if !strings.Contains(res.Error, `unknown tool "read_fiel"`) || !strings.Contains(res.Error, `"read_file"`) {
		t.Errorf("error = %q", res.Error)
	}

	res = r.Execute(context.Background(), "xyzzy", nil)
	if strings.Contains(res.Error, "did you mean") {
		t.Errorf("distant name should get no suggestion: %q", res.Error)
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := NewRegistry(echoTool{})
	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
		want    string
	}{
		{"missing required", map[string]any{}, `missing required argument "text"`, ""},
		{"wrong type", map[string]any{"text": 5.0}, `argument "text" must be string, got number`, ""},
		{"fractional integer", map[string]any{"text": "a", "count": 1.5}, `argument "count" must be integer`, ""},
		{"json integer", map[string]any{"text": "ab", "count": 3.0}, "", "ababab"},
		{"unknown keys allowed", map[string]any{"text": "z", "extra": true}, "", "z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), "echo", tt.args)
			if tt.wantErr != "" {
				if res.Success || !strings.Contains(res.Error, tt.wantErr) {
					t.Errorf("got success=%v error=%q, want %q", res.Success, res.Error, tt.wantErr)
				}
				return
			}
			if !res.Success || res.Output != tt.want {
				t.Errorf("got %+v, want output %q", res, tt.want)
			}
		})
	}
}

func TestCatalogNames(t *testing.T) {
	r := Catalog(t.TempDir(), Options{})
	want := []string{"edit_file", "git_diff", "git_status", "grep", "list_files", "read_file", "run_tests", "shell", "write_file"}
	got := r.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v", got)
	}
	for _, d := range r.Defs() {
		if d.Parameters["type"] != "object" {
			t.Errorf("%s: schema type = %v", d.Name, d.Parameters["type"])
		}
	}
}

func TestValidatePath(t *testing.T) {
	ws := t.TempDir()
	if _, err := validatePath(ws, "../etc/passwd"); err == nil {
		t.Error("expected traversal error")
	}
	if _, err := validatePath(ws, "a/../../b"); err == nil {
		t.Error("expected traversal error for nested escape")
	}
	if p, err := validatePath(ws, "src/main.go"); err != nil || !strings.HasSuffix(p, filepath.Join("src", "main.go")) {
		t.Errorf("got %q, %v", p, err)
	}
	if _, err := validatePath("", "x"); err == nil {
		t.Error("expected error without workspace")
	}
}

func TestFileTools(t *testing.T) {
	ws := setupWorkspace(t, map[string]string{
		"src/app.py": "def main():\n    return 1\n\nprint(main())\n",
	})
	r := Catalog(ws, Options{})
	ctx := context.Background()

	res := r.Execute(ctx, "read_file", map[string]any{"path": "src/app.py", "start_line": 2.0, "end_line": 2.0})
	if !res.Success || res.Output != "2\t    return 1\n" {
		t.Errorf("read range = %+v", res)
	}

	res = r.Execute(ctx, "edit_file", map[string]any{"path": "src/app.py", "old_string": "return 1", "new_string": "return 2"})
	if !res.Success {
		t.Fatalf("edit: %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "src", "app.py"))
	if !strings.Contains(string(data), "return 2") {
		t.Errorf("edit not applied: %s", data)
	}

	res = r.Execute(ctx, "edit_file", map[string]any{"path": "src/app.py", "old_string": "main", "new_string": "run"})
	if res.Success || !strings.Contains(res.Error, "matches 2 times") {
		t.Errorf("ambiguous edit = %+v", res)
	}
	res = r.Execute(ctx, "edit_file", map[string]any{"path": "src/app.py", "old_string": "nope", "new_string": "x"})
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("missing edit = %+v", res)
	}

	res = r.Execute(ctx, "write_file", map[string]any{"path": "tests/test_app.py", "content": "import app\n"})
	if !res.Success || !strings.Contains(res.Output, `"bytes_written":11`) {
		t.Errorf("write = %+v", res)
	}

	res = r.Execute(ctx, "list_files", map[string]any{"recursive": true})
	want := "src/\nsrc/app.py\ntests/\ntests/test_app.py"
	if res.Output != want {
		t.Errorf("list = %q, want %q", res.Output, want)
	}

	res = r.Execute(ctx, "write_file", map[string]any{"path": "../escape.txt", "content": "x"})
	if res.Success || !strings.Contains(res.Error, "path traversal") {
		t.Errorf("escape = %+v", res)
	}
}

func TestGrepTool(t *testing.T) {
	ws := setupWorkspace(t, map[string]string{
		"a.go":                "package a\n\nfunc Hello() {}\n",
		"b.py":                "def hello():\n    pass\n",
		"node_modules/x/i.js": "function hello() {}\n",
		".git/config":         "hello = true\n",
	})
	r := Catalog(ws, Options{})
	res := r.Execute(context.Background(), "grep", map[string]any{"pattern": "(?i)hello"})
	if !res.Success {
		t.Fatalf("grep: %+v", res)
	}
	want := "a.go:3: func Hello() {}\nb.py:1: def hello():"
	if res.Output != want {
		t.Errorf("got %q, want %q", res.Output, want)
	}

	res = r.Execute(context.Background(), "grep", map[string]any{"pattern": "hello", "glob": "*.go"})
	if res.Output != "no matches" {
		t.Errorf("glob filter: %q", res.Output)
	}
	res = r.Execute(context.Background(), "grep", map[string]any{"pattern": "("})
	if res.Success {
		t.Error("invalid pattern should fail")
	}
}

func TestHostExecutor(t *testing.T) {
	ws := t.TempDir()
	ex := HostExecutor{}

	out, err := ex.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}, Dir: ws})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 3 || strings.TrimSpace(out.Stdout) != "out" || strings.TrimSpace(out.Stderr) != "err" {
		t.Errorf("got %+v", out)
	}

	if _, err := ex.Run(context.Background(), Command{Name: "definitely-not-a-command-xyz"}); err == nil {
		t.Error("expected start failure")
	}
}

func TestHostExecutorTimeout(t *testing.T) {
	start := time.Now()
	out, err := HostExecutor{}.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestHostExecutorIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := HostExecutor{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo still here"}})
	if err != nil || strings.TrimSpace(out.Stdout) != "still here" {
		t.Errorf("got %+v, %v", out, err)
	}
}

func TestShellToolResults(t *testing.T) {
	ws := t.TempDir()
	r := Catalog(ws, Options{})
	ctx := context.Background()

	res := r.Execute(ctx, "shell", map[string]any{"command": "echo hi"})
	if !res.Success || res.ExitCode == nil || *res.ExitCode != 0 || strings.TrimSpace(res.Output) != "hi" {
		t.Errorf("ok = %+v", res)
	}

	res = r.Execute(ctx, "shell", map[string]any{"command": "echo boom >&2; exit 2"})
	if res.Success || res.ExitCode == nil || *res.ExitCode != 2 || !strings.Contains(res.Output, "boom") {
		t.Errorf("failure = %+v", res)
	}

	r = Catalog(ws, Options{ShellTimeout: 50 * time.Millisecond})
	res = r.Execute(ctx, "shell", map[string]any{"command": "sleep 3"})
	if res.Success || res.ExitCode != nil || res.Error != "timed out after 50ms" {
		t.Errorf("timeout = %+v", res)
	}
}

func TestGitToolsUseExecutor(t *testing.T) {
	ws := t.TempDir()
	ex := &fakeExecutor{replies: map[string]CommandOutput{
		"git status --short --branch": {Stdout: "## main\n M a.go\n"},
		"git diff --cached -- a.go":   {Stdout: "diff --git a/a.go b/a.go\n"},
	}}
	r := Catalog(ws, Options{Executor: ex})
	ctx := context.Background()

	if res := r.Execute(ctx, "git_status", nil); !res.Success || !strings.Contains(res.Output, "M a.go") {
		t.Errorf("status = %+v", res)
	}
	if res := r.Execute(ctx, "git_diff", map[string]any{"path": "a.go", "staged": true}); !res.Success || !strings.HasPrefix(res.Output, "diff --git") {
		t.Errorf("diff = %+v", res)
	}
	if res := r.Execute(ctx, "git_diff", map[string]any{"path": "../x"}); res.Success {
		t.Error("diff outside workspace should fail")
	}
	for _, c := range ex.calls {
		if c.Dir != ws {
			t.Errorf("%s ran in %q", c, c.Dir)
		}
	}
}

func TestRunTestsSelectsFromChangedFiles(t *testing.T) {
	ws := setupWorkspace(t, map[string]string{
		"pyproject.toml":    "",
		"src/foo.py":        "",
		"tests/test_foo.py": "",
		"tests/test_bar.py": "",
	})
	ex := &fakeExecutor{replies: map[string]CommandOutput{
		"git diff --name-only HEAD":          {Stdout: "src/foo.py\n"},
		"python -m pytest tests/test_foo.py": {Stdout: "1 passed\n"},
		"python -m pytest":                   {Stdout: "2 passed\n"},
	}}
	r := Catalog(ws, Options{Executor: ex, SelectTests: true})

	res := r.Execute(context.Background(), "run_tests", nil)
	if !res.Success || !strings.Contains(res.Output, "$ python -m pytest tests/test_foo.py\n1 passed") {
		t.Errorf("selected run = %+v", res)
	}
	cmds := ex.commands()
	want := []string{"git diff --name-only HEAD", "git ls-files --others --exclude-standard", "python -m pytest tests/test_foo.py"}
	if strings.Join(cmds, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %v", cmds)
	}

	res = r.Execute(context.Background(), "run_tests", map[string]any{"all": true})
	if !strings.Contains(res.Output, "2 passed") {
		t.Errorf("full run = %+v", res)
	}
}

func TestRunTestsWithoutSelectionRunsSuite(t *testing.T) {
	ws := setupWorkspace(t, map[string]string{"go.mod": "module x\n", "x_test.go": ""})
	ex := &fakeExecutor{replies: map[string]CommandOutput{"go test ./...": {Stdout: "ok\n"}}}
	r := Catalog(ws, Options{Executor: ex})

	res := r.Execute(context.Background(), "run_tests", map[string]any{"changed_files": []any{"x.go"}})
	if !res.Success || len(ex.calls) != 1 || ex.calls[0].String() != "go test ./..." {
		t.Errorf("got %+v after %v", res, ex.commands())
	}
	if ex.calls[0].Timeout != DefaultTestTimeout {
		t.Errorf("timeout = %s", ex.calls[0].Timeout)
	}
}
