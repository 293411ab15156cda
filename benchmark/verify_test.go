package benchmark

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/gauntlet/task"
)

func TestVerifyCommand(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		extra  string
		tests  []string
		want   string
	}{
		{
			name:  "pytest ids",
			tests: []string{"tests/test_a.py::test_x", "tests/test_a.py::test_y"},
			want:  "python -m pytest -rA -p no:cacheprovider tests/test_a.py::test_x tests/test_a.py::test_y",
		},
		{
			name:  "unittest labels",
			tests: []string{"test_slice (utils.tests.SliceTests)"},
			want:  "python -m unittest utils.tests.SliceTests.test_slice",
		},
		{
			name:  "django runner",
			extra: "tests/runtests.py",
			tests: []string{"test_slice (utils.tests.SliceTests)", "test_step (utils.tests.SliceTests)"},
			want:  "python tests/runtests.py --verbosity 2 utils.tests.SliceTests.test_slice utils.tests.SliceTests.test_step",
		},
		{
			name:  "mixed ids fall back to pytest",
			tests: []string{"test_slice (utils.tests.SliceTests)", "tests/test_a.py::test_x"},
			want:  "python -m pytest -rA -p no:cacheprovider test_slice (utils.tests.SliceTests) tests/test_a.py::test_x",
		},
		{
			name:   "go module",
			marker: "go.mod",
			tests:  []string{"TestParse", "TestEmit"},
			want:   "go test ./... -run ^(TestParse|TestEmit)$",
		},
		{
			name:  "go guessed from ids",
			tests: []string{"TestParse"},
			want:  "go test ./... -run ^(TestParse)$",
		},
		{
			name:   "jest",
			marker: "package.json",
			tests:  []string{"renders header", "renders footer"},
			want:   "npx jest -t renders header|renders footer",
		},
		{
			name:   "cargo",
			marker: "Cargo.toml",
			tests:  []string{"parser::tests::empty"},
			want:   "cargo test -- parser::tests::empty",
		},
		{
			name:   "maven",
			marker: "pom.xml",
			tests:  []string{"ParserTest", "EmitterTest"},
			want:   "mvn test -Dtest=ParserTest,EmitterTest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := t.TempDir()
			for _, f := range []string{tt.marker, tt.extra} {
				if f == "" {
					continue
				}
				p := filepath.Join(ws, f)
				if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(p, nil, 0o644); err != nil {
					t.Fatal(err)
				}
			}
			got := strings.Join(verifyCommand(ws, tt.tests), " ")
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}

	if got := verifyCommand(t.TempDir(), nil); got != nil {
		t.Errorf("no tests: got %v", got)
	}
}

func TestWorkspaceName(t *testing.T) {
	tests := map[string]string{
		"django__django-11099": "django__django-11099",
		"acme/widgets#42":      "acme_widgets_42",
		"../../etc":            "etc",
		"":                     "task",
		"...":                  "task",
	}
	for in, want := range tests {
		if got := workspaceName(in); got != want {
			t.Errorf("workspaceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRepoSource(t *testing.T) {
	local := t.TempDir()
	tests := []struct {
		task task.Task
		want string
	}{
		{task.Task{ID: "a", Repository: "psf/requests"}, "https://github.com/psf/requests.git"},
		{task.Task{ID: "b", Repository: "psf/requests.git"}, "https://github.com/psf/requests.git"},
		{task.Task{ID: "c", Repository: "https://git.example.com/x.git"}, "https://git.example.com/x.git"},
		{task.Task{ID: "d", Repository: "git@github.com:psf/requests.git"}, "git@github.com:psf/requests.git"},
		{task.Task{ID: "e", Repository: local}, local},
		{task.Task{ID: "f", Repository: "psf/requests", Metadata: map[string]string{"repo_path": "/mirror/requests"}}, "/mirror/requests"},
	}
	for _, tt := range tests {
		got, err := repoSource(tt.task)
		if err != nil || got != tt.want {
			t.Errorf("repoSource(%s) = %q, %v; want %q", tt.task.ID, got, err, tt.want)
		}
	}
	if _, err := repoSource(task.Task{ID: "g"}); err == nil {
		t.Error("expected error for missing repository")
	}
}
