// Package task defines the coding task model and the loaders that read
// tasks from local dataset files and public dataset APIs.
package task

import (
	"regexp"
	"sort"
	"strings"
)

// Complexity is the dataset's own estimate of how hard a task is. It is
// informational; routing uses the classifier, not this field.
type Complexity string

const (
	ComplexityUnknown Complexity = ""
	ComplexityEasy    Complexity = "easy"
	ComplexityMedium  Complexity = "medium"
	ComplexityHard    Complexity = "hard"
)

// Task is one coding problem. It is immutable once loaded.
type Task struct {
	ID               string            `json:"id" yaml:"id"`
	Repository       string            `json:"repository" yaml:"repository"`
	BaseRevision     string            `json:"base_revision" yaml:"base_revision"`
	ProblemStatement string            `json:"problem_statement" yaml:"problem_statement"`
	Hints            string            `json:"hints,omitempty" yaml:"hints,omitempty"`
	TestPatch        string            `json:"test_patch,omitempty" yaml:"test_patch,omitempty"`
	FilesToModify    []string          `json:"files_to_modify,omitempty" yaml:"files_to_modify,omitempty"`
	SolutionPatch    string            `json:"solution_patch,omitempty" yaml:"solution_patch,omitempty"`
	Complexity       Complexity        `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	FailToPass       []string          `json:"fail_to_pass,omitempty" yaml:"fail_to_pass,omitempty"`
	PassToPass       []string          `json:"pass_to_pass,omitempty" yaml:"pass_to_pass,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

var diffHeader = regexp.MustCompile(`(?m)^diff --git a/(\S+) b/(\S+)$`)

// PatchFiles returns the sorted, deduplicated paths a unified diff touches.
func PatchFiles(patch string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, m := range diffHeader.FindAllStringSubmatch(patch, -1) {
		path := m[2]
		if path == "/dev/null" {
			path = m[1]
		}
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files
}

// ParseComplexity maps the labels used by public datasets (including
// time-to-fix buckets) onto Complexity.
func ParseComplexity(s string) Complexity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "<15 min fix":
		return ComplexityEasy
	case "medium", "15 min - 1 hour":
		return ComplexityMedium
	case "hard", "1-4 hours", ">4 hours":
		return ComplexityHard
	}
	return ComplexityUnknown
}

// normalize fills derived fields after decoding.
func (t *Task) normalize() {
	t.ID = strings.TrimSpace(t.ID)
	if len(t.FilesToModify) == 0 && t.SolutionPatch != "" {
		t.FilesToModify = PatchFiles(t.SolutionPatch)
	}
}
