package task

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTask is wrapped by every validation failure.
var ErrInvalidTask = errors.New("invalid task")

// record is the on-disk shape of a task. It accepts both this package's
// field names and the SWE-bench column names so dataset exports load as-is.
type record struct {
	ID               string            `json:"id" yaml:"id"`
	InstanceID       string            `json:"instance_id" yaml:"instance_id"`
	Repository       string            `json:"repository" yaml:"repository"`
	Repo             string            `json:"repo" yaml:"repo"`
	BaseRevision     string            `json:"base_revision" yaml:"base_revision"`
	BaseCommit       string            `json:"base_commit" yaml:"base_commit"`
	ProblemStatement string            `json:"problem_statement" yaml:"problem_statement"`
	Hints            string            `json:"hints" yaml:"hints"`
	HintsText        string            `json:"hints_text" yaml:"hints_text"`
	TestPatch        string            `json:"test_patch" yaml:"test_patch"`
	FilesToModify    []string          `json:"files_to_modify" yaml:"files_to_modify"`
	SolutionPatch    string            `json:"solution_patch" yaml:"solution_patch"`
	Patch            string            `json:"patch" yaml:"patch"`
	Complexity       string            `json:"complexity" yaml:"complexity"`
	Difficulty       string            `json:"difficulty" yaml:"difficulty"`
	FailToPass       stringList        `json:"FAIL_TO_PASS" yaml:"fail_to_pass"`
	PassToPass       stringList        `json:"PASS_TO_PASS" yaml:"pass_to_pass"`
	Version          string            `json:"version" yaml:"version"`
	Metadata         map[string]string `json:"metadata" yaml:"metadata"`
}

func (r record) toTask() Task {
	t := Task{
		ID:               firstNonEmpty(r.ID, r.InstanceID),
		Repository:       firstNonEmpty(r.Repository, r.Repo),
		BaseRevision:     firstNonEmpty(r.BaseRevision, r.BaseCommit),
		ProblemStatement: r.ProblemStatement,
		Hints:            firstNonEmpty(r.Hints, r.HintsText),
		TestPatch:        r.TestPatch,
		FilesToModify:    r.FilesToModify,
		SolutionPatch:    firstNonEmpty(r.SolutionPatch, r.Patch),
		Complexity:       ParseComplexity(firstNonEmpty(r.Complexity, r.Difficulty)),
		FailToPass:       r.FailToPass,
		PassToPass:       r.PassToPass,
		Metadata:         r.Metadata,
	}
	if r.Version != "" {
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata["version"] = r.Version
	}
	t.normalize()
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// stringList decodes either a list of strings or a string holding a JSON
// list, which is how SWE-bench publishes its test columns.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected list or JSON-encoded list: %w", err)
	}
	return s.fromString(raw)
}

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.fromString(raw)
}

func (s *stringList) fromString(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return fmt.Errorf("decode embedded list: %w", err)
	}
	*s = list
	return nil
}

// LoadFile reads tasks from a .yaml/.yml, .json or .jsonl file. YAML and
// JSON files hold either a list of tasks or an object with a "tasks" list.
func LoadFile(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks %s: %w", path, err)
	}

	var records []record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		records, err = decodeYAML(data)
	case ".json":
		records, err = decodeJSON(data)
	case ".jsonl", ".ndjson":
		records, err = decodeJSONL(data)
	default:
		return nil, fmt.Errorf("read tasks %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse tasks %s: %w", path, err)
	}

	tasks := make([]Task, 0, len(records))
	for _, r := range records {
		tasks = append(tasks, r.toTask())
	}
	if err := Validate(tasks); err != nil {
		return nil, fmt.Errorf("load tasks %s: %w", path, err)
	}
	return tasks, nil
}

func decodeYAML(data []byte) ([]record, error) {
	var list []record
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Tasks []record `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Tasks, nil
}

func decodeJSON(data []byte) ([]record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []record
		err := json.Unmarshal(data, &list)
		return list, err
	}
	var wrapped struct {
		Tasks []record `json:"tasks"`
	}
	err := json.Unmarshal(data, &wrapped)
	return wrapped.Tasks, err
}

func decodeJSONL(data []byte) ([]record, error) {
	var list []record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		list = append(list, r)
	}
	return list, scanner.Err()
}

// Validate checks that every task has an id and a problem statement and that
// ids are unique.
func Validate(tasks []Task) error {
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidTask, i)
		}
		if strings.TrimSpace(t.ProblemStatement) == "" {
			return fmt.Errorf("%w: task %s has no problem statement", ErrInvalidTask, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidTask, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Limit returns at most n tasks; n <= 0 means all.
func Limit(tasks []Task, n int) []Task {
	if n <= 0 || n >= len(tasks) {
		return tasks
	}
	return tasks[:n]
}
