package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/testselect"
)

const (
	maxReadBytes   = 256 << 10
	maxListEntries = 1000
	maxGrepMatches = 200
	maxGrepFile    = 1 << 20
)

// validatePath resolves relPath inside workspace and rejects traversal.
func validatePath(workspace, relPath string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	abs := filepath.Join(workspace, filepath.Clean(relPath))
	absResolved, err := filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	wsResolved, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("invalid workspace: %w", err)
	}
	if !strings.HasPrefix(absResolved, wsResolved+string(filepath.Separator)) && absResolved != wsResolved {
		return "", fmt.Errorf("path traversal not allowed: %s", relPath)
	}
	return absResolved, nil
}

// relSlash returns abs relative to workspace with forward slashes.
func relSlash(workspace, abs string) string {
	rel, err := filepath.Rel(workspace, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ReadFileTool reads a workspace file, optionally a line range of it.
type ReadFileTool struct {
	Workspace string
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from the repository, optionally limited to a line range"
}
func (t *ReadFileTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "Path relative to the repository root"},
				"start_line": map[string]any{"type": "integer", "description": "First line to return, 1-based"},
				"end_line":   map[string]any{"type": "integer", "description": "Last line to return, inclusive"},
			},
			"required": []string{"path"},
		},
	}
}
func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	absPath, err := validatePath(t.Workspace, stringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	start, end := intArg(args, "start_line", 0), intArg(args, "end_line", 0)
	if start <= 0 && end <= 0 {
		if len(data) > maxReadBytes {
			return string(data[:maxReadBytes]) + "\n... (file truncated, use start_line/end_line)", nil
		}
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil, fmt.Errorf("start_line %d is past end of file (%d lines)", start, len(lines))
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i, lines[i-1])
	}
	return b.String(), nil
}

// WriteFileTool creates or replaces a workspace file.
type WriteFileTool struct {
	Workspace string
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Create or overwrite a file in the repository"
}
func (t *WriteFileTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path relative to the repository root"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			},
			"required": []string{"path", "content"},
		},
	}
}
func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	absPath, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "bytes_written": len(content)}, nil
}

// EditFileTool replaces an exact snippet in a workspace file.
type EditFileTool struct {
	Workspace string
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact snippet of text in a file. old_string must match exactly once unless replace_all is set"
}
func (t *EditFileTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":        map[string]any{"type": "string", "description": "Path relative to the repository root"},
				"old_string":  map[string]any{"type": "string", "description": "Exact text to replace"},
				"new_string":  map[string]any{"type": "string", "description": "Replacement text"},
				"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence"},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
	}
}
func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	oldStr, newStr := stringArg(args, "old_string"), stringArg(args, "new_string")
	if oldStr == "" {
		return nil, fmt.Errorf("old_string must not be empty")
	}
	absPath, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	content := string(data)

	n := strings.Count(content, oldStr)
	switch {
	case n == 0:
		return nil, fmt.Errorf("old_string not found in %s", path)
	case n > 1 && !boolArg(args, "replace_all"):
		return nil, fmt.Errorf("old_string matches %d times in %s; add context or set replace_all", n, path)
	}
	content = strings.ReplaceAll(content, oldStr, newStr)
	if err := os.WriteFile(absPath, []byte(content), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "replacements": n}, nil
}

// ListFilesTool lists a workspace directory.
type ListFilesTool struct {
	Workspace string
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files in a repository directory" }
func (t *ListFilesTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string", "description": "Directory relative to the repository root (default: root)"},
				"recursive": map[string]any{"type": "boolean", "description": "Descend into subdirectories"},
			},
		},
	}
}
func (t *ListFilesTool) Execute(_ context.Context, args map[string]any) (any, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	absPath, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	wsAbs, _ := filepath.Abs(t.Workspace)

	var entries []string
	truncated := false
	if !boolArg(args, "recursive") {
		des, err := os.ReadDir(absPath)
		if err != nil {
			return nil, fmt.Errorf("list directory: %w", err)
		}
		for _, d := range des {
			name := relSlash(wsAbs, filepath.Join(absPath, d.Name()))
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	} else {
		err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == absPath {
				return nil
			}
			if d.IsDir() && testselect.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if len(entries) >= maxListEntries {
				truncated = true
				return filepath.SkipAll
			}
			name := relSlash(wsAbs, p)
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list directory: %w", err)
		}
	}
	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (listing truncated at %d entries)", maxListEntries)
	}
	return out, nil
}

// GrepTool searches workspace files for a regular expression.
type GrepTool struct {
	Workspace string
}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) Description() string {
	return "Search repository files for a regular expression and return matching lines"
}
func (t *GrepTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "RE2 regular expression"},
				"path":    map[string]any{"type": "string", "description": "Directory or file to search (default: root)"},
				"glob":    map[string]any{"type": "string", "description": "Only search files whose name matches this glob, e.g. *.py"},
			},
			"required": []string{"pattern"},
		},
	}
}
func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	re, err := regexp.Compile(stringArg(args, "pattern"))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	absPath, err := validatePath(t.Workspace, path)
	if err != nil {
		return nil, err
	}
	glob := stringArg(args, "glob")
	wsAbs, _ := filepath.Abs(t.Workspace)

	var matches []string
	err = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != absPath && testselect.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFile {
			return nil
		}
		found, err := grepFile(p, re, relSlash(wsAbs, p), maxGrepMatches-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= maxGrepMatches {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= maxGrepMatches {
		out += fmt.Sprintf("\n... (stopped after %d matches)", maxGrepMatches)
	}
	return out, nil
}

func grepFile(path string, re *regexp.Regexp, display string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxGrepFile)
	line := 0
	for sc.Scan() && len(out) < limit {
		line++
		text := sc.Text()
		if strings.IndexByte(text, 0) >= 0 {
			return nil, nil // binary
		}
		if re.MatchString(text) {
			out = append(out, fmt.Sprintf("%s:%d: %s", display, line, text))
		}
	}
	return out, sc.Err()
}
