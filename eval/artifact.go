package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteArtifact writes run as <dir>/<run_id>.json and returns the path.
func WriteArtifact(dir string, run *Run) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	path := filepath.Join(dir, run.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// ReadArtifact loads a run written by WriteArtifact.
func ReadArtifact(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if run.RunID == "" {
		return nil, fmt.Errorf("parse artifact %s: missing run_id", path)
	}
	return &run, nil
}
