// Package testselect narrows a test run to the tests relevant to a set of
// changed files and builds the command that runs them.
package testselect

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Ecosystem is a language toolchain with its own test conventions.
type Ecosystem string

const (
	Python     Ecosystem = "python"
	Go         Ecosystem = "go"
	JavaScript Ecosystem = "javascript"
	Rust       Ecosystem = "rust"
	Java       Ecosystem = "java"
)

// Priority is the order in which ecosystems are preferred when a selection
// spans several of them.
var Priority = []Ecosystem{Python, Go, JavaScript, Rust, Java}

type conventions struct {
	extensions []string
	testDirs   []string
	globs      []string
	markers    []string // files at the repository root that identify the toolchain
}

var ecosystems = map[Ecosystem]conventions{
	Python: {
		extensions: []string{".py"},
		testDirs:   []string{"tests", "test"},
		globs:      []string{"test_*.py", "*_test.py"},
		markers:    []string{"pyproject.toml", "setup.py", "setup.cfg", "pytest.ini", "tox.ini"},
	},
	Go: {
		extensions: []string{".go"},
		globs:      []string{"*_test.go"},
		markers:    []string{"go.mod"},
	},
	JavaScript: {
		extensions: []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"},
		testDirs:   []string{"__tests__", "test", "tests", "spec"},
		globs:      []string{"*.test.*", "*.spec.*"},
		markers:    []string{"package.json"},
	},
	Rust: {
		extensions: []string{".rs"},
		testDirs:   []string{"tests"},
		globs:      []string{"*_test.rs"},
		markers:    []string{"Cargo.toml"},
	},
	Java: {
		extensions: []string{".java"},
		testDirs:   []string{"test"},
		globs:      []string{"*Test.java", "*Tests.java", "Test*.java", "*IT.java"},
		markers:    []string{"pom.xml"},
	},
}

// skipDirs are dependency and build output directories never walked.
var skipDirs = map[string]bool{
	"node_modules":  true,
	"vendor":        true,
	"target":        true,
	"build":         true,
	"dist":          true,
	"__pycache__":   true,
	"venv":          true,
	".venv":         true,
	"env":           true,
	"site-packages": true,
}

// supportFiles live in test directories but hold no tests.
var supportFiles = map[string]bool{
	"__init__.py": true,
	"conftest.py": true,
	"setup.js":    true,
	"mod.rs":      true,
}

// SkipDir reports whether a directory with this name is excluded from
// walks: hidden directories and known dependency or build directories.
func SkipDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	return skipDirs[name]
}

// EcosystemOf returns the ecosystem a path's extension belongs to.
func EcosystemOf(p string) (Ecosystem, bool) {
	ext := strings.ToLower(path.Ext(p))
	for _, eco := range Priority {
		for _, e := range ecosystems[eco].extensions {
			if e == ext {
				return eco, true
			}
		}
	}
	return "", false
}

// IsTestFile reports whether a slash-separated relative path is a test file:
// its extension belongs to an ecosystem and it either sits under one of that
// ecosystem's test directories or matches one of its filename globs.
func IsTestFile(p string) bool {
	eco, ok := EcosystemOf(p)
	if !ok {
		return false
	}
	conv := ecosystems[eco]
	base := path.Base(p)
	if supportFiles[base] {
		return false
	}
	for _, g := range conv.globs {
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}
	dir := path.Dir(p)
	if dir == "." {
		return false
	}
	for _, seg := range strings.Split(dir, "/") {
		for _, td := range conv.testDirs {
			if seg == td {
				return true
			}
		}
	}
	return false
}

// DetectEcosystem inspects root for toolchain marker files and returns the
// highest-priority ecosystem found.
func DetectEcosystem(root string) (Ecosystem, bool) {
	for _, eco := range Priority {
		for _, m := range ecosystems[eco].markers {
			if _, err := os.Stat(filepath.Join(root, m)); err == nil {
				return eco, true
			}
		}
	}
	return "", false
}
