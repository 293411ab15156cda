package testselect

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultProximityThreshold is the directory similarity above which a test
// is considered related to a changed file.
const DefaultProximityThreshold = 0.3

// Selection is the outcome of one selection pass. Selected is a subset of
// All unless RunAll is set.
type Selection struct {
	Root     string   `json:"root"`
	Changed  []string `json:"changed"`
	Selected []string `json:"selected"`
	All      []string `json:"all"`
	RunAll   bool     `json:"run_all"`
}

// DiscoverTests walks root and returns every test file as a sorted,
// deduplicated list of slash-separated paths relative to root.
func DiscoverTests(root string) ([]string, error) {
	var tests []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if IsTestFile(rel) {
			tests = append(tests, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover tests in %s: %w", root, err)
	}
	return sortedUnique(tests), nil
}

// MapFilesToTests returns the tests in all related to the changed files,
// using the default proximity threshold.
func MapFilesToTests(changed, all []string) []string {
	return MapFilesToTestsThreshold(changed, all, DefaultProximityThreshold)
}

// MapFilesToTestsThreshold maps changed files to tests. A changed file that
// is itself a known test is always selected. Other files select tests whose
// names match once common test affixes are stripped, and tests of the same
// ecosystem whose directories are similar above threshold.
func MapFilesToTestsThreshold(changed, all []string, threshold float64) []string {
	known := make(map[string]bool, len(all))
	for _, t := range all {
		known[t] = true
	}

	var out []string
	for _, c := range changed {
		c = normalize(c)
		if known[c] {
			out = append(out, c)
			continue
		}
		eco, ok := EcosystemOf(c)
		if !ok {
			continue
		}
		stem := coreName(c)
		for _, t := range all {
			if teco, _ := EcosystemOf(t); teco != eco {
				continue
			}
			if coreName(t) == stem || proximity(path.Dir(c), path.Dir(t)) > threshold {
				out = append(out, t)
			}
		}
	}
	return sortedUnique(out)
}

// SelectTests discovers tests under root and narrows them to those related
// to changed. It falls back to RunAll when nothing is changed, no tests
// exist, or nothing maps, so a selection never silently runs zero tests.
func SelectTests(root string, changed []string) (Selection, error) {
	all, err := DiscoverTests(root)
	if err != nil {
		return Selection{}, err
	}
	norm := make([]string, 0, len(changed))
	for _, c := range changed {
		if c = normalize(c); c != "" {
			norm = append(norm, c)
		}
	}
	sel := Selection{Root: root, Changed: norm, All: all}
	if len(norm) == 0 || len(all) == 0 {
		sel.RunAll = true
		return sel, nil
	}
	sel.Selected = MapFilesToTests(norm, all)
	if len(sel.Selected) == 0 {
		sel.RunAll = true
	}
	return sel, nil
}

// affixes are stripped, longest first, to find the name a test exercises.
var (
	testPrefixes = []string{"test_", "Test"}
	testSuffixes = []string{"_test", ".test", ".spec", "_spec", "Tests", "Test", "IT"}
)

// coreName is the file stem with test affixes removed.
func coreName(p string) string {
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	for _, s := range testSuffixes {
		if trimmed := strings.TrimSuffix(stem, s); trimmed != stem && trimmed != "" {
			stem = trimmed
			break
		}
	}
	for _, pfx := range testPrefixes {
		if trimmed := strings.TrimPrefix(stem, pfx); trimmed != stem && trimmed != "" {
			stem = trimmed
			break
		}
	}
	return stem
}

// proximity is the number of shared leading directory segments divided by
// the deeper directory's depth. Files at the root share nothing.
func proximity(a, b string) float64 {
	as, bs := segments(a), segments(b)
	depth := max(len(as), len(bs))
	if depth == 0 {
		return 0
	}
	shared := 0
	for shared < len(as) && shared < len(bs) && as[shared] == bs[shared] {
		shared++
	}
	return float64(shared) / float64(depth)
}

func segments(dir string) []string {
	if dir == "." || dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "./")
}

// sortedUnique sorts and removes duplicates in place.
func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
