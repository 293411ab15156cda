package benchmark

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/gauntlet/testselect"
)

// unittestID matches the "test_name (package.module.Class)" form some
// datasets use for Python tests.
var unittestID = regexp.MustCompile(`^(\w+) \(([\w.]+)\)$`)

// verifyCommand builds the command that runs the named tests of a task in
// ws. With no tests it returns nil.
func verifyCommand(ws string, tests []string) []string {
	if len(tests) == 0 {
		return nil
	}
	eco, ok := testselect.DetectEcosystem(ws)
	if !ok {
		eco = guessEcosystem(tests)
	}
	switch eco {
	case testselect.Go:
		return []string{"go", "test", "./...", "-run", "^(" + strings.Join(tests, "|") + ")$"}
	case testselect.JavaScript:
		return []string{"npx", "jest", "-t", strings.Join(tests, "|")}
	case testselect.Rust:
		return append([]string{"cargo", "test", "--"}, tests...)
	case testselect.Java:
		return []string{"mvn", "test", "-Dtest=" + strings.Join(tests, ",")}
	}
	return pythonCommand(ws, tests)
}

func pythonCommand(ws string, tests []string) []string {
	var labels []string
	for _, t := range tests {
		m := unittestID.FindStringSubmatch(t)
		if m == nil {
			labels = nil
			break
		}
		labels = append(labels, m[2]+"."+m[1])
	}
	if labels != nil {
		if _, err := os.Stat(filepath.Join(ws, "tests", "runtests.py")); err == nil {
			return append([]string{"python", "tests/runtests.py", "--verbosity", "2"}, labels...)
		}
		return append([]string{"python", "-m", "unittest"}, labels...)
	}
	return append([]string{"python", "-m", "pytest", "-rA", "-p", "no:cacheprovider"}, tests...)
}

// guessEcosystem looks at test ids when the repository has no marker file.
func guessEcosystem(tests []string) testselect.Ecosystem {
	for _, t := range tests {
		switch {
		case strings.Contains(t, ".py"), unittestID.MatchString(t):
			return testselect.Python
		case strings.HasPrefix(t, "Test") && !strings.ContainsAny(t, " ./"):
			return testselect.Go
		}
	}
	return testselect.Python
}
