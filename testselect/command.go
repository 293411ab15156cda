package testselect

import (
	"errors"
	"path"
	"strings"
)

// ErrNoEcosystem is returned when neither the selection nor the repository
// identifies a supported toolchain.
var ErrNoEcosystem = errors.New("no supported test ecosystem")

// Command is a ready-to-exec test invocation.
type Command struct {
	Ecosystem Ecosystem `json:"ecosystem"`
	Argv      []string  `json:"argv"`
}

// String renders the command line for logs.
func (c Command) String() string { return strings.Join(c.Argv, " ") }

// BuildCommand turns a selection into a test command for the highest
// priority ecosystem present among the selected tests. RunAll selections,
// and selections whose tests belong to no ecosystem, fall back to the
// whole-suite command of the repository's detected ecosystem.
func BuildCommand(sel Selection) (Command, error) {
	if !sel.RunAll {
		byEco := make(map[Ecosystem][]string)
		for _, t := range sel.Selected {
			if eco, ok := EcosystemOf(t); ok {
				byEco[eco] = append(byEco[eco], t)
			}
		}
		for _, eco := range Priority {
			if tests := byEco[eco]; len(tests) > 0 {
				return Command{Ecosystem: eco, Argv: targeted(eco, tests)}, nil
			}
		}
	}

	eco, ok := DetectEcosystem(sel.Root)
	if !ok {
		for _, t := range sel.All {
			if e, found := EcosystemOf(t); found && (!ok || rank(e) < rank(eco)) {
				eco, ok = e, true
			}
		}
	}
	if !ok {
		return Command{}, ErrNoEcosystem
	}
	return Command{Ecosystem: eco, Argv: wholeSuite(eco)}, nil
}

func targeted(eco Ecosystem, tests []string) []string {
	switch eco {
	case Python:
		return append([]string{"python", "-m", "pytest"}, tests...)
	case Go:
		return append([]string{"go", "test"}, goPackages(tests)...)
	case JavaScript:
		return append([]string{"npx", "jest"}, tests...)
	case Rust:
		argv := []string{"cargo", "test"}
		for _, t := range tests {
			argv = append(argv, "--test", stem(t))
		}
		return argv
	case Java:
		classes := make([]string, 0, len(tests))
		for _, t := range tests {
			classes = append(classes, stem(t))
		}
		return []string{"mvn", "test", "-Dtest=" + strings.Join(classes, ",")}
	}
	return nil
}

func wholeSuite(eco Ecosystem) []string {
	switch eco {
	case Python:
		return []string{"python", "-m", "pytest"}
	case Go:
		return []string{"go", "test", "./..."}
	case JavaScript:
		return []string{"npx", "jest"}
	case Rust:
		return []string{"cargo", "test"}
	case Java:
		return []string{"mvn", "test"}
	}
	return nil
}

// goPackages maps test files to the relative package paths go test expects.
func goPackages(tests []string) []string {
	pkgs := make([]string, 0, len(tests))
	for _, t := range tests {
		dir := path.Dir(t)
		if dir == "." {
			pkgs = append(pkgs, ".")
			continue
		}
		pkgs = append(pkgs, "./"+dir)
	}
	return sortedUnique(pkgs)
}

func stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

func rank(eco Ecosystem) int {
	for i, e := range Priority {
		if e == eco {
			return i
		}
	}
	return len(Priority)
}
