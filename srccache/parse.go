package srccache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Symbol is a top-level declaration found in a file.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // func, method, type, class, const, var, ...
	Line int    `json:"line"`
}

// FileContext is what the agent prompt needs to know about a source file.
type FileContext struct {
	Path     string   `json:"path"`
	Language string   `json:"language"`
	Lines    int      `json:"lines"`
	Imports  []string `json:"imports,omitempty"`
	Symbols  []Symbol `json:"symbols,omitempty"`
	Digest   string   `json:"digest"` // BLAKE2b-256 of the content, hex
}

// Outline renders a compact summary suitable for a prompt.
func (fc *FileContext) Outline() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %d lines)\n", fc.Path, fc.Language, fc.Lines)
	if len(fc.Imports) > 0 {
		fmt.Fprintf(&b, "  imports: %s\n", strings.Join(fc.Imports, ", "))
	}
	for _, s := range fc.Symbols {
		fmt.Fprintf(&b, "  %d: %s %s\n", s.Line, s.Kind, s.Name)
	}
	return b.String()
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".java": "java",
}

// LanguageOf maps a file extension to a language name, or "text".
func LanguageOf(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

// Parse extracts imports and top-level symbols from src. Go is parsed with
// go/parser; other languages use line patterns. Unparseable Go falls back to
// the line count and digest only.
func Parse(path string, src []byte) *FileContext {
	sum := blake2b.Sum256(src)
	fc := &FileContext{
		Path:     path,
		Language: LanguageOf(path),
		Lines:    countLines(src),
		Digest:   hex.EncodeToString(sum[:]),
	}
	switch fc.Language {
	case "go":
		parseGo(fc, src)
	case "text":
	default:
		parseLines(fc, src, linePatterns[fc.Language])
	}
	return fc
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := bytes.Count(src, []byte{'\n'})
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}

func parseGo(fc *FileContext, src []byte) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, fc.Path, src, parser.SkipObjectResolution)
	if err != nil && f == nil {
		return
	}
	for _, imp := range f.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			fc.Imports = append(fc.Imports, p)
		}
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind, name := "func", d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				kind = "method"
				if recv := receiverName(d.Recv.List[0].Type); recv != "" {
					name = recv + "." + name
				}
			}
			fc.Symbols = append(fc.Symbols, Symbol{Name: name, Kind: kind, Line: fset.Position(d.Pos()).Line})
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					fc.Symbols = append(fc.Symbols, Symbol{Name: s.Name.Name, Kind: "type", Line: fset.Position(s.Pos()).Line})
				case *ast.ValueSpec:
					kind := "var"
					if d.Tok == token.CONST {
						kind = "const"
					}
					for _, n := range s.Names {
						if n.Name == "_" {
							continue
						}
						fc.Symbols = append(fc.Symbols, Symbol{Name: n.Name, Kind: kind, Line: fset.Position(n.Pos()).Line})
					}
				}
			}
		}
	}
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

type symbolPattern struct {
	re   *regexp.Regexp
	kind string
}

type patterns struct {
	imports []*regexp.Regexp
	symbols []symbolPattern
}

// linePatterns match declarations at the start of a line. Only unindented
// declarations count as top level, except Java where members sit one level
// inside the class.
var linePatterns = map[string]patterns{
	"python": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^from\s+([\w.]+)\s+import\b`),
			regexp.MustCompile(`^import\s+([\w.]+)`),
		},
		symbols: []symbolPattern{
			{regexp.MustCompile(`^class\s+(\w+)`), "class"},
			{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`), "func"},
			{regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*=`), "const"},
		},
	},
	"javascript": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s.*?from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`^import\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		},
		symbols: []symbolPattern{
			{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+(\w+)`), "func"},
			{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`), "class"},
			{regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`), "func"},
		},
	},
	"typescript": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s.*?from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`^import\s+['"]([^'"]+)['"]`),
		},
		symbols: []symbolPattern{
			{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+(\w+)`), "func"},
			{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`), "class"},
			{regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`), "interface"},
			{regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)\s*=`), "type"},
			{regexp.MustCompile(`^(?:export\s+)?enum\s+(\w+)`), "enum"},
			{regexp.MustCompile(`^(?:export\s+)?(?:const|let)\s+(\w+)\s*(?::[^=]+)?=\s*(?:async\s+)?\([^)]*\)\s*(?::[^=]+)?=>`), "func"},
		},
	},
	"rust": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^use\s+([\w:]+)`),
		},
		symbols: []symbolPattern{
			{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+(\w+)`), "func"},
			{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?struct\s+(\w+)`), "struct"},
			{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?enum\s+(\w+)`), "enum"},
			{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?trait\s+(\w+)`), "trait"},
			{regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(?:[\w:<>]+\s+for\s+)?(\w+)`), "impl"},
		},
	},
	"java": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s+(?:static\s+)?([\w.*]+);`),
		},
		symbols: []symbolPattern{
			{regexp.MustCompile(`^(?:(?:public|protected|private|abstract|final|static)\s+)*(?:class|record)\s+(\w+)`), "class"},
			{regexp.MustCompile(`^(?:(?:public|protected|private|abstract|static)\s+)*interface\s+(\w+)`), "interface"},
			{regexp.MustCompile(`^(?:(?:public|protected|private|static)\s+)*enum\s+(\w+)`), "enum"},
			{regexp.MustCompile(`^\s{2,8}(?:(?:public|protected|private|static|final|abstract|synchronized)\s+)+[\w<>\[\], ]+\s+(\w+)\s*\(`), "method"},
		},
	},
}

func parseLines(fc *FileContext, src []byte, pats patterns) {
	seen := make(map[string]bool)
	for i, line := range strings.Split(string(src), "\n") {
		line = strings.TrimRight(line, "\r")
		for _, re := range pats.imports {
			if m := re.FindStringSubmatch(line); m != nil && !seen[m[1]] {
				seen[m[1]] = true
				fc.Imports = append(fc.Imports, m[1])
				break
			}
		}
		for _, sp := range pats.symbols {
			if m := sp.re.FindStringSubmatch(line); m != nil {
				fc.Symbols = append(fc.Symbols, Symbol{Name: m[1], Kind: sp.kind, Line: i + 1})
				break
			}
		}
	}
}
