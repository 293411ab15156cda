// Package router classifies tasks by difficulty and routes each one to a
// cost-appropriate model tier.
package router

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/GoCodeAlone/gauntlet/task"
)

// Difficulty is a coarse estimate of how much model capability a task needs.
type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "easy"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	}
	return "unknown"
}

// MarshalText encodes the difficulty by name.
func (d Difficulty) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Classifier thresholds. Statement lengths are in characters.
const (
	shortStatement  = 200
	mediumStatement = 500
	longStatement   = 1000
	hardFileCount   = 5
	mediumFileCount = 2
)

var simpleKeywords = []string{
	"typo", "spelling", "rename", "docstring", "comment", "readme",
	"bump", "version string", "formatting", "whitespace", "lint",
}

var architectureKeywords = []string{
	"refactor", "architecture", "redesign", "restructure", "rewrite",
	"migrate", "migration", "overhaul", "concurrency", "thread safety",
	"race condition", "deadlock", "performance", "api design",
}

// fileMention matches source file paths such as src/foo.py or Main.java.
var fileMention = regexp.MustCompile(`[A-Za-z0-9_./-]+\.(?:py|go|rs|js|jsx|ts|tsx|java|kt|scala|c|cc|cpp|h|hpp|rb|php|cs|swift)\b`)

// Classify estimates a task's difficulty from its problem statement. Rules
// are checked in order and the first match wins; anything unmatched is Easy.
func Classify(t task.Task) Difficulty {
	return ClassifyText(t.ProblemStatement)
}

// ClassifyText applies the classification rules to a problem statement.
func ClassifyText(statement string) Difficulty {
	lower := strings.ToLower(statement)
	files := countFileMentions(statement)
	length := utf8.RuneCountInString(statement)

	switch {
	case containsAny(lower, simpleKeywords) && files <= 1 && length < shortStatement:
		return Easy
	case containsAny(lower, architectureKeywords) || files > hardFileCount || length > longStatement:
		return Hard
	case files > mediumFileCount || length > mediumStatement:
		return Medium
	default:
		return Easy
	}
}

func countFileMentions(s string) int {
	seen := make(map[string]bool)
	for _, m := range fileMention.FindAllString(s, -1) {
		seen[m] = true
	}
	return len(seen)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
