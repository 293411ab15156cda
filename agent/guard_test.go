package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/provider/mock"
	"github.com/GoCodeAlone/gauntlet/tools"
)

func TestLoopGuard(t *testing.T) {
	read := map[string]any{"path": "a.py"}
	other := map[string]any{"path": "b.py"}
	tests := []struct {
		name    string
		calls   func(g *loopGuard)
		verdict loopVerdict
		reason  string
	}{
		{
			name: "distinct calls",
			calls: func(g *loopGuard) {
				g.record("read_file", read, "x", false)
				g.record("read_file", other, "y", false)
				g.record("list_files", nil, "z", false)
			},
			verdict: loopOK,
		},
		{
			name: "second identical call warns",
			calls: func(g *loopGuard) {
				g.record("read_file", read, "v1", false)
				g.record("read_file", read, "v2", false)
			},
			verdict: loopWarn,
			reason:  "2 times in a row",
		},
		{
			name: "third identical call breaks",
			calls: func(g *loopGuard) {
				g.record("run_tests", nil, "1 failed", false)
				g.record("run_tests", nil, "2 failed", false)
				g.record("run_tests", nil, "3 failed", false)
			},
			verdict: loopBreak,
			reason:  "3 times in a row",
		},
		{
			name: "same output again and again",
			calls: func(g *loopGuard) {
				g.record("read_file", read, "same", false)
				g.record("list_files", nil, "files", false)
				g.record("read_file", read, "same", false)
				g.record("grep", other, "hits", false)
				g.record("read_file", read, "same", false)
			},
			verdict: loopBreak,
			reason:  "identical output 3 times",
		},
		{
			name: "same error twice",
			calls: func(g *loopGuard) {
				g.record("edit_file", read, "old_string not found", true)
				g.record("list_files", nil, "files", false)
				g.record("edit_file", read, "old_string not found", true)
			},
			verdict: loopBreak,
			reason:  "failed the same way 2 times",
		},
		{
			name: "alternating pair",
			calls: func(g *loopGuard) {
				for i := 0; i < 3; i++ {
					g.record("read_file", read, string(rune('a'+i)), false)
					g.record("read_file", other, string(rune('x'+i)), false)
				}
			},
			verdict: loopBreak,
			reason:  "alternated 3 times",
		},
		{
			name: "two alternations are fine",
			calls: func(g *loopGuard) {
				for i := 0; i < 2; i++ {
					g.record("read_file", read, string(rune('a'+i)), false)
					g.record("read_file", other, string(rune('x'+i)), false)
				}
			},
			verdict: loopOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newLoopGuard(DefaultLoopThreshold)
			tt.calls(g)
			verdict, reason := g.check()
			if verdict != tt.verdict || !strings.Contains(reason, tt.reason) {
				t.Errorf("check() = %d %q, want %d %q", verdict, reason, tt.verdict, tt.reason)
			}
		})
	}
}

func TestRunStopsRepetitiveLoop(t *testing.T) {
	ws := workspace(t)
	p := mock.NewScripted([]mock.Step{
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": "pager.py"})),
	})
	out := New(p, tools.Catalog(ws, tools.Options{}), Config{}).Run(context.Background(), sampleTask())

	if out.State != StateDone || !out.Truncated || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Metrics.Steps != 3 || !strings.Contains(out.Loop, "identical output 3 times") {
		t.Errorf("steps = %d loop = %q", out.Metrics.Steps, out.Loop)
	}
	if note := out.Messages[5].Content; !strings.Contains(note, "[note: tool \"read_file\" called with the same arguments 2 times in a row") {
		t.Errorf("second result lacks the warning: %q", note)
	}
}

func TestRunRedactsToolOutput(t *testing.T) {
	ws := workspace(t)
	const key = "sk-ant-api03-0123456789"
	if err := os.WriteFile(filepath.Join(ws, ".env"), []byte("ANTHROPIC_API_KEY="+key+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := mock.NewScripted([]mock.Step{
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": ".env"})),
		mock.Text("done"),
	})
	cfg := Config{Redactor: NewRedactor(map[string]string{"ANTHROPIC_API_KEY": key})}
	out := New(p, tools.Catalog(ws, tools.Options{}), cfg).Run(context.Background(), sampleTask())

	got := out.Messages[3].Content
	if strings.Contains(got, key) || !strings.Contains(got, "ANTHROPIC_API_KEY=[REDACTED:ANTHROPIC_API_KEY]") {
		t.Errorf("tool output = %q", got)
	}
	for _, m := range p.LastMessages() {
		if strings.Contains(m.Content, key) {
			t.Fatalf("key reached the model: %q", m.Content)
		}
	}
}

func TestRedactor(t *testing.T) {
	r := NewRedactor(map[string]string{
		"SHORT": "abc",
		"OUTER": "token-0123456789-suffix",
		"INNER": "token-0123456789",
		"EMPTY": "",
	})
	got := r.Redact("a token-0123456789-suffix b token-0123456789 c abc")
	want := "a [REDACTED:OUTER] b [REDACTED:INNER] c abc"
	if got != want {
		t.Errorf("Redact = %q, want %q", got, want)
	}
	var none *Redactor
	if none.Redact("x") != "x" || NewRedactor(nil).Redact("y") != "y" {
		t.Error("empty redactor changed its input")
	}
}

func TestCompactElidesOldToolOutput(t *testing.T) {
	big := strings.Repeat("x", 4000)
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "task"},
	}
	for i := 0; i < 5; i++ {
		msgs = append(msgs,
			provider.Message{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c", Name: "read_file"}}},
			provider.Message{Role: provider.RoleTool, ToolCallID: "c", Content: big},
		)
	}

	if n := compact(msgs, 1_000_000); n != 0 {
		t.Fatalf("compacted below the threshold: %d", n)
	}
	n := compact(msgs, 4000)
	if n != 2 {
		t.Fatalf("elided = %d, want 2", n)
	}
	for i, m := range msgs {
		elided := strings.HasPrefix(m.Content, elisionPrefix)
		if elided != (i == 3 || i == 5) {
			t.Errorf("message %d elided = %v", i, elided)
		}
	}
	if msgs[3].Content != "[elided: 4000 bytes of earlier output]" {
		t.Errorf("placeholder = %q", msgs[3].Content)
	}

	// Too tight for the old outputs alone: recent ones go too, except the last.
	if n := compact(msgs, 2000); n != 2 {
		t.Fatalf("second compaction elided %d, want 2", n)
	}
	for i, m := range msgs {
		elided := strings.HasPrefix(m.Content, elisionPrefix)
		if elided != (i == 3 || i == 5 || i == 7 || i == 9) {
			t.Errorf("message %d elided = %v", i, elided)
		}
	}
	if compact(msgs, 2000) != 0 {
		t.Error("already elided outputs were counted again")
	}
}

func TestRunElidesOutputOverContextWindow(t *testing.T) {
	ws := workspace(t)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(strings.Repeat("lorem ipsum ", 400)), 0o644); err != nil {
		t.Fatal(err)
	}
	p := mock.NewScripted([]mock.Step{
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": "big.txt"})),
		mock.ToolUse(mock.Call("list_files", map[string]any{})),
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": "pager.py"})),
		mock.ToolUse(mock.Call("grep", map[string]any{"pattern": "def"})),
		mock.Text("done"),
	})
	out := New(p, tools.Catalog(ws, tools.Options{}), Config{ContextWindow: 400}).Run(context.Background(), sampleTask())

	if out.State != StateDone || out.Final != "done" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Elided != 1 || !strings.HasPrefix(p.LastMessages()[3].Content, elisionPrefix) {
		t.Errorf("elided = %d, first output = %.40q", out.Elided, p.LastMessages()[3].Content)
	}
}

func TestRunElidesAndRetriesOverInputBudget(t *testing.T) {
	ws := workspace(t)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(strings.Repeat("lorem ipsum ", 400)), 0o644); err != nil {
		t.Fatal(err)
	}
	p := mock.NewScripted([]mock.Step{
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": "big.txt"})),
		mock.ToolUse(mock.Call("list_files", map[string]any{})),
		mock.Fail(&provider.Error{Kind: provider.KindTokenBudget, Provider: "mock", Message: "prompt is too long"}),
		mock.Text("done"),
	})
	out := New(p, tools.Catalog(ws, tools.Options{}), Config{ContextWindow: 2000}).Run(context.Background(), sampleTask())

	if out.State != StateDone || out.Final != "done" || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Elided != 1 || out.Metrics.Steps != 3 {
		t.Errorf("elided = %d steps = %d", out.Elided, out.Metrics.Steps)
	}
}

func TestInputBudgetTightensWindow(t *testing.T) {
	ws := workspace(t)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(strings.Repeat("lorem ipsum ", 400)), 0o644); err != nil {
		t.Fatal(err)
	}
	p := mock.NewScripted([]mock.Step{
		mock.ToolUse(mock.Call("read_file", map[string]any{"path": "big.txt"})),
		mock.ToolUse(mock.Call("list_files", map[string]any{})),
		mock.Text("done"),
	}, mock.WithModel("claude-sonnet-4-20250514"))
	out := New(p, tools.Catalog(ws, tools.Options{}), Config{InputBudget: 400}).Run(context.Background(), sampleTask())

	if out.State != StateDone || out.Elided != 1 {
		t.Fatalf("state = %s elided = %d", out.State, out.Elided)
	}
}

func TestContextWindow(t *testing.T) {
	tests := map[string]int{
		"claude-sonnet-4-20250514": 200_000,
		"gpt-4-turbo":              128_000,
		"gpt-4":                    8_192,
		"qwen2.5-coder:32b":        32_768,
		"llama3.1:8b":              128_000,
		"mystery-model":            defaultContextWindow,
	}
	for model, want := range tests {
		if got := contextWindow(model); got != want {
			t.Errorf("contextWindow(%q) = %d, want %d", model, got, want)
		}
	}
}
