package mock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/gauntlet/provider"
)

func TestMockProvider_Name(t *testing.T) {
	m := New()
	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
	if got := NewScripted(nil, WithModel("tiny")).ModelName(); got != "tiny" {
		t.Errorf("ModelName() = %q, want tiny", got)
	}
}

func TestMockProvider_Chat_DefaultResponse(t *testing.T) {
	m := New()
	resp, err := m.Chat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != defaultResponse {
		t.Errorf("Chat() content = %q, want %q", resp.Content, defaultResponse)
	}
	if resp.StopReason != provider.StopEndTurn {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestMockProvider_Chat_CyclesResponses(t *testing.T) {
	m := New("first", "second", "third")

	want := []string{"first", "second", "third", "first"}
	for i, w := range want {
		resp, err := m.Chat(context.Background(), nil, nil)
		if err != nil {
			t.Fatalf("Chat() call %d error = %v", i, err)
		}
		if resp.Content != w {
			t.Errorf("Chat() call %d = %q, want %q", i, resp.Content, w)
		}
	}
	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
}

func TestMockProvider_ScriptedToolUseAndErrors(t *testing.T) {
	boom := &provider.Error{Kind: provider.KindNetwork, Provider: "mock"}
	m := NewScripted([]Step{
		ToolUse(Call("read_file", map[string]any{"path": "a.go"})),
		Fail(boom),
		Text("done"),
	})

	resp, err := m.Chat(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "go"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.StopReason != provider.StopToolUse || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.HasPrefix(resp.ToolCalls[0].ID, "toolu_") {
		t.Errorf("expected generated tool id, got %q", resp.ToolCalls[0].ID)
	}
	if resp.Usage.InputTokens == 0 {
		t.Error("expected estimated usage")
	}

	if _, err := m.Chat(context.Background(), nil, nil); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	if len(m.LastMessages()) != 0 {
		t.Errorf("LastMessages should reflect the latest call")
	}
}

func TestMockProvider_StreamCollectsToSameResponse(t *testing.T) {
	m := NewScripted([]Step{ToolUse(
		Call("grep", map[string]any{"pattern": "x"}),
		Call("shell", map[string]any{"command": "ls"}),
	)})

	ch, err := m.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	resp, err := provider.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[1].Name != "shell" || resp.ToolCalls[1].Arguments["command"] != "ls" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.StopReason != provider.StopToolUse {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestMockProvider_StreamEventOrder(t *testing.T) {
	m := New("streaming response")
	ch, err := m.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var events []provider.StreamEvent
	for e := range ch {
		events = append(events, e)
	}
	if len(events) != 4 {
		t.Fatalf("Stream() got %d events, want 4", len(events))
	}
	if events[0].Type != provider.EventMessageStart {
		t.Errorf("events[0].Type = %q", events[0].Type)
	}
	if events[1].Text != "streaming response" {
		t.Errorf("events[1].Text = %q", events[1].Text)
	}
	if last := events[len(events)-1]; last.Type != provider.EventMessageStop {
		t.Errorf("last event Type = %q", last.Type)
	}
}

func TestMockProvider_DelayHonoursContext(t *testing.T) {
	m := NewScripted(nil, WithDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if m.Calls() != 0 {
		t.Errorf("cancelled calls should not consume the script")
	}
}

func TestFactory(t *testing.T) {
	p, err := Factory(provider.Config{Type: "mock", Model: "m1"}, "")
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if p.ModelName() != "m1" {
		t.Errorf("ModelName() = %q", p.ModelName())
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	data := `name: fix-readme
delay: 1ms
steps:
  - content: "Reading first."
    tool_calls:
      - id: call_1
        name: read_file
        arguments:
          path: README.md
  - error: "overloaded"
    error_kind: rate_limit
  - content: "All done."
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Factory(provider.Config{Type: "mock", Scenario: path}, "")
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	ctx := context.Background()

	resp, err := p.Chat(ctx, nil, nil)
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Arguments["path"] != "README.md" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if _, err := p.Chat(ctx, nil, nil); provider.KindOf(err) != provider.KindRateLimit {
		t.Fatalf("step 2: expected rate limit, got %v", err)
	}
	resp, err = p.Chat(ctx, nil, nil)
	if err != nil || resp.Content != "All done." {
		t.Fatalf("step 3: %v %+v", err, resp)
	}
}

func TestLoadScenarioRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("name: empty\nsteps: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScenario(path); err == nil {
		t.Fatal("expected error for scenario without steps")
	}
}
