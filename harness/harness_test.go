package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/gauntlet/agent"
	"github.com/GoCodeAlone/gauntlet/config"
	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/provider/mock"
	"github.com/GoCodeAlone/gauntlet/router"
	"github.com/GoCodeAlone/gauntlet/task"
)

// mockTiers replaces every backend of the default tiers with the mock
// backend, keeping names and limits.
func mockTiers() []router.Tier {
	tiers := router.DefaultTiers()
	for i := range tiers {
		tiers[i].Provider.Type = "mock"
		tiers[i].Provider.Model = "mock-" + tiers[i].Name
	}
	return tiers
}

type recordingBuilder struct {
	mu     sync.Mutex
	built  []string
	script func() []mock.Step
	last   *mock.Provider
}

func (b *recordingBuilder) build(cfg provider.Config) (provider.Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = append(b.built, cfg.Model)
	b.last = mock.NewScripted(b.script(), mock.WithModel(cfg.Model))
	return b.last, nil
}

func newHarness(t *testing.T, milestone string, b *recordingBuilder, mutate ...func(*config.Config)) *Harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Milestone = milestone
	cfg.Tiers = mockTiers()
	for _, m := range mutate {
		m(cfg)
	}
	h, err := New(cfg, WithProviderBuilder(b.build), WithGetenv(func(string) string { return "" }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func workspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "calc.py"), []byte("def add(a, b):\n    return a - b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func fixScript() []mock.Step {
	return []mock.Step{
		mock.ToolUse(mock.Call("edit_file", map[string]any{
			"path": "calc.py", "old_string": "a - b", "new_string": "a + b",
		})),
		mock.Text("fixed add"),
	}
}

func TestSolveWithDefaultTier(t *testing.T) {
	b := &recordingBuilder{script: fixScript}
	h := newHarness(t, "m1", b)
	ws := workspace(t)

	out, err := h.Solve(context.Background(), task.Task{ID: "calc-1", ProblemStatement: "add() subtracts instead of adding"}, ws)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out.Final != "fixed add" || out.Metrics.Tier != router.TierCloudMid || out.Metrics.Difficulty != "easy" {
		t.Errorf("outcome = %+v", out)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "calc.py"))
	if !strings.Contains(string(data), "a + b") {
		t.Errorf("file = %s", data)
	}
	if len(b.built) != 1 || b.built[0] != "mock-cloud-mid" {
		t.Errorf("built = %v", b.built)
	}
	if h.Features() != (config.Features{}) {
		t.Errorf("features = %+v", h.Features())
	}
	if st := h.CacheStats(); st.Hits != 0 || st.Misses != 0 {
		t.Errorf("cache disabled but stats = %+v", st)
	}
}

func TestSolveRoutesByDifficulty(t *testing.T) {
	b := &recordingBuilder{script: func() []mock.Step { return []mock.Step{mock.Text("ok")} }}
	h := newHarness(t, "m2", b, func(c *config.Config) {
		for i := range c.Tiers {
			if c.Tiers[i].Name == router.TierCloudTop {
				c.Tiers[i].Provider.Type = "anthropic"
			}
		}
	})
	ws := workspace(t)

	tests := []struct {
		statement string
		tier      string
		diff      string
	}{
		{"Fix typo in README", router.TierLocalSmall, "easy"},
		{strings.Repeat("The parser drops trailing fields in a.py and b.py and c.py. ", 8), router.TierLocalLarge, "medium"},
		// no cloud credentials: hard tasks stay on the large local model
		{"Refactor the storage layer for thread safety", router.TierLocalLarge, "hard"},
	}
	for _, tt := range tests {
		out, err := h.Solve(context.Background(), task.Task{ID: "t", ProblemStatement: tt.statement}, ws)
		if err != nil {
			t.Fatalf("Solve(%q): %v", tt.statement, err)
		}
		if out.Metrics.Tier != tt.tier || out.Metrics.Difficulty != tt.diff {
			t.Errorf("%q routed to %s/%s, want %s/%s", tt.statement[:20], out.Metrics.Tier, out.Metrics.Difficulty, tt.tier, tt.diff)
		}
	}
	// one provider per tier, shared across tasks
	if len(b.built) != 2 {
		t.Errorf("built = %v", b.built)
	}
	if st := h.LimiterStatus(); len(st) != 2 {
		t.Errorf("limiter status = %v", st)
	}
}

func TestSolveLongConversationFitsTierBudget(t *testing.T) {
	ws := workspace(t)
	var steps []mock.Step
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("data%d.txt", i)
		body := strings.Repeat(fmt.Sprintf("row %d of %s\n", i, name), 4000)
		if err := os.WriteFile(filepath.Join(ws, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		steps = append(steps, mock.ToolUse(mock.Call("read_file", map[string]any{"path": name})))
	}
	steps = append(steps, mock.Text("read everything"))

	b := &recordingBuilder{script: func() []mock.Step { return steps }}
	h := newHarness(t, "m1", b, func(c *config.Config) {
		for i := range c.Tiers {
			c.Tiers[i].Limits.Window = 5 * time.Millisecond
		}
	})
	out, err := h.Solve(context.Background(), task.Task{ID: "long-1", ProblemStatement: "Summarise the data files"}, ws)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out.State != agent.StateDone || out.Err != nil || out.Final != "read everything" {
		t.Fatalf("state = %s err = %v", out.State, out.Err)
	}
	if out.Elided == 0 {
		t.Error("expected old outputs to be elided to fit the tier's input maximum")
	}
	budget := h.LimiterStatus()[router.TierCloudMid]
	if budget.Requests == 0 {
		t.Errorf("limiter status = %+v", budget)
	}
	if got := provider.EstimateTokens(b.last.LastMessages()); got >= 40000 {
		t.Errorf("last request carried %d tokens", got)
	}
}

func TestSolveRoutingConfigError(t *testing.T) {
	b := &recordingBuilder{script: func() []mock.Step { return []mock.Step{mock.Text("ok")} }}
	h := newHarness(t, "m2", b, func(c *config.Config) {
		c.Policy = router.CloudOnly
		for i := range c.Tiers {
			if c.Tiers[i].Name == router.TierCloudMid {
				c.Tiers[i].Provider.Type = "anthropic"
			}
		}
	})
	_, err := h.Solve(context.Background(), task.Task{ID: "t", ProblemStatement: "Fix typo"}, workspace(t))
	if provider.KindOf(err) != provider.KindConfig {
		t.Fatalf("err = %v, want a config error", err)
	}
	if len(b.built) != 0 {
		t.Errorf("no provider should be built: %v", b.built)
	}
}

func TestSolveWithContextCache(t *testing.T) {
	b := &recordingBuilder{script: func() []mock.Step { return []mock.Step{mock.Text("ok")} }}
	h := newHarness(t, "m4", b)
	ws := workspace(t)

	tk := task.Task{ID: "calc-1", ProblemStatement: "add() subtracts", FilesToModify: []string{"calc.py"}}
	for i := 0; i < 2; i++ {
		if _, err := h.Solve(context.Background(), tk, ws); err != nil {
			t.Fatalf("Solve: %v", err)
		}
	}
	prompt := b.last.LastMessages()[1].Content
	if !strings.Contains(prompt, "calc.py (python, 2 lines)") {
		t.Errorf("prompt lacks outline:\n%s", prompt)
	}
	if st := h.CacheStats(); st.Hits != 1 || st.Misses != 1 {
		t.Errorf("cache stats = %+v", st)
	}
	f := h.Features()
	if !f.Streaming || !f.TestSelection || !f.ContextCache || !f.Routing {
		t.Errorf("features = %+v", f)
	}
}

func TestNewRejectsUnknownDefaultTier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DefaultTier = "missing"
	if _, err := New(cfg); err == nil {
		t.Error("expected error")
	}
}

func TestHostExecutorWithoutSandbox(t *testing.T) {
	b := &recordingBuilder{script: func() []mock.Step { return nil }}
	h := newHarness(t, "m1", b)
	ex, err := h.Executor(context.Background(), t.TempDir())
	if err != nil || ex == nil {
		t.Fatalf("Executor = %v, %v", ex, err)
	}
	h.Release(context.Background(), "anything")
	if err := h.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	tiers := []router.Tier{
		{Name: "a", Provider: provider.Config{Type: "anthropic", APIKey: "sk-ant-configured"}},
		{Name: "b", Provider: provider.Config{Type: "openai", APIKeyEnv: "TEAM_OPENAI_KEY"}},
		{Name: "c", Provider: provider.Config{Type: "ollama"}},
	}
	env := map[string]string{"TEAM_OPENAI_KEY": "sk-openai-from-env"}
	got := credentials(tiers, func(k string) string { return env[k] })
	want := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-configured",
		"TEAM_OPENAI_KEY":   "sk-openai-from-env",
	}
	if len(got) != len(want) {
		t.Fatalf("credentials = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
