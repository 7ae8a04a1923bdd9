package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/valet/internal/config"
	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/session"
	"github.com/nextlevelbuilder/valet/internal/tools"
)

// scriptedProvider plays back canned responses, or calls fn when set.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	errs      []error
	calls     atomic.Int32
	fn        func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls.Add(1)
	if p.fn != nil {
		return p.fn(ctx, req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(p.responses) == 0 {
		return textResponse("fallback"), nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func textResponse(text string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Message:    session.Message{Role: session.RoleAssistant, Content: []session.Block{session.TextBlock(text)}},
		StopReason: "end_turn",
	}
}

func toolUseResponse(callID, tool string, input string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Message: session.Message{Role: session.RoleAssistant, Content: []session.Block{
			{Type: session.BlockToolUse, ID: callID, Name: tool, Input: json.RawMessage(input)},
		}},
		StopReason: "tool_use",
	}
}

type echoTool struct {
	executed atomic.Int32
}

func (e *echoTool) Name() string               { return "echo" }
func (e *echoTool) Description() string        { return "echoes its input" }
func (e *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	e.executed.Add(1)
	return tools.NewResult(fmt.Sprintf("echo: %v", args["text"]))
}

func newTestOrchestrator(t *testing.T, provider providers.Provider, reg *tools.Registry) *Orchestrator {
	t.Helper()
	cfg := config.Config{}
	cfg.ApplyDefaults()
	cfg.Agent.Workspace = t.TempDir()
	cfg.Agent.StateDir = t.TempDir()
	cfg.Agent.Model = "test-model"

	sessions, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return New(Deps{
		Config:   cfg,
		Provider: provider,
		Sessions: sessions,
		Tools:    reg,
	})
}

func TestRunReturnsAssistantText(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{textResponse("hello there")}}
	orch := newTestOrchestrator(t, provider, nil)

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("hi", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "hello there" {
		t.Fatalf("got %q", result.Text)
	}

	history, _ := orch.sessions.Load("test:direct:1")
	if len(history) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Fatalf("roles %s/%s", history[0].Role, history[1].Role)
	}
}

func TestRunExecutesToolsAndPersistsResults(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		toolUseResponse("call_1", "echo", `{"text":"ping"}`),
		textResponse("the tool said ping"),
	}}
	tool := &echoTool{}
	reg := tools.NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}
	orch := newTestOrchestrator(t, provider, reg)

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("use the tool", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "the tool said ping" {
		t.Fatalf("got %q", result.Text)
	}
	if tool.executed.Load() != 1 {
		t.Fatalf("tool executed %d times", tool.executed.Load())
	}

	history, _ := orch.sessions.Load("test:direct:1")
	// user, assistant(tool_use), tool(result), assistant(text)
	if len(history) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(history))
	}
	if history[2].Role != session.RoleTool {
		t.Fatalf("third message role %s", history[2].Role)
	}
	if ids := history[2].ToolResultIDs(); len(ids) != 1 || ids[0] != "call_1" {
		t.Fatalf("tool result ids %v", ids)
	}
}

func TestRunEmptyResponseGetsPlaceholder(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Message: session.Message{Role: session.RoleAssistant}, StopReason: "end_turn"},
	}}
	orch := newTestOrchestrator(t, provider, nil)

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("hi", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "(no text response)" {
		t.Fatalf("got %q", result.Text)
	}
}

func TestStopReturnsStoppedResponse(t *testing.T) {
	started := make(chan struct{})
	provider := &scriptedProvider{fn: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	orch := newTestOrchestrator(t, provider, nil)

	type outcome struct {
		result *RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("long task", nil), RunOptions{})
		done <- outcome{result, err}
	}()

	<-started
	if !orch.Stop("test:direct:1") {
		t.Fatal("no run to stop")
	}

	out := <-done
	if out.err != nil {
		t.Fatal(out.err)
	}
	if out.result.Text != StoppedResponse {
		t.Fatalf("got %q, want %q", out.result.Text, StoppedResponse)
	}

	if orch.Stop("test:direct:1") {
		t.Fatal("stopped a finished run")
	}
}

func TestRunsSerializePerSession(t *testing.T) {
	var inFlight, peak atomic.Int32
	provider := &scriptedProvider{fn: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return textResponse("ok"), nil
	}}
	orch := newTestOrchestrator(t, provider, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = orch.Run(context.Background(), "test:direct:same", session.NewUserMessage("go", nil), RunOptions{})
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("peak concurrency %d for one session, want 1", peak.Load())
	}
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	provider := &scriptedProvider{fn: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return textResponse("ok"), nil
	}}
	orch := newTestOrchestrator(t, provider, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("test:direct:%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = orch.Run(context.Background(), key, session.NewUserMessage("go", nil), RunOptions{})
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for peak.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	if peak.Load() != 2 {
		t.Fatalf("peak concurrency %d across sessions, want 2", peak.Load())
	}
}

func TestTransientFailureRetries(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{errors.New("model endpoint status 529: overloaded"), nil},
		responses: []*providers.ChatResponse{textResponse("recovered")},
	}
	orch := newTestOrchestrator(t, provider, nil)

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("hi", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "recovered" {
		t.Fatalf("got %q", result.Text)
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("provider called %d times, want 2", provider.calls.Load())
	}
}

func TestUnknownFailureSurfacesError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("model endpoint status 400: invalid request")}}
	orch := newTestOrchestrator(t, provider, nil)

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("hi", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Text, "status 400") {
		t.Fatalf("got %q", result.Text)
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("unknown failure retried: %d calls", provider.calls.Load())
	}
}

func TestOverflowCompactsThenRetries(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{errors.New("prompt is too long"), nil},
		responses: []*providers.ChatResponse{textResponse("fits now")},
	}
	orch := newTestOrchestrator(t, provider, nil)

	key := "test:direct:long"
	// Enough user turns that compaction meaningfully shrinks the log.
	var seed []session.Message
	for i := 0; i < 40; i++ {
		seed = append(seed, session.NewUserMessage(fmt.Sprintf("message %d", i), nil))
	}
	if err := orch.sessions.Replace(key, seed); err != nil {
		t.Fatal(err)
	}

	result, err := orch.Run(context.Background(), key, session.NewUserMessage("latest", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "fits now" {
		t.Fatalf("got %q", result.Text)
	}

	history, _ := orch.sessions.Load(key)
	if len(history) >= 41 {
		t.Fatalf("history not compacted: %d messages", len(history))
	}
}

func TestOverflowWithNothingToCompactResets(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("context length exceeded")}}
	orch := newTestOrchestrator(t, provider, nil)

	key := "test:direct:short"
	result, err := orch.Run(context.Background(), key, session.NewUserMessage("hi", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Text, "reset") {
		t.Fatalf("got %q", result.Text)
	}
	history, _ := orch.sessions.Load(key)
	if len(history) != 0 {
		t.Fatalf("history survived reset: %d messages", len(history))
	}
}

func TestRunHonorsIterationLimit(t *testing.T) {
	tool := &echoTool{}
	reg := tools.NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}
	var n atomic.Int32
	provider := &scriptedProvider{fn: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		id := fmt.Sprintf("call_%d", n.Add(1))
		return toolUseResponse(id, "echo", `{"text":"again"}`), nil
	}}
	orch := newTestOrchestrator(t, provider, reg)
	orch.cfg.Agent.MaxIterations = 3

	result, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("loop forever", nil), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if tool.executed.Load() != 3 {
		t.Fatalf("tool executed %d times, want 3", tool.executed.Load())
	}
	if !strings.Contains(result.Text, "iteration limit") {
		t.Fatalf("got %q", result.Text)
	}
}
