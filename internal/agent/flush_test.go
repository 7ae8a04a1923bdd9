package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/session"
)

func TestMemoryFlushRunsBeforeCompactionTerritory(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	var calls [][]session.Message
	provider := &scriptedProvider{fn: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
		mu.Lock()
		if len(req.Messages) > 0 {
			prompts = append(prompts, req.Messages[len(req.Messages)-1].Text())
		}
		calls = append(calls, req.Messages)
		mu.Unlock()
		return textResponse("NO_REPLY"), nil
	}}
	orch := newTestOrchestrator(t, provider, nil)
	// Shrink the window so a modest history crosses the flush line.
	orch.cfg.Agent.ContextWindow = 30_000

	key := "test:direct:full"
	big := session.NewUserMessage(strings.Repeat("x", 120_000), nil)
	if err := orch.sessions.Replace(key, []session.Message{big}); err != nil {
		t.Fatal(err)
	}

	if _, err := orch.Run(context.Background(), key, session.NewUserMessage("hi", nil), RunOptions{}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prompts) < 2 {
		t.Fatalf("expected a flush turn plus the real turn, got %d calls", len(prompts))
	}
	if !strings.Contains(prompts[0], "memory tool") {
		t.Fatalf("first call is not the flush turn: %q", prompts[0])
	}
	// The main turn runs on the history as persisted, flush exchange
	// included.
	main := calls[len(calls)-1]
	sawFlush := false
	for _, msg := range main {
		if strings.Contains(msg.Text(), "memory tool") {
			sawFlush = true
		}
	}
	if !sawFlush {
		t.Fatal("main turn ran without the flush exchange in its history")
	}
}

func TestNoFlushUnderBudget(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{textResponse("hi")}}
	orch := newTestOrchestrator(t, provider, nil)

	if _, err := orch.Run(context.Background(), "test:direct:1", session.NewUserMessage("hello", nil), RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls.Load())
	}
}
