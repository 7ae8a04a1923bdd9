package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/session"
)

// Section markers the consolidation prompt instructs the model to emit.
const (
	memoryMarker     = "===MEMORY==="
	memoryEndMarker  = "===END_MEMORY==="
	historyMarker    = "===HISTORY==="
	historyEndMarker = "===END_HISTORY==="
)

const consolidationMaxTokens = 4096

// consolidationState tracks how far a session has been consolidated.
type consolidationState struct {
	ConsolidatedCount int `json:"consolidated_count"`
}

// Consolidator distills session transcripts into the workspace memory
// files. It runs in the background after turns complete; a failed run
// leaves the state untouched so the next trigger retries the same span.
type Consolidator struct {
	provider  providers.Provider
	sessions  *session.Store
	workspace string
	stateDir  string
	model     string
	threshold int

	mu      sync.Mutex
	running map[string]bool
}

func NewConsolidator(provider providers.Provider, sessions *session.Store, workspace, stateDir, model string, threshold int) *Consolidator {
	if threshold <= 0 {
		threshold = 50
	}
	return &Consolidator{
		provider:  provider,
		sessions:  sessions,
		workspace: workspace,
		stateDir:  filepath.Join(stateDir, "consolidation"),
		model:     model,
		threshold: threshold,
		running:   make(map[string]bool),
	}
}

// ShouldRun reports whether the session has accumulated enough new messages.
func (c *Consolidator) ShouldRun(sessionKey string) bool {
	msgs, err := c.sessions.Load(sessionKey)
	if err != nil {
		return false
	}
	state := c.loadState(sessionKey)
	return len(msgs)-state.ConsolidatedCount >= c.threshold
}

// Run consolidates one session. Concurrent runs for the same key coalesce:
// the second caller returns immediately.
func (c *Consolidator) Run(ctx context.Context, sessionKey string) error {
	c.mu.Lock()
	if c.running[sessionKey] {
		c.mu.Unlock()
		return nil
	}
	c.running[sessionKey] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.running, sessionKey)
		c.mu.Unlock()
	}()

	msgs, err := c.sessions.Load(sessionKey)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	state := c.loadState(sessionKey)
	if len(msgs)-state.ConsolidatedCount < c.threshold {
		return nil
	}
	span := msgs[state.ConsolidatedCount:]

	currentMemory, _ := os.ReadFile(filepath.Join(c.workspace, "memory", "MEMORY.md"))

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model:     c.model,
		System:    consolidationSystemPrompt,
		Messages:  []session.Message{session.NewUserMessage(buildConsolidationInput(string(currentMemory), span), nil)},
		MaxTokens: consolidationMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("consolidation call: %w", err)
	}

	memorySection, historySection, err := ParseSections(resp.Message.Text())
	if err != nil {
		return err
	}

	if err := c.writeMemoryFiles(memorySection, historySection); err != nil {
		return err
	}

	// Only advance the high-water mark once the files are on disk.
	state.ConsolidatedCount = len(msgs)
	if err := c.saveState(sessionKey, state); err != nil {
		return err
	}
	slog.Info("consolidated session history", "session", sessionKey, "messages", len(span))
	return nil
}

const consolidationSystemPrompt = `You maintain the assistant's long-term memory files.
Given the current MEMORY.md and a span of recent conversation, produce two sections:

===MEMORY===
The full replacement contents of MEMORY.md: durable facts, preferences, and
ongoing projects. Carry forward still-relevant items, drop stale ones.
===END_MEMORY===

===HISTORY===
A dated digest of the conversation span, a few lines, to be appended to HISTORY.md.
===END_HISTORY===

Output each marker pair exactly once, MEMORY first.`

func buildConsolidationInput(currentMemory string, span []session.Message) string {
	var b strings.Builder
	b.WriteString("Current MEMORY.md:\n\n")
	if strings.TrimSpace(currentMemory) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(currentMemory)
		b.WriteString("\n")
	}
	b.WriteString("\nConversation span:\n\n")
	for _, m := range span {
		text := m.Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, text)
	}
	return b.String()
}

// ParseSections extracts the two marker-framed sections. Both pairs must be
// present and well-formed.
func ParseSections(output string) (memorySection, historySection string, err error) {
	memorySection, err = between(output, memoryMarker, memoryEndMarker)
	if err != nil {
		return "", "", err
	}
	historySection, err = between(output, historyMarker, historyEndMarker)
	if err != nil {
		return "", "", err
	}
	if memorySection == "" {
		return "", "", fmt.Errorf("consolidation produced an empty memory section")
	}
	return memorySection, historySection, nil
}

func between(s, start, end string) (string, error) {
	startIdx := strings.Index(s, start)
	if startIdx < 0 {
		return "", fmt.Errorf("consolidation output missing %s marker", start)
	}
	rest := s[startIdx+len(start):]
	endIdx := strings.Index(rest, end)
	if endIdx < 0 {
		return "", fmt.Errorf("consolidation output missing %s marker", end)
	}
	return strings.TrimSpace(rest[:endIdx]), nil
}

func (c *Consolidator) writeMemoryFiles(memorySection, historySection string) error {
	dir := filepath.Join(c.workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	memPath := filepath.Join(dir, "MEMORY.md")
	tmp := memPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(memorySection+"\n"), 0o644); err != nil {
		return fmt.Errorf("write MEMORY.md: %w", err)
	}
	if err := os.Rename(tmp, memPath); err != nil {
		return err
	}

	if historySection != "" {
		histPath := filepath.Join(dir, "HISTORY.md")
		f, err := os.OpenFile(histPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open HISTORY.md: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(historySection + "\n\n"); err != nil {
			return fmt.Errorf("append HISTORY.md: %w", err)
		}
	}
	return nil
}

func (c *Consolidator) statePath(sessionKey string) string {
	return filepath.Join(c.stateDir, session.SafeKey(sessionKey)+".json")
}

func (c *Consolidator) loadState(sessionKey string) consolidationState {
	var state consolidationState
	data, err := os.ReadFile(c.statePath(sessionKey))
	if err != nil {
		return state
	}
	_ = json.Unmarshal(data, &state)
	return state
}

func (c *Consolidator) saveState(sessionKey string, state consolidationState) error {
	if err := os.MkdirAll(c.stateDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	path := c.statePath(sessionKey)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
