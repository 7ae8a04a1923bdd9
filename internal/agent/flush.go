package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/valet/internal/session"
)

// flushMaxIterations bounds the silent memory-save turn.
const flushMaxIterations = 4

const flushPrompt = "[system] The conversation is close to the context limit and older turns " +
	"will soon be compacted away. Save any durable facts, open tasks, and user preferences " +
	"from this conversation using the memory tool now. Reply with NO_REPLY when done."

// maybeFlush gives the model one chance to persist important context before
// compaction can drop it. Best-effort: failures are logged, never surfaced.
// Reports whether a flush turn was appended to the session log, so the
// caller can reload its in-memory history.
func (o *Orchestrator) maybeFlush(ctx context.Context, sessionKey string, history []session.Message) bool {
	budget := o.cfg.Agent.ContextWindow - o.cfg.Agent.ReserveTokens - o.cfg.Agent.FlushSoftBudgetTokens
	estimate := session.EstimateTokens(history)
	if estimate < budget {
		return false
	}

	slog.Info("running pre-compaction memory flush",
		"session", sessionKey, "estimate", estimate, "budget", budget)

	flushMsg := session.Message{
		Role:      session.RoleUser,
		Content:   []session.Block{session.TextBlock(flushPrompt)},
		Timestamp: time.Now().UnixMilli(),
	}
	if err := o.sessions.Append(sessionKey, flushMsg); err != nil {
		slog.Warn("persist flush prompt", "session", sessionKey, "error", err)
		return false
	}

	system := o.systemPromptFn(sessionKey, "")
	if _, _, err := o.turnBounded(ctx, sessionKey, append(history, flushMsg), system, flushMaxIterations); err != nil {
		slog.Warn("memory flush turn failed", "session", sessionKey, "error", err)
	}
	return true
}
