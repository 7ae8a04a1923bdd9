package agent

import (
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/valet/internal/session"
)

// failureKind classifies a run error by its message text. The model client
// flattens HTTP failures into "model endpoint status <code>: <body>", so
// status codes are matched as substrings here.
type failureKind int

const (
	failureUnknown failureKind = iota
	failureOverflow
	failureTransient
)

const maxTransientRetries = 2

var overflowPatterns = []string{
	"request_too_large",
	"context length exceeded",
	"prompt is too long",
	"context_length_exceeded",
}

var transientPatterns = []string{
	"status 429",
	"status 503",
	"status 529",
	"overloaded",
	"connection reset",
	"timeout",
	"temporarily unavailable",
}

func classifyFailure(errText string) failureKind {
	lower := strings.ToLower(errText)
	for _, p := range overflowPatterns {
		if strings.Contains(lower, p) {
			return failureOverflow
		}
	}
	if strings.Contains(lower, "status 413") && strings.Contains(lower, "too large") {
		return failureOverflow
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return failureTransient
		}
	}
	return failureUnknown
}

// resolution is the resolver's verdict for one failed attempt.
type resolution struct {
	retry   bool
	delay   time.Duration
	respond string
}

// resolve maps a failed attempt to a retry or a final user-facing response.
func (o *Orchestrator) resolve(sessionKey, errText string, attempt int) resolution {
	switch classifyFailure(errText) {
	case failureOverflow:
		if attempt == 0 && o.compact(sessionKey) {
			slog.Info("compacted overflowing session", "session", sessionKey)
			return resolution{retry: true}
		}
		if err := o.sessions.Reset(sessionKey); err != nil {
			slog.Warn("reset overflowing session", "session", sessionKey, "error", err)
		}
		return resolution{respond: "The conversation no longer fit in the model's context even after compaction, " +
			"so I reset this session's history. Please resend anything important."}

	case failureTransient:
		if attempt < maxTransientRetries {
			return resolution{retry: true, delay: transientDelay(attempt)}
		}
		return resolution{respond: "The model endpoint kept failing: " + errText}

	default:
		return resolution{respond: "The run failed: " + errText}
	}
}

// transientDelay is 1s doubling per attempt, capped at 15s.
func transientDelay(attempt int) time.Duration {
	delay := time.Second << attempt
	if delay > 15*time.Second {
		delay = 15 * time.Second
	}
	return delay
}

// compactKeepUserTurns is far below the sanitizer default so a compaction
// pass meaningfully shrinks the prompt.
const compactKeepUserTurns = 20

// compact rewrites the session log keeping only the most recent turns.
// Reports whether the log actually shrank.
func (o *Orchestrator) compact(sessionKey string) bool {
	history, err := o.sessions.Load(sessionKey)
	if err != nil || len(history) == 0 {
		return false
	}
	compacted := session.Sanitize(history, compactKeepUserTurns)
	if len(compacted) >= len(history) {
		return false
	}
	if err := o.sessions.Replace(sessionKey, compacted); err != nil {
		slog.Warn("persist compacted history", "session", sessionKey, "error", err)
		return false
	}
	slog.Info("session compacted", "session", sessionKey, "before", len(history), "after", len(compacted))
	return true
}
