// Package agent implements the session orchestrator: the serialized,
// cancellable, fault-contained run loop between channels, the model
// endpoint and the tool registry.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/valet/internal/bus"
	"github.com/nextlevelbuilder/valet/internal/config"
	"github.com/nextlevelbuilder/valet/internal/debugstore"
	"github.com/nextlevelbuilder/valet/internal/memory"
	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/session"
	"github.com/nextlevelbuilder/valet/internal/skills"
	"github.com/nextlevelbuilder/valet/internal/tools"
	"github.com/nextlevelbuilder/valet/internal/tracing"
)

// StoppedResponse is the fixed reply for a cancelled run.
const StoppedResponse = "stopped"

// maxAttempts bounds the per-run retry loop around the resolver.
const maxAttempts = 3

// Orchestrator guarantees at most one concurrent run per session key, a
// hard per-run timeout, and that every tool result reaching the model has
// passed the result pipeline.
type Orchestrator struct {
	cfg          config.Config
	provider     providers.Provider
	sessions     *session.Store
	tools        *tools.Registry
	skills       *skills.Loader
	consolidator *memory.Consolidator // nil disables consolidation
	debug        *debugstore.Store    // nil disables debug records
	bus          *bus.MessageBus      // nil in tests

	systemPromptFn func(sessionKey, extra string) string // test seam

	mu      sync.Mutex
	doors   map[string]*sync.Mutex
	cancels map[string]context.CancelFunc
	started time.Time
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Config       config.Config
	Provider     providers.Provider
	Sessions     *session.Store
	Tools        *tools.Registry
	Skills       *skills.Loader
	Consolidator *memory.Consolidator
	Debug        *debugstore.Store
	Bus          *bus.MessageBus
}

func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:          deps.Config,
		provider:     deps.Provider,
		sessions:     deps.Sessions,
		tools:        deps.Tools,
		skills:       deps.Skills,
		consolidator: deps.Consolidator,
		debug:        deps.Debug,
		bus:          deps.Bus,
		doors:        make(map[string]*sync.Mutex),
		cancels:      make(map[string]context.CancelFunc),
		started:      time.Now(),
	}
	// The compaction reserve never drops below its floor, whatever the
	// config file says.
	if o.cfg.Agent.ReserveTokens < 20_000 {
		o.cfg.Agent.ReserveTokens = 20_000
	}
	o.systemPromptFn = o.buildSystemPrompt
	return o
}

// RunResult is the outcome of one orchestrated run.
type RunResult struct {
	Text   string
	Images []session.Block
}

// RunOptions adjusts a run for synthesized callers.
type RunOptions struct {
	// ExtraSystem is appended to the system prompt (subagent suffix,
	// heartbeat guidance).
	ExtraSystem string
}

// door returns the serialization mutex for a session key.
func (o *Orchestrator) door(sessionKey string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.doors[sessionKey]
	if !ok {
		m = &sync.Mutex{}
		o.doors[sessionKey] = m
	}
	return m
}

// Stop cancels the in-flight run for a session, if any.
func (o *Orchestrator) Stop(sessionKey string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionKey]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// ActiveRun reports whether a run is in flight for the key.
func (o *Orchestrator) ActiveRun(sessionKey string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancels[sessionKey]
	return ok
}

// Uptime reports how long the orchestrator has been serving.
func (o *Orchestrator) Uptime() time.Duration { return time.Since(o.started) }

// Run executes one full turn for the session: serialize, repair, flush,
// sanitize, call the model with tools, resolve failures, respond.
func (o *Orchestrator) Run(ctx context.Context, sessionKey string, msg session.Message, opts RunOptions) (*RunResult, error) {
	door := o.door(sessionKey)
	door.Lock()
	defer door.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[sessionKey] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, sessionKey)
		o.mu.Unlock()
		cancel()
	}()

	turnTimeout := time.Duration(o.cfg.Agent.TurnTimeoutMs) * time.Millisecond
	runCtx, cancelTimeout := context.WithTimeout(runCtx, turnTimeout)
	defer cancelTimeout()

	runCtx, span := tracing.Tracer().Start(runCtx, "agent.run")
	span.SetAttributes(attribute.String("session.key", sessionKey))
	defer span.End()

	started := time.Now()
	result, attempts, iterations, runErr := o.runWithResolver(runCtx, sessionKey, msg, opts)

	if o.debug != nil {
		rec := debugstore.Record{
			SessionKey: sessionKey,
			Started:    started.UnixMilli(),
			Duration:   time.Since(started).Milliseconds(),
			Attempts:   attempts,
			Iterations: iterations,
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		o.debug.Add(rec)
	}

	// Consolidation is fire-and-forget on every exit path.
	if o.consolidator != nil && o.cfg.Memory.ConsolidationEnabled && o.consolidator.ShouldRun(sessionKey) {
		go func() {
			if err := o.consolidator.Run(context.Background(), sessionKey); err != nil {
				slog.Warn("consolidation failed", "session", sessionKey, "error", err)
			}
		}()
	}

	return result, runErr
}

// runWithResolver owns the attempt loop around one turn.
func (o *Orchestrator) runWithResolver(ctx context.Context, sessionKey string, msg session.Message, opts RunOptions) (*RunResult, int, int, error) {
	history, err := o.sessions.Load(sessionKey)
	if err != nil {
		slog.Warn("load session", "session", sessionKey, "error", err)
	}

	if o.maybeFlush(ctx, sessionKey, history) {
		// The flush turn extended the log; work from disk so the main
		// turn sees the same history that was persisted.
		history, _ = o.sessions.Load(sessionKey)
	}

	if sanitized := session.Sanitize(history, session.DefaultKeepUserTurns); len(sanitized) < len(history) {
		if err := o.sessions.Replace(sessionKey, sanitized); err != nil {
			slog.Warn("persist sanitized history", "session", sessionKey, "error", err)
		}
		history = sanitized
	}

	msg = normalizeInbound(msg)
	if err := o.sessions.Append(sessionKey, msg); err != nil {
		return nil, 0, 0, fmt.Errorf("persist user turn: %w", err)
	}
	history = append(history, msg)

	system := o.systemPromptFn(sessionKey, opts.ExtraSystem)

	totalIterations := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, iterations, turnErr := o.turn(ctx, sessionKey, history, system)
		totalIterations += iterations
		if turnErr == nil {
			return result, attempt + 1, totalIterations, nil
		}
		if ctx.Err() != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return &RunResult{Text: "The run hit its time limit and was aborted."}, attempt + 1, totalIterations, nil
			}
			return &RunResult{Text: StoppedResponse}, attempt + 1, totalIterations, nil
		}

		res := o.resolve(sessionKey, turnErr.Error(), attempt)
		if !res.retry {
			return &RunResult{Text: res.respond}, attempt + 1, totalIterations, nil
		}
		if res.delay > 0 {
			select {
			case <-ctx.Done():
				return &RunResult{Text: StoppedResponse}, attempt + 1, totalIterations, nil
			case <-time.After(res.delay):
			}
		}
		// Compaction may have rewritten the log; work from disk again.
		history, _ = o.sessions.Load(sessionKey)
	}

	return &RunResult{Text: "The run kept failing and was abandoned."}, maxAttempts, totalIterations, nil
}

// HandleMessage is the channel entrypoint: one inbound message in, one
// reply out (or NO_REPLY).
func (o *Orchestrator) HandleMessage(ctx context.Context, in bus.InboundMessage) (*RunResult, error) {
	scope := "direct"
	if in.IsGroup {
		scope = "group"
	}
	sessionKey := session.BuildKey(in.Channel, scope, in.ChatID)

	text := in.Content
	if in.IsGroup && in.SenderID != "" {
		text = fmt.Sprintf("[%s] %s", in.SenderID, text)
	}
	msg := session.NewUserMessage(text, inboundImageBlocks(in.Images))

	return o.Run(ctx, sessionKey, msg, RunOptions{})
}

// RunDetached runs a subagent turn; implements the spawner's TurnRunner.
func (o *Orchestrator) RunDetached(ctx context.Context, sessionKey, prompt string) (string, error) {
	result, err := o.Run(ctx, sessionKey, session.NewUserMessage(prompt, nil), RunOptions{
		ExtraSystem: subagentSuffix(),
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Announce injects a synthetic system-user turn into the parent session;
// implements the spawner's Announcer. The parent's reply, if any, goes out
// through its channel.
func (o *Orchestrator) Announce(parentKey, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.Agent.TurnTimeoutMs)*time.Millisecond)
	defer cancel()

	msg := session.NewUserMessage("[system] "+text, nil)
	result, err := o.Run(ctx, parentKey, msg, RunOptions{})
	if err != nil {
		return err
	}
	o.deliverToSessionChannel(ctx, parentKey, result.Text)
	return nil
}

// RunHeartbeat executes one proactive wake-up; implements the heartbeat
// Runner. HEARTBEAT_OK and NO_REPLY replies are swallowed.
func (o *Orchestrator) RunHeartbeat(ctx context.Context, prompt string) error {
	transport := "loopback"
	if len(o.cfg.Channels.Enabled) > 0 {
		transport = o.cfg.Channels.Enabled[0]
	}
	sessionKey := session.BuildHeartbeatKey(transport)

	result, err := o.Run(ctx, sessionKey, session.NewUserMessage(prompt, nil), RunOptions{})
	if err != nil {
		return err
	}
	reply := strings.TrimSpace(result.Text)
	if reply == "" || reply == "HEARTBEAT_OK" || reply == "NO_REPLY" {
		return nil
	}
	if o.bus != nil {
		return o.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: transport, ChatID: "local", Content: reply})
	}
	return nil
}

// deliverToSessionChannel routes text to the transport encoded in a
// canonical session key. Synthesized keys have no transport; nothing is
// delivered for them.
func (o *Orchestrator) deliverToSessionChannel(ctx context.Context, sessionKey, text string) {
	text = strings.TrimSpace(text)
	if text == "" || text == "NO_REPLY" || o.bus == nil {
		return
	}
	transport, _, chatID, ok := session.SplitKey(sessionKey)
	if !ok {
		return
	}
	if err := o.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: transport, ChatID: chatID, Content: text}); err != nil {
		slog.Warn("deliver announce reply", "session", sessionKey, "error", err)
	}
}
