package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/valet/internal/session"
)

// Limits bounds fan-out. Zero values take the documented defaults.
type Limits struct {
	MaxDepth              int
	MaxChildrenPerSession int
	MaxConcurrentTotal    int
}

func (l *Limits) applyDefaults() {
	if l.MaxDepth <= 0 {
		l.MaxDepth = 2
	}
	if l.MaxChildrenPerSession <= 0 {
		l.MaxChildrenPerSession = 5
	}
	if l.MaxConcurrentTotal <= 0 {
		l.MaxConcurrentTotal = 10
	}
}

// LimitError signals a refused spawn. The reason is stable so callers can
// surface it to the model verbatim.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return e.Reason }

// SpawnRequest describes one delegated run.
type SpawnRequest struct {
	ParentKey       string
	ParentChannelID string // chat the parent's replies go to; informational
	Task            string
	Label           string // short human name, used in announces
}

// TurnRunner executes one detached agent turn and returns its final text.
// The agent orchestrator implements this.
type TurnRunner interface {
	RunDetached(ctx context.Context, sessionKey, prompt string) (string, error)
}

// Announcer injects a synthetic turn into the parent session when a child
// finishes, so the parent learns the outcome on its next turn.
type Announcer interface {
	Announce(parentKey, text string) error
}

// Spawner creates and supervises subagent runs.
type Spawner struct {
	registry  *Registry
	runner    TurnRunner
	announcer Announcer
	limits    Limits
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewSpawner(registry *Registry, runner TurnRunner, announcer Announcer, limits Limits) *Spawner {
	limits.applyDefaults()
	return &Spawner{
		registry:  registry,
		runner:    runner,
		announcer: announcer,
		limits:    limits,
		logger:    slog.Default().With("component", "subagent"),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Spawn starts a background run for the request's parent session. The
// returned record is already persisted as running.
func (s *Spawner) Spawn(ctx context.Context, req SpawnRequest) (*Record, error) {
	parentDepth, err := s.checkLimits(req.ParentKey)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec := &Record{
		ID:              id,
		Key:             session.BuildSubagentKey(id),
		ParentKey:       req.ParentKey,
		ParentChannelID: req.ParentChannelID,
		Task:            req.Task,
		Label:           req.Label,
		Depth:           parentDepth + 1,
		Status:          StatusRunning,
		CreatedAt:       time.Now().UnixMilli(),
	}
	if err := s.registry.Put(rec); err != nil {
		return nil, fmt.Errorf("persist subagent record: %w", err)
	}

	// Detach from the parent turn: the child must survive the parent's
	// turn ending, but die with the process context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, rec)

	s.logger.Info("spawned subagent", "id", id, "parent", req.ParentKey, "depth", rec.Depth)
	return rec, nil
}

func (s *Spawner) checkLimits(parentKey string) (int, error) {
	depth := s.registry.Depth(parentKey)
	if depth >= s.limits.MaxDepth {
		return 0, &LimitError{Reason: fmt.Sprintf("spawn depth limit reached (%d)", s.limits.MaxDepth)}
	}
	if n := s.registry.RunningChildren(parentKey); n >= s.limits.MaxChildrenPerSession {
		return 0, &LimitError{Reason: fmt.Sprintf("session already has %d running subagents", n)}
	}
	if n := s.registry.RunningCount(); n >= s.limits.MaxConcurrentTotal {
		return 0, &LimitError{Reason: fmt.Sprintf("subagent capacity reached (%d running)", n)}
	}
	return depth, nil
}

func (s *Spawner) run(ctx context.Context, rec *Record) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[rec.ID]; ok {
			cancel()
			delete(s.cancels, rec.ID)
		}
		s.mu.Unlock()
	}()

	prompt := fmt.Sprintf("You are a subagent working on a delegated task. Complete it and reply with a concise result.\n\nTask: %s", rec.Task)
	result, err := s.runner.RunDetached(ctx, rec.Key, prompt)

	status := StatusOK
	errText := ""
	switch {
	case ctx.Err() != nil:
		status = StatusKilled
		errText = "killed"
		result = ""
	case err != nil:
		status = StatusError
		errText = err.Error()
		result = ""
	}
	if finErr := s.registry.Finish(rec.ID, status, result, errText); finErr != nil {
		s.logger.Warn("record subagent completion", "id", rec.ID, "error", finErr)
	}

	if s.announcer != nil {
		text := s.announceText(rec, status, result, errText)
		if annErr := s.announcer.Announce(rec.ParentKey, text); annErr != nil {
			s.logger.Warn("announce subagent completion", "id", rec.ID, "error", annErr)
		}
	}
	s.logger.Info("subagent finished", "id", rec.ID, "status", status)
}

// announceText renders the bounded completion summary injected into the
// parent session: label (or task), status, outcome, duration, remaining
// active children.
func (s *Spawner) announceText(rec *Record, status, result, errText string) string {
	name := rec.Label
	if name == "" {
		name = rec.Task
	}
	outcome := result
	if status != StatusOK {
		outcome = errText
	}
	duration := time.Since(time.UnixMilli(rec.CreatedAt)).Round(time.Millisecond)
	remaining := s.registry.RunningChildren(rec.ParentKey)

	var b strings.Builder
	fmt.Fprintf(&b, "subagent %q finished: %s\n", name, status)
	fmt.Fprintf(&b, "result: %s\n", outcome)
	fmt.Fprintf(&b, "duration: %s\n", duration)
	fmt.Fprintf(&b, "active children remaining: %d", remaining)
	return b.String()
}

// Kill cancels a running subagent.
func (s *Spawner) Kill(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running subagent %s", id)
	}
	cancel()
	return nil
}

// List exposes the registry records.
func (s *Spawner) List() []*Record { return s.registry.List() }

// Wait blocks until all in-flight runs complete; used on shutdown.
func (s *Spawner) Wait() { s.wg.Wait() }
