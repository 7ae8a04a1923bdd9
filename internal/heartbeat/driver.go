// Package heartbeat wakes the agent proactively on a fixed cadence so it
// can act on reminders and pending work without an inbound message.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Workspace context slices included in the heartbeat prompt.
const (
	memoryHeadChars  = 2000
	historyTailChars = 2000
)

// Runner executes one heartbeat turn. The agent orchestrator implements
// this; replies of HEARTBEAT_OK or NO_REPLY are swallowed there.
type Runner interface {
	RunHeartbeat(ctx context.Context, prompt string) error
}

// Config tunes the driver. Zero values take the documented defaults.
type Config struct {
	Interval    time.Duration // cadence between wake-ups
	MinInterval time.Duration // persisted floor; beats inside it coalesce
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Minute
	}
}

// state is persisted so the floor survives restarts: a crash-loop must not
// turn into a beat-loop.
type state struct {
	LastBeatAt int64 `json:"last_beat_at"` // unix ms
}

// Driver fires heartbeat turns on a ticker, coalescing against the
// persisted floor.
type Driver struct {
	cfg       Config
	runner    Runner
	workspace string
	statePath string
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state state
}

func NewDriver(cfg Config, runner Runner, workspace, stateDir string) *Driver {
	cfg.applyDefaults()
	d := &Driver{
		cfg:       cfg,
		runner:    runner,
		workspace: workspace,
		statePath: filepath.Join(stateDir, "heartbeat-state.json"),
		logger:    slog.Default().With("component", "heartbeat"),
		now:       time.Now,
	}
	d.loadState()
	return d
}

// SetNow overrides the clock for tests.
func (d *Driver) SetNow(now func() time.Time) { d.now = now }

func (d *Driver) loadState() {
	data, err := os.ReadFile(d.statePath)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &d.state)
}

func (d *Driver) saveState() error {
	data, err := json.Marshal(d.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.statePath), 0o755); err != nil {
		return err
	}
	tmp := d.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.statePath)
}

// Start runs the heartbeat loop until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Beat(ctx)
		}
	}
}

// Beat fires one heartbeat unless the floor coalesces it. Returns whether
// the beat actually ran.
func (d *Driver) Beat(ctx context.Context) bool {
	now := d.now()

	d.mu.Lock()
	last := time.UnixMilli(d.state.LastBeatAt)
	if d.state.LastBeatAt > 0 && now.Sub(last) < d.cfg.MinInterval {
		d.mu.Unlock()
		d.logger.Debug("heartbeat coalesced", "since_last", now.Sub(last))
		return false
	}
	// Record before running so overlapping triggers coalesce against this
	// beat rather than stacking up behind a slow turn.
	d.state.LastBeatAt = now.UnixMilli()
	if err := d.saveState(); err != nil {
		d.logger.Warn("persist heartbeat state", "error", err)
	}
	d.mu.Unlock()

	prompt := d.buildPrompt(now)
	if err := d.runner.RunHeartbeat(ctx, prompt); err != nil {
		d.logger.Warn("heartbeat turn failed", "error", err)
	}
	return true
}

// buildPrompt assembles the wake-up message from the workspace files.
func (d *Driver) buildPrompt(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heartbeat wake-up at %s.\n", now.Format(time.RFC3339))
	b.WriteString("Review your memory and pending items below. If something needs doing or the user should be notified, act on it. Otherwise reply with exactly HEARTBEAT_OK.\n")

	if instructions := readFile(filepath.Join(d.workspace, "HEARTBEAT.md")); instructions != "" {
		b.WriteString("\n## Heartbeat instructions\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}
	if mem := readFile(filepath.Join(d.workspace, "memory", "MEMORY.md")); mem != "" {
		b.WriteString("\n## Memory\n")
		b.WriteString(head(mem, memoryHeadChars))
		b.WriteString("\n")
	}
	if hist := readFile(filepath.Join(d.workspace, "memory", "HISTORY.md")); hist != "" {
		b.WriteString("\n## Recent history\n")
		b.WriteString(tail(hist, historyTailChars))
		b.WriteString("\n")
	}
	if todo := readFile(filepath.Join(d.workspace, "TODO.md")); todo != "" {
		b.WriteString("\n## TODO\n")
		b.WriteString(todo)
		b.WriteString("\n")
	}
	return b.String()
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[...]"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "[...]\n" + s[len(s)-n:]
}
