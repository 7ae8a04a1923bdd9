package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	beats   atomic.Int32
	prompts []string
}

func (c *countingRunner) RunHeartbeat(ctx context.Context, prompt string) error {
	c.beats.Add(1)
	c.prompts = append(c.prompts, prompt)
	return nil
}

func TestBeatRunsAndRecordsState(t *testing.T) {
	runner := &countingRunner{}
	d := NewDriver(Config{}, runner, t.TempDir(), t.TempDir())

	if !d.Beat(context.Background()) {
		t.Fatal("first beat did not run")
	}
	if runner.beats.Load() != 1 {
		t.Fatalf("beats = %d", runner.beats.Load())
	}
	if d.state.LastBeatAt == 0 {
		t.Fatal("beat not recorded")
	}
}

func TestBeatCoalescesInsideFloor(t *testing.T) {
	runner := &countingRunner{}
	d := NewDriver(Config{MinInterval: 10 * time.Minute}, runner, t.TempDir(), t.TempDir())

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	now := base
	d.SetNow(func() time.Time { return now })

	if !d.Beat(context.Background()) {
		t.Fatal("first beat did not run")
	}
	now = base.Add(5 * time.Minute)
	if d.Beat(context.Background()) {
		t.Fatal("beat inside the floor ran")
	}
	now = base.Add(11 * time.Minute)
	if !d.Beat(context.Background()) {
		t.Fatal("beat past the floor coalesced")
	}
	if runner.beats.Load() != 2 {
		t.Fatalf("beats = %d, want 2", runner.beats.Load())
	}
}

func TestFloorSurvivesRestart(t *testing.T) {
	stateDir := t.TempDir()
	workspace := t.TempDir()
	runner := &countingRunner{}

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	d := NewDriver(Config{MinInterval: 10 * time.Minute}, runner, workspace, stateDir)
	d.SetNow(func() time.Time { return base })
	if !d.Beat(context.Background()) {
		t.Fatal("first beat did not run")
	}

	// New driver over the same state dir: the restart must not reset the floor.
	restarted := NewDriver(Config{MinInterval: 10 * time.Minute}, runner, workspace, stateDir)
	restarted.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
	if restarted.Beat(context.Background()) {
		t.Fatal("beat inside the floor ran after restart")
	}
	if runner.beats.Load() != 1 {
		t.Fatalf("beats = %d, want 1", runner.beats.Load())
	}
}

func TestBuildPromptIncludesWorkspaceFiles(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "memory"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"HEARTBEAT.md":      "check calendar conflicts",
		"memory/MEMORY.md":  "user prefers morning summaries",
		"memory/HISTORY.md": "yesterday: booked flights",
		"TODO.md":           "- renew passport",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workspace, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	runner := &countingRunner{}
	d := NewDriver(Config{}, runner, workspace, t.TempDir())
	if !d.Beat(context.Background()) {
		t.Fatal("beat did not run")
	}

	prompt := runner.prompts[0]
	for _, want := range []string{
		"HEARTBEAT_OK",
		"check calendar conflicts",
		"user prefers morning summaries",
		"yesterday: booked flights",
		"renew passport",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPromptTrimsLongMemory(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "memory"), 0o755); err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("m", memoryHeadChars+500)
	if err := os.WriteFile(filepath.Join(workspace, "memory", "MEMORY.md"), []byte(long), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &countingRunner{}
	d := NewDriver(Config{}, runner, workspace, t.TempDir())
	d.Beat(context.Background())

	prompt := runner.prompts[0]
	if strings.Contains(prompt, long) {
		t.Fatal("memory section not trimmed")
	}
	if !strings.Contains(prompt, "[...]") {
		t.Fatal("trim marker missing")
	}
}
