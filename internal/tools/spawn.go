package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/valet/internal/session"
	"github.com/nextlevelbuilder/valet/internal/subagent"
)

// SpawnTool delegates a task to a background subagent.
type SpawnTool struct {
	spawner *subagent.Spawner
}

func NewSpawnTool(spawner *subagent.Spawner) *SpawnTool {
	return &SpawnTool{spawner: spawner}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Delegate a task to a background subagent, or list and kill running ones. The subagent announces its result back when it finishes."
}
func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"spawn", "list", "kill"},
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Task description for the spawn action",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Short name for the run, used when it reports back",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Run id for the kill action",
			},
		},
		"required": []string{"action"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "spawn":
		task, _ := args["task"].(string)
		if strings.TrimSpace(task) == "" {
			return ErrorResult("task is required for spawn")
		}
		label, _ := args["label"].(string)
		parentKey := SessionKeyFromContext(ctx)
		_, _, chatID, _ := session.SplitKey(parentKey)
		rec, err := t.spawner.Spawn(ctx, subagent.SpawnRequest{
			ParentKey:       parentKey,
			ParentChannelID: chatID,
			Task:            task,
			Label:           strings.TrimSpace(label),
		})
		if err != nil {
			var limitErr *subagent.LimitError
			if errors.As(err, &limitErr) {
				return ErrorResult(limitErr.Reason)
			}
			return ErrorResult(fmt.Sprintf("spawn failed: %v", err)).WithError(err)
		}
		return NewResult(fmt.Sprintf("spawned subagent %s; it will announce its result when done", rec.ID))

	case "list":
		records := t.spawner.List()
		if len(records) == 0 {
			return NewResult("(no subagent runs)")
		}
		var b strings.Builder
		for _, rec := range records {
			name := rec.Task
			if rec.Label != "" {
				name = rec.Label
			}
			fmt.Fprintf(&b, "- %s [%s] %s", rec.ID, rec.Status, name)
			if rec.Status == subagent.StatusError && rec.Error != "" {
				fmt.Fprintf(&b, " -> %s", Truncate(rec.Error, 200))
			} else if rec.Result != "" && rec.Status != subagent.StatusRunning {
				fmt.Fprintf(&b, " -> %s", Truncate(rec.Result, 200))
			}
			b.WriteString("\n")
		}
		return NewResult(strings.TrimSpace(b.String()))

	case "kill":
		id, _ := args["id"].(string)
		if id == "" {
			return ErrorResult("id is required for kill")
		}
		if err := t.spawner.Kill(id); err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("killed subagent %s", id))

	default:
		return ErrorResult(fmt.Sprintf("unknown spawn action: %s", action))
	}
}
