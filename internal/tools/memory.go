package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/valet/internal/memory"
)

// MemoryTool exposes the structured memory store to the model.
type MemoryTool struct {
	store *memory.Store
}

func NewMemoryTool(store *memory.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "memory" }
func (t *MemoryTool) Description() string {
	return "Store, search, list, update, or delete long-term memory entries"
}
func (t *MemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "Operation to perform",
				"enum":        []string{"store", "search", "list", "update", "delete"},
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Entry content for store and update",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Entry id for update and delete",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tags",
			},
		},
		"required": []string{"action"},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)
	content, _ := args["content"].(string)
	id, _ := args["id"].(string)
	tags := stringSlice(args["tags"])

	switch action {
	case "store":
		if strings.TrimSpace(content) == "" {
			return ErrorResult("content is required for store")
		}
		entry, err := t.store.Add(content, tags)
		if err != nil {
			return ErrorResult(fmt.Sprintf("store memory: %v", err)).WithError(err)
		}
		return NewResult(fmt.Sprintf("stored memory %s", entry.ID))

	case "search":
		query, _ := args["query"].(string)
		return NewResult(formatEntries(t.store.Search(query)))

	case "list":
		return NewResult(formatEntries(t.store.List()))

	case "update":
		if id == "" {
			return ErrorResult("id is required for update")
		}
		if strings.TrimSpace(content) == "" {
			return ErrorResult("content is required for update")
		}
		entry, err := t.store.Update(id, content, tags)
		if err != nil {
			return ErrorResult(err.Error())
		}
		return NewResult(fmt.Sprintf("updated memory %s", entry.ID))

	case "delete":
		if id == "" {
			return ErrorResult("id is required for delete")
		}
		existed, err := t.store.Delete(id)
		if err != nil {
			return ErrorResult(fmt.Sprintf("delete memory: %v", err)).WithError(err)
		}
		if !existed {
			return ErrorResult(fmt.Sprintf("no memory entry %s", id))
		}
		return NewResult(fmt.Sprintf("deleted memory %s", id))

	default:
		return ErrorResult(fmt.Sprintf("unknown memory action: %s", action))
	}
}

func formatEntries(entries []memory.Entry) string {
	if len(entries) == 0 {
		return "(no memory entries)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s", e.ID, e.Content)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(e.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
