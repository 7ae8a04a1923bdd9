package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/valet/internal/session"
)

// SessionsTool lists the sessions the gateway knows about.
type SessionsTool struct {
	store *session.Store
}

func NewSessionsTool(store *session.Store) *SessionsTool {
	return &SessionsTool{store: store}
}

func (t *SessionsTool) Name() string        { return "sessions_list" }
func (t *SessionsTool) Description() string { return "List active session transcripts" }
func (t *SessionsTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SessionsTool) Execute(ctx context.Context, args map[string]any) *Result {
	keys, err := t.store.List()
	if err != nil {
		return ErrorResult(fmt.Sprintf("list sessions: %v", err)).WithError(err)
	}
	if len(keys) == 0 {
		return NewResult("(no sessions)")
	}
	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "- %s\n", key)
	}
	return NewResult(strings.TrimSpace(b.String()))
}
