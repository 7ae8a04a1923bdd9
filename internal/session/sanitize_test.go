package session

import (
	"encoding/json"
	"testing"
)

func userMsg(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

func assistantWithToolUse(callID string) Message {
	return Message{Role: RoleAssistant, Content: []Block{
		TextBlock("on it"),
		{Type: BlockToolUse, ID: callID, Name: "exec", Input: json.RawMessage(`{}`)},
	}}
}

func toolResult(callID string) Message {
	return Message{Role: RoleTool, Content: []Block{
		{Type: BlockToolResult, ToolUseID: callID, Content: []Block{TextBlock("done")}},
	}}
}

func TestSanitizeKeepsPairedToolTurns(t *testing.T) {
	msgs := []Message{
		userMsg("run it"),
		assistantWithToolUse("call_1"),
		toolResult("call_1"),
		{Role: RoleAssistant, Content: []Block{TextBlock("finished")}},
	}
	out := Sanitize(msgs, 10)
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
}

func TestSanitizeDropsOrphanToolUse(t *testing.T) {
	msgs := []Message{
		userMsg("run it"),
		assistantWithToolUse("call_1"),
		// No tool result follows: the tool_use block must go, the text stays.
		userMsg("never mind"),
	}
	out := Sanitize(msgs, 10)
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3", len(out))
	}
	for _, b := range out[1].Content {
		if b.Type == BlockToolUse {
			t.Fatal("orphan tool_use survived")
		}
	}
}

func TestSanitizeDropsOrphanToolResult(t *testing.T) {
	msgs := []Message{
		userMsg("hello"),
		toolResult("call_ghost"),
		userMsg("still here"),
	}
	out := Sanitize(msgs, 10)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	for _, m := range out {
		if m.Role == RoleTool {
			t.Fatal("orphan tool message survived")
		}
	}
}

func TestSanitizeDropsMessagesLeftEmpty(t *testing.T) {
	msgs := []Message{
		userMsg("hello"),
		{Role: RoleAssistant, Content: []Block{
			{Type: BlockToolUse, ID: "call_1", Name: "exec", Input: json.RawMessage(`{}`)},
		}},
		userMsg("next"),
	}
	out := Sanitize(msgs, 10)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	for _, m := range out {
		if m.Role == RoleAssistant {
			t.Fatal("empty assistant message survived")
		}
	}
}

func TestSanitizeLimitsUserTurns(t *testing.T) {
	var msgs []Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, userMsg("turn"))
		msgs = append(msgs, Message{Role: RoleAssistant, Content: []Block{TextBlock("reply")}})
	}
	out := Sanitize(msgs, 3)
	users := 0
	for _, m := range out {
		if m.Role == RoleUser {
			users++
		}
	}
	if users != 3 {
		t.Fatalf("got %d user turns, want 3", users)
	}
	// The window starts at a user message.
	if out[0].Role != RoleUser {
		t.Fatalf("window starts with %s, want user", out[0].Role)
	}
}

func TestSanitizeCleanHistoryUnchanged(t *testing.T) {
	msgs := []Message{
		userMsg("a"),
		{Role: RoleAssistant, Content: []Block{TextBlock("b")}},
		userMsg("c"),
	}
	out := Sanitize(msgs, 100)
	if len(out) != len(msgs) {
		t.Fatalf("clean history changed: %d -> %d", len(msgs), len(out))
	}
}
