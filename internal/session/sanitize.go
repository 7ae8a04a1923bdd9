package session

import "log/slog"

// DefaultKeepUserTurns is the history window applied before each turn.
const DefaultKeepUserTurns = 100

// Sanitize prepares in-memory history for a model call:
//
//  1. Keep only the last keepUserTurns user turns and everything after the
//     last retained user message.
//  2. Drop tool_use blocks whose matching tool_result is absent from the
//     immediately following non-assistant message, and orphan tool_result
//     blocks symmetrically.
//  3. Remove messages left empty by the filtering.
func Sanitize(msgs []Message, keepUserTurns int) []Message {
	if keepUserTurns <= 0 {
		keepUserTurns = DefaultKeepUserTurns
	}
	msgs = limitUserTurns(msgs, keepUserTurns)
	return repairPairing(msgs)
}

// limitUserTurns keeps the last n user messages and everything that follows
// the earliest retained one.
func limitUserTurns(msgs []Message, n int) []Message {
	count := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			count++
			if count == n {
				return msgs[i:]
			}
		}
	}
	return msgs
}

func repairPairing(msgs []Message) []Message {
	result := make([]Message, 0, len(msgs))

	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		switch m.Role {
		case RoleAssistant:
			// Matching tool_result ids live in the next non-assistant message.
			var nextResults map[string]struct{}
			if i+1 < len(msgs) && msgs[i+1].Role != RoleAssistant {
				nextResults = idSet(msgs[i+1].ToolResultIDs())
			}
			filtered := filterBlocks(m.Content, func(b Block) bool {
				if b.Type != BlockToolUse {
					return true
				}
				if _, ok := nextResults[b.ID]; ok {
					return true
				}
				slog.Debug("dropping orphan tool_use block", "call_id", b.ID)
				return false
			})
			if len(filtered) > 0 {
				m.Content = filtered
				result = append(result, m)
			}

		case RoleTool:
			// Matching tool_use ids live in the previous kept assistant message.
			var prevUses map[string]struct{}
			if len(result) > 0 && result[len(result)-1].Role == RoleAssistant {
				prevUses = idSet(result[len(result)-1].ToolUseIDs())
			}
			filtered := filterBlocks(m.Content, func(b Block) bool {
				if b.Type != BlockToolResult {
					return true
				}
				if _, ok := prevUses[b.ToolUseID]; ok {
					return true
				}
				slog.Debug("dropping orphan tool_result block", "tool_use_id", b.ToolUseID)
				return false
			})
			if len(filtered) > 0 {
				m.Content = filtered
				result = append(result, m)
			}

		default:
			if len(m.Content) > 0 {
				result = append(result, m)
			}
		}
	}

	return result
}

func filterBlocks(blocks []Block, keep func(Block) bool) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
