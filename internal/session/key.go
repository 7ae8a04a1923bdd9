// Package session holds the conversation data model and the durable
// per-session message log.
//
// Session keys follow the canonical format:
//
//	{transport}:{scope}:{id}
//
// Synthesized keys use reserved prefixes:
//
//	Subagent:  subagent:{runId}
//	Cron:      cron:{jobId}
//	Heartbeat: heartbeat:{transport}
package session

import (
	"fmt"
	"strings"
)

// BuildKey builds the canonical session key for a channel conversation.
func BuildKey(transport, scope, id string) string {
	return fmt.Sprintf("%s:%s:%s", transport, scope, id)
}

// BuildSubagentKey builds the session key for a subagent run.
func BuildSubagentKey(runID string) string {
	return "subagent:" + runID
}

// BuildCronKey builds the session key for a scheduler-fired turn.
func BuildCronKey(jobID string) string {
	return "cron:" + jobID
}

// BuildHeartbeatKey builds the session key for a proactive heartbeat turn.
func BuildHeartbeatKey(transport string) string {
	return "heartbeat:" + transport
}

// IsSubagentKey reports whether the key identifies a subagent session.
func IsSubagentKey(key string) bool {
	return strings.HasPrefix(key, "subagent:")
}

// IsCronKey reports whether the key identifies a scheduler-fired session.
func IsCronKey(key string) bool {
	return strings.HasPrefix(key, "cron:")
}

// IsHeartbeatKey reports whether the key identifies a heartbeat session.
func IsHeartbeatKey(key string) bool {
	return strings.HasPrefix(key, "heartbeat:")
}

// SplitKey breaks a canonical key into transport, scope and chat id.
// ok is false for synthesized keys, which carry no transport.
func SplitKey(key string) (transport, scope, id string, ok bool) {
	if IsSubagentKey(key) || IsCronKey(key) || IsHeartbeatKey(key) {
		return "", "", "", false
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// SafeKey derives a filesystem-safe name from a session key by substituting
// every character outside [A-Za-z0-9_-] with an underscore.
func SafeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
