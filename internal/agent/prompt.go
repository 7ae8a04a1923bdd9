package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/nextlevelbuilder/valet/internal/bootstrap"
	"github.com/nextlevelbuilder/valet/internal/session"
)

// memoryPromptChars caps how much of MEMORY.md rides in the system prompt.
const memoryPromptChars = 8000

// buildSystemPrompt assembles the full system prompt for one run: workspace
// documents, long-term memory, skills, runtime facts, and the session's
// channel context.
func (o *Orchestrator) buildSystemPrompt(sessionKey, extra string) string {
	var b strings.Builder

	b.WriteString("You are Valet, a personal assistant agent.\n\n")

	if docs := bootstrap.LoadContext(o.cfg.Agent.Workspace); docs != "" {
		b.WriteString(docs)
		b.WriteString("\n\n")
	}

	if mem := o.readMemory(); mem != "" {
		b.WriteString("## Long-term memory\n\n")
		b.WriteString(mem)
		b.WriteString("\n\n")
	}

	if o.skills != nil {
		if skillsPrompt := o.skills.Prompt(); skillsPrompt != "" {
			b.WriteString(skillsPrompt)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Runtime\n\n")
	fmt.Fprintf(&b, "- time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "- os: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "- workspace: %s\n", o.cfg.Agent.Workspace)
	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintf(&b, "- working directory: %s\n", wd)
	}
	b.WriteString(channelContext(sessionKey))
	b.WriteString("\n")

	b.WriteString("Reply with exactly NO_REPLY when no response should be delivered.\n")

	if extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	return b.String()
}

func (o *Orchestrator) readMemory() string {
	data, err := os.ReadFile(filepath.Join(o.cfg.Agent.Workspace, "memory", "MEMORY.md"))
	if err != nil {
		return ""
	}
	mem := strings.TrimSpace(string(data))
	if len(mem) > memoryPromptChars {
		mem = mem[:memoryPromptChars] + "\n[...]"
	}
	return mem
}

// channelContext describes where the conversation is happening so the model
// can adjust tone and addressing.
func channelContext(sessionKey string) string {
	switch {
	case session.IsSubagentKey(sessionKey):
		return "- context: background subagent run\n"
	case session.IsCronKey(sessionKey):
		return "- context: scheduled job run\n"
	case session.IsHeartbeatKey(sessionKey):
		return "- context: heartbeat wake-up\n"
	}
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	line := fmt.Sprintf("- channel: %s (%s chat)\n", parts[0], parts[1])
	if parts[1] == "group" {
		line += "- group chat: messages are prefixed with the sender's id\n"
	}
	return line
}
