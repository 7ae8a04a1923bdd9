// Package bootstrap seeds and loads the workspace's root-level context
// files, the markdown documents prepended to every system prompt.
package bootstrap

// Workspace context file names.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	UserFile      = "USER.md"
	ToolsFile     = "TOOLS.md"
	IdentityFile  = "IDENTITY.md"
	HeartbeatFile = "HEARTBEAT.md"
	BootstrapFile = "BOOTSTRAP.md"

	// LegacyAgentsFile is honored when AGENTS.md is absent; older
	// workspaces used this name for the same document.
	LegacyAgentsFile = "CLAUDE.md"
)

// contextFiles is the load order of the bootstrap context.
var contextFiles = []string{
	AgentsFile,
	SoulFile,
	UserFile,
	ToolsFile,
	IdentityFile,
}
