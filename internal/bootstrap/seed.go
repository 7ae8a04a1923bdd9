package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.md
var templateFS embed.FS

// templateFiles lists the templates to seed, in order. BOOTSTRAP.md is
// handled separately: only brand-new workspaces get the first-run guide.
var templateFiles = []string{
	AgentsFile,
	SoulFile,
	UserFile,
	ToolsFile,
	IdentityFile,
	HeartbeatFile,
}

// EnsureWorkspaceFiles seeds missing template files into the workspace.
// Existing files are never overwritten. Returns the files created.
func EnsureWorkspaceFiles(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(workspaceDir, "skills"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(workspaceDir, "memory"), 0o755); err != nil {
		return nil, err
	}

	var created []string

	_, agentsErr := os.Stat(filepath.Join(workspaceDir, AgentsFile))
	_, legacyErr := os.Stat(filepath.Join(workspaceDir, LegacyAgentsFile))
	isBrandNew := os.IsNotExist(agentsErr) && os.IsNotExist(legacyErr)

	for _, name := range templateFiles {
		if name == AgentsFile && !os.IsNotExist(legacyErr) {
			// A legacy workspace keeps its CLAUDE.md as the agents doc.
			continue
		}
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("seed workspace template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}

	if isBrandNew {
		ok, err := seedTemplate(workspaceDir, BootstrapFile)
		if err != nil {
			slog.Warn("seed workspace template", "file", BootstrapFile, "error", err)
		} else if ok {
			created = append(created, BootstrapFile)
		}
	}

	return created, nil
}

// seedTemplate writes one template if absent; O_EXCL keeps the operation
// race-free against a concurrent seeding process.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)
	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

// LoadContext concatenates the bootstrap documents in order. A missing
// AGENTS.md falls back to the legacy file name; other missing files are
// skipped silently.
func LoadContext(workspaceDir string) string {
	var sections []string
	for _, name := range contextFiles {
		content := readWorkspaceFile(workspaceDir, name)
		if name == AgentsFile && content == "" {
			content = readWorkspaceFile(workspaceDir, LegacyAgentsFile)
		}
		if content == "" {
			continue
		}
		sections = append(sections, "## "+name+"\n\n"+content)
	}
	// The first-run guide rides along until the agent deletes it.
	if guide := readWorkspaceFile(workspaceDir, BootstrapFile); guide != "" {
		sections = append(sections, "## "+BootstrapFile+"\n\n"+guide)
	}
	return strings.Join(sections, "\n\n")
}

func readWorkspaceFile(workspaceDir, name string) string {
	data, err := os.ReadFile(filepath.Join(workspaceDir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
