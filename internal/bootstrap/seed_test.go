package bootstrap

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestEnsureWorkspaceFilesBrandNew(t *testing.T) {
	dir := t.TempDir()
	created, err := EnsureWorkspaceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range append(templateFiles, BootstrapFile) {
		if !slices.Contains(created, name) {
			t.Errorf("%s not reported as created", name)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not seeded: %v", name, err)
		}
	}
	for _, sub := range []string{"skills", "memory"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("%s/ missing", sub)
		}
	}
}

func TestEnsureWorkspaceFilesNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("my own soul\n")
	if err := os.WriteFile(filepath.Join(dir, SoulFile), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := EnsureWorkspaceFiles(dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, SoulFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Fatal("existing file was overwritten")
	}
}

func TestEnsureWorkspaceFilesLegacyWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LegacyAgentsFile), []byte("legacy agents doc"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := EnsureWorkspaceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(created, AgentsFile) {
		t.Fatal("AGENTS.md seeded next to an existing CLAUDE.md")
	}
	if slices.Contains(created, BootstrapFile) {
		t.Fatal("first-run guide seeded into a legacy workspace")
	}
}

func TestEnsureWorkspaceFilesSecondRunNoBootstrap(t *testing.T) {
	dir := t.TempDir()
	if _, err := EnsureWorkspaceFiles(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, BootstrapFile)); err != nil {
		t.Fatal(err)
	}

	created, err := EnsureWorkspaceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("second run created %v", created)
	}
}

func TestLoadContextOrderAndFallback(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(SoulFile, "soul content")
	write(LegacyAgentsFile, "legacy agents content")

	got := LoadContext(dir)
	if !strings.Contains(got, "legacy agents content") {
		t.Fatal("legacy agents file not used as fallback")
	}
	if !strings.Contains(got, "## "+AgentsFile) {
		t.Fatal("fallback content not titled as the agents doc")
	}
	if strings.Index(got, "agents content") > strings.Index(got, "soul content") {
		t.Fatal("agents doc should precede soul doc")
	}
}

func TestLoadContextEmptyWorkspace(t *testing.T) {
	if got := LoadContext(t.TempDir()); got != "" {
		t.Fatalf("empty workspace produced context %q", got)
	}
}
