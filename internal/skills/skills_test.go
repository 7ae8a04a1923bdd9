package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkillFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(workspace, "skills", rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderReadsFilesAndBundles(t *testing.T) {
	workspace := t.TempDir()
	writeSkillFile(t, workspace, "weather.md", "# Weather\ncheck the forecast")
	writeSkillFile(t, workspace, "calendar/SKILL.md", "# Calendar\nmanage events")
	writeSkillFile(t, workspace, "notes.txt", "not a skill")
	writeSkillFile(t, workspace, "empty.md", "   ")

	loader := NewLoader(workspace)
	skills := loader.Skills()
	if len(skills) != 2 {
		t.Fatalf("loaded %d skills: %+v", len(skills), skills)
	}
	// Sorted by name.
	if skills[0].Name != "calendar" || skills[1].Name != "weather" {
		t.Fatalf("got %q, %q", skills[0].Name, skills[1].Name)
	}
}

func TestLoaderMissingDir(t *testing.T) {
	loader := NewLoader(t.TempDir())
	if got := loader.Skills(); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
	if loader.Prompt() != "" {
		t.Fatal("prompt should be empty with no skills")
	}
}

func TestPromptRendersSkills(t *testing.T) {
	workspace := t.TempDir()
	writeSkillFile(t, workspace, "weather.md", "check the forecast")

	prompt := NewLoader(workspace).Prompt()
	if !strings.Contains(prompt, "# Skills") {
		t.Fatalf("prompt %q", prompt)
	}
	if !strings.Contains(prompt, "## Skill: weather") || !strings.Contains(prompt, "check the forecast") {
		t.Fatalf("prompt %q", prompt)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	workspace := t.TempDir()
	loader := NewLoader(workspace)
	if len(loader.Skills()) != 0 {
		t.Fatal("expected no skills initially")
	}

	writeSkillFile(t, workspace, "new.md", "freshly installed")
	loader.Reload()
	if len(loader.Skills()) != 1 {
		t.Fatal("reload did not pick up the new skill")
	}

	if err := os.Remove(filepath.Join(workspace, "skills", "new.md")); err != nil {
		t.Fatal(err)
	}
	loader.Reload()
	if len(loader.Skills()) != 0 {
		t.Fatal("reload did not drop the removed skill")
	}
}
