// Package skills loads workspace skill documents and hot-reloads them when
// the skills directory changes.
package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Skill is one loaded skill document.
type Skill struct {
	Name    string
	Content string
}

// Loader caches the skill set from workspace/skills: top-level *.md files
// plus one-directory-deep SKILL.md bundles.
type Loader struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills []Skill
}

func NewLoader(workspace string) *Loader {
	l := &Loader{
		dir:    filepath.Join(workspace, "skills"),
		logger: slog.Default().With("component", "skills"),
	}
	l.Reload()
	return l
}

// Skills returns the cached skill set.
func (l *Loader) Skills() []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, len(l.skills))
	copy(out, l.skills)
	return out
}

// Prompt renders the skill set for the system prompt. Empty when no skills
// are installed.
func (l *Loader) Prompt() string {
	skills := l.Skills()
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Skills\n")
	for _, s := range skills {
		b.WriteString("\n## Skill: " + s.Name + "\n\n")
		b.WriteString(s.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Reload re-reads the skills directory.
func (l *Loader) Reload() {
	var skills []Skill

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("read skills dir", "error", err)
		}
		l.mu.Lock()
		l.skills = nil
		l.mu.Unlock()
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			path := filepath.Join(l.dir, entry.Name(), "SKILL.md")
			if content := readSkill(path); content != "" {
				skills = append(skills, Skill{Name: entry.Name(), Content: content})
			}
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if content := readSkill(path); content != "" {
			name := strings.TrimSuffix(entry.Name(), ".md")
			skills = append(skills, Skill{Name: name, Content: content})
		}
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	l.mu.Lock()
	l.skills = skills
	l.mu.Unlock()
	l.logger.Debug("skills loaded", "count", len(skills))
}

func readSkill(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Watch hot-reloads skills on filesystem changes until ctx is cancelled.
// Events are debounced; editors fire bursts of writes per save.
func (l *Loader) Watch(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(l.dir); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			l.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("skills watcher", "error", err)
		}
	}
}
