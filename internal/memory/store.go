// Package memory implements the agent's long-term memory: a structured
// entry store plus the background consolidator that distills session
// history into the workspace memory files.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one remembered fact.
type Entry struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"created_at"` // unix ms
	UpdatedAt int64    `json:"updated_at"` // unix ms
}

// Store persists entries to memory/memory.json under the workspace.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// NewStore opens (or initializes) the entry store for a workspace.
func NewStore(workspace string) (*Store, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	s := &Store{
		path:    filepath.Join(dir, "memory.json"),
		entries: make(map[string]Entry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// saveLocked writes atomically. Caller holds s.mu.
func (s *Store) saveLocked() error {
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt < entries[j].CreatedAt })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Add stores a new entry and returns it.
func (s *Store) Add(content string, tags []string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	e := Entry{
		ID:        uuid.NewString(),
		Content:   content,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[e.ID] = e
	if err := s.saveLocked(); err != nil {
		delete(s.entries, e.ID)
		return Entry{}, err
	}
	return e, nil
}

// Update rewrites an entry's content and tags.
func (s *Store) Update(id, content string, tags []string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("no memory entry %s", id)
	}
	prev := e
	e.Content = content
	if tags != nil {
		e.Tags = tags
	}
	e.UpdatedAt = time.Now().UnixMilli()
	s.entries[id] = e
	if err := s.saveLocked(); err != nil {
		s.entries[id] = prev
		return Entry{}, err
	}
	return e, nil
}

// Delete removes an entry; reports whether it existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	delete(s.entries, id)
	if err := s.saveLocked(); err != nil {
		s.entries[id] = e
		return false, err
	}
	return true, nil
}

// List returns all entries, oldest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt < entries[j].CreatedAt })
	return entries
}

// Search matches the query case-insensitively against content and tags.
func (s *Store) Search(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	var matched []Entry
	for _, e := range s.List() {
		if strings.Contains(strings.ToLower(e.Content), query) {
			matched = append(matched, e)
			continue
		}
		for _, tag := range e.Tags {
			if strings.Contains(strings.ToLower(tag), query) {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}
