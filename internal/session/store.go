package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists per-session message logs as line-delimited JSON under
// <dir>/<safeKey>.jsonl. Writes within one session are serialized by the
// orchestrator; the store only guards its own file handles.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the session store, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the log file path for a session key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, SafeKey(key)+".jsonl")
}

// Load reads all messages for a session. The file is repaired first
// (best-effort): unparseable or dangling records are dropped and the file is
// rewritten atomically only when something was dropped.
func (s *Store) Load(key string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	if err := RepairFile(path); err != nil {
		// Repair is best-effort: continue on the unrepaired log.
		return s.readAll(path)
	}
	return s.readAll(path)
}

func (s *Store) readAll(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, scanner.Err()
}

// Append writes messages to the end of a session log.
func (s *Store) Append(key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return w.Flush()
}

// Replace rewrites the whole session log atomically (tmp-write + rename).
func (s *Store) Replace(key string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONL(s.Path(key), msgs)
}

// Reset truncates a session log to empty.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONL(s.Path(key), nil)
}

// List returns the safe keys of all stored sessions.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".jsonl") {
			keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return keys, nil
}

func writeJSONL(path string, msgs []Message) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
