// Package debugstore keeps a rolling window of per-run debug records in
// debug.json so failed turns can be inspected after the fact.
package debugstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const keepRecords = 100

// Record is one completed run.
type Record struct {
	SessionKey string `json:"session_key"`
	Started    int64  `json:"started"`  // unix ms
	Duration   int64  `json:"duration"` // ms
	Attempts   int    `json:"attempts"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
	Resolution string `json:"resolution,omitempty"` // resolver outcome for failed attempts
}

// Store appends records, keeping the newest keepRecords.
type Store struct {
	path string

	mu      sync.Mutex
	records []Record
}

func Open(stateDir string) *Store {
	s := &Store{path: filepath.Join(stateDir, "debug.json")}
	if data, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(data, &s.records)
	}
	return s
}

// Add records one run. Persistence is best-effort.
func (s *Store) Add(rec Record) {
	if rec.Started == 0 {
		rec.Started = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > keepRecords {
		s.records = s.records[len(s.records)-keepRecords:]
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}

// Records returns a copy of the window, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
