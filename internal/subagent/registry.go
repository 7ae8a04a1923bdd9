// Package subagent implements bounded background fan-out: the registry
// tracks every spawned run, the spawner enforces limits and executes runs
// against the agent loop.
package subagent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusKilled  = "killed"
)

// keepRecords bounds the persisted history.
const keepRecords = 100

// pruneAge removes finished records older than this.
const pruneAge = time.Hour

// Record is one subagent run. Result is always serialized, even empty, so
// finished records carry an explicit outcome; failure reasons live in Error.
type Record struct {
	ID              string `json:"id"`
	Key             string `json:"key"`                         // subagent:{id}
	ParentKey       string `json:"parent_key"`                  // session that spawned it
	ParentChannelID string `json:"parent_channel_id,omitempty"` // chat to deliver follow-ups to
	Task            string `json:"task"`
	Label           string `json:"label,omitempty"`
	Depth           int    `json:"depth"` // parent depth + 1
	Status          string `json:"status"`
	Result          string `json:"result"`
	Error           string `json:"error,omitempty"`
	CreatedAt       int64  `json:"created_at"`            // unix ms
	FinishedAt      int64  `json:"finished_at,omitempty"` // unix ms
}

// Registry persists run records to subagent-registry.json.
type Registry struct {
	path string

	mu      sync.Mutex
	records map[string]*Record
}

// OpenRegistry loads the registry. Runs left "running" by a previous
// process are marked error; the process that owned them is gone.
func OpenRegistry(stateDir string) (*Registry, error) {
	r := &Registry{
		path:    filepath.Join(stateDir, "subagent-registry.json"),
		records: make(map[string]*Record),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	repaired := false
	now := time.Now().UnixMilli()
	r.mu.Lock()
	for _, rec := range r.records {
		if rec.Status == StatusRunning {
			rec.Status = StatusError
			rec.Error = "process restart"
			rec.FinishedAt = now
			repaired = true
		}
	}
	var err error
	if repaired {
		err = r.saveLocked()
	}
	r.mu.Unlock()
	return r, err
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", r.path, err)
	}
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return nil
}

// saveLocked persists the newest keepRecords entries atomically. Caller
// holds r.mu.
func (r *Registry) saveLocked() error {
	records := r.sortedLocked()
	if len(records) > keepRecords {
		for _, rec := range records[:len(records)-keepRecords] {
			delete(r.records, rec.ID)
		}
		records = records[len(records)-keepRecords:]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func (r *Registry) sortedLocked() []*Record {
	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	return records
}

// Put inserts or replaces a record.
func (r *Registry) Put(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.ID] = &cp
	return r.saveLocked()
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// List returns copies of all records, oldest first.
func (r *Registry) List() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.sortedLocked()
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// Finish marks a run complete. errText carries the failure reason for
// error and killed outcomes; result stays the run's output.
func (r *Registry) Finish(id, status, result, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("no subagent run %s", id)
	}
	rec.Status = status
	rec.Result = result
	rec.Error = errText
	rec.FinishedAt = time.Now().UnixMilli()
	return r.saveLocked()
}

// Prune drops finished records older than pruneAge.
func (r *Registry) Prune() error {
	cutoff := time.Now().Add(-pruneAge).UnixMilli()
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := false
	for id, rec := range r.records {
		if rec.Status != StatusRunning && rec.FinishedAt > 0 && rec.FinishedAt < cutoff {
			delete(r.records, id)
			dropped = true
		}
	}
	if !dropped {
		return nil
	}
	return r.saveLocked()
}

// RunningCount returns the number of in-flight runs.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

// RunningChildren returns the number of in-flight runs spawned by parentKey.
func (r *Registry) RunningChildren(parentKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status == StatusRunning && rec.ParentKey == parentKey {
			n++
		}
	}
	return n
}

// Depth returns the fan-out depth of a session: a session whose key appears
// as some run's child key inherits that run's depth, anyone else is a root.
// Records written before depth was persisted fall back to walking parent
// links.
func (r *Registry) Depth(sessionKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	depth := 0
	key := sessionKey
	for depth <= keepRecords { // cycle guard
		var run *Record
		for _, rec := range r.records {
			if rec.Key == key {
				run = rec
				break
			}
		}
		if run == nil {
			return depth
		}
		if run.Depth > 0 {
			return depth + run.Depth
		}
		depth++
		key = run.ParentKey
	}
	return depth
}
