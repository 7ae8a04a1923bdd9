package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// storeVersion is the current on-disk format of cron-store.json.
const storeVersion = 2

type storeFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// v1 records carried the schedule and state inline with different names
// and no failure tracking.
type v1Job struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Cron     string `json:"cron,omitempty"`
	EveryMs  int64  `json:"every_ms,omitempty"`
	AtMs     int64  `json:"at_ms,omitempty"`
	Message  string `json:"message"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Created  int64  `json:"created_at,omitempty"`
	LastRun  int64  `json:"last_run_at,omitempty"`
	RunCount int    `json:"run_count,omitempty"`
}

// Store persists jobs to cron-store.json with atomic rewrites.
type Store struct {
	path string

	mu   sync.Mutex
	jobs map[string]*Job
}

// OpenStore loads the job store, migrating v1 files in place.
func OpenStore(stateDir string) (*Store, error) {
	s := &Store{
		path: filepath.Join(stateDir, "cron-store.json"),
		jobs: make(map[string]*Job),
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

	var file storeFile
	if err := json.Unmarshal(data, &file); err == nil && file.Version == storeVersion {
		for _, job := range file.Jobs {
			s.jobs[job.ID] = job
		}
		return nil
	}

	jobs, err := migrateV1(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	slog.Info("migrated job store", "path", s.path, "jobs", len(jobs))
	return s.saveLocked()
}

// migrateV1 upgrades the legacy format: either a bare job array or a
// versionless {"jobs": [...]} wrapper. Failure counters start at zero; a
// migrated record is not punished for history it predates.
func migrateV1(data []byte) ([]*Job, error) {
	var records []v1Job
	if err := json.Unmarshal(data, &records); err != nil {
		var wrapper struct {
			Jobs []v1Job `json:"jobs"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, err
		}
		records = wrapper.Jobs
	}

	jobs := make([]*Job, 0, len(records))
	for _, r := range records {
		sched := Schedule{}
		switch {
		case r.Cron != "":
			sched = Schedule{Kind: KindCron, CronExpr: r.Cron}
		case r.EveryMs > 0:
			sched = Schedule{Kind: KindEvery, EveryMs: r.EveryMs}
		case r.AtMs > 0:
			sched = Schedule{Kind: KindAt, AtMs: r.AtMs}
		default:
			slog.Warn("dropping job without schedule during migration", "id", r.ID)
			continue
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		jobs = append(jobs, &Job{
			ID:             r.ID,
			Name:           r.Name,
			Schedule:       sched,
			Payload:        Payload{Message: r.Message, Deliver: true},
			Enabled:        enabled,
			CreatedAt:      r.Created,
			UpdatedAt:      r.Created,
			DeleteAfterRun: sched.Kind == KindAt,
			State: State{
				LastRunAt: r.LastRun,
				RunCount:  r.RunCount,
			},
		})
	}
	return jobs, nil
}

// saveLocked writes atomically. Caller holds s.mu.
func (s *Store) saveLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt < jobs[j].CreatedAt })

	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Put inserts or replaces a job.
func (s *Store) Put(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return s.saveLocked()
}

// Get returns a copy of one job.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// Remove deletes a job; reports whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, s.saveLocked()
}

// List returns copies of all jobs, oldest first.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt < jobs[j].CreatedAt })
	return jobs
}

// Mutate applies fn to a job under the store lock and persists the result.
func (s *Store) Mutate(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("no job %s", id)
	}
	fn(job)
	return s.saveLocked()
}
