package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	job := &Job{
		ID:       "job-1",
		Name:     "morning briefing",
		Schedule: Schedule{Kind: KindCron, CronExpr: "0 9 * * *"},
		Payload:  Payload{Message: "brief me", Deliver: true},
		Enabled:  true,
	}
	if err := store.Put(job); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get("job-1")
	if !ok {
		t.Fatal("job lost across reopen")
	}
	if got.Name != "morning briefing" || got.Schedule.CronExpr != "0 9 * * *" {
		t.Fatalf("got %+v", got)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(&Job{ID: "j", Enabled: true, Schedule: Schedule{Kind: KindEvery, EveryMs: 60000}}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get("j")
	got.Enabled = false
	fresh, _ := store.Get("j")
	if !fresh.Enabled {
		t.Fatal("mutation of a Get copy leaked into the store")
	}
}

func TestStoreMigratesV1BareArray(t *testing.T) {
	dir := t.TempDir()
	v1 := `[
  {"id":"old-cron","name":"daily","cron":"0 8 * * *","message":"hello","run_count":12,"last_run_at":1700000000000},
  {"id":"old-at","at_ms":1893456000000,"message":"once"},
  {"id":"no-schedule","message":"orphan"}
]`
	if err := os.WriteFile(filepath.Join(dir, "cron-store.json"), []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	jobs := store.List()
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2 (schedule-less record dropped)", len(jobs))
	}

	cronJob, ok := store.Get("old-cron")
	if !ok {
		t.Fatal("cron job lost in migration")
	}
	if cronJob.Schedule.Kind != KindCron || cronJob.Schedule.CronExpr != "0 8 * * *" {
		t.Fatalf("schedule mangled: %+v", cronJob.Schedule)
	}
	if !cronJob.Enabled || !cronJob.Payload.Deliver {
		t.Fatalf("migrated defaults wrong: %+v", cronJob)
	}
	if cronJob.State.RunCount != 12 || cronJob.State.ConsecutiveFailures != 0 {
		t.Fatalf("migrated state wrong: %+v", cronJob.State)
	}

	atJob, _ := store.Get("old-at")
	if !atJob.DeleteAfterRun {
		t.Fatal("migrated one-shot should delete after run")
	}

	// Migration rewrites the file to v2.
	data, err := os.ReadFile(filepath.Join(dir, "cron-store.json"))
	if err != nil {
		t.Fatal(err)
	}
	var file struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatal(err)
	}
	if file.Version != storeVersion {
		t.Fatalf("file version %d, want %d", file.Version, storeVersion)
	}
}

func TestStoreMigratesV1Wrapper(t *testing.T) {
	dir := t.TempDir()
	v1 := `{"jobs":[{"id":"w1","every_ms":300000,"message":"ping","enabled":false}]}`
	if err := os.WriteFile(filepath.Join(dir, "cron-store.json"), []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	job, ok := store.Get("w1")
	if !ok {
		t.Fatal("wrapped job lost")
	}
	if job.Schedule.Kind != KindEvery || job.Schedule.EveryMs != 300000 {
		t.Fatalf("schedule mangled: %+v", job.Schedule)
	}
	if job.Enabled {
		t.Fatal("explicit enabled=false not preserved")
	}
}

func TestStoreMutate(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(&Job{ID: "m", Schedule: Schedule{Kind: KindEvery, EveryMs: 1000}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Mutate("m", func(j *Job) { j.State.RunCount = 7 }); err != nil {
		t.Fatal(err)
	}
	job, _ := store.Get("m")
	if job.State.RunCount != 7 {
		t.Fatalf("mutation not persisted: %+v", job.State)
	}
	if err := store.Mutate("absent", func(j *Job) {}); err == nil {
		t.Fatal("mutating a missing job succeeded")
	}
}
