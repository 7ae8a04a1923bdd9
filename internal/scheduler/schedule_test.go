package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleExactlyOneKind(t *testing.T) {
	tests := []struct {
		name    string
		cron    string
		every   time.Duration
		at      string
		wantErr bool
	}{
		{"none given", "", 0, "", true},
		{"two given", "* * * * *", time.Minute, "", true},
		{"all given", "* * * * *", time.Minute, "2030-01-01T00:00:00Z", true},
		{"cron only", "0 9 * * *", 0, "", false},
		{"every only", "", 5 * time.Minute, "", false},
		{"at only", "", 0, "2030-01-01T00:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.cron, tt.every, tt.at, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseScheduleRejectsBadInputs(t *testing.T) {
	if _, err := ParseSchedule("", 100*time.Millisecond, "", ""); err == nil {
		t.Error("sub-second interval accepted")
	}
	if _, err := ParseSchedule("", 0, "yesterday-ish", ""); err == nil {
		t.Error("unparseable time accepted")
	}
}

func TestParseScheduleKeepsUnparseableCron(t *testing.T) {
	// A bad expression is stored as-is; it surfaces later as a job that
	// never arms, not as a creation error.
	sched, err := ParseSchedule("not a cron", 0, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if sched.Kind != KindCron || sched.CronExpr != "not a cron" {
		t.Fatalf("got %+v", sched)
	}
	if _, _, err := sched.Next(time.Now()); err == nil {
		t.Fatal("bad expression evaluated without error")
	}
}

func TestParseScheduleAtForms(t *testing.T) {
	sched, err := ParseSchedule("", 0, "2030-06-01T12:00:00Z", "")
	if err != nil {
		t.Fatal(err)
	}
	if sched.Kind != KindAt {
		t.Fatalf("kind = %s", sched.Kind)
	}
	want := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if sched.AtMs != want {
		t.Fatalf("at = %d, want %d", sched.AtMs, want)
	}

	// Relative duration form.
	before := time.Now()
	sched, err = ParseSchedule("", 0, "20m", "")
	if err != nil {
		t.Fatal(err)
	}
	at := time.UnixMilli(sched.AtMs)
	if at.Before(before.Add(19*time.Minute)) || at.After(before.Add(21*time.Minute)) {
		t.Fatalf("relative at landed at %v", at)
	}
}

func TestNextForEvery(t *testing.T) {
	// Without an anchor the interval counts from now (legacy records).
	sched := Schedule{Kind: KindEvery, EveryMs: 60_000}
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("next = %v", next)
	}
}

func TestNextForEveryAnchored(t *testing.T) {
	anchor := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: KindEvery, EveryMs: 60_000, AnchorMs: anchor.UnixMilli()}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"at anchor", anchor, anchor.Add(time.Minute)},
		{"mid interval", anchor.Add(90 * time.Second), anchor.Add(2 * time.Minute)},
		{"on the grid", anchor.Add(2 * time.Minute), anchor.Add(3 * time.Minute)},
		{"long run drifted past a slot", anchor.Add(5*time.Minute + 17*time.Second), anchor.Add(6 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok, err := sched.Next(tt.now)
			if err != nil || !ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
			if !next.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextForPastAtIsExhausted(t *testing.T) {
	sched := Schedule{Kind: KindAt, AtMs: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()}
	_, ok, err := sched.Next(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("past one-shot reported a next firing")
	}
}

func TestNextForCron(t *testing.T) {
	sched := Schedule{Kind: KindCron, CronExpr: "0 9 * * *"}
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, ok, err := sched.Next(now)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("next = %v", next)
	}
	if !next.After(now) {
		t.Fatalf("next %v not after now %v", next, now)
	}
}

func TestOneShot(t *testing.T) {
	atJob := Job{Schedule: Schedule{Kind: KindAt}}
	cronJob := Job{Schedule: Schedule{Kind: KindCron}}
	if !atJob.OneShot() {
		t.Error("at job not one-shot")
	}
	if cronJob.OneShot() {
		t.Error("cron job reported one-shot")
	}
}
